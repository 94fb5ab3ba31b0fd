package resource

import (
	"errors"
	"fmt"
)

var errPathUndefined = errors.New("path must be defined")

// LoadError reports an external resource that could not be read or opened.
// It is fatal for the worker: resources load once, before any record.
type LoadError struct {
	Resource string
	Path     string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s %q: %v", e.Resource, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// FormatError reports a resource file whose content does not follow its
// line format. Line is 1-based; 0 means the file as a whole.
type FormatError struct {
	Resource string
	Path     string
	Line     int
	Text     string
	Reason   string
}

func (e *FormatError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("invalid %s %q: %s", e.Resource, e.Path, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q line %d (%q): %s", e.Resource, e.Path, e.Line, e.Text, e.Reason)
}
