package resource

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const resourceAllowList = "url_allow_list"

// ActionType is the second column of an allow-list line.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionImpression ActionType = "impression"
)

// AllowList holds the permitted reporting URL hosts, one set per action.
type AllowList struct {
	Click      map[string]struct{}
	Impression map[string]struct{}
}

// Hosts returns the host set for action, or nil for an unknown action.
func (a *AllowList) Hosts(action ActionType) map[string]struct{} {
	switch action {
	case ActionClick:
		return a.Click
	case ActionImpression:
		return a.Impression
	default:
		return nil
	}
}

// LoadAllowList parses a `host,actionType` file. Blank lines are skipped.
func LoadAllowList(path string) (*AllowList, error) {
	if path == "" {
		return nil, &LoadError{Resource: resourceAllowList, Path: path, Err: errPathUndefined}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Resource: resourceAllowList, Path: path, Err: err}
	}
	defer f.Close()

	list := &AllowList{
		Click:      make(map[string]struct{}),
		Impression: make(map[string]struct{}),
	}
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return nil, &FormatError{
				Resource: resourceAllowList, Path: path, Line: n, Text: line,
				Reason: fmt.Sprintf("two-column csv expected, got %d fields", len(fields)),
			}
		}
		host := strings.TrimSpace(fields[0])
		switch ActionType(strings.TrimSpace(fields[1])) {
		case ActionClick:
			list.Click[host] = struct{}{}
		case ActionImpression:
			list.Impression[host] = struct{}{}
		default:
			return nil, &FormatError{
				Resource: resourceAllowList, Path: path, Line: n, Text: line,
				Reason: "invalid action type " + fields[1],
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &LoadError{Resource: resourceAllowList, Path: path, Err: err}
	}
	return list, nil
}
