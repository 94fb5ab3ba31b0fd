package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ncloudioj/gcp-ingestion/internal/codec"
	"github.com/ncloudioj/gcp-ingestion/internal/reporting"
)

// EnvPrefix starts every environment override, e.g.
// ENRICHER_ENGINE__EVENT_WORKERS=16 sets engine.event_workers.
const EnvPrefix = "ENRICHER_"

// Loader reads a YAML config file, overlays environment overrides and
// watches the file for changes. Only configs that pass Validate and every
// OnChange callback become current.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config) error
	log      zerolog.Logger

	// reloadMu serializes reloads from the watcher and from callers.
	reloadMu sync.Mutex
}

// ApplyError reports a reloaded config that a change callback refused.
type ApplyError struct {
	Err error
}

func (e *ApplyError) Error() string { return "apply config: " + e.Err.Error() }

func (e *ApplyError) Unwrap() error { return e.Err }

// NewLoader creates a Loader and performs the initial load and validation.
func NewLoader(path string, log zerolog.Logger) (*Loader, error) {
	l := &Loader{path: path, log: log}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback run on every reload, before the new config
// becomes current. An error from fn rejects the reload.
func (l *Loader) OnChange(fn func(*Config) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// reloadDebounce coalesces the burst of events a single save produces.
const reloadDebounce = 100 * time.Millisecond

// Watch hot-reloads the config when the file changes. The parent directory
// is watched so editors that replace the file by rename are still seen.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	target := filepath.Clean(l.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		var pending <-chan time.Time
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == target && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					pending = time.After(reloadDebounce)
				}
			case <-pending:
				pending = nil
				if _, err := l.Reload(); err != nil {
					l.log.Warn().Err(err).Str("path", l.path).Msg("config reload failed, keeping previous config")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warn().Err(err).Msg("config watcher error")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload re-reads and validates the file, then runs the OnChange callbacks
// in registration order. The new config becomes current only if all of them
// succeed; otherwise the previous config stays and the error is returned,
// as a *ValidationError or an *ApplyError when the file itself was readable.
func (l *Loader) Reload() (*Config, error) {
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	l.mu.RLock()
	callbacks := append([]func(*Config) error(nil), l.onChange...)
	l.mu.RUnlock()
	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			return nil, &ApplyError{Err: err}
		}
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	l.log.Info().Str("path", l.path).Str("version", cfg.Version).Msg("config reloaded")
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	if err := overlayEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// overlayEnv applies ENRICHER_<SECTION>__<KEY> variables on top of the file.
func overlayEnv(cfg *Config) error {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return fmt.Errorf("load env overrides: %w", err)
	}
	if len(k.Keys()) == 0 {
		return nil
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Engine.Mode == "" {
		cfg.Engine.Mode = "contextual_services"
	}
	if cfg.Engine.EventWorkers == 0 {
		cfg.Engine.EventWorkers = 32
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 10000
	}
	if cfg.Engine.EventTimeoutMs == 0 {
		cfg.Engine.EventTimeoutMs = 5000
	}
	if cfg.Engine.MaxPayloadBytes == 0 {
		cfg.Engine.MaxPayloadBytes = codec.DefaultMaxPayloadBytes
	}
	if cfg.Reporting.IPReputationThreshold == nil {
		threshold := reporting.DefaultIPReputationThreshold
		cfg.Reporting.IPReputationThreshold = &threshold
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
}
