package config

import (
	"github.com/ncloudioj/gcp-ingestion/internal/engine"
)

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version" validate:"required"`
	Log       LogConf       `yaml:"log"`
	Resources ResourcesConf `yaml:"resources"`
	Engine    EngineConf    `yaml:"engine"`
	Geo       GeoConf       `yaml:"geo"`
	Reporting ReportingConf `yaml:"reporting"`
	Server    ServerConf    `yaml:"server"`
}

// LogConf selects the log level and output encoding.
type LogConf struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// ResourcesConf holds the paths of the cached lookup resources.
type ResourcesConf struct {
	GeoDatabase   string `yaml:"geo_database" validate:"required"`
	GeoCityFilter string `yaml:"geo_city_filter"` // empty = no city filtering
	URLAllowList  string `yaml:"url_allow_list"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Mode           string `yaml:"mode" validate:"oneof=geo contextual_services"`
	EventWorkers   int    `yaml:"event_workers" validate:"min=1"`
	QueueDepth     int    `yaml:"queue_depth" validate:"min=1"`
	EventTimeoutMs int    `yaml:"event_timeout_ms" validate:"min=1"`

	// MaxPayloadBytes caps the size of an inflated gzip payload.
	MaxPayloadBytes int64 `yaml:"max_payload_bytes" validate:"min=1"`
}

type GeoConf struct {
	StripIPAttributes *bool `yaml:"strip_ip_attributes"`
}

// ReportingConf tunes reporting URL validation. A threshold of 0 disables
// click-status tagging; unset means the default.
type ReportingConf struct {
	IPReputationThreshold *int `yaml:"ip_reputation_threshold" validate:"omitempty,min=0,max=100"`
}

type ServerConf struct {
	Addr string `yaml:"addr" validate:"required"`
}

// StageConfig maps the file onto the per-record stage settings.
func (c *Config) StageConfig() engine.StageConfig {
	strip := true
	if c.Geo.StripIPAttributes != nil {
		strip = *c.Geo.StripIPAttributes
	}
	return engine.StageConfig{
		Mode:                  engine.Mode(c.Engine.Mode),
		GeoDatabase:           c.Resources.GeoDatabase,
		GeoCityFilter:         c.Resources.GeoCityFilter,
		URLAllowList:          c.Resources.URLAllowList,
		StripIPAttributes:     strip,
		IPReputationThreshold: c.Reporting.IPReputationThreshold,
		MaxPayloadBytes:       c.Engine.MaxPayloadBytes,
	}
}

// EngineConfig maps the file onto the worker pool settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		EventWorkers:   c.Engine.EventWorkers,
		QueueDepth:     c.Engine.QueueDepth,
		EventTimeoutMs: c.Engine.EventTimeoutMs,
	}
}
