// Package config loads store configuration and schema descriptors
// from a TOML file. It is the declarative front end the binding layer
// consumes at open time; nothing in the core depends on it.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/mfroach/livebind/livestore/schema"
	"github.com/mfroach/livebind/livestore/storage"
)

// Adapter names accepted in [store].
const (
	AdapterBadger = "badger"
	AdapterSQLite = "sqlite"
	AdapterMemory = "memory"
)

// StoreConfig selects and tunes the storage adapter.
type StoreConfig struct {
	Path    string `toml:"path"`
	Adapter string `toml:"adapter"`

	// Badger tuning; zero values use the adapter defaults.
	MemTableSize   int64 `toml:"memtable_size"`
	BlockCacheSize int64 `toml:"block_cache_size"`
	IndexCacheSize int64 `toml:"index_cache_size"`
}

// LoggingConfig selects the zap profile.
type LoggingConfig struct {
	Development bool `toml:"development"`
	Enabled     bool `toml:"enabled"`
}

// PropertyConfig is one declared property.
type PropertyConfig struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	Target     string `toml:"target"`
	LinkedFrom string `toml:"linked_from"`
	PrimaryKey bool   `toml:"primary_key"`
	Optional   bool   `toml:"optional"`
	Default    any    `toml:"default"`
}

// EntityConfig is one declared entity.
type EntityConfig struct {
	Name       string           `toml:"name"`
	Properties []PropertyConfig `toml:"property"`
}

// Config is the full store configuration file.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Logging  LoggingConfig  `toml:"logging"`
	Entities []EntityConfig `toml:"entity"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{Adapter: AdapterBadger},
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Store.Adapter == "" {
		cfg.Store.Adapter = AdapterBadger
	}
	return cfg, nil
}

// Descriptors converts the declared entities into schema descriptors.
// Unknown type names fail here; structural validation happens in
// schema.Register.
func (c *Config) Descriptors() ([]schema.Descriptor, error) {
	descriptors := make([]schema.Descriptor, 0, len(c.Entities))
	for _, e := range c.Entities {
		d := schema.Descriptor{Name: e.Name}
		for _, p := range e.Properties {
			t, ok := schema.ParseType(p.Type)
			if !ok {
				return nil, fmt.Errorf("entity %q: property %q: unknown type %q", e.Name, p.Name, p.Type)
			}
			d.Properties = append(d.Properties, schema.Property{
				Name:       p.Name,
				Type:       t,
				Target:     p.Target,
				LinkedFrom: p.LinkedFrom,
				PrimaryKey: p.PrimaryKey,
				Optional:   p.Optional,
				Default:    normalizeDefault(t, p.Default),
			})
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// normalizeDefault maps TOML decode types onto schema value types.
func normalizeDefault(t schema.PropertyType, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case schema.Float:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	}
	return v
}

// OpenSession opens the configured storage adapter.
func (c *Config) OpenSession() (storage.Session, error) {
	switch c.Store.Adapter {
	case AdapterBadger:
		opts := storage.DefaultBadgerOptions()
		if c.Store.MemTableSize > 0 {
			opts.MemTableSize = c.Store.MemTableSize
		}
		if c.Store.BlockCacheSize > 0 {
			opts.BlockCacheSize = c.Store.BlockCacheSize
		}
		if c.Store.IndexCacheSize > 0 {
			opts.IndexCacheSize = c.Store.IndexCacheSize
		}
		return storage.OpenBadger(c.Store.Path, opts)
	case AdapterSQLite:
		return storage.OpenSQLite(c.Store.Path)
	case AdapterMemory:
		return storage.NewMemorySession(), nil
	}
	return nil, fmt.Errorf("unknown storage adapter %q", c.Store.Adapter)
}

// Logger builds the configured zap logger.
func (c *Config) Logger() (*zap.SugaredLogger, error) {
	if !c.Logging.Enabled {
		return zap.NewNop().Sugar(), nil
	}
	var (
		logger *zap.Logger
		err    error
	)
	if c.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
