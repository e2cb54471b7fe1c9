// Package config loads registry settings and metric definitions from a
// configuration file.
//
// The file carries the same option names the constructor surface uses:
//
//	name: soapxml
//	version: 100
//	mode: read-write
//	development_mode: true
//	metrics:
//	  - type: counter
//	    name: requests
//	    pcp_cluster: 0
//	    pcp_item: 0
//	  - type: timer
//	    name: fetch
//	    pcp_cluster: 0
//	    pcp_item: 1
//	    pcp_instance: -1
//
// Any format viper understands (YAML, TOML, JSON) works.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/pcpkit/shmstats"
)

// Mode values accepted in configuration files.
const (
	ModeReadWrite = "read-write"
	ModeReadOnly  = "read-only"
)

// Settings is the full constructor surface of a registry, as loaded from a
// file.
type Settings struct {
	Name            string            `mapstructure:"name"`
	Version         uint32            `mapstructure:"version"`
	Mode            string            `mapstructure:"mode"`
	DevelopmentMode bool              `mapstructure:"development_mode"`
	KeyFilePath     string            `mapstructure:"key_file_path"`
	Identifier      string            `mapstructure:"identifier"`
	Metrics         []shmstats.Config `mapstructure:"metrics"`
}

// Load reads and validates settings from the file at path.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("version", shmstats.DefaultVersion)
	v.SetDefault("mode", ModeReadWrite)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("config %s: name is required", path)
	}
	if s.Mode != ModeReadWrite && s.Mode != ModeReadOnly {
		return nil, fmt.Errorf("config %s: mode must be %q or %q, got %q", path, ModeReadWrite, ModeReadOnly, s.Mode)
	}

	return &s, nil
}

// Options translates the settings into registry constructor options.
func (s *Settings) Options() []shmstats.Option {
	opts := []shmstats.Option{
		shmstats.WithDevelopmentMode(s.DevelopmentMode),
	}
	if s.Version != 0 {
		opts = append(opts, shmstats.WithVersion(s.Version))
	}
	if s.Mode == ModeReadOnly {
		opts = append(opts, shmstats.WithReadOnly())
	}
	if s.KeyFilePath != "" {
		opts = append(opts, shmstats.WithKeyFilePath(s.KeyFilePath))
	}
	if s.Identifier != "" {
		opts = append(opts, shmstats.WithIdentifier(s.Identifier))
	}

	return opts
}

// NewRegistry builds a registry from the settings.
func (s *Settings) NewRegistry(opts ...shmstats.Option) (*shmstats.Registry, error) {
	return shmstats.New(s.Name, s.Metrics, append(s.Options(), opts...)...)
}
