// Package config loads the provider configuration file consumed by the
// manager. The file is YAML: tunable defaults plus an ordered list of
// providers. Env references like ${VAR} in provider env maps are kept
// literal here; the manager resolves them when the provider starts.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/anymcp/anymcp/manager"
)

// Settings mirrors manager.Options with YAML tags so the knobs can
// live next to the provider list.
type Settings struct {
	InitTimeout        time.Duration `yaml:"init_timeout"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	ProbeInterval      time.Duration `yaml:"probe_interval"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout"`
	ProbeFailureLimit  int           `yaml:"probe_failure_limit"`
	TimeoutStreakLimit int           `yaml:"timeout_streak_limit"`
}

// File is the parsed configuration file.
type File struct {
	Settings  Settings                 `yaml:"settings"`
	Providers []manager.ProviderConfig `yaml:"providers"`
}

// Options converts the tunables into manager options, with unset
// fields left zero so the manager fills its own defaults.
func (f *File) Options() manager.Options {
	return manager.Options{
		InitTimeout:        f.Settings.InitTimeout,
		CallTimeout:        f.Settings.CallTimeout,
		ShutdownGrace:      f.Settings.ShutdownGrace,
		ProbeInterval:      f.Settings.ProbeInterval,
		ProbeTimeout:       f.Settings.ProbeTimeout,
		ProbeFailureLimit:  f.Settings.ProbeFailureLimit,
		TimeoutStreakLimit: f.Settings.TimeoutStreakLimit,
	}
}

// Provider finds a configured provider by name.
func (f *File) Provider(name string) (manager.ProviderConfig, bool) {
	for _, p := range f.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return manager.ProviderConfig{}, false
}

// Load reads and validates a configuration file. Provider order in the
// file is preserved; duplicate names are rejected.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates raw YAML configuration.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := mergo.Merge(&f.Settings, defaultSettings()); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for i := range f.Providers {
		p := &f.Providers[i]
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return &f, nil
}

func defaultSettings() Settings {
	opts := manager.DefaultOptions()
	return Settings{
		InitTimeout:        opts.InitTimeout,
		CallTimeout:        opts.CallTimeout,
		ShutdownGrace:      opts.ShutdownGrace,
		ProbeInterval:      opts.ProbeInterval,
		ProbeTimeout:       opts.ProbeTimeout,
		ProbeFailureLimit:  opts.ProbeFailureLimit,
		TimeoutStreakLimit: opts.TimeoutStreakLimit,
	}
}
