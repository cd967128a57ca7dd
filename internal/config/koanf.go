// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader wraps koanf for layered configuration loading: a JSON file
// plus environment variable overrides, with an atomic whole-tree
// rebuild on every reload (no incremental mutation of a live koanf.Koanf).
//
// Guardian's wire format is JSON, not YAML, so this diverges from a
// typical koanf setup only in which parser package it imports; file
// layering, env precedence, and the atomic-swap-on-reload pattern are
// otherwise unchanged.
type Loader struct {
	k         *koanf.Koanf
	mu        sync.RWMutex
	filePath  string
	envPrefix string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader) error

// WithJSONFile sets the JSON configuration file path.
func WithJSONFile(path string) LoaderOption {
	return func(l *Loader) error {
		l.filePath = path
		return nil
	}
}

// WithEnvPrefix sets the environment variable prefix (default "GUARDIAN").
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) error {
		l.envPrefix = prefix
		return nil
	}
}

// NewLoader builds a Loader and performs its first load.
//
// Precedence, highest to lowest: environment variables (GUARDIAN_*),
// the JSON file, built-in defaults (DefaultConfig, applied by Load).
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: "GUARDIAN",
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("apply loader option: %w", err)
		}
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load unmarshals the current layered configuration into a *Config and
// validates it.
func (l *Loader) Load() (*Config, error) {
	l.mu.RLock()
	k := l.k
	l.mu.RUnlock()

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	known := map[string]bool{"app": true, "logging": true, "database": true, "events": true,
		"video": true, "person": true, "motion": true, "audio": true, "gateway": true}
	for key, val := range k.Raw() {
		if !known[key] {
			if cfg.Extra == nil {
				cfg.Extra = make(map[string]any)
			}
			cfg.Extra[key] = val
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Reload re-reads the file and environment layers from scratch.
func (l *Loader) Reload() error {
	return l.reload()
}

// reload builds a fresh koanf.Koanf and swaps it in under the write
// lock, so concurrent readers never observe a half-loaded tree.
func (l *Loader) reload() error {
	newK := koanf.New(".")

	if l.filePath != "" {
		if err := newK.Load(file.Provider(l.filePath), json.Parser()); err != nil {
			return fmt.Errorf("load json file: %w", err)
		}
	}

	// Env keys are lowercased; reuse the file's spelling of a matching key
	// (e.g. motion.diffThreshold) so the env value replaces it.
	fileKeys := newK.Keys()
	envProvider := env.Provider(".", env.Opt{
		Prefix: l.envPrefix + "_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.TrimPrefix(k, l.envPrefix+"_")
			k = strings.ReplaceAll(strings.ToLower(k), "_", ".")
			for _, fk := range fileKeys {
				if strings.EqualFold(fk, k) {
					return fk, v
				}
			}
			return k, v
		},
	})
	if err := newK.Load(envProvider, nil); err != nil {
		return fmt.Errorf("load environment overrides: %w", err)
	}

	l.mu.Lock()
	l.k = newK
	l.mu.Unlock()
	return nil
}
