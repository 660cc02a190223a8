/*
Copyright 2021 Stefan Prodan

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxcd/pkg/ssa"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/yaml"

	"github.com/stefanprodan/kubetpl/pkg/drift"
)

const (
	ConfigKind         = "Config"
	ConfigApiVersion   = "kubetpl.dev/v1"
	FieldManagerName   = "kubetpl"
	FieldManagerGroup  = "kubetpl.dev"
	DefaultConcurrency = 4
)

type Config struct {
	metav1.TypeMeta `json:",inline"`

	// FieldManager holds the manager name and group used for server-side apply.
	FieldManager *FieldManager `json:"fieldManager,omitempty"`

	// IgnoreRules holds the fields removed from the in-cluster objects before diffing, per kind.
	// The rules are merged over the built-in defaults.
	IgnoreRules map[string][]string `json:"ignoreRules,omitempty"`

	// IgnoreEmpty removes the empty fields from the in-cluster objects before diffing.
	IgnoreEmpty bool `json:"ignoreEmpty,omitempty"`

	// MaskSecrets hides the Secret values in diffs, defaults to true.
	MaskSecrets *bool `json:"maskSecrets,omitempty"`

	// Concurrency sets how many items are processed in parallel.
	Concurrency int `json:"concurrency,omitempty"`

	// Retry holds the backoff used when reading objects from the cluster.
	Retry *Retry `json:"retry,omitempty"`
}

type FieldManager struct {
	// Name sets the field manager for the reconciled objects.
	Name string `json:"name"`

	// Group sets the owner label key prefix.
	Group string `json:"group"`
}

// Retry holds the backoff parameters for transient cluster errors.
type Retry struct {
	Steps    int             `json:"steps"`
	Duration metav1.Duration `json:"duration"`
	Factor   float64         `json:"factor"`
	Jitter   float64         `json:"jitter"`
}

// Backoff returns the retry parameters as a wait.Backoff.
func (r *Retry) Backoff() wait.Backoff {
	return wait.Backoff{
		Steps:    r.Steps,
		Duration: r.Duration.Duration,
		Factor:   r.Factor,
		Jitter:   r.Jitter,
	}
}

// NewConfig returns a config with the default settings.
func NewConfig() *Config {
	maskSecrets := true
	return &Config{
		TypeMeta: metav1.TypeMeta{
			Kind:       ConfigKind,
			APIVersion: ConfigApiVersion,
		},
		FieldManager: defaultFieldManager(),
		IgnoreRules:  drift.DefaultIgnoreRules().ToTable(),
		MaskSecrets:  &maskSecrets,
		Concurrency:  DefaultConcurrency,
		Retry:        defaultRetry(),
	}
}

func defaultFieldManager() *FieldManager {
	return &FieldManager{
		Name:  FieldManagerName,
		Group: FieldManagerGroup,
	}
}

func defaultRetry() *Retry {
	return &Retry{
		Steps:    5,
		Duration: metav1.Duration{Duration: 500 * time.Millisecond},
		Factor:   2.0,
		Jitter:   0.1,
	}
}

// Owner returns the server-side apply field manager.
func (c *Config) Owner() ssa.Owner {
	return ssa.Owner{
		Field: c.FieldManager.Name,
		Group: c.FieldManager.Group,
	}
}

// Rules returns the built-in ignore rules merged with the config ones.
func (c *Config) Rules() (drift.IgnoreRules, error) {
	rules, err := drift.ParseIgnoreRules(c.IgnoreRules)
	if err != nil {
		return nil, err
	}
	return drift.DefaultIgnoreRules().Merge(rules), nil
}

// DefaultConfigPath returns '$HOME/.kubetpl/config'
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".kubetpl/config"), nil
}

// Read loads the config from the specified path,
// if the config file is not found, a default is returned.
func Read(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("$HOME dir can't be determined, error: %w", err)
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return NewConfig(), nil
	}

	cfgData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(cfgData, cfg); err != nil {
		return nil, err
	}

	if cfg.Kind != "" && cfg.Kind != ConfigKind {
		return nil, fmt.Errorf("%s: expected kind %s, got %s", configPath, ConfigKind, cfg.Kind)
	}

	if cfg.FieldManager == nil {
		cfg.FieldManager = defaultFieldManager()
	}

	if cfg.FieldManager.Name == "" {
		return nil, fmt.Errorf("the field manager name can't be empty")
	}

	if cfg.FieldManager.Group == "" {
		return nil, fmt.Errorf("the field manager group can't be empty")
	}

	if cfg.MaskSecrets == nil {
		maskSecrets := true
		cfg.MaskSecrets = &maskSecrets
	}

	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.Retry == nil || cfg.Retry.Steps < 1 {
		cfg.Retry = defaultRetry()
	}

	if _, err := drift.ParseIgnoreRules(cfg.IgnoreRules); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	return cfg, nil
}

// Write saves the config at the given path, if no path is specified
// it will create or override '$HOME/.kubetpl/config'.
func (c *Config) Write(configPath string) error {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	if err := os.MkdirAll(filepath.Dir(configPath), os.FileMode(0755)); err != nil {
		return err
	}

	cfgData, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, cfgData, os.FileMode(0666)); err != nil {
		return err
	}

	return nil
}
