// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package emulator manages the lifecycle of a GCP Pub/Sub emulator process:
// launching it, discovering its bound port, probing readiness, and tearing
// it down.
package emulator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHost is the bind host used when none is configured.
	DefaultHost = "localhost"
	// DefaultPort is the emulator port used when none is configured.
	// Port 0 requests OS auto-assignment instead.
	DefaultPort = 8085
	// DefaultProject is the GCP project ID used when none is configured.
	DefaultProject = "test-project"
	// DefaultStartupTimeout bounds launch, port discovery and readiness.
	DefaultStartupTimeout = 15 * time.Second
	// DefaultLockTimeout bounds acquisition of the cross-process lock.
	DefaultLockTimeout = 10 * time.Second
	// DefaultPollInterval is the fixed interval at which a participant
	// re-checks shared state while another worker is starting the emulator.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultStopGracePeriod is how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	DefaultStopGracePeriod = 5 * time.Second
)

// Config holds emulator and coordination settings.
type Config struct {
	// Host is the bind host passed to the emulator.
	Host string
	// Port is the requested port; 0 lets the OS choose.
	Port int
	// Project is the GCP project ID the emulator serves.
	Project string
	// StartupTimeout bounds the launch + readiness sequence, and how long
	// a joining worker waits for the starting worker to publish the port.
	StartupTimeout time.Duration
	// LockTimeout bounds acquisition of the coordination lock.
	LockTimeout time.Duration
	// PollInterval is the shared-state poll interval while waiting for a
	// concurrent starter.
	PollInterval time.Duration
	// StopGracePeriod is the SIGTERM-to-SIGKILL escalation delay.
	StopGracePeriod time.Duration
	// Command overrides the emulator command line. The launcher appends
	// --host-port and --project arguments to it.
	Command []string
	// Env is appended to the inherited environment of the emulator process.
	Env []string
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Project:         DefaultProject,
		StartupTimeout:  DefaultStartupTimeout,
		LockTimeout:     DefaultLockTimeout,
		PollInterval:    DefaultPollInterval,
		StopGracePeriod: DefaultStopGracePeriod,
	}
}

// Normalize fills zero-valued fields with defaults.
func (c *Config) Normalize() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Project == "" {
		c.Project = DefaultProject
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopGracePeriod <= 0 {
		c.StopGracePeriod = DefaultStopGracePeriod
	}
}

// fileConfig is the YAML representation of Config. Durations are parsed
// from strings like "15s" so config files stay human-editable.
type fileConfig struct {
	Host            string   `yaml:"host"`
	Port            *int     `yaml:"port"`
	Project         string   `yaml:"project"`
	StartupTimeout  string   `yaml:"startup_timeout"`
	LockTimeout     string   `yaml:"lock_timeout"`
	PollInterval    string   `yaml:"poll_interval"`
	StopGracePeriod string   `yaml:"stop_grace_period"`
	Command         []string `yaml:"command"`
	Env             []string `yaml:"env"`
}

// LoadConfig reads a YAML config file and merges it over the defaults.
// A missing file is not an error and yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Host != "" {
		cfg.Host = fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Project != "" {
		cfg.Project = fc.Project
	}
	if fc.Command != nil {
		cfg.Command = fc.Command
	}
	if fc.Env != nil {
		cfg.Env = fc.Env
	}

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{fc.StartupTimeout, "startup_timeout", &cfg.StartupTimeout},
		{fc.LockTimeout, "lock_timeout", &cfg.LockTimeout},
		{fc.PollInterval, "poll_interval", &cfg.PollInterval},
		{fc.StopGracePeriod, "stop_grace_period", &cfg.StopGracePeriod},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	cfg.Normalize()
	return cfg, nil
}
