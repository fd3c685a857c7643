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

// Package cli provides the command-line interface for go-pubsubemu.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-pubsubemu/internal/logging"
	"github.com/pigeonworks-llc/go-pubsubemu/pkg/emulator"
	"github.com/pigeonworks-llc/go-pubsubemu/pkg/pubsubtest"
	"github.com/pigeonworks-llc/go-pubsubemu/pkg/registry"
)

var (
	// Version is set during build time
	Version = "dev"

	flagDir     string
	flagConfig  string
	flagHost    string
	flagPort    int
	flagProject string
	flagTimeout time.Duration
	flagLogFile string
	flagVerbose bool

	rootCmd = &cobra.Command{
		Use:   "go-pubsubemu",
		Short: "Shared GCP Pub/Sub emulator coordinator for parallel test runs",
		Long: `go-pubsubemu guarantees exactly one Pub/Sub emulator process across any
number of parallel test worker processes sharing a coordination directory.

The first worker to acquire starts the emulator; every other worker joins
the running one; the last worker to release tears it down. State left
behind by a crashed worker is detected and discarded automatically.

Example:
  # Run a test suite against the shared emulator
  go-pubsubemu run -- go test ./...

  # Inspect the shared emulator state
  go-pubsubemu status

  # Discard stale coordination state
  go-pubsubemu cleanup`,
		Version: Version,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDir, "dir", "", "coordination directory (default: $PUBSUBEMU_DIR or a shared temp dir)")
	pf.StringVar(&flagConfig, "config", "", "path to a YAML config file")
	pf.StringVar(&flagHost, "host", emulator.DefaultHost, "emulator bind host")
	pf.IntVar(&flagPort, "port", emulator.DefaultPort, "emulator port (0 for auto-assignment)")
	pf.StringVar(&flagProject, "project", emulator.DefaultProject, "GCP project ID for the emulator")
	pf.DurationVar(&flagTimeout, "timeout", emulator.DefaultStartupTimeout, "emulator startup timeout")
	pf.StringVar(&flagLogFile, "log-file", "", "also write JSON logs to this rotated file")
	pf.BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("go-pubsubemu version %s\n", Version)
	},
}

// loadSettings resolves the effective configuration: defaults, then the
// config file, then explicitly-set flags.
func loadSettings() (emulator.Config, *zap.Logger, error) {
	cfg := emulator.DefaultConfig()
	if flagConfig != "" {
		loaded, err := emulator.LoadConfig(flagConfig)
		if err != nil {
			return cfg, nil, err
		}
		cfg = loaded
	}

	pf := rootCmd.PersistentFlags()
	if pf.Changed("host") {
		cfg.Host = flagHost
	}
	if pf.Changed("port") {
		cfg.Port = flagPort
	}
	if pf.Changed("project") {
		cfg.Project = flagProject
	}
	if pf.Changed("timeout") {
		cfg.StartupTimeout = flagTimeout
	}

	level := "info"
	if flagVerbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, FilePath: flagLogFile})
	if err != nil {
		return cfg, nil, err
	}

	return cfg, logger, nil
}

func coordDir() string {
	if flagDir != "" {
		return flagDir
	}
	return pubsubtest.SharedDir()
}

func newRegistry() (*registry.Registry, *zap.Logger, error) {
	cfg, logger, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.New(cfg, coordDir(), logger)
	if err != nil {
		return nil, nil, err
	}
	return reg, logger, nil
}
