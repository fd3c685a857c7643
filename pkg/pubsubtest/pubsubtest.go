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

// Package pubsubtest wires the shared emulator into Go test binaries.
// A package's TestMain delegates to Main, which acquires a lease on the
// session's emulator, publishes the well-known environment variables so
// Pub/Sub client libraries connect to it transparently, runs the tests,
// and releases the lease.
package pubsubtest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-pubsubemu/pkg/emulator"
	"github.com/pigeonworks-llc/go-pubsubemu/pkg/registry"
)

// Environment variables recognized by Pub/Sub client libraries and by
// this package.
const (
	// EnvEmulatorHost is read by google-cloud clients to redirect traffic
	// to the emulator.
	EnvEmulatorHost = "PUBSUB_EMULATOR_HOST"
	// EnvProjectID carries the emulator project ID.
	EnvProjectID = "PUBSUB_PROJECT_ID"
	// EnvCoordDir overrides the coordination directory, scoping one
	// emulator to one test run across worker processes.
	EnvCoordDir = "PUBSUBEMU_DIR"
)

type options struct {
	cfg    emulator.Config
	dir    string
	logger *zap.Logger
}

// Option customizes Main.
type Option func(*options)

// WithConfig replaces the default emulator configuration.
func WithConfig(cfg emulator.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithDir overrides the coordination directory.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithLogger attaches a logger to the acquisition machinery.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// SharedDir resolves the coordination directory: the EnvCoordDir override
// if set, otherwise a well-known directory under the system temp dir that
// every worker of a run on the same machine resolves identically.
func SharedDir() string {
	if dir := os.Getenv(EnvCoordDir); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "go-pubsubemu")
}

// Main runs a test binary against the shared emulator. Use it from
// TestMain:
//
//	func TestMain(m *testing.M) {
//		os.Exit(pubsubtest.Main(m))
//	}
//
// Acquisition failure is fatal to the test binary; release failure is
// logged but does not fail a run whose tests passed.
func Main(m *testing.M, opts ...Option) int {
	o := options{cfg: emulator.DefaultConfig(), dir: SharedDir()}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := registry.New(o.cfg, o.dir, o.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsubtest: %v\n", err)
		return 1
	}

	info, err := reg.Acquire()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pubsubtest: %v\n", err)
		return 1
	}

	restore := Setenv(*info)
	code := m.Run()
	restore()

	if err := reg.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "pubsubtest: release: %v\n", err)
	}
	return code
}

// Setenv publishes the emulator's address and project for client
// libraries and returns a function restoring the previous values.
func Setenv(info emulator.Info) (restore func()) {
	prevHost, hadHost := os.LookupEnv(EnvEmulatorHost)
	prevProject, hadProject := os.LookupEnv(EnvProjectID)

	os.Setenv(EnvEmulatorHost, info.HostPort())
	os.Setenv(EnvProjectID, info.Project)

	return func() {
		if hadHost {
			os.Setenv(EnvEmulatorHost, prevHost)
		} else {
			os.Unsetenv(EnvEmulatorHost)
		}
		if hadProject {
			os.Setenv(EnvProjectID, prevProject)
		} else {
			os.Unsetenv(EnvProjectID)
		}
	}
}

// RequireEmulator skips the test unless an emulator is reachable at the
// address in EnvEmulatorHost. Use it in tests that may also run outside a
// Main-managed binary.
func RequireEmulator(tb testing.TB) {
	tb.Helper()

	addr := os.Getenv(EnvEmulatorHost)
	if addr == "" {
		tb.Skipf("%s not set; skipping emulator test", EnvEmulatorHost)
	}

	var d net.Dialer
	conn, err := d.DialContext(context.Background(), "tcp", addr)
	if err != nil {
		tb.Skipf("emulator not reachable at %s: %v", addr, err)
	}
	_ = conn.Close()
}
