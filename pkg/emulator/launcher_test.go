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

package emulator

import (
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeonworks-llc/go-pubsubemu/pkg/ports"
)

// TestHelperEmulator is not a real test: it is re-executed as the fake
// emulator binary by the launcher tests. Without the helper env var it
// does nothing.
func TestHelperEmulator(t *testing.T) {
	mode := os.Getenv("GO_PUBSUBEMU_HELPER")
	if mode == "" {
		return
	}
	runFakeEmulator(mode)
}

// runFakeEmulator emulates the emulator's observable behavior per mode:
// serve (listen and report the port), noserve (report but never listen),
// silent (never report), exit (die immediately).
func runFakeEmulator(mode string) {
	hostPort := ""
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "--host-port=") {
			hostPort = strings.TrimPrefix(arg, "--host-port=")
		}
	}

	switch mode {
	case "serve":
		ln, err := net.Listen("tcp", hostPort)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fake emulator: %v\n", err)
			os.Exit(1)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		fmt.Fprintf(os.Stderr, "[pubsub] INFO: Server started, listening on %d\n", port)
		for {
			conn, err := ln.Accept()
			if err != nil {
				os.Exit(0)
			}
			_ = conn.Close()
		}
	case "noserve":
		_, portStr, err := net.SplitHostPort(hostPort)
		if err != nil {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "[pubsub] INFO: Server started, listening on %s\n", portStr)
		time.Sleep(time.Minute)
	case "silent":
		time.Sleep(time.Minute)
	case "exit":
		fmt.Fprintln(os.Stderr, "fake emulator: fatal startup error")
		os.Exit(1)
	}
	os.Exit(0)
}

// fakeEmulatorConfig returns a Config whose Command re-executes this test
// binary as a fake emulator in the given mode.
func fakeEmulatorConfig(mode string) Config {
	cfg := DefaultConfig()
	cfg.Command = []string{os.Args[0], "-test.run=TestHelperEmulator$", "--"}
	cfg.Env = []string{"GO_PUBSUBEMU_HELPER=" + mode}
	cfg.StartupTimeout = 10 * time.Second
	cfg.StopGracePeriod = 2 * time.Second
	return cfg
}

func waitForDeath(t *testing.T, l *Launcher, pid int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !l.IsAlive(pid, "") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("process %d still alive", pid)
}

func TestLauncher_Start(t *testing.T) {
	t.Run("auto port is resolved from emulator output", func(t *testing.T) {
		l := NewLauncher(fakeEmulatorConfig("serve"), nil)

		proc, err := l.Start("localhost", 0, "test-project")
		require.NoError(t, err)
		defer l.Stop(proc.PID)

		assert.Greater(t, proc.Port, 0)
		assert.Equal(t, "localhost", proc.Host)
		assert.True(t, l.IsAlive(proc.PID, proc.Fingerprint))

		require.NoError(t, WaitUntilReady(proc.Host, proc.Port, 5*time.Second))
	})

	t.Run("requested port is honored", func(t *testing.T) {
		port, err := ports.Free()
		require.NoError(t, err)

		l := NewLauncher(fakeEmulatorConfig("serve"), nil)
		proc, err := l.Start("localhost", port, "test-project")
		require.NoError(t, err)
		defer l.Stop(proc.PID)

		assert.Equal(t, port, proc.Port)
	})

	t.Run("immediate exit is a launch error", func(t *testing.T) {
		l := NewLauncher(fakeEmulatorConfig("exit"), nil)

		_, err := l.Start("localhost", 0, "test-project")
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Contains(t, launchErr.Error(), "exited during startup")
	})

	t.Run("missing binary is a launch error", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Command = []string{"go-pubsubemu-no-such-binary"}

		l := NewLauncher(cfg, nil)
		_, err := l.Start("localhost", 0, "test-project")
		var launchErr *LaunchError
		require.ErrorAs(t, err, &launchErr)
	})

	t.Run("unreported port fails within the startup timeout", func(t *testing.T) {
		cfg := fakeEmulatorConfig("silent")
		cfg.StartupTimeout = 500 * time.Millisecond
		l := NewLauncher(cfg, nil)

		start := time.Now()
		_, err := l.Start("localhost", 0, "test-project")
		elapsed := time.Since(start)

		require.ErrorIs(t, err, ErrPortNotReported)
		assert.Less(t, elapsed, 5*time.Second)
	})
}

func TestLauncher_Stop(t *testing.T) {
	t.Run("terminates a running emulator", func(t *testing.T) {
		l := NewLauncher(fakeEmulatorConfig("serve"), nil)
		proc, err := l.Start("localhost", 0, "test-project")
		require.NoError(t, err)

		l.Stop(proc.PID)
		waitForDeath(t, l, proc.PID)
	})

	t.Run("is idempotent on dead pids", func(t *testing.T) {
		l := NewLauncher(fakeEmulatorConfig("serve"), nil)
		proc, err := l.Start("localhost", 0, "test-project")
		require.NoError(t, err)

		l.Stop(proc.PID)
		waitForDeath(t, l, proc.PID)
		l.Stop(proc.PID)
		l.Stop(0)
		l.Stop(-1)
	})
}

func TestLauncher_IsAlive(t *testing.T) {
	l := NewLauncher(DefaultConfig(), nil)

	t.Run("invalid pids are dead", func(t *testing.T) {
		assert.False(t, l.IsAlive(0, ""))
		assert.False(t, l.IsAlive(-1, ""))
	})

	t.Run("own process is alive", func(t *testing.T) {
		assert.True(t, l.IsAlive(os.Getpid(), ""))
	})

	t.Run("fingerprint mismatch means stale", func(t *testing.T) {
		fp := processFingerprint(os.Getpid())
		if fp == "" {
			t.Skip("no process fingerprint on this platform")
		}
		assert.True(t, l.IsAlive(os.Getpid(), fp))
		assert.False(t, l.IsAlive(os.Getpid(), fp+"0"))
	})
}

func TestPortPattern(t *testing.T) {
	cases := []struct {
		line string
		port string
	}{
		{"[pubsub] INFO: Server started, listening on 8085", "8085"},
		{"[pubsub] This is the Google Pub/Sub fake.", ""},
		{"Server started, listening on localhost:9000", "9000"},
		{"INFO: listening at 127.0.0.1:8085", "8085"},
	}
	for _, tc := range cases {
		m := portPattern.FindStringSubmatch(tc.line)
		if tc.port == "" {
			assert.Nil(t, m, tc.line)
			continue
		}
		require.NotNil(t, m, tc.line)
		assert.Equal(t, tc.port, m[1], tc.line)
	}
}
