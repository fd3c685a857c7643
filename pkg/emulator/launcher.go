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
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-pubsubemu/pkg/ports"
)

// portPattern matches the emulator's startup line, e.g.
// "[pubsub] INFO: Server started, listening on 8085".
var portPattern = regexp.MustCompile(`[Ll]istening (?:on|at)\s+(?:\S*:)?([0-9]+)\s*$`)

// Process describes a launched emulator process. Fingerprint is a
// best-effort process identity (start time on Linux) used to detect pid
// reuse when checking liveness later.
type Process struct {
	PID         int
	Host        string
	Port        int
	Fingerprint string
}

// Launcher starts and stops emulator processes.
type Launcher struct {
	cfg Config
	log *zap.Logger
}

// NewLauncher creates a Launcher. A nil logger is replaced with a no-op one.
func NewLauncher(cfg Config, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Normalize()
	return &Launcher{cfg: cfg, log: log}
}

func defaultCommand() []string {
	return []string{"gcloud", "beta", "emulators", "pubsub", "start"}
}

// Start spawns the emulator detached from the calling process so it
// survives the launching worker. When port is 0 a free port is picked
// first, but the port parsed from the emulator's own output is what gets
// returned. Start returns once the bound port is known; readiness is the
// caller's concern (see WaitUntilReady).
func (l *Launcher) Start(host string, port int, project string) (*Process, error) {
	requested := port
	if requested == 0 {
		free, err := ports.Free()
		if err != nil {
			return nil, &LaunchError{Binary: "", Err: err}
		}
		requested = free
	}

	argv := l.cfg.Command
	if len(argv) == 0 {
		argv = defaultCommand()
	}
	args := append(append([]string{}, argv[1:]...),
		fmt.Sprintf("--host-port=%s:%d", host, requested),
		fmt.Sprintf("--project=%s", project),
	)

	cmd := exec.Command(argv[0], args...)
	cmd.SysProcAttr = detachedSysProcAttr()
	if len(l.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), l.cfg.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Binary: argv[0], Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Binary: argv[0], Err: err}
	}

	l.log.Info("starting emulator",
		zap.String("binary", argv[0]),
		zap.String("host", host),
		zap.Int("port", requested))

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Binary: argv[0], Err: err}
	}
	pid := cmd.Process.Pid

	// The emulator logs to stderr; scan both streams to be safe. The
	// scanners also keep draining after the port is found so the child
	// never blocks on a full pipe.
	portCh := make(chan int, 2)
	var scanners sync.WaitGroup
	scanners.Add(2)
	go l.scanForPort(stdout, "stdout", portCh, &scanners)
	go l.scanForPort(stderr, "stderr", portCh, &scanners)

	// Wait is only safe after both pipe readers hit EOF.
	exited := make(chan error, 1)
	go func() {
		scanners.Wait()
		exited <- cmd.Wait()
	}()

	select {
	case bound := <-portCh:
		fingerprint := processFingerprint(pid)
		l.log.Info("emulator started",
			zap.Int("pid", pid),
			zap.Int("port", bound))
		return &Process{PID: pid, Host: host, Port: bound, Fingerprint: fingerprint}, nil
	case err := <-exited:
		return nil, &LaunchError{Binary: argv[0], Err: fmt.Errorf("emulator exited during startup: %v", err)}
	case <-time.After(l.cfg.StartupTimeout):
		_ = cmd.Process.Kill()
		return nil, &LaunchError{Binary: argv[0], Err: fmt.Errorf("%w within %s", ErrPortNotReported, l.cfg.StartupTimeout)}
	}
}

func (l *Launcher) scanForPort(r io.Reader, stream string, portCh chan<- int, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	reported := false
	for scanner.Scan() {
		line := scanner.Text()
		l.log.Debug(line, zap.String("stream", stream))
		if reported {
			continue
		}
		if m := portPattern.FindStringSubmatch(line); m != nil {
			if port, err := strconv.Atoi(m[1]); err == nil {
				reported = true
				select {
				case portCh <- port:
				default:
				}
			}
		}
	}
}

// Stop terminates the process with the given pid: SIGTERM, wait out the
// grace period, then SIGKILL. Stopping an already-dead pid is a no-op.
func (l *Launcher) Stop(pid int) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		return
	}

	deadline := time.Now().Add(l.cfg.StopGracePeriod)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	l.log.Warn("emulator did not exit after SIGTERM, killing", zap.Int("pid", pid))
	_ = proc.Signal(syscall.SIGKILL)
}

// IsAlive reports whether the pid refers to a live process that still
// matches the recorded fingerprint. An empty or unverifiable fingerprint
// degrades to a plain liveness check; pid reuse detection is best-effort.
func (l *Launcher) IsAlive(pid int, fingerprint string) bool {
	if !pidAlive(pid) {
		return false
	}
	if fingerprint == "" {
		return true
	}
	current := processFingerprint(pid)
	if current == "" {
		return true
	}
	return current == fingerprint
}

// pidAlive checks process existence by sending signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
