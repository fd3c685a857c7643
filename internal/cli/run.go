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

package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pigeonworks-llc/go-pubsubemu/pkg/pubsubtest"
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command with a lease on the shared emulator",
	Long: `Run acquires a lease on the shared emulator, executes the given command
with PUBSUB_EMULATOR_HOST and PUBSUB_PROJECT_ID pointing at it, then
releases the lease. The command's exit code is propagated.

Parallel invocations sharing the same coordination directory share one
emulator process; the last one to finish stops it.`,
	Example: `  # Run a Go test suite against the shared emulator
  go-pubsubemu run -- go test ./...

  # Several parallel CI shards sharing one emulator
  PUBSUBEMU_DIR=/tmp/ci-run-42 go-pubsubemu run -- make integration-test`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg, logger, err := newRegistry()
	if err != nil {
		return err
	}

	info, err := reg.Acquire()
	if err != nil {
		return fmt.Errorf("failed to acquire emulator: %w", err)
	}

	child := exec.Command(args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = append(os.Environ(),
		pubsubtest.EnvEmulatorHost+"="+info.HostPort(),
		pubsubtest.EnvProjectID+"="+info.Project,
	)

	runErr := child.Run()

	if err := reg.Release(); err != nil {
		logger.Warn("failed to release emulator lease", zap.Error(err))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run command: %w", runErr)
	}
	return nil
}
