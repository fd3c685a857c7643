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
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupForce bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Discard stale emulator state",
	Long: `Cleanup removes coordination state whose emulator process no longer
exists, for example after a crashed CI run. Live emulators are left
alone unless --force is given, in which case the emulator is stopped
and the state removed regardless of outstanding leases.`,
	Example: `  # Remove state left behind by a crashed run
  go-pubsubemu cleanup

  # Stop a live emulator and remove its state
  go-pubsubemu cleanup --force`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "also stop a live emulator")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg, _, err := newRegistry()
	if err != nil {
		return err
	}

	removed, err := reg.Cleanup(cleanupForce)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if removed {
		fmt.Printf("Removed emulator state in %s\n", coordDir())
	} else {
		fmt.Println("Nothing to clean up")
	}
	return nil
}
