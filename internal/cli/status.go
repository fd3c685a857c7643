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
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the shared emulator state for the coordination directory",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	reg, _, err := newRegistry()
	if err != nil {
		return err
	}

	shared, alive, err := reg.Status()
	if err != nil {
		return fmt.Errorf("failed to read emulator state: %w", err)
	}

	if shared == nil {
		fmt.Printf("No emulator state in %s\n", coordDir())
		return nil
	}

	fmt.Printf("Coordination dir: %s\n", coordDir())
	if shared.Published() {
		fmt.Printf("Address:          %s:%d\n", shared.Host, shared.Port)
	} else {
		fmt.Printf("Address:          (starting, not yet published)\n")
	}
	fmt.Printf("Project:          %s\n", shared.Project)
	fmt.Printf("PID:              %d (alive: %v)\n", shared.PID, alive)
	fmt.Printf("Leases:           %d\n", shared.RefCount)
	fmt.Printf("Owner token:      %s\n", shared.OwnerToken)
	fmt.Printf("Started:          %s\n", shared.CreatedAt.Format(time.RFC3339))
	return nil
}
