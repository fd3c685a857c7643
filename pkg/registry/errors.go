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

package registry

import "fmt"

// Acquisition phases reported by StartError, so a failing test run names
// what went wrong instead of hanging on a generic timeout.
const (
	PhaseLaunch    = "launch"
	PhaseReadiness = "readiness"
	PhaseWaitOwner = "wait-owner"
)

// StartError means this worker never reached the acquired state: the
// launch failed, the emulator never became ready, or the worker that was
// starting it never published an address.
type StartError struct {
	Phase string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("emulator acquisition failed during %s: %v", e.Phase, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
