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
	"errors"
	"fmt"
)

// Common errors.
var (
	// ErrPortNotReported indicates the emulator process came up but never
	// printed its bound port within the startup timeout.
	ErrPortNotReported = errors.New("emulator did not report its bound port")
	// ErrNotReady indicates the emulator port never accepted a connection
	// within the readiness timeout.
	ErrNotReady = errors.New("emulator not accepting connections")
)

// LaunchError reports that the emulator process could not be brought up:
// the binary was missing, the process exited immediately, or the bound
// port could not be determined in time.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch emulator %q: %v", e.Binary, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
