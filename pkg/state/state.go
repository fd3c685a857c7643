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

// Package state persists the shared emulator record that all test workers
// of one session coordinate through, guarded by a cross-process file lock.
package state

import "time"

// File names inside the coordination directory, shared with every worker
// of the session.
const (
	StateFileName = "pubsub_emulator.json"
	LockFileName  = "pubsub_emulator.lock"
)

// Shared is the single authoritative record for one coordination
// directory. A PID of zero marks a placeholder written by the worker that
// is currently starting the emulator; Host/Port are published only once
// the bound port is known.
type Shared struct {
	PID         int       `json:"pid"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Project     string    `json:"project"`
	RefCount    int       `json:"refcount"`
	OwnerToken  string    `json:"owner_token"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Published reports whether the starter has recorded the bound address.
func (s *Shared) Published() bool {
	return s.Host != "" && s.Port != 0
}
