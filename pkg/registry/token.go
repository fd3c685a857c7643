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

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// newOwnerToken generates an opaque participant identity from several
// entropy sources. It only appears in the shared record for diagnosing
// which worker started (or abandoned) an emulator.
func newOwnerToken() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	var b [8]byte
	random := int64(0)
	if _, err := rand.Read(b[:]); err == nil {
		// #nosec G115 - random bytes reinterpreted for token input only
		random = int64(binary.BigEndian.Uint64(b[:]))
	}

	input := fmt.Sprintf("%s-%d-%d-%d", hostname, os.Getpid(), time.Now().UnixNano(), random)
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash[:6])
}
