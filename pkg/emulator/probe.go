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
	"strconv"
	"time"
)

const (
	probeInterval    = 200 * time.Millisecond
	probeDialTimeout = time.Second
)

// WaitUntilReady polls host:port until a TCP connection succeeds or the
// timeout elapses. A successful connect only proves the listening socket
// exists, not that the emulator has finished its internal startup; callers
// accept this as ready enough.
func WaitUntilReady(host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, probeDialTimeout)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(probeInterval)
	}
	return fmt.Errorf("emulator at %s not ready within %s: %w", addr, timeout, ErrNotReady)
}
