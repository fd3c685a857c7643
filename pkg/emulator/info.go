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
	"net"
	"strconv"
)

// Info holds the connection details of a running emulator. It is a plain
// value: once returned it has no further lifecycle.
type Info struct {
	Host    string
	Port    int
	Project string
}

// HostPort returns the combined "host:port" address, suitable for the
// PUBSUB_EMULATOR_HOST environment variable.
func (i Info) HostPort() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}
