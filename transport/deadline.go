// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"time"
)

// deadlineConn arms a fresh deadline before every Read and Write.
type deadlineConn struct {
	StreamConn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// WithIOTimeouts wraps conn so that each Read is bounded by readTimeout and each Write by
// writeTimeout. Non-positive values leave the corresponding direction unbounded.
func WithIOTimeouts(conn StreamConn, readTimeout, writeTimeout time.Duration) StreamConn {
	if readTimeout <= 0 && writeTimeout <= 0 {
		return conn
	}
	return &deadlineConn{StreamConn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout}
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.StreamConn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.StreamConn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.StreamConn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.StreamConn.Write(b)
}
