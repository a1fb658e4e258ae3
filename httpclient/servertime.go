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

package httpclient

import (
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
)

// ServerTime estimates the clock of the application's servers from the Date header of their
// successful responses, so that server timestamps can be compared with "now".
// It is safe for concurrent use.
type ServerTime struct {
	clk    clock.Clock
	target TargetFunc
	hosts  map[string]struct{}

	offset atomic.Int64
	known  atomic.Bool
}

// NewServerTime creates a [ServerTime] trusting the Date headers of hosts. A nil clock means
// the wall clock and a nil target means requests are sent to their destination directly.
func NewServerTime(clk clock.Clock, target TargetFunc, hosts ...string) *ServerTime {
	if clk == nil {
		clk = clock.WallClock
	}
	set := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		set[strings.ToLower(host)] = struct{}{}
	}
	return &ServerTime{clk: clk, target: target, hosts: set}
}

// Offset returns how far the server clock is ahead of the local one, and whether any
// response has been seen yet.
func (s *ServerTime) Offset() (time.Duration, bool) {
	return time.Duration(s.offset.Load()), s.known.Load()
}

// Now returns the estimated current server time. Before any server response it is the
// local time.
func (s *ServerTime) Now() time.Time {
	return s.clk.Now().Add(time.Duration(s.offset.Load()))
}

// Interceptor returns the network interceptor that updates the estimate. The server time
// is taken as the Date header plus half of the call duration.
func (s *ServerTime) Interceptor() Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := s.clk.Now()
			resp, err := next.RoundTrip(req)
			if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
				return resp, err
			}
			if _, ok := s.hosts[destinationHost(s.target, req.URL)]; !ok {
				return resp, err
			}
			date, parseErr := http.ParseTime(resp.Header.Get("Date"))
			if parseErr != nil {
				return resp, err
			}
			now := s.clk.Now()
			serverNow := date.Add(now.Sub(start) / 2)
			s.offset.Store(int64(serverNow.Sub(now)))
			s.known.Store(true)
			return resp, err
		})
	}
}
