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
	"log/slog"
	"net/http"
	"time"

	"github.com/juju/clock"
)

// DebugDelay holds every call back by delay before sending it, to make slow networks
// reproducible during development. Cancelling the request ends the wait.
func DebugDelay(delay time.Duration, logger *slog.Logger, clk clock.Clock) Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := clk.Now()
			select {
			case <-clk.After(delay):
			case <-req.Context().Done():
				if req.Body != nil {
					req.Body.Close()
				}
				return nil, req.Context().Err()
			}
			resp, err := next.RoundTrip(req)
			elapsed := clk.Now().Sub(start)
			if err != nil {
				logger.Debug("delayed request failed", "url", req.URL.String(), "elapsed", elapsed, "error", err)
				return resp, err
			}
			logger.Debug("delayed request done", "url", req.URL.String(), "elapsed", elapsed, "status", resp.StatusCode)
			return resp, err
		})
	}
}
