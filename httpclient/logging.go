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

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// Logging returns the diagnostic interceptor. It logs every call when it starts, and its
// status and duration or its error when it ends. The response and error are returned as
// they came from the wrapped round tripper.
func Logging(logger *slog.Logger, clk clock.Clock) Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			id := uuid.NewString()
			url := req.URL.String()
			start := clk.Now()
			logger.InfoContext(req.Context(), "performing http request", "request_id", id, "method", req.Method, "url", url)

			resp, err := next.RoundTrip(req)
			elapsed := clk.Now().Sub(start)
			if err != nil {
				logger.WarnContext(req.Context(), "http request produced error", "request_id", id, "url", url, "elapsed", elapsed, "error", err)
				return resp, err
			}
			logger.InfoContext(req.Context(), "http request done", "request_id", id, "url", url, "status", resp.StatusCode, "elapsed", elapsed)
			return resp, err
		})
	}
}
