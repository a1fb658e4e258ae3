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
)

// RoundTripperFunc is a [net/http.RoundTripper] implemented by a function.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

var _ http.RoundTripper = (RoundTripperFunc)(nil)

// RoundTrip implements [net/http.RoundTripper].
func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Interceptor wraps a round tripper with extra behavior.
type Interceptor func(next http.RoundTripper) http.RoundTripper

// Chain wraps base with the interceptors. The first interceptor is the outermost, so it
// sees a call first and its outcome last.
func Chain(base http.RoundTripper, interceptors ...Interceptor) http.RoundTripper {
	rt := base
	for i := len(interceptors) - 1; i >= 0; i-- {
		if interceptors[i] != nil {
			rt = interceptors[i](rt)
		}
	}
	return rt
}
