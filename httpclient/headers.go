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
	"net/url"
	"strings"
)

// TargetFunc maps the URL of a request to the URL of its final destination, for requests
// addressed to an intermediary such as the local proxy.
type TargetFunc func(*url.URL) *url.URL

func destinationHost(target TargetFunc, u *url.URL) string {
	if target != nil {
		u = target(u)
	}
	return strings.ToLower(u.Hostname())
}

// UserAgent sets the User-Agent header on every request.
func UserAgent(userAgent string) Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			// RoundTrippers must not modify the caller's request.
			req = req.Clone(req.Context())
			req.Header.Set("User-Agent", userAgent)
			return next.RoundTrip(req)
		})
	}
}

// NoStore marks responses from the given hosts as not cacheable. It must sit below the
// response cache to have any effect.
func NoStore(hosts ...string) Interceptor {
	return NoStoreTargets(nil, hosts...)
}

// NoStoreTargets is like [NoStore], but matches the host of the destination given by
// target, so requests rewritten through the local proxy are matched too.
func NoStoreTargets(target TargetFunc, hosts ...string) Interceptor {
	set := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		set[strings.ToLower(host)] = struct{}{}
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			if err != nil || resp == nil {
				return resp, err
			}
			if _, ok := set[destinationHost(target, req.URL)]; ok {
				resp.Header.Set("Cache-Control", "no-store")
			}
			return resp, err
		})
	}
}
