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

/*
Package localproxy runs an optional web proxy on the loopback interface and decides, per
request, whether traffic goes through it.

The proxy is best-effort. [Bootstrapper] tries a bounded number of times to start a
[Service] and resolves the outcome into an immutable [Handle]: either active, holding the
bound address, or disabled. Failing to start is never an error for the caller; the
application just runs without the local proxy.

A [Resolver] combines the handle with live [settings.Provider] values, so toggling the
proxy preference changes routing on the next request without rebuilding anything:

	handle := (&localproxy.Bootstrapper{NewService: func() localproxy.Service {
		return localproxy.NewHTTPService(&transport.TCPDialer{})
	}}).Bootstrap()
	resolver := localproxy.NewResolver(handle, provider)
	fetchURL := resolver.Resolve(imageURL)
*/
package localproxy
