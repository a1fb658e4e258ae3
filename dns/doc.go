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
Package dns queries DNS resolvers directly and provides a host resolver that falls back to a
public resolver when the system one gives answers the application cannot use.

Some networks answer every lookup with a private or loopback address to block a service.
[FallbackResolver] detects that case, asks a public resolver over plain DNS instead and
caches its answers for their TTL:

	resolver := &dns.FallbackResolver{
		System:   net.DefaultResolver,
		Fallback: dns.NewUDPRoundTripper(&net.Dialer{}, "8.8.8.8:53"),
	}
	dialer := &transport.TCPDialer{Resolver: resolver}

Queries go through a [RoundTripper], which hides whether a message travels over UDP or TCP.
*/
package dns
