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

// Package proxyselector provides a process-wide on/off switch that routes every connection
// of an [net/http.Transport] through a proxy.
//
// Unlike the per-URL decision made by the localproxy package, the switch is flipped as a
// unit, normally once when the transport is built.
package proxyselector

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"

	"github.com/juju/proxy"
	"golang.org/x/net/http/httpproxy"
)

// Selector decides which proxy, if any, an outgoing connection uses.
// The zero value never uses a proxy.
// It is safe for concurrent use.
type Selector struct {
	active    atomic.Bool
	bypass    atomic.Pointer[[]string]
	proxyFunc func(*url.URL) (*url.URL, error)
}

// New creates a selector that routes through proxyURL when active. An empty proxyURL means
// the proxy settings detected from the environment (HTTP_PROXY, HTTPS_PROXY, NO_PROXY).
func New(proxyURL string) (*Selector, error) {
	if proxyURL == "" {
		return NewFromSettings(proxy.DetectProxies()), nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: scheme and host are required", proxyURL)
	}
	return &Selector{proxyFunc: func(*url.URL) (*url.URL, error) { return u, nil }}, nil
}

// NewFromSettings creates a selector that, when active, follows the given proxy settings,
// honoring their no-proxy list.
func NewFromSettings(settings proxy.Settings) *Selector {
	cfg := &httpproxy.Config{
		HTTPProxy:  settings.Http,
		HTTPSProxy: settings.Https,
		NoProxy:    settings.NoProxy,
	}
	return &Selector{proxyFunc: cfg.ProxyFunc()}
}

// SetActive turns routing through the proxy on or off for all destinations.
func (s *Selector) SetActive(active bool) {
	s.active.Store(active)
}

// Active reports whether connections are routed through the proxy.
func (s *Selector) Active() bool {
	return s.active.Load()
}

// Bypass makes connections to the given host:port addresses direct, even while active.
// It replaces any earlier bypass list.
func (s *Selector) Bypass(addresses ...string) {
	list := slices.Clone(addresses)
	s.bypass.Store(&list)
}

// Proxy has the signature of [net/http.Transport.Proxy]. It returns nil, meaning a direct
// connection, while the selector is inactive.
func (s *Selector) Proxy(req *http.Request) (*url.URL, error) {
	if !s.active.Load() || s.proxyFunc == nil {
		return nil, nil
	}
	if list := s.bypass.Load(); list != nil && slices.Contains(*list, req.URL.Host) {
		return nil, nil
	}
	return s.proxyFunc(req.URL)
}
