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

package localproxy

import (
	"net/url"

	"github.com/Jigsaw-Code/outline-apptransport/settings"
)

// Resolver decides per request whether a URL is fetched through the local proxy.
// It is safe for concurrent use.
type Resolver struct {
	handle   Handle
	settings settings.Provider
}

// NewResolver creates a [Resolver]. A nil provider behaves like default settings.
func NewResolver(handle Handle, provider settings.Provider) *Resolver {
	return &Resolver{handle: handle, settings: provider}
}

// Handle returns the handle the resolver was created with.
func (r *Resolver) Handle() Handle {
	return r.handle
}

// Resolve returns the URL to fetch for target. It is rewritten through the local proxy
// only if the handle is active and the proxy setting is enabled right now.
func (r *Resolver) Resolve(target *url.URL) *url.URL {
	if !r.handle.Active() || r.settings == nil {
		return target
	}
	if !r.settings.Snapshot().ProxyEnabled {
		return target
	}
	return r.handle.service.Rewrite(target)
}
