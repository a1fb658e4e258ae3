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

package settings

import (
	"sync/atomic"
)

// Snapshot is a point-in-time read of the settings relevant to the transport.
type Snapshot struct {
	// ProxyEnabled routes individual URLs through the local proxy when one is running.
	ProxyEnabled bool `yaml:"proxy_enabled"`
	// APIProxyEnabled routes every connection of the HTTP stack through the configured proxy.
	APIProxyEnabled bool `yaml:"api_proxy_enabled"`
}

// Provider supplies the current settings on demand. Implementations must be safe for
// concurrent use.
type Provider interface {
	Snapshot() Snapshot
}

// Static is a [Provider] holding a value that can be replaced at any time.
// The zero value reports the default settings.
type Static struct {
	current atomic.Pointer[Snapshot]
}

var _ Provider = (*Static)(nil)

// NewStatic creates a [Static] provider initialized to snapshot.
func NewStatic(snapshot Snapshot) *Static {
	s := &Static{}
	s.Set(snapshot)
	return s
}

// Snapshot implements [Provider].
func (s *Static) Snapshot() Snapshot {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// Set replaces the current settings.
func (s *Static) Set(snapshot Snapshot) {
	s.current.Store(&snapshot)
}

// SetProxyEnabled updates only the ProxyEnabled flag.
func (s *Static) SetProxyEnabled(enabled bool) {
	for {
		old := s.current.Load()
		next := Snapshot{}
		if old != nil {
			next = *old
		}
		next.ProxyEnabled = enabled
		if s.current.CompareAndSwap(old, &next) {
			return
		}
	}
}
