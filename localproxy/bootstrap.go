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
	"io"
	"log/slog"
	"net/url"
)

// DefaultMaxAttempts is how many times [Bootstrapper] tries to start a service.
const DefaultMaxAttempts = 10

// Handle is the outcome of bootstrapping the local proxy. The zero value is the disabled
// handle, which leaves every URL untouched. A Handle never changes once created.
type Handle struct {
	service Service
	address string
}

// Disabled returns the handle used when no local proxy is available.
func Disabled() Handle {
	return Handle{}
}

// Active returns whether a local proxy is running behind this handle.
func (h Handle) Active() bool {
	return h.service != nil
}

// Address returns the address the local proxy is bound to, or "" when disabled.
func (h Handle) Address() string {
	return h.address
}

// Service returns the running local proxy, or nil when disabled.
func (h Handle) Service() Service {
	return h.service
}

func (h Handle) String() string {
	if !h.Active() {
		return "Disabled"
	}
	return "Active(" + h.address + ")"
}

// Target maps a URL rewritten through the local proxy back to its destination. Any other
// URL is returned unchanged.
func (h Handle) Target(u *url.URL) *url.URL {
	if t, ok := h.service.(interface {
		Target(*url.URL) (*url.URL, bool)
	}); ok {
		if target, ok := t.Target(u); ok {
			return target
		}
	}
	return u
}

// Close stops the local proxy, if there is one and it can be stopped.
func (h Handle) Close() error {
	if c, ok := h.service.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Bootstrapper starts the local proxy with a bounded number of attempts.
type Bootstrapper struct {
	// NewService creates a fresh, unstarted service for each attempt.
	NewService func() Service
	// MaxAttempts bounds the number of start attempts. Defaults to [DefaultMaxAttempts].
	MaxAttempts int
	// Logger receives attempt failures (optional).
	Logger *slog.Logger
}

// Bootstrap tries to start a service until one starts or the attempts run out. Attempts
// are made back to back on the calling goroutine. A service that fails to start is closed
// before the next attempt if it implements [io.Closer]. When every attempt fails, the
// disabled handle is returned. Failures are only logged.
func (b *Bootstrapper) Bootstrap() Handle {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if b.NewService == nil {
		logger.Warn("No local proxy configured, using no proxy now.")
		return Disabled()
	}
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		service := b.NewService()
		if service == nil {
			logger.Warn("Could not create local proxy", "attempt", attempt)
			continue
		}
		address, err := service.Start()
		if err == nil {
			logger.Info("Local proxy started", "address", address, "attempt", attempt)
			return Handle{service: service, address: address}
		}
		logger.Warn("Could not open local proxy", "attempt", attempt, "error", err)
		if c, ok := service.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Debug("Failed to release local proxy", "attempt", attempt, "error", err)
			}
		}
	}

	logger.Warn("Stop trying, using no proxy now.", "attempts", maxAttempts)
	return Disabled()
}
