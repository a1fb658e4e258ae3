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
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Jigsaw-Code/outline-apptransport/dns"
)

const (
	// DefaultCacheSize bounds the on-disk response cache.
	DefaultCacheSize int64 = 256 * 1024 * 1024
	// DefaultConnectTimeout bounds establishing a connection, including the TLS handshake.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultReadTimeout bounds each individual read from a connection.
	DefaultReadTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds each individual write to a connection.
	DefaultWriteTimeout = 15 * time.Second
	// DefaultMaxIdleConns is the size of the idle connection pool.
	DefaultMaxIdleConns = 4
	// DefaultKeepAlive is how long an idle pooled connection is kept.
	DefaultKeepAlive = 3 * time.Second
	// DefaultSocketBufferSize is the kernel buffer size used for each socket.
	DefaultSocketBufferSize = 64 * 1024
)

// Config holds the transport policy. Use [DefaultConfig] and adjust fields before
// passing it to a [Builder]; it is not consulted again after [Builder.Build].
type Config struct {
	// CacheDir is the directory dedicated to the response cache. Empty disables caching.
	CacheDir string
	// CacheSize is the capacity of the response cache in bytes.
	CacheSize int64

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// MaxIdleConns is the number of idle connections kept in the pool, in total and per host.
	MaxIdleConns int
	// KeepAlive is how long an idle connection stays in the pool.
	KeepAlive time.Duration
	// RetryOnConnectionFailure retries a call once when the connection fails.
	RetryOnConnectionFailure bool
	// SocketBufferSize sets the kernel buffers of every socket. Zero keeps the system default.
	SocketBufferSize int

	// UserAgent, if set, replaces the User-Agent header of every request sent on the wire.
	UserAgent string
	// NoStoreHosts lists hosts whose responses must never be written to the cache.
	NoStoreHosts []string
	// ServerTimeHosts lists hosts whose Date header drives [Transport.ServerTime].
	ServerTimeHosts []string
	// FallbackDNS is the host:port of the DNS server asked when the system resolver only
	// returns private or loopback addresses. Empty disables the fallback.
	FallbackDNS string
	// CookieFile, if set, persists cookies across runs. Ignored when [Builder.CookieJar] is set.
	CookieFile string
	// APIProxyURL is the proxy used while the API proxy setting is on. Empty means the
	// proxy configured in the environment.
	APIProxyURL string
	// EnableLocalProxy starts the local proxy when no [Builder.Bootstrapper] is given.
	EnableLocalProxy bool
	// DebugDelay, if positive, delays every call to simulate a slow network.
	DebugDelay time.Duration
}

// DefaultConfig returns the default policy with the response cache in cacheDir.
func DefaultConfig(cacheDir string) Config {
	return Config{
		CacheDir:                 cacheDir,
		CacheSize:                DefaultCacheSize,
		ConnectTimeout:           DefaultConnectTimeout,
		ReadTimeout:              DefaultReadTimeout,
		WriteTimeout:             DefaultWriteTimeout,
		MaxIdleConns:             DefaultMaxIdleConns,
		KeepAlive:                DefaultKeepAlive,
		RetryOnConnectionFailure: true,
		SocketBufferSize:         DefaultSocketBufferSize,
		FallbackDNS:              dns.DefaultFallbackServer,
		EnableLocalProxy:         true,
	}
}

// Validate reports settings that cannot be honored.
func (c Config) Validate() error {
	var errs []error
	if c.CacheDir != "" && c.CacheSize <= 0 {
		errs = append(errs, errors.New("cache size must be positive"))
	}
	if c.ConnectTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("idle connection count must not be negative"))
	}
	if c.KeepAlive < 0 || c.DebugDelay < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.FallbackDNS != "" {
		if _, _, err := net.SplitHostPort(c.FallbackDNS); err != nil {
			errs = append(errs, fmt.Errorf("invalid fallback DNS server: %w", err))
		}
	}
	return errors.Join(errs...)
}
