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
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/Jigsaw-Code/outline-apptransport/dns"
	"github.com/Jigsaw-Code/outline-apptransport/localproxy"
	"github.com/Jigsaw-Code/outline-apptransport/proxyselector"
	"github.com/Jigsaw-Code/outline-apptransport/settings"
	"github.com/Jigsaw-Code/outline-apptransport/transport"
	"github.com/juju/clock"
	cookiejar "github.com/juju/persistent-cookiejar"
	"github.com/prometheus/client_golang/prometheus"
)

// Builder assembles a [Transport]. Build it once per process and share the result.
type Builder struct {
	// Config is the transport policy, usually from [DefaultConfig].
	Config Config
	// Settings supplies the live proxy preferences. Nil means default settings.
	Settings settings.Provider
	// Bootstrapper starts the local proxy. If nil and Config.EnableLocalProxy is set, a
	// [localproxy.HTTPService] sharing the transport's dialer is bootstrapped.
	Bootstrapper *localproxy.Bootstrapper
	// CookieJar stores cookies. If nil, Config.CookieFile selects a persistent jar.
	CookieJar http.CookieJar
	// Registerer receives the request metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// Interceptors are debugging hooks run outside the built-in chain, outermost first.
	Interceptors []Interceptor
	// Logger is used by the transport and its interceptors. Defaults to [slog.Default].
	Logger *slog.Logger
	// Clock times calls. Defaults to the wall clock.
	Clock clock.Clock
	// SystemResolver resolves host names before the fallback DNS server is considered.
	// Defaults to [net.DefaultResolver].
	SystemResolver dns.HostResolver
}

// Build creates the transport. The local proxy is started before the client is assembled,
// and failing to start it only disables it. Errors are returned for an invalid
// configuration or an unusable cache directory or cookie file.
func (b *Builder) Build() (*Transport, error) {
	cfg := b.Config
	cfg.NoStoreHosts = slices.Clone(cfg.NoStoreHosts)
	cfg.ServerTimeHosts = slices.Clone(cfg.ServerTimeHosts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := b.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var snapshot settings.Snapshot
	if b.Settings != nil {
		snapshot = b.Settings.Snapshot()
	}

	selector, err := proxyselector.New(cfg.APIProxyURL)
	if err != nil {
		return nil, err
	}
	selector.SetActive(snapshot.APIProxyEnabled)
	logger.Debug("api proxy selector configured", "active", selector.Active())

	dialer := &transport.TCPDialer{
		Dialer:       net.Dialer{Timeout: cfg.ConnectTimeout},
		BufferSize:   cfg.SocketBufferSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.FallbackDNS != "" {
		resolver, err := b.newResolver(cfg, logger, clk)
		if err != nil {
			return nil, err
		}
		dialer.Resolver = resolver
	}

	handle := b.bootstrap(cfg, dialer, logger)
	if handle.Active() {
		// The local proxy is always reached directly, even while the API proxy is on.
		selector.Bypass(handle.Address())
	}
	t, err := b.assemble(cfg, dialer, selector, handle, logger, clk)
	if err != nil {
		return nil, errors.Join(err, handle.Close())
	}
	return t, nil
}

func (b *Builder) newResolver(cfg Config, logger *slog.Logger, clk clock.Clock) (*dns.FallbackResolver, error) {
	system := b.SystemResolver
	if system == nil {
		system = net.DefaultResolver
	}
	fallback := dns.WithTCPOnTruncation(
		dns.NewUDPRoundTripper(&net.Dialer{Timeout: cfg.ConnectTimeout}, cfg.FallbackDNS),
		dns.NewTCPRoundTripper(&transport.TCPDialer{Dialer: net.Dialer{Timeout: cfg.ConnectTimeout}}, cfg.FallbackDNS),
	)
	return dns.NewFallbackResolver(system, fallback, logger.With("component", "dns"), clk)
}

func (b *Builder) bootstrap(cfg Config, dialer transport.StreamDialer, logger *slog.Logger) localproxy.Handle {
	bootstrapper := b.Bootstrapper
	if bootstrapper == nil {
		if !cfg.EnableLocalProxy {
			return localproxy.Disabled()
		}
		bootstrapper = &localproxy.Bootstrapper{
			NewService: func() localproxy.Service {
				s := localproxy.NewHTTPService(dialer)
				s.Logger = logger
				return s
			},
			Logger: logger,
		}
	}
	return bootstrapper.Bootstrap()
}

func (b *Builder) assemble(cfg Config, dialer *transport.TCPDialer, selector *proxyselector.Selector,
	handle localproxy.Handle, logger *slog.Logger, clk clock.Clock) (*Transport, error) {
	t := &Transport{
		resolver:   localproxy.NewResolver(handle, b.Settings),
		selector:   selector,
		serverTime: NewServerTime(clk, handle.Target, cfg.ServerTimeHosts...),
		cacheDir:   cfg.CacheDir,
		cacheSize:  cfg.CacheSize,
		logger:     logger,
	}

	t.base = &http.Transport{
		Proxy:                 selector.Proxy,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.KeepAlive,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	var network []Interceptor
	if cfg.UserAgent != "" {
		network = append(network, UserAgent(cfg.UserAgent))
	}
	if len(cfg.NoStoreHosts) > 0 {
		network = append(network, NoStoreTargets(handle.Target, cfg.NoStoreHosts...))
	}
	if len(cfg.ServerTimeHosts) > 0 {
		network = append(network, t.serverTime.Interceptor())
	}
	rt := Chain(t.base, network...)
	if cfg.RetryOnConnectionFailure {
		rt = newRetryTransport(rt, logger.With("component", "retry"))
	}
	if cfg.CacheDir != "" {
		if _, err := t.PruneCache(); err != nil {
			return nil, err
		}
		cacheTransport, err := newCacheTransport(cfg.CacheDir, rt)
		if err != nil {
			return nil, err
		}
		rt = cacheTransport
	}

	application := slices.Clone(b.Interceptors)
	if cfg.DebugDelay > 0 {
		application = append(application, DebugDelay(cfg.DebugDelay, logger, clk))
	}
	application = append(application, Logging(logger, clk))
	if b.Registerer != nil {
		application = append(application, NewMetrics(b.Registerer).Interceptor())
	}

	jar := b.CookieJar
	if jar == nil && cfg.CookieFile != "" {
		persistent, err := cookiejar.New(&cookiejar.Options{Filename: cfg.CookieFile})
		if err != nil {
			return nil, fmt.Errorf("failed to load cookie file: %w", err)
		}
		t.persistentJar = persistent
		jar = persistent
	}

	t.client = &http.Client{
		Transport: Chain(rt, application...),
		Jar:       jar,
	}
	logger.Info("http transport ready", "local_proxy", handle.String(), "api_proxy", selector.Active(), "cache_dir", cfg.CacheDir)
	return t, nil
}
