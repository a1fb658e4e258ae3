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

// Command fetch downloads a URL through the application transport, the same way the
// application loads images and calls its APIs.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Jigsaw-Code/outline-apptransport/dns"
	"github.com/Jigsaw-Code/outline-apptransport/httpclient"
	"github.com/Jigsaw-Code/outline-apptransport/settings"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type options struct {
	verbose         bool
	cacheDir        string
	settingsFile    string
	localProxy      bool
	proxyEnabled    bool
	apiProxyEnabled bool
	apiProxyURL     string
	userAgent       string
	cookieFile      string
	noStoreHosts    []string
	fallbackDNS     string
	timeout         time.Duration
	debugDelay      time.Duration
	count           int
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "outline-apptransport", "httpCache")
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{NoColor: noColor, Level: level}))
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "fetch [flags] <url>",
		Short: "Fetch a URL through the application HTTP transport",
		Long: `Fetch a URL through the application HTTP transport and write the body to stdout.

The transport caches responses on disk, keeps cookies in --cookie-file and, when the
proxy setting is on, routes the request through a local proxy started for this run.
Proxy settings come from --settings-file if given, otherwise from the flags.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug output")
	flags.StringVar(&opts.cacheDir, "cache-dir", defaultCacheDir(), "Response cache directory. Empty disables the cache")
	flags.StringVar(&opts.settingsFile, "settings-file", "", "YAML file with proxy_enabled and api_proxy_enabled, reloaded on change")
	flags.BoolVar(&opts.localProxy, "local-proxy", true, "Start the local proxy")
	flags.BoolVar(&opts.proxyEnabled, "proxy-enabled", false, "Route the request through the local proxy")
	flags.BoolVar(&opts.apiProxyEnabled, "api-proxy-enabled", false, "Route every connection through the API proxy")
	flags.StringVar(&opts.apiProxyURL, "api-proxy", "", "API proxy URL. If empty, use the proxy from the environment")
	flags.StringVar(&opts.userAgent, "user-agent", "", "User-Agent header to send")
	flags.StringVar(&opts.cookieFile, "cookie-file", "", "File to persist cookies in")
	flags.StringSliceVar(&opts.noStoreHosts, "no-store", nil, "Hosts whose responses are never cached")
	flags.StringVar(&opts.fallbackDNS, "fallback-dns", dns.DefaultFallbackServer, "DNS server used when the system resolver returns only private addresses. Empty disables it")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall timeout for each fetch")
	flags.DurationVar(&opts.debugDelay, "debug-delay", 0, "Artificial delay added to every request")
	flags.IntVar(&opts.count, "count", 1, "Number of times to fetch the URL")
	return cmd
}

func run(ctx context.Context, stdout, stderr io.Writer, opts options, rawURL string) error {
	logger := newLogger(stderr, opts.verbose)
	if opts.count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", opts.count)
	}

	var provider settings.Provider = settings.NewStatic(settings.Snapshot{
		ProxyEnabled:    opts.proxyEnabled,
		APIProxyEnabled: opts.apiProxyEnabled,
	})
	if opts.settingsFile != "" {
		file, err := settings.OpenFile(settings.FileConfig{Path: opts.settingsFile, Logger: logger})
		if err != nil {
			return err
		}
		defer file.Close()
		provider = file
	}

	cfg := httpclient.DefaultConfig(opts.cacheDir)
	cfg.EnableLocalProxy = opts.localProxy
	cfg.APIProxyURL = opts.apiProxyURL
	cfg.UserAgent = opts.userAgent
	cfg.CookieFile = opts.cookieFile
	cfg.NoStoreHosts = opts.noStoreHosts
	cfg.FallbackDNS = opts.fallbackDNS
	cfg.DebugDelay = opts.debugDelay

	reg := prometheus.NewRegistry()
	builder := &httpclient.Builder{
		Config:     cfg,
		Settings:   provider,
		Registerer: reg,
		Logger:     logger,
	}
	t, err := builder.Build()
	if err != nil {
		return fmt.Errorf("could not create transport: %w", err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			logger.Warn("Failed to close transport", "error", err)
		}
	}()

	for i := 0; i < opts.count; i++ {
		body, err := fetchOnce(ctx, t, rawURL, opts.timeout)
		if err != nil {
			return err
		}
		if _, err := stdout.Write(body); err != nil {
			return fmt.Errorf("failed to write body: %w", err)
		}
	}
	logRequestTotals(logger, reg)
	return nil
}

func fetchOnce(ctx context.Context, fetcher httpclient.Fetcher, rawURL string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fetcher.Fetch(ctx, rawURL)
}

func logRequestTotals(logger *slog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logger.Debug("Failed to gather metrics", "error", err)
		return
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				args := []any{"metric", family.GetName(), "value", counter.GetValue()}
				for _, label := range metric.GetLabel() {
					args = append(args, label.GetName(), label.GetValue())
				}
				logger.Debug("Request totals", args...)
			}
		}
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		newLogger(os.Stderr, false).Error("Fetch failed", "error", err)
		os.Exit(1)
	}
}
