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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/Jigsaw-Code/outline-apptransport/localproxy"
	"github.com/Jigsaw-Code/outline-apptransport/proxyselector"
	cookiejar "github.com/juju/persistent-cookiejar"
)

// Fetcher fetches the body of a URL. Image loaders and API clients depend on this rather
// than on the whole [Transport].
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// StatusError is returned by [Transport.Fetch] for responses without a 2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %s", e.URL, e.Status)
}

// Transport is the process-wide HTTP client together with the proxy state it was built
// with. It is safe for concurrent use.
type Transport struct {
	client        *http.Client
	base          *http.Transport
	resolver      *localproxy.Resolver
	selector      *proxyselector.Selector
	serverTime    *ServerTime
	persistentJar *cookiejar.Jar
	cacheDir      string
	cacheSize     int64
	logger        *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Fetcher = (*Transport)(nil)

// Client returns the shared client.
func (t *Transport) Client() *http.Client {
	return t.client
}

// Do sends req with the shared client.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// Resolve returns the URL to fetch for target, which goes through the local proxy when it
// is running and enabled in the current settings.
func (t *Transport) Resolve(target *url.URL) *url.URL {
	return t.resolver.Resolve(target)
}

// Handle returns the local proxy handle.
func (t *Transport) Handle() localproxy.Handle {
	return t.resolver.Handle()
}

// Selector returns the API proxy selector used for every connection.
func (t *Transport) Selector() *proxyselector.Selector {
	return t.selector
}

// ServerTime returns the server clock estimate, fed by responses from Config.ServerTimeHosts.
func (t *Transport) ServerTime() *ServerTime {
	return t.serverTime
}

// Fetch downloads the body of rawURL, going through the local proxy if it applies.
func (t *Transport) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Resolve(target).String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// PruneCache trims the response cache down to its configured size and returns the number
// of bytes freed.
func (t *Transport) PruneCache() (int64, error) {
	if t.cacheDir == "" {
		return 0, nil
	}
	freed, err := pruneCache(t.cacheDir, t.cacheSize)
	if freed > 0 {
		t.logger.Info("pruned response cache", "dir", t.cacheDir, "freed_bytes", freed)
	}
	return freed, err
}

// Close saves persistent cookies, stops the local proxy and closes idle connections.
// Only the first call has an effect.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		var errs []error
		if t.persistentJar != nil {
			if err := t.persistentJar.Save(); err != nil {
				errs = append(errs, fmt.Errorf("failed to save cookies: %w", err))
			}
		}
		if err := t.Handle().Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop local proxy: %w", err))
		}
		t.base.CloseIdleConnections()
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}
