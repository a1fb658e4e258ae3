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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jigsaw-Code/outline-apptransport/transport"
)

// Service is a local proxy that can be started once and then rewrites target URLs so they
// are fetched through it.
type Service interface {
	// Start binds and starts serving. It returns the bound address in host:port form.
	// On failure nothing stays bound.
	Start() (address string, err error)
	// Rewrite returns the URL to fetch instead of target. URLs the proxy cannot serve are
	// returned unchanged.
	Rewrite(target *url.URL) *url.URL
}

// DefaultListenAddress binds an ephemeral port on the IPv4 loopback.
const DefaultListenAddress = "127.0.0.1:0"

const shutdownTimeout = 2 * time.Second

// HTTPService is a [Service] running a web proxy that understands CONNECT requests,
// absolute-URI requests and path-rewritten requests of the form http://host:port/<url>.
type HTTPService struct {
	// ListenAddress is where to bind. Defaults to [DefaultListenAddress].
	ListenAddress string
	// Logger receives lifecycle events (optional).
	Logger *slog.Logger

	dialer  transport.StreamDialer
	address atomic.Pointer[string]

	mu     sync.Mutex
	server *http.Server
}

var _ Service = (*HTTPService)(nil)

// NewHTTPService creates a proxy that reaches destinations using dialer.
func NewHTTPService(dialer transport.StreamDialer) *HTTPService {
	return &HTTPService{dialer: dialer}
}

// Start implements [Service].Start.
func (s *HTTPService) Start() (string, error) {
	if s.dialer == nil {
		return "", errors.New("dialer cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return "", errors.New("proxy already started")
	}

	listenAddress := s.ListenAddress
	if listenAddress == "" {
		listenAddress = DefaultListenAddress
	}
	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return "", fmt.Errorf("could not listen on address %v: %w", listenAddress, err)
	}
	address := listener.Addr().String()
	if _, _, err := net.SplitHostPort(address); err != nil {
		listener.Close()
		return "", fmt.Errorf("could not parse proxy address '%v': %w", address, err)
	}

	server := &http.Server{
		Handler:           NewProxyHandler(s.dialer),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.server = server
	s.address.Store(&address)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger().Warn("local proxy stopped serving", "address", address, "error", err)
		}
	}()
	s.logger().Debug("local proxy listening", "address", address)
	return address, nil
}

// Address returns the bound address, or an empty string if the service is not running.
func (s *HTTPService) Address() string {
	if p := s.address.Load(); p != nil {
		return *p
	}
	return ""
}

// Rewrite implements [Service].Rewrite. The target is carried, escaped, as the single
// path segment of a URL pointing at the proxy.
func (s *HTTPService) Rewrite(target *url.URL) *url.URL {
	address := s.Address()
	if address == "" || target == nil {
		return target
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return target
	}
	if target.Host == address {
		// Already pointing at the proxy.
		return target
	}
	// Fragments are never sent to servers.
	stripped := *target
	stripped.Fragment, stripped.RawFragment = "", ""
	rewritten, err := url.Parse("http://" + address + "/" + url.PathEscape(stripped.String()))
	if err != nil {
		return target
	}
	return rewritten
}

// Target returns the URL that a URL produced by [HTTPService.Rewrite] stands for. It
// returns u and false for URLs that do not point at this proxy.
func (s *HTTPService) Target(u *url.URL) (*url.URL, bool) {
	address := s.Address()
	if address == "" || u == nil || u.Host != address || len(u.Path) < 2 {
		return u, false
	}
	target, err := url.Parse(u.Path[1:])
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return u, false
	}
	return target, true
}

// Close gracefully stops the proxy, forcing connections closed after a short grace period.
// It is safe to call on a service that never started.
func (s *HTTPService) Close() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	s.address.Store(nil)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Join(err, server.Close())
	}
	return nil
}

func (s *HTTPService) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
