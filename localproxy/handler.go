// Copyright 2023 The Outline Authors
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
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/Jigsaw-Code/outline-apptransport/transport"
)

// Headers that only apply to the hop between the client and the proxy.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type proxyHandler struct {
	dialer transport.StreamDialer
	client http.Client
}

var _ http.Handler = (*proxyHandler)(nil)

// NewProxyHandler creates a [http.Handler] that works as a web proxy using the given dialer
// to reach the destination. It serves CONNECT requests, absolute-URI requests and
// requests whose path is an escaped absolute URL, as produced by [HTTPService.Rewrite].
func NewProxyHandler(dialer transport.StreamDialer) http.Handler {
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		switch network {
		case "tcp", "tcp4", "tcp6":
		default:
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return dialer.DialStream(ctx, addr)
	}
	return &proxyHandler{
		dialer: dialer,
		client: http.Client{
			Transport: &http.Transport{DialContext: dialContext, ForceAttemptHTTP2: true},
			// Redirects are the client's business.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP implements [http.Handler].ServeHTTP.
func (h *proxyHandler) ServeHTTP(proxyResp http.ResponseWriter, proxyReq *http.Request) {
	if proxyReq.Method == http.MethodConnect {
		h.serveConnect(proxyResp, proxyReq)
		return
	}
	if proxyReq.URL.Host != "" {
		h.forward(proxyResp, proxyReq, proxyReq.URL)
		return
	}
	if len(proxyReq.URL.Path) > 1 {
		target, err := url.Parse(proxyReq.URL.Path[1:])
		if err != nil {
			http.Error(proxyResp, fmt.Sprintf("Invalid URL: %s", err.Error()), http.StatusBadRequest)
			return
		}
		if target.Scheme != "http" && target.Scheme != "https" {
			http.Error(proxyResp, "Invalid URL: path must contain an absolute request target", http.StatusNotFound)
			return
		}
		if target.Host == "" {
			http.Error(proxyResp, "Invalid URL: path must specify a hostname", http.StatusNotFound)
			return
		}
		h.forward(proxyResp, proxyReq, target)
		return
	}
	http.Error(proxyResp, "Not Found", http.StatusNotFound)
}

func (h *proxyHandler) forward(proxyResp http.ResponseWriter, proxyReq *http.Request, target *url.URL) {
	targetReq, err := http.NewRequestWithContext(proxyReq.Context(), proxyReq.Method, target.String(), proxyReq.Body)
	if err != nil {
		http.Error(proxyResp, "Error creating target request", http.StatusInternalServerError)
		return
	}
	targetReq.ContentLength = proxyReq.ContentLength
	for key, values := range proxyReq.Header {
		for _, value := range values {
			targetReq.Header.Add(key, value)
		}
	}
	for _, key := range hopHeaders {
		targetReq.Header.Del(key)
	}
	targetResp, err := h.client.Do(targetReq)
	if err != nil {
		http.Error(proxyResp, "Failed to fetch destination", http.StatusServiceUnavailable)
		return
	}
	defer targetResp.Body.Close()
	for key, values := range targetResp.Header {
		for _, value := range values {
			proxyResp.Header().Add(key, value)
		}
	}
	for _, key := range hopHeaders {
		proxyResp.Header().Del(key)
	}
	proxyResp.WriteHeader(targetResp.StatusCode)
	// Headers are already out, so a failed copy can only be reported by dropping the connection.
	if _, err := io.Copy(proxyResp, targetResp.Body); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (h *proxyHandler) serveConnect(w http.ResponseWriter, r *http.Request) {
	_, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		http.Error(w, "Authority is not a valid host:port", http.StatusBadRequest)
		return
	}
	if portStr == "" {
		// As per https://httpwg.org/specs/rfc9110.html#CONNECT.
		http.Error(w, "Port number must be specified", http.StatusBadRequest)
		return
	}

	targetConn, err := h.dialer.DialStream(r.Context(), r.Host)
	if err != nil {
		http.Error(w, "Failed to connect to target", http.StatusServiceUnavailable)
		return
	}
	defer targetConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Webserver doesn't support hijacking", http.StatusInternalServerError)
		return
	}
	httpConn, clientRW, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer httpConn.Close()

	// Inform the client that the connection has been established.
	if _, err := httpConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		return
	}

	// Relay data between client and target in both directions. Bytes the client sent
	// after the CONNECT header may already sit in the hijacked reader's buffer.
	go func() {
		io.Copy(targetConn, clientRW.Reader)
		targetConn.CloseWrite()
	}()
	io.Copy(httpConn, targetConn)
}
