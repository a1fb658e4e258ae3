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
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// connectionRetries is the number of extra attempts after a connection failure.
const connectionRetries = 1

// newRetryTransport retries a call once, immediately, when the connection to the server
// fails. Responses are never retried, whatever their status, and errors are returned
// unchanged once the retry is spent.
func newRetryTransport(next http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: next,
		// Redirects and cookies are handled by the outer client.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	client.Logger = logger
	client.RetryMax = connectionRetries
	client.RetryWaitMin = 0
	client.RetryWaitMax = 0
	client.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 0
	}
	client.CheckRetry = retryOnConnectionFailure
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &retryablehttp.RoundTripper{Client: client}
}

func retryOnConnectionFailure(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil || ctx.Err() != nil {
		return false, nil
	}
	return isConnectionFailure(err), nil
}

// isConnectionFailure reports whether err means the connection broke, as opposed to the
// request being rejected, cancelled or malformed.
func isConnectionFailure(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return true
	case errors.Is(err, os.ErrDeadlineExceeded):
		return true
	}
	return false
}
