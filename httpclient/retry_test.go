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
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func TestRetryConnectionFailureOnce(t *testing.T) {
	calls := 0
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, dialError()
		}
		return okResponse(req, http.StatusOK), nil
	})
	resp, err := newRetryTransport(base, discardLogger).RoundTrip(newRequest(t, http.MethodGet, "http://example.com/"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, calls)
}

func TestRetryGivesUpAfterOneRetry(t *testing.T) {
	calls := 0
	failure := dialError()
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return nil, failure
	})
	_, err := newRetryTransport(base, discardLogger).RoundTrip(newRequest(t, http.MethodGet, "http://example.com/"))
	require.ErrorIs(t, err, failure)
	require.Equal(t, 2, calls)
}

func TestRetryNeverRetriesResponses(t *testing.T) {
	calls := 0
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return okResponse(req, http.StatusServiceUnavailable), nil
	})
	resp, err := newRetryTransport(base, discardLogger).RoundTrip(newRequest(t, http.MethodGet, "http://example.com/"))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, 1, calls)
}

func TestRetryNotOnOtherErrors(t *testing.T) {
	calls := 0
	errTLS := errors.New("tls: failed to verify certificate")
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return nil, errTLS
	})
	_, err := newRetryTransport(base, discardLogger).RoundTrip(newRequest(t, http.MethodGet, "https://example.com/"))
	require.ErrorIs(t, err, errTLS)
	require.Equal(t, 1, calls)
}

func TestRetryReplaysBody(t *testing.T) {
	var bodies []string
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(body))
		if len(bodies) == 1 {
			return nil, &net.OpError{Op: "write", Net: "tcp", Err: syscall.EPIPE}
		}
		return okResponse(req, http.StatusCreated), nil
	})
	req, err := http.NewRequest(http.MethodPost, "http://example.com/items", strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := newRetryTransport(base, discardLogger).RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestIsConnectionFailure(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{dialError(), true},
		{&url.Error{Op: "Get", URL: "http://example.com", Err: dialError()}, true},
		{io.EOF, true},
		{fmt.Errorf("reading: %w", io.ErrUnexpectedEOF), true},
		{syscall.ECONNRESET, true},
		{os.ErrDeadlineExceeded, true},
		{context.Canceled, false},
		{&url.Error{Op: "Get", URL: "http://example.com", Err: context.DeadlineExceeded}, false},
		{errors.New("x509: certificate signed by unknown authority"), false},
	}
	for _, tc := range tests {
		require.Equal(t, tc.expected, isConnectionFailure(tc.err), "%v", tc.err)
	}
}
