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
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, method, target string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, nil)
	require.NoError(t, err)
	return req
}

func okResponse(req *http.Request, status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}
}

func TestChainOrder(t *testing.T) {
	var calls []string
	record := func(name string) Interceptor {
		return func(next http.RoundTripper) http.RoundTripper {
			return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
				calls = append(calls, name+" in")
				resp, err := next.RoundTrip(req)
				calls = append(calls, name+" out")
				return resp, err
			})
		}
	}
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		calls = append(calls, "base")
		return okResponse(req, http.StatusOK), nil
	})

	rt := Chain(base, record("first"), nil, record("second"))
	_, err := rt.RoundTrip(newRequest(t, http.MethodGet, "http://example.com/"))
	require.NoError(t, err)
	require.Equal(t, []string{"first in", "second in", "base", "second out", "first out"}, calls)
}

type logLine struct {
	Level     string  `json:"level"`
	Msg       string  `json:"msg"`
	RequestID string  `json:"request_id"`
	Method    string  `json:"method"`
	URL       string  `json:"url"`
	Status    int     `json:"status"`
	Elapsed   float64 `json:"elapsed"`
	Error     string  `json:"error"`
}

func parseLog(t *testing.T, buf *bytes.Buffer) []logLine {
	t.Helper()
	var lines []logLine
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line logLine
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestLoggingSuccess(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	clk := testclock.NewClock(time.Unix(0, 0))

	var expected *http.Response
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		clk.Advance(250 * time.Millisecond)
		expected = okResponse(req, http.StatusNotFound)
		return expected, nil
	})
	rt := Chain(base, Logging(logger, clk))
	resp, err := rt.RoundTrip(newRequest(t, http.MethodGet, "https://example.com/items?page=2"))
	require.NoError(t, err)
	require.Same(t, expected, resp)

	lines := parseLog(t, &buf)
	require.Len(t, lines, 2)
	require.Equal(t, "INFO", lines[0].Level)
	require.Equal(t, "performing http request", lines[0].Msg)
	require.Equal(t, "GET", lines[0].Method)
	require.Equal(t, "https://example.com/items?page=2", lines[0].URL)
	require.NotEmpty(t, lines[0].RequestID)

	require.Equal(t, "INFO", lines[1].Level)
	require.Equal(t, lines[0].RequestID, lines[1].RequestID)
	require.Equal(t, http.StatusNotFound, lines[1].Status)
	require.Equal(t, float64(250*time.Millisecond), lines[1].Elapsed)
}

func TestLoggingFailurePropagatesError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	errBoom := errors.New("connection reset by peer")

	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errBoom
	})
	rt := Chain(base, Logging(logger, testclock.NewClock(time.Unix(0, 0))))
	resp, err := rt.RoundTrip(newRequest(t, http.MethodPost, "https://example.com/upload"))
	require.Nil(t, resp)
	require.True(t, err == errBoom, "error was replaced: %v", err)

	lines := parseLog(t, &buf)
	require.Len(t, lines, 2)
	require.Equal(t, "WARN", lines[1].Level)
	require.Equal(t, "https://example.com/upload", lines[1].URL)
	require.Equal(t, errBoom.Error(), lines[1].Error)
}

func TestUserAgent(t *testing.T) {
	var seen string
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Get("User-Agent")
		return okResponse(req, http.StatusOK), nil
	})
	req := newRequest(t, http.MethodGet, "https://example.com/")
	req.Header.Set("User-Agent", "Go-http-client/1.1")
	_, err := Chain(base, UserAgent("outline-app/v42")).RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, "outline-app/v42", seen)
	require.Equal(t, "Go-http-client/1.1", req.Header.Get("User-Agent"))
}

func TestNoStore(t *testing.T) {
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp := okResponse(req, http.StatusOK)
		resp.Header.Set("Cache-Control", "max-age=3600")
		return resp, nil
	})
	rt := Chain(base, NoStore("img.example.com", "VID.example.com"))

	for target, expected := range map[string]string{
		"https://img.example.com/a.jpg":      "no-store",
		"https://vid.example.com:8443/a.mp4": "no-store",
		"https://api.example.com/items":      "max-age=3600",
	} {
		resp, err := rt.RoundTrip(newRequest(t, http.MethodGet, target))
		require.NoError(t, err)
		require.Equal(t, expected, resp.Header.Get("Cache-Control"), target)
	}
}

func TestDebugDelay(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	sent := make(chan struct{})
	base := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		close(sent)
		return okResponse(req, http.StatusOK), nil
	})
	rt := Chain(base, DebugDelay(500*time.Millisecond, nil, clk))

	done := make(chan error, 1)
	go func() {
		_, err := rt.RoundTrip(newRequest(t, http.MethodGet, "https://example.com/"))
		done <- err
	}()
	require.NoError(t, clk.WaitAdvance(500*time.Millisecond, time.Second, 1))
	<-sent
	require.NoError(t, <-done)
}
