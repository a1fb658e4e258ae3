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
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the request metrics of a transport.
type Metrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewMetrics creates the transport metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apptransport_http_requests_total",
				Help: "Total HTTP requests that received a response, by status code and method",
			},
			[]string{"code", "method"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apptransport_http_request_errors_total",
				Help: "Total HTTP requests that failed without a response, by method",
			},
			[]string{"method"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apptransport_http_request_duration_seconds",
				Help:    "Time until response headers were received, by method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "apptransport_http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}
}

// Interceptor returns an [Interceptor] recording the metrics.
func (m *Metrics) Interceptor() Interceptor {
	return func(next http.RoundTripper) http.RoundTripper {
		counted := RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			if err != nil {
				m.errors.WithLabelValues(strings.ToLower(req.Method)).Inc()
			}
			return resp, err
		})
		return promhttp.InstrumentRoundTripperInFlight(m.inFlight,
			promhttp.InstrumentRoundTripperCounter(m.requests,
				promhttp.InstrumentRoundTripperDuration(m.duration, counted)))
	}
}
