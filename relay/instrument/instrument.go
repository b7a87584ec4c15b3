// instrument.go - Relay instrumentation.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package instrument provides the relay's prometheus metrics.
package instrument

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/sphinxheader/core/sphinx"
)

const (
	namespace = "sphinx"
	subsystem = "relay"
)

var (
	headersForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwarded_headers_total",
			Help:      "Number of headers forwarded to the next hop",
		},
	)
	headersDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivered_headers_total",
			Help:      "Number of headers terminating at this relay",
		},
	)
	headersDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_headers_total",
			Help:      "Number of headers dropped, by terminal state",
		},
		[]string{"state"},
	)
	headersReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replayed_headers_total",
			Help:      "Number of replayed headers",
		},
	)
	ingressQueue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingress_queue_size",
			Help:      "Number of headers waiting to be processed",
		},
	)
)

func init() {
	prometheus.MustRegister(headersForwarded)
	prometheus.MustRegister(headersDelivered)
	prometheus.MustRegister(headersDropped)
	prometheus.MustRegister(headersReplayed)
	prometheus.MustRegister(ingressQueue)
}

// Forwarded increments the counter for forwarded headers.
func Forwarded() {
	headersForwarded.Inc()
}

// Delivered increments the counter for locally delivered headers.
func Delivered() {
	headersDelivered.Inc()
}

// Dropped increments the counter for headers dropped in state.
func Dropped(state sphinx.State) {
	headersDropped.WithLabelValues(state.String()).Inc()
}

// Replayed increments the counter for replayed headers.
func Replayed() {
	headersReplayed.Inc()
}

// IngressQueue observes the size of the ingress queue.
func IngressQueue(size int) {
	ingressQueue.Set(float64(size))
}

// Handler returns the http.Handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Listener serves the metrics endpoint.
type Listener struct {
	srv *http.Server
	log *logging.Logger
}

// StartListener starts serving /metrics on address.
func StartListener(address string, log *logging.Logger) *Listener {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	l := &Listener{
		srv: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
	go func() {
		l.log.Noticef("Serving metrics on %v", address)
		if err := l.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Errorf("Metrics listener failed: %v", err)
		}
	}()
	return l
}

// Halt stops the metrics listener.
func (l *Listener) Halt() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.srv.Shutdown(ctx); err != nil {
		l.log.Warningf("Failed to shut down metrics listener: %v", err)
	}
}
