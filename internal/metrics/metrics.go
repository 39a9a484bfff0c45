// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes the node's Prometheus counters.
//
// Every method is safe to call on a nil *Metrics so components can run
// without instrumentation in tests and host tools.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flare"

// Line error kinds
const (
	LineErrorParse     = "parse"
	LineErrorOverflow  = "overflow"
	LineErrorQueueFull = "queue_full"
)

// Metrics holds the counters shared by the node components.
type Metrics struct {
	registry *prometheus.Registry

	TasksAdmitted   prometheus.Counter
	TasksRejected   prometheus.Counter
	TasksExpired    *prometheus.CounterVec
	TasksCancelled  prometheus.Counter
	Broadcasts      prometheus.Counter
	PulsesSkipped   prometheus.Counter
	AcksFound       prometheus.Counter
	LineErrors      *prometheus.CounterVec
	SendErrors      prometheus.Counter
	EventsDropped   prometheus.Counter
	ChecksCompleted prometheus.Counter
}

// New creates the counters and registers them on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TasksAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "admitted_total",
			Help: "Tasks admitted into the task table.",
		}),
		TasksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "rejected_total",
			Help: "Tasks rejected because the task table was full.",
		}),
		TasksExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "expired_total",
			Help: "Tasks removed at their deadline, by whether they were ever broadcast.",
		}, []string{"dispatched"}),
		TasksCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "cancelled_total",
			Help: "Tasks cancelled before their deadline.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "radio", Name: "broadcasts_total",
			Help: "Advertise pulses completed.",
		}),
		PulsesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "radio", Name: "pulses_skipped_total",
			Help: "Advertise pulses skipped because the controller could not accept commands.",
		}),
		AcksFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "check", Name: "acks_found_total",
			Help: "Acknowledgement beacons decoded while scanning.",
		}),
		LineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "line", Name: "errors_total",
			Help: "Line protocol errors by kind.",
		}, []string{"kind"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "controller", Name: "send_errors_total",
			Help: "Controller command send failures.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "controller", Name: "events_dropped_total",
			Help: "Controller events discarded because the event buffer was full.",
		}),
		ChecksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "check", Name: "completed_total",
			Help: "Scan windows completed.",
		}),
	}

	m.registry.MustRegister(
		m.TasksAdmitted, m.TasksRejected, m.TasksExpired, m.TasksCancelled,
		m.Broadcasts, m.PulsesSkipped, m.AcksFound, m.LineErrors,
		m.SendErrors, m.EventsDropped, m.ChecksCompleted,
	)
	return m
}

// Registry returns the registry the counters are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TaskAdmitted() {
	if m != nil {
		m.TasksAdmitted.Inc()
	}
}

func (m *Metrics) TaskRejected() {
	if m != nil {
		m.TasksRejected.Inc()
	}
}

// TaskExpired records a task removed at its deadline
func (m *Metrics) TaskExpired(dispatched bool) {
	if m == nil {
		return
	}
	label := "false"
	if dispatched {
		label = "true"
	}
	m.TasksExpired.WithLabelValues(label).Inc()
}

func (m *Metrics) TaskCancelled() {
	if m != nil {
		m.TasksCancelled.Inc()
	}
}

func (m *Metrics) Broadcast() {
	if m != nil {
		m.Broadcasts.Inc()
	}
}

func (m *Metrics) PulseSkipped() {
	if m != nil {
		m.PulsesSkipped.Inc()
	}
}

func (m *Metrics) AckFound() {
	if m != nil {
		m.AcksFound.Inc()
	}
}

// LineError records a line protocol error of the given kind
func (m *Metrics) LineError(kind string) {
	if m != nil {
		m.LineErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.SendErrors.Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) CheckCompleted() {
	if m != nil {
		m.ChecksCompleted.Inc()
	}
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
