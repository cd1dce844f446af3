// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

// Package metrics exports services counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ergochat/ergo-services/irc/logger"
)

const (
	namespace = "ergo_services"

	DefaultPath = "/metrics"
)

type Config struct {
	Enabled bool
	Listen  string
}

// Metrics holds the collectors on a private registry, so that separate
// instances (for example in tests) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	SASLAttempts   *prometheus.CounterVec
	LoginThrottled *prometheus.CounterVec
	ACLChanges     *prometheus.CounterVec
	Successions    *prometheus.CounterVec

	Accounts        prometheus.Gauge
	Groups          prometheus.Gauge
	Channels        prometheus.Gauge
	ThrottleBuckets prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		Registry: registry,

		SASLAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sasl_attempts_total",
			Help:      "Finished SASL exchanges by mechanism and final status",
		}, []string{"mechanism", "status"}),
		LoginThrottled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_throttled_total",
			Help:      "Password logins refused by the login throttle",
		}, []string{"dimension"}),
		ACLChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acl_changes_total",
			Help:      "Channel and group access list changes by result",
		}, []string{"result"}),
		Successions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "successions_total",
			Help:      "Channels and groups handed to a successor",
		}, []string{"kind"}),

		Accounts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Registered accounts",
		}),
		Groups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups",
			Help:      "Registered groups",
		}),
		Channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels",
			Help:      "Registered channels",
		}),
		ThrottleBuckets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throttle_buckets",
			Help:      "Live login throttle buckets",
		}),
	}
}

func (m *Metrics) ObserveSASL(mechanism, status string) {
	m.SASLAttempts.WithLabelValues(mechanism, status).Inc()
}

func (m *Metrics) Throttled(dimension string) {
	m.LoginThrottled.WithLabelValues(dimension).Inc()
}

func (m *Metrics) ACLChange(result string) {
	m.ACLChanges.WithLabelValues(result).Inc()
}

func (m *Metrics) Succession(kind string) {
	m.Successions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetRegistrySize(accounts, groups, channels int) {
	m.Accounts.Set(float64(accounts))
	m.Groups.Set(float64(groups))
	m.Channels.Set(float64(channels))
}

func (m *Metrics) SetThrottleBuckets(buckets int) {
	m.ThrottleBuckets.Set(float64(buckets))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Exporter serves the metrics over HTTP until it is stopped.
type Exporter struct {
	server   *http.Server
	listener net.Listener
}

// Serve starts an HTTP listener for the metrics endpoint.
func (m *Metrics) Serve(listen string, logger *logger.Manager) (*Exporter, error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, m.Handler())
	exporter := &Exporter{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
	}
	go func() {
		err := exporter.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics", "Metrics listener failed:", err.Error())
		}
	}()
	logger.Info("metrics", "Serving metrics on", listener.Addr().String())
	return exporter, nil
}

func (e *Exporter) Addr() net.Addr {
	return e.listener.Addr()
}

func (e *Exporter) Stop(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
