// Package metrics exposes run progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/uirunner/pkg/core"
	"github.com/devicelab-dev/uirunner/pkg/logger"
)

const (
	MetricsNamespace = "uirunner"
)

var (
	testsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "tests_total",
		Help:      "Count of finished tests by root status",
	}, []string{
		"status",
	})

	stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "steps_total",
		Help:      "Count of sealed steps by status",
	}, []string{
		"status",
	})

	devices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "devices",
		Help:      "Pooled devices by state",
	}, []string{
		"state",
	})

	leaseWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "lease_wait_seconds",
		Help:      "Time spent waiting for a device lease",
		Buckets:   []float64{0.01, 0.1, 1, 5, 30, 60, 300, 1800},
	})

	busyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "busy_workers",
		Help:      "Workers currently running a test",
	})
)

// RecordTest counts one finished test.
func RecordTest(status core.Status) {
	testsTotal.WithLabelValues(status.String()).Inc()
}

// RecordStep counts one sealed step.
func RecordStep(status core.Status) {
	stepsTotal.WithLabelValues(status.String()).Inc()
}

// SetDevices publishes the pool occupancy.
func SetDevices(free, leased, blocked int) {
	devices.WithLabelValues("free").Set(float64(free))
	devices.WithLabelValues("leased").Set(float64(leased))
	devices.WithLabelValues("blocked").Set(float64(blocked))
}

// ObserveLeaseWait records how long a lease call waited, whether or not it succeeded.
func ObserveLeaseWait(d time.Duration) {
	leaseWait.Observe(d.Seconds())
}

// WorkerBusy adjusts the busy worker gauge by delta (+1 on start, -1 on finish).
func WorkerBusy(delta int) {
	busyWorkers.Add(float64(delta))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown: %v", err)
		}
	}()

	logger.Info("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
