// Package metrics exposes the Prometheus instruments of the service.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/glinharesb/sekeys/internal/hsm"
)

const (
	Namespace = "sekeys"

	LabelOperation = "operation"
	LabelKind      = "kind"
	LabelStatus    = "status"
	LabelCode      = "code"
	LabelMethod    = "method"

	StatusSuccess = "success"
	StatusError   = "error"

	OpGenerate = "generate"
	OpSign     = "sign"
	OpRandom   = "random"
	OpErase    = "erase"
)

var (
	// OperationsTotal counts element operations by outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of element operations by type, key kind, and status",
		},
		[]string{LabelOperation, LabelKind, LabelStatus},
	)

	// OperationDuration includes the wait for the device.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of element operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation, LabelKind},
	)

	HardwareFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hardware_faults_total",
			Help:      "Non-zero status codes returned by the element",
		},
		[]string{LabelOperation, LabelCode},
	)

	// AdvisoriesTotal counts non-fatal advisories such as implicit text to
	// bytes conversion of a signing payload.
	AdvisoriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "advisories_total",
			Help:      "Non-fatal advisories raised while processing requests",
		},
		[]string{LabelKind},
	)

	GRPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC requests by method and status code",
		},
		[]string{LabelMethod, LabelCode},
	)

	GRPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of gRPC requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)
)

// RecordOperation records the outcome of one element operation. A hardware
// fault in err is also counted by status code.
func RecordOperation(op, kind string, start time.Time, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
		var hf *hsm.HardwareFault
		if errors.As(err, &hf) {
			HardwareFaultsTotal.WithLabelValues(op, hf.Code.String()).Inc()
		}
	}
	OperationsTotal.WithLabelValues(op, kind, status).Inc()
	OperationDuration.WithLabelValues(op, kind).Observe(time.Since(start).Seconds())
}

// RecordAdvisory counts one advisory of the given kind.
func RecordAdvisory(kind string) {
	AdvisoriesTotal.WithLabelValues(kind).Inc()
}

// RecordGRPCRequest records a finished gRPC call.
func RecordGRPCRequest(method, code string, d time.Duration) {
	GRPCRequestsTotal.WithLabelValues(method, code).Inc()
	GRPCRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
