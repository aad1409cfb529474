package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_operations_total",
		Help: "Ledger operations by outcome.",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_operation_duration_seconds",
		Help:    "Latency of ledger operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	noCapacity = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_no_capacity_total",
		Help: "Reserve or direct sale requests no single warehouse could serve.",
	}, []string{"operation"})

	unitsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_units_total",
		Help: "Units moved by movement type.",
	}, []string{"movement_type"})

	reservationsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_reservations_expired_total",
		Help: "Reservations released by the expiry sweep.",
	})

	cacheCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_stock_cache_corrections_total",
		Help: "Products whose cached stock was rewritten by reconciliation.",
	})
)

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// observe records latency and outcome for op. It is meant to be deferred
// with a pointer to the operation's named error.
func observe(op string, start time.Time, errp *error) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	operationsTotal.WithLabelValues(op, outcomeOf(*errp)).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, apperrors.ErrInvalidInput),
		errors.Is(err, apperrors.ErrInvalidOperation),
		errors.Is(err, apperrors.ErrInsufficientReservation),
		errors.Is(err, apperrors.ErrNotFound):
		return outcomeRejected
	default:
		return outcomeError
	}
}
