package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// collectMetric returns the sample of c whose labels include labels, or nil.
func collectMetric(t *testing.T, c prometheus.Collector, labels map[string]string) *dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		require.NoError(t, m.Write(d))

		matched := 0
		for _, lp := range d.GetLabel() {
			if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return d
		}
	}
	return nil
}

func counterValue(t *testing.T, c prometheus.Collector, labels map[string]string) float64 {
	t.Helper()
	if m := collectMetric(t, c, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeSuccess},
		{apperrors.InvalidInput("bad"), outcomeRejected},
		{fmt.Errorf("wrapped: %w", apperrors.ErrInvalidOperation), outcomeRejected},
		{apperrors.InsufficientReservation("short"), outcomeRejected},
		{apperrors.NotFound("product", "p1"), outcomeRejected},
		{errors.New("connection reset"), outcomeError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, outcomeOf(tc.err), "%v", tc.err)
	}
}

func TestObserve(t *testing.T) {
	op := "observe_test"
	start := time.Now()

	var err error
	observe(op, start, &err)
	err = apperrors.ErrNotFound
	observe(op, start, &err)

	assert.Equal(t, 1.0, counterValue(t, operationsTotal, map[string]string{"operation": op, "outcome": outcomeSuccess}))
	assert.Equal(t, 1.0, counterValue(t, operationsTotal, map[string]string{"operation": op, "outcome": outcomeRejected}))

	hist := collectMetric(t, operationDuration, map[string]string{"operation": op})
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetHistogram().GetSampleCount())
}

func TestMetrics_NoCapacityAndUnits(t *testing.T) {
	f := newFixture(t)
	f.pub.allowAll()
	ctx := context.Background()
	f.store.PutInventory("p1", "w1", 3, 0)

	noCapBefore := counterValue(t, noCapacity, map[string]string{"operation": "reserve"})
	unitsBefore := counterValue(t, unitsMoved, map[string]string{"movement_type": "RESERVATION"})

	ok, err := f.svc.ReserveStock(ctx, "p1", 5, "ord-big")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.ReserveStock(ctx, "p1", 2, "ord-small")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, noCapBefore+1, counterValue(t, noCapacity, map[string]string{"operation": "reserve"}))
	assert.Equal(t, unitsBefore+2, counterValue(t, unitsMoved, map[string]string{"movement_type": "RESERVATION"}))
}
