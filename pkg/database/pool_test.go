package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryBackoff_ExponentialWithJitter(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		minExpected := time.Duration(float64(base) * (1 - retryJitterFraction))
		maxExpected := time.Duration(float64(base) * (1 + retryJitterFraction))

		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, minExpected)
			assert.LessOrEqual(t, d, maxExpected)
		}
	}
}

func TestRetryBackoff_NegativeAttemptUsesBase(t *testing.T) {
	d := retryBackoff(-3)
	assert.GreaterOrEqual(t, d, time.Duration(float64(defaultRetryBaseWait)*(1-retryJitterFraction)))
	assert.LessOrEqual(t, d, time.Duration(float64(defaultRetryBaseWait)*(1+retryJitterFraction)))
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{
		Host: "db", Port: 5433, User: "ledger", Password: "secret",
		DBName: "stock_db", SSLMode: "require",
	}
	assert.Equal(t, "postgres://ledger:secret@db:5433/stock_db?sslmode=require", cfg.DSN())
}

func TestIsConnectionError(t *testing.T) {
	assert.False(t, isConnectionError(nil))
	assert.True(t, isConnectionError(errStr("dial tcp 127.0.0.1:5432: connection refused")))
	assert.True(t, isConnectionError(errStr("connection reset by peer")))
	assert.True(t, isConnectionError(errStr("i/o timeout")))
	assert.True(t, isConnectionError(errStr("EOF")))
	assert.False(t, isConnectionError(errStr("syntax error at or near")))
	assert.False(t, isConnectionError(errStr("duplicate key value violates unique constraint")))
}

type errStr string

func (e errStr) Error() string { return string(e) }
