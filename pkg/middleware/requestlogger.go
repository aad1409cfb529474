package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stockledger/pkg/logger"
)

// RequestLogger stores a logger enriched with correlation_id, actor, trace_id
// and span_id in the request context. The actor comes from the X-Actor header
// and is also recorded as created_by on stock movements.
//
// Mount after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if actor := r.Header.Get(ActorHeader); actor != "" {
				ctx = logger.WithActor(ctx, actor)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
