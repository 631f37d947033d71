package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/brojonat/solrelay/service/metrics"
	"github.com/brojonat/solrelay/service/relayerr"
)

type contextKey struct{}

// WithSubject returns a context carrying subject.
func WithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, contextKey{}, subject)
}

// SubjectFromContext returns the subject stored by Middleware, or "".
func SubjectFromContext(ctx context.Context) Subject {
	s, _ := ctx.Value(contextKey{}).(Subject)
	return s
}

// Middleware rejects requests without a valid session before next runs.
func Middleware(gate *Gate, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := gate.Authorize(TokenFromRequest(r))
			if err != nil {
				kind := relayerr.KindOf(err)
				m.RecordAuthRejection(string(kind))
				logger.WarnContext(r.Context(), "request rejected by auth gate",
					"path", r.URL.Path,
					"kind", kind,
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("WWW-Authenticate", `Bearer realm="solrelay"`)
				w.WriteHeader(relayerr.HTTPStatus(kind))
				json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   err.Error(),
					"kind":    kind,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}
