// Package ops guards operational endpoints such as /metrics with a shared
// static token.
package ops

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"propledger/pkg/platform/httputil"
	"propledger/pkg/requestcontext"
)

const HeaderOpsToken = "X-Ops-Token"

// RequireToken rejects requests whose X-Ops-Token header does not match
// token. An empty token disables the check.
func RequireToken(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderOpsToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "ops token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{
					Error:            "unauthenticated",
					ErrorDescription: "ops token required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
