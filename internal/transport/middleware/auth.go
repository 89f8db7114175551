package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/auth"
	"github.com/samitochi04/cameroon-marketplace-sub000/pkg/logger"
)

// UserContext authenticates the request from its bearer token and injects the
// user id into the request context. Tokens are issued by the marketplace
// backend; signature verification happens there, this layer only needs the
// subject and a non-expired claim set.
func UserContext(lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, errors.NewUnauthenticatedError("missing bearer token", errors.ErrCodeUnauthenticated))
				return
			}

			userID := auth.Subject(token)
			if userID == "" {
				lg.Warn("rejected request token without a subject", "path", r.URL.Path)
				writeAuthError(w, errors.NewUnauthenticatedError("invalid bearer token", errors.ErrCodeUnauthenticated))
				return
			}

			ctx := errors.ContextWithUserID(r.Context(), userID)
			ctx = errors.ContextWithBearerToken(ctx, token)
			ctx = logger.With(ctx, "userID", userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

func writeAuthError(w http.ResponseWriter, appErr *errors.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
