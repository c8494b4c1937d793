package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"careadmin/internal/audit"
	"careadmin/internal/auth"
	"careadmin/internal/session"
	"careadmin/pkg/platform/sentinel"
	"careadmin/pkg/requestcontext"
)

// JWTValidator is the slice of the token service the middleware needs.
type JWTValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// RequireAuth validates the bearer token, then applies the session inactivity
// gate. The gate is a second, independent check: a cryptographically valid
// token from an idle subject is still rejected, with a machine-readable code
// so clients can distinguish "expired due to inactivity" from "bad credential".
func RequireAuth(validator JWTValidator, sessions session.Tracker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			if _, err := sessions.Check(ctx, claims.SubjectID); err != nil {
				if errors.Is(err, sentinel.ErrExpired) {
					logger.InfoContext(ctx, "session expired due to inactivity",
						"subject_id", claims.SubjectID,
						"request_id", requestID,
					)
					// The recorder still attributes the rejected request.
					audit.SetSubject(ctx, claims.SubjectID, claims.Name)
					writeJSONError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired due to inactivity")
					return
				}
				logger.ErrorContext(ctx, "session gate check failed",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to check session")
				return
			}

			subject := requestcontext.AuthSubject{
				ID:   claims.SubjectID,
				Name: claims.Name,
				Role: claims.Role,
			}
			audit.SetSubject(ctx, subject.ID, subject.Name)
			next.ServeHTTP(w, r.WithContext(requestcontext.WithSubject(ctx, subject)))
		})
	}
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}
