package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/autopwn/pkg/debug"
)

// UserIDHeader carries the authenticated user set by the upstream gateway
const UserIDHeader = "X-User-ID"

// UserIDMiddleware stores the caller's user ID in the request context.
// Requests without a valid ID are rejected.
func UserIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			debug.Warning("No user ID on %s %s", r.Method, r.URL.Path)
			sendAPIError(w, "User ID required", "AUTH_MISSING_CREDENTIALS", http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			debug.Warning("Invalid user ID %q: %v", debug.SanitizeMessage(raw), err)
			sendAPIError(w, "Invalid user ID", "AUTH_INVALID_CREDENTIALS", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", userID.String())
		ctx = context.WithValue(ctx, "user_uuid", userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the user stored by UserIDMiddleware
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	switch v := ctx.Value("user_id").(type) {
	case uuid.UUID:
		return v, true
	case string:
		id, err := uuid.Parse(v)
		return id, err == nil
	default:
		return uuid.Nil, false
	}
}

// APIError is the JSON body of an error response
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func sendAPIError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{Error: message, Code: code})
}
