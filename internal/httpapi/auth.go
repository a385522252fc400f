package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type staffKey struct{}

func withStaff(ctx context.Context) context.Context {
	return context.WithValue(ctx, staffKey{}, true)
}

// isStaff reports whether the request passed the staff check. Only staff see
// customer phone numbers.
func isStaff(ctx context.Context) bool {
	staff, _ := ctx.Value(staffKey{}).(bool)
	return staff
}

// StaffAuthMiddleware guards the staff surface (actions, listings, admin) with
// a shared bearer token. An empty token disables the check and treats every
// caller as staff. Public endpoints pass through; a valid token presented on
// them still marks the request as staff.
func StaffAuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(withStaff(r.Context())))
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := bearerToken(r.Header.Get("Authorization"))
		valid := presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1
		if isPublicEndpoint(r) {
			if valid {
				r = r.WithContext(withStaff(r.Context()))
			}
			next.ServeHTTP(w, r)
			return
		}
		if presented == "" {
			writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing staff token")
			return
		}
		if !valid {
			writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "invalid staff token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withStaff(r.Context())))
	})
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

// isPublicEndpoint lists what kiosks and display boards reach without a token.
func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
		return true
	case r.URL.Path == "/api/tokens":
		return r.Method == http.MethodPost
	case strings.HasPrefix(r.URL.Path, "/realtime/"):
		return true
	case strings.HasPrefix(r.URL.Path, "/api/tokens/") && !strings.Contains(strings.TrimPrefix(r.URL.Path, "/api/tokens/"), "/"):
		return r.Method == http.MethodGet
	default:
		return r.Method == http.MethodOptions
	}
}
