package auth

import (
	"context"
	"fmt"
	"net/http"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserContextKey is the context key for user information
	UserContextKey ContextKey = "user"
)

// Middleware provides HTTP authentication middleware
type Middleware struct {
	authService *Service
	skipAuth    bool // For development/testing
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(authService *Service, skipAuth bool) *Middleware {
	return &Middleware{
		authService: authService,
		skipAuth:    skipAuth,
	}
}

// HTTPMiddleware authenticates requests via Bearer JWT or X-API-Key and
// attaches the caller identity to the request context.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if configured (for development)
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, &UserContext{
				UserID:    "dev_user",
				TokenType: TokenTypeDev,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			// Try API key header
			apiKey := r.Header.Get("X-API-Key")
			if apiKey != "" {
				userCtx, err := m.authService.ValidateAPIKey(apiKey)
				if err != nil {
					writeUnauthorized(w, "invalid API key")
					return
				}
				ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			writeUnauthorized(w, "authorization required")
			return
		}

		token, err := ExtractBearerToken(authHeader)
		if err != nil {
			writeUnauthorized(w, "invalid authorization header")
			return
		}

		userCtx, err := m.authService.ValidateToken(token)
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q}`, message)
}

// GetUserContext extracts user context from context
func GetUserContext(ctx context.Context) (*UserContext, error) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil, fmt.Errorf("missing user context")
	}
	return userCtx, nil
}
