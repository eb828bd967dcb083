package middleware

import (
	"context"
	"net/http"

	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/rs/zerolog"
)

type contextKeyAuth string

const claimsKey contextKeyAuth = "claims"

// JWTAuth validates the bearer token and stores its claims in the request
// context. Every /api/v1 route except login sits behind it.
func JWTAuth(manager *auth.JWTManager, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}

			token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Missing or malformed authorization header", err, env)
				return
			}

			claims, err := manager.Validate(token)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid token", err, env)
				return
			}

			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("actor", claims.Username)
			})

			ctx := ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers ranked below min. It must run after JWTAuth.
func RequireRole(min auth.Role, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := Claims(r)
			if claims == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}
			if !auth.AtLeast(claims.Role, min) {
				problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Insufficient permissions", problem.ErrForbidden, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ContextWithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func Claims(r *http.Request) *auth.Claims {
	if r == nil {
		return nil
	}
	return ClaimsFromContext(r.Context())
}

// ClaimsFromContext returns the claims JWTAuth stored, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(claimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// Actor names the authenticated user for audit and history records.
func Actor(r *http.Request) string {
	if claims := Claims(r); claims != nil {
		if claims.Username != "" {
			return claims.Username
		}
		return claims.Subject
	}
	return "anonymous"
}
