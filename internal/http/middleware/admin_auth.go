package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/callsync/internal/recording"
)

type contextKey string

const adminClaimsKey contextKey = "adminClaims"

// AdminJWT enforces an HMAC-signed JWT in the Authorization header for admin
// endpoints. Recording link tokens are refused here.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeAuthError(w, "admin auth disabled")
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeAuthError(w, "missing authorization header")
				return
			}
			claims, ok := parseAdminToken(secret, tokenString)
			if !ok {
				writeAuthError(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), adminClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecordingAccess guards the audio proxy. An admin bearer token opens any
// recording; the "token" query parameter must be a recording link token
// minted for the {param} conversation, since audio elements and email
// clients cannot send headers.
func RecordingAccess(secret, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeAuthError(w, "admin auth disabled")
				return
			}
			if tokenString := bearerToken(r); tokenString != "" {
				claims, ok := parseAdminToken(secret, tokenString)
				if !ok {
					writeAuthError(w, "invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminClaimsKey, claims)))
				return
			}
			tokenString := strings.TrimSpace(r.URL.Query().Get("token"))
			if tokenString == "" {
				writeAuthError(w, "missing token")
				return
			}
			if err := recording.VerifyLink(secret, tokenString, chi.URLParam(r, param)); err != nil {
				writeAuthError(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseAdminToken(secret, tokenString string) (jwt.RegisteredClaims, bool) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return claims, false
	}
	if slices.Contains(claims.Audience, recording.Audience) {
		return claims, false
	}
	return claims, true
}

// AdminClaimsFromContext returns admin JWT claims if present.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
