package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bilheteria/backend/internal/config"
)

type contextKey string

// AdminIDKey is the request-context key carrying the authenticated
// admin id.
const AdminIDKey contextKey = "adminID"

// Auth validates back-office JWTs and rejects blacklisted (logged-out)
// tokens. The JWT config and the Redis client are injected at
// construction; nothing is read from ambient state per request.
type Auth struct {
	cfg   config.JWTConfig
	redis *redis.Client
}

func NewAuth(cfg config.JWTConfig, rdb *redis.Client) *Auth {
	return &Auth{cfg: cfg, redis: rdb}
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}
		token := parts[1]

		if a.redis != nil {
			blacklisted, err := a.redis.Exists(r.Context(), "blacklist:"+token).Result()
			if err == nil && blacklisted > 0 {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		adminID, err := a.validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), AdminIDKey, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	return fmt.Sprintf("%v", claims["admin_id"]), nil
}
