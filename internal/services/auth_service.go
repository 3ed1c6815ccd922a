package services

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/models"
	"github.com/bilheteria/backend/internal/store"
)

// AuthService authenticates back-office operators.
type AuthService struct {
	admins    *store.Admins
	redis     *redis.Client
	jwtCfg    config.JWTConfig
	argonCfg  config.Argon2Config
	validator *ValidationHelper
	log       *zap.Logger
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"ops@bilheteria.com"` // Admin email
	Password string `json:"password" validate:"required,min=8" example:"password123"`     // Admin password
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string           `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	User  models.AdminUser `json:"user"`                                                    // Admin account
}

func NewAuthService(admins *store.Admins, rdb *redis.Client, jwtCfg config.JWTConfig, argonCfg config.Argon2Config, log *zap.Logger) *AuthService {
	return &AuthService{
		admins:    admins,
		redis:     rdb,
		jwtCfg:    jwtCfg,
		argonCfg:  argonCfg,
		validator: NewValidationHelper(),
		log:       log,
	}
}

// Login handles admin authentication
// @Summary Login admin
// @Description Authenticate a back-office operator with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /admin/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := DecodeStrictJSON(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, hash, err := s.admins.GetByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("admin lookup failed", zap.Error(err))
		}
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !VerifyPassword(s.argonCfg, req.Password, hash) {
		s.log.Info("invalid password", zap.String("email", req.Email))
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := s.generateJWT(user.ID)
	if err != nil {
		s.log.Error("jwt generation failed", zap.Int("admin_id", user.ID), zap.Error(err))
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	s.log.Info("admin logged in", zap.Int("admin_id", user.ID))
	SendJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout handles admin logout
// @Summary Logout admin
// @Description Logout the operator and blacklist the token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /admin/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			// Blacklist token until its expiration
			expiry := time.Duration(s.jwtCfg.ExpiryHours) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				s.log.Warn("failed to blacklist token", zap.Error(err))
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

func (s *AuthService) generateJWT(adminID int) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"admin_id": adminID,
		"exp":      time.Now().Add(time.Duration(s.jwtCfg.ExpiryHours) * time.Hour).Unix(),
	})
	return token.SignedString([]byte(s.jwtCfg.SecretKey))
}

// HashPassword derives an argon2id hash with a fresh random salt,
// encoded as salt$hash in base64.
func HashPassword(cfg config.Argon2Config, password string) (string, error) {
	salt := make([]byte, cfg.SaltLength)
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(cfg.Time), uint32(cfg.Memory), uint8(cfg.Threads), uint32(cfg.KeyLength))
	return fmt.Sprintf("%s$%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword recomputes the argon2id hash with the stored salt.
func VerifyPassword(cfg config.Argon2Config, password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt,
		uint32(cfg.Time), uint32(cfg.Memory), uint8(cfg.Threads), uint32(cfg.KeyLength))
	return string(hash) == string(computed)
}
