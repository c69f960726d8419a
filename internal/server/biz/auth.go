package biz

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"

	"github.com/looplj/agentpay/internal/log"
)

type AuthServiceParams struct {
	fx.In

	Config AuthConfig
	Clock  *Clock
}

// AuthService verifies the HS256 bearer tokens that identify the owner principal.
// The subject claim is the user id.
type AuthService struct {
	config AuthConfig
	clock  *Clock
}

func NewAuthService(params AuthServiceParams) (*AuthService, error) {
	cfg := params.Config
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth: jwt_secret is required")
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	return &AuthService{config: cfg, clock: params.Clock}, nil
}

// GenerateSecretKey generates a random secret key for JWT.
func GenerateSecretKey() (string, error) {
	bytes := make([]byte, 32) // 256 bits

	_, err := rand.Read(bytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return hex.EncodeToString(bytes), nil
}

// GenerateJWTToken issues a token for userID. Tokens normally come from the account
// service; this is used by tooling and tests.
func (s *AuthService) GenerateJWTToken(ctx context.Context, userID string) (string, error) {
	now := s.clock.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
	})

	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// AuthenticateJWTToken validates a JWT token and returns its user id.
func (s *AuthService) AuthenticateJWTToken(ctx context.Context, tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.now),
		jwt.WithExpirationRequired(),
	}

	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	var claims jwt.RegisteredClaims

	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse jwt token: %w", ErrInvalidJWT, err)
	}

	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: invalid token claims", ErrInvalidJWT)
	}

	log.Debug(ctx, "jwt authenticated", log.String("user_id", claims.Subject))

	return claims.Subject, nil
}
