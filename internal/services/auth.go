package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
	"github.com/temcen/homerec/pkg/models"
)

// AuthService signs and checks operator tokens for the pass trigger API.
type AuthService struct {
	config    config.AuthConfig
	logger    *logrus.Logger
	jwtSecret []byte
	now       func() time.Time
}

func NewAuthService(cfg config.AuthConfig, logger *logrus.Logger) *AuthService {
	return &AuthService{
		config:    cfg,
		logger:    logger,
		jwtSecret: []byte(cfg.JWTSecret),
		now:       time.Now,
	}
}

// AdminRole is the role required to trigger passes.
func (s *AuthService) AdminRole() string {
	return s.config.AdminRole
}

func (s *AuthService) GenerateToken(subject string, roles []string) (string, error) {
	if len(s.jwtSecret) == 0 {
		return "", fmt.Errorf("no JWT secret configured")
	}

	now := s.now()
	claims := &models.AdminClaims{
		Subject: subject,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*models.AdminClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, fmt.Errorf("no JWT secret configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
