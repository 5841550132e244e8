package auth

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service validates request credentials. It combines JWT verification for
// end users with API key verification for internal service callers.
type Service struct {
	jwtVerifier *JWTVerifier
	serviceKeys map[string]string // service name -> bcrypt hash of its key
	logger      *zap.Logger
}

// NewService creates an authentication service. serviceKeys maps internal
// caller names to bcrypt hashes of their API keys.
func NewService(jwtSecret string, serviceKeys map[string]string, logger *zap.Logger) *Service {
	return &Service{
		jwtVerifier: NewJWTVerifier(jwtSecret, ""),
		serviceKeys: serviceKeys,
		logger:      logger,
	}
}

// ValidateToken verifies a JWT access token.
func (s *Service) ValidateToken(tokenString string) (*UserContext, error) {
	return s.jwtVerifier.ValidateAccessToken(tokenString)
}

// ValidateAPIKey verifies an internal service API key against the configured
// bcrypt hashes and returns an internal caller context.
func (s *Service) ValidateAPIKey(apiKey string) (*UserContext, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("empty API key")
	}

	for name, hash := range s.serviceKeys {
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err == nil {
			return &UserContext{
				ServiceName: name,
				IsInternal:  true,
				TokenType:   TokenTypeAPIKey,
			}, nil
		}
	}

	s.logger.Warn("API key validation failed")
	return nil, fmt.Errorf("unknown API key")
}
