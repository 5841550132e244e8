package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates access tokens minted by the identity service. This
// service never issues tokens, it only verifies the shared-secret signature.
type JWTVerifier struct {
	signingKey []byte
	issuer     string // empty accepts any issuer
}

// NewJWTVerifier creates a verifier for HS256 tokens signed with signingKey.
func NewJWTVerifier(signingKey, issuer string) *JWTVerifier {
	return &JWTVerifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// CustomClaims represents the JWT claims this service understands.
type CustomClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// ValidateAccessToken validates and parses a JWT access token. The subject
// claim becomes the caller's user ID.
func (j *JWTVerifier) ValidateAccessToken(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if j.issuer != "" && claims.Issuer != j.issuer {
		return nil, fmt.Errorf("invalid token issuer")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &UserContext{
		UserID:     claims.Subject,
		IsInternal: false,
		TokenType:  TokenTypeJWT,
	}, nil
}

// ExtractBearerToken extracts the token from an Authorization header.
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[7:], nil
}
