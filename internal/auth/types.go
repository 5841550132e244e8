package auth

// UserContext represents the authenticated identity of a request.
type UserContext struct {
	// UserID is the end user on whose behalf the request runs. Empty for
	// internal service callers until they name a user explicitly.
	UserID string `json:"user_id"`

	// ServiceName is set for internal callers authenticated by API key.
	ServiceName string `json:"service_name,omitempty"`

	// IsInternal marks trusted service-to-service calls. Internal callers
	// may act on behalf of a user by naming one in the request body.
	IsInternal bool `json:"is_internal"`

	TokenType string `json:"token_type"` // jwt or api_key
}

// RateKey returns the identifier used for per-caller rate limiting.
func (uc *UserContext) RateKey() string {
	if uc.IsInternal && uc.ServiceName != "" {
		return "svc:" + uc.ServiceName
	}
	return "user:" + uc.UserID
}

// Token types
const (
	TokenTypeJWT    = "jwt"
	TokenTypeAPIKey = "api_key"
	TokenTypeDev    = "dev"
)
