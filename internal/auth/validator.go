package auth

import (
	"context"
	"strings"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// Validator resolves a bearer token into the acting principal.
type Validator interface {
	// Validate validates a token and returns the resolved actor
	Validate(ctx context.Context, token string) (*domain.Actor, error)
}

// ExtractTokenFromAuthHeader extracts the token from an Authorization header
func ExtractTokenFromAuthHeader(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	// Handle "Bearer <token>" format
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}

	// If no Bearer prefix, assume the entire header is the token
	return authHeader
}
