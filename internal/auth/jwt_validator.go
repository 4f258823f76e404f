package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

// JWTValidator validates HMAC-signed JWT tokens issued by the identity
// service and resolves them into actors. The role claim decides whether
// the caller gets customer or admin privileges; a missing role claim
// resolves to customer.
type JWTValidator struct {
	signingSecret []byte
	issuer        string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(signingSecret, issuer string) (*JWTValidator, error) {
	if signingSecret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}

	return &JWTValidator{
		signingSecret: []byte(signingSecret),
		issuer:        issuer,
	}, nil
}

// Validate validates a JWT token and returns the resolved actor
func (v *JWTValidator) Validate(ctx context.Context, token string) (*domain.Actor, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token")
	}

	// Remove Bearer prefix if present
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimSpace(token)

	// Validate token length (basic sanity check)
	if len(token) < 10 {
		return nil, fmt.Errorf("token too short")
	}

	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.signingSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))

	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT token: %w", err)
	}

	if !parsedToken.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to extract claims from token")
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, fmt.Errorf("claim validation failed: %w", err)
	}

	subject, ok := claims["sub"].(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("subject claim (sub) is missing")
	}

	actor := &domain.Actor{
		ID:   subject,
		Role: domain.RoleCustomer,
	}
	if role, ok := claims["role"].(string); ok && role == string(domain.RoleAdmin) {
		actor.Role = domain.RoleAdmin
	}

	return actor, nil
}

// validateClaims validates JWT claims for security
func (v *JWTValidator) validateClaims(claims jwt.MapClaims) error {
	// Check expiration
	if exp, ok := claims["exp"].(float64); ok {
		expTime := time.Unix(int64(exp), 0)
		if time.Now().After(expTime) {
			return fmt.Errorf("token has expired at %v", expTime)
		}
	} else {
		return fmt.Errorf("expiration claim (exp) is missing")
	}

	// Check issued at time (iat)
	if iat, ok := claims["iat"].(float64); ok {
		iatTime := time.Unix(int64(iat), 0)
		// Reject tokens issued in the future (with 5 minute tolerance for clock skew)
		if time.Now().Before(iatTime.Add(-5 * time.Minute)) {
			return fmt.Errorf("token issued in the future: %v", iatTime)
		}
	}

	// Check not before time (nbf) if present
	if nbf, ok := claims["nbf"].(float64); ok {
		nbfTime := time.Unix(int64(nbf), 0)
		if time.Now().Before(nbfTime) {
			return fmt.Errorf("token not valid until %v", nbfTime)
		}
	}

	// Validate issuer when the validator is configured with one
	if v.issuer != "" {
		iss, ok := claims["iss"].(string)
		if !ok || iss != v.issuer {
			return fmt.Errorf("unexpected issuer claim (iss): %v", claims["iss"])
		}
	}

	return nil
}
