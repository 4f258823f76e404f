package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jia-app/recoveryservice/internal/recovery/domain"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestJWTValidator(t *testing.T) {
	ctx := context.Background()
	validator, err := NewJWTValidator(testSecret, "identity-service")
	if err != nil {
		t.Fatalf("NewJWTValidator() error: %v", err)
	}

	now := time.Now()

	tests := []struct {
		name     string
		token    string
		wantID   string
		wantRole domain.Role
		wantErr  bool
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: true,
		},
		{
			name: "valid customer token",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": "cust_123",
				"iss": "identity-service",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantID:   "cust_123",
			wantRole: domain.RoleCustomer,
		},
		{
			name: "valid admin token",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub":  "admin_7",
				"role": "admin",
				"iss":  "identity-service",
				"iat":  now.Unix(),
				"exp":  now.Add(time.Hour).Unix(),
			}),
			wantID:   "admin_7",
			wantRole: domain.RoleAdmin,
		},
		{
			name: "unknown role falls back to customer",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub":  "cust_456",
				"role": "superuser",
				"iss":  "identity-service",
				"iat":  now.Unix(),
				"exp":  now.Add(time.Hour).Unix(),
			}),
			wantID:   "cust_456",
			wantRole: domain.RoleCustomer,
		},
		{
			name: "bearer prefix is stripped",
			token: "Bearer " + signToken(t, testSecret, jwt.MapClaims{
				"sub": "cust_789",
				"iss": "identity-service",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantID:   "cust_789",
			wantRole: domain.RoleCustomer,
		},
		{
			name: "expired token",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": "cust_123",
				"iss": "identity-service",
				"iat": now.Add(-2 * time.Hour).Unix(),
				"exp": now.Add(-time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name: "missing expiration",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": "cust_123",
				"iss": "identity-service",
				"iat": now.Unix(),
			}),
			wantErr: true,
		},
		{
			name: "wrong issuer",
			token: signToken(t, testSecret, jwt.MapClaims{
				"sub": "cust_123",
				"iss": "someone-else",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name: "wrong secret",
			token: signToken(t, "another-secret", jwt.MapClaims{
				"sub": "cust_123",
				"iss": "identity-service",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name: "missing subject",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": "identity-service",
				"iat": now.Unix(),
				"exp": now.Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor, err := validator.Validate(ctx, tt.token)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
				return
			}

			if actor.ID != tt.wantID {
				t.Errorf("Validate() actor ID = %v, want %v", actor.ID, tt.wantID)
			}
			if actor.Role != tt.wantRole {
				t.Errorf("Validate() actor role = %v, want %v", actor.Role, tt.wantRole)
			}
		})
	}
}

func TestJWTValidatorRejectsWrongAlgorithm(t *testing.T) {
	validator, err := NewJWTValidator(testSecret, "")
	if err != nil {
		t.Fatalf("NewJWTValidator() error: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "cust_123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	_, err = validator.Validate(context.Background(), signed)
	if err == nil {
		t.Fatal("Validate() expected error for HS512 token")
	}
	if !strings.Contains(err.Error(), "failed to parse JWT token") {
		t.Errorf("Validate() error = %v, want parse failure", err)
	}
}

func TestNewJWTValidatorRequiresSecret(t *testing.T) {
	if _, err := NewJWTValidator("", "issuer"); err == nil {
		t.Error("NewJWTValidator() expected error for empty secret")
	}
}

func TestExtractTokenFromAuthHeader(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		expected   string
	}{
		{
			name:       "empty header",
			authHeader: "",
			expected:   "",
		},
		{
			name:       "bearer token",
			authHeader: "Bearer abc.def.ghi",
			expected:   "abc.def.ghi",
		},
		{
			name:       "token without bearer",
			authHeader: "abc.def.ghi",
			expected:   "abc.def.ghi",
		},
		{
			name:       "lowercase bearer",
			authHeader: "bearer abc.def.ghi",
			expected:   "abc.def.ghi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractTokenFromAuthHeader(tt.authHeader)
			if result != tt.expected {
				t.Errorf("ExtractTokenFromAuthHeader() = %v, want %v", result, tt.expected)
			}
		})
	}
}
