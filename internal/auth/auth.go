package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSecret = errors.New("jwt secret not configured")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingUser   = errors.New("token has no subject")
)

// Roles carried in the "role" claim
const (
	RoleUser      = "user"
	RoleModerator = "mod"
)

// Claims is the bearer token payload. Subject is the user id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) Moderator() bool {
	return i.Role == RoleModerator
}

// Service signs and verifies HS256 bearer tokens
type Service struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates a new auth service
func NewService(secret string, tokenTTL time.Duration) *Service {
	return &Service{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// Issue signs a token for userID. Used by tooling and tests; login lives
// outside this service.
func (s *Service) Issue(userID, role string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	if strings.TrimSpace(userID) == "" {
		return "", ErrMissingUser
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a bearer token and returns the caller identity
func (s *Service) Verify(tokenString string) (*Identity, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingUser
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return &Identity{UserID: claims.Subject, Role: role}, nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
