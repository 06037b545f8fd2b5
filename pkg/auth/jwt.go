// Package auth issues and checks the HS256 bearer tokens that guard the
// HTTP API, and maps token roles to the operations they may perform.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrEmptyRole     = errors.New("role cannot be empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
	ErrForbidden     = errors.New("role does not permit this operation")
)

// Valid roles
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Permission is an operation class a role may be granted.
type Permission int

const (
	// PermRead covers listing, retrieving, diffing and validating.
	PermRead Permission = iota
	// PermWrite covers commits, updates, rollbacks and bundles.
	PermWrite
	// PermAdmin covers deletion.
	PermAdmin
)

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermWrite:
		return "write"
	case PermAdmin:
		return "admin"
	}
	return "unknown"
}

var roleRank = map[string]Permission{
	RoleViewer: PermRead,
	RoleEditor: PermWrite,
	RoleAdmin:  PermAdmin,
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// Allows reports whether role is granted p. Roles are ordered, so an
// editor may also read and an admin may do everything.
func Allows(role string, p Permission) bool {
	rank, ok := roleRank[role]
	return ok && rank >= p
}

// Claims are the token claims the API cares about.
type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Can reports whether the claims' role is granted p.
func (c *Claims) Can(p Permission) bool {
	return c != nil && Allows(c.Role, p)
}

// tokenClaims is the signed payload.
type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager manages JWT token generation and validation
type JWTManager struct {
	secretKey     []byte
	issuer        string
	tokenDuration time.Duration
	now           func() time.Time
}

// DefaultIssuer is stamped into every token.
const DefaultIssuer = "dagvc"

// NewJWTManager creates a new JWT manager.
// Returns an error if the secret is shorter than 32 characters.
func NewJWTManager(secret string, tokenDuration time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	return &JWTManager{
		secretKey:     []byte(secret),
		issuer:        DefaultIssuer,
		tokenDuration: tokenDuration,
		now:           time.Now,
	}, nil
}

// GenerateToken signs a token for subject with role.
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if role == "" {
		return "", ErrEmptyRole
	}
	if !ValidRole(role) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	now := m.now()
	claims := tokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a JWT token and returns claims.
// Implements TokenValidator interface.
func (m *JWTManager) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidClaims)
	}
	if !ValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidClaims, claims.Role)
	}

	out := &Claims{Subject: claims.Subject, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// Name returns the validator name for logging/debugging.
// Implements TokenValidator interface.
func (m *JWTManager) Name() string {
	return "jwt-hs256"
}

// TokenDuration returns the configured token lifetime.
func (m *JWTManager) TokenDuration() time.Duration {
	return m.tokenDuration
}
