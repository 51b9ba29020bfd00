package auth

import (
	"fmt"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Realm identifies the JWT authentication realm.
type Realm string

const (
	RealmPlayer   Realm = "player"
	RealmOperator Realm = "operator"
)

// Claims are the custom JWT claims. Player tokens are issued by the account
// service; this server only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	Realm    Realm  `json:"realm"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"` // operator realm only
}

// Identity projects player claims onto the domain identity.
func (c *Claims) Identity() domain.Identity {
	return domain.Identity{UserID: c.Subject, Username: c.Username, Level: 1}
}

// JWTManager signs and verifies HS256 tokens.
type JWTManager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewJWTManager creates a JWT manager. An empty issuer disables the issuer check.
func NewJWTManager(secret, issuer string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// GenerateToken creates a signed JWT. Used by tooling and tests; production
// player tokens come from the account service with the same secret.
func (m *JWTManager) GenerateToken(realm Realm, subject, username, role string) (string, error) {
	if realm != RealmPlayer && realm != RealmOperator {
		return "", fmt.Errorf("unknown realm: %s", realm)
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			ID:        uuid.New().String(),
		},
		Realm:    realm,
		Username: username,
		Role:     role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses and validates a JWT, returning claims if valid.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return claims, nil
}

// ValidateTokenForRealm validates a token and ensures it belongs to the expected realm.
func (m *JWTManager) ValidateTokenForRealm(tokenString string, expectedRealm Realm) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Realm != expectedRealm {
		return nil, fmt.Errorf("expected realm %s, got %s", expectedRealm, claims.Realm)
	}
	return claims, nil
}
