package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify an authenticated user. Subject is the user ID.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

const DefaultIssuer = "retriever"

// NewJWTManager signs with a key derived from secret for purpose, so the
// API and the MCP endpoint never accept each other's tokens.
func NewJWTManager(secret string, expiry time.Duration, purpose string) (*JWTManager, error) {
	key, err := DeriveKey([]byte(secret), purpose)
	if err != nil {
		return nil, err
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{
		secret: key,
		expiry: expiry,
		issuer: DefaultIssuer,
		now:    time.Now,
	}, nil
}

func (m *JWTManager) Expiry() time.Duration { return m.expiry }

// Generate returns a signed token and its expiry.
func (m *JWTManager) Generate(subject, username, role string) (string, time.Time, error) {
	if subject == "" || role == "" {
		return "", time.Time{}, ErrInvalidToken
	}

	now := m.now()
	expiresAt := now.Add(m.expiry)
	claims := &Claims{
		Username: username,
		Role:     string(NormalizeRole(role)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (m *JWTManager) Validate(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}
