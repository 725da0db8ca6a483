// Package auth guards the archiver's HTTP surface. Two credential forms
// are accepted: static API tokens checked against bcrypt hashes from
// configuration, and HS256 service tokens when a JWT secret is set.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by service JWTs.
type Claims struct {
	Service string `json:"service,omitempty"`
	jwt.RegisteredClaims
}

// Config holds verifier settings.
type Config struct {
	// Enabled gates all checks; when false every request passes.
	Enabled bool

	// HashedTokens are bcrypt hashes of accepted static API tokens.
	HashedTokens []string

	// JWTSecret enables HS256 service token validation when non-empty.
	JWTSecret string
}

// Verifier validates bearer credentials.
type Verifier struct {
	cfg    Config
	hashed [][]byte
	secret []byte
}

// NewVerifier creates a Verifier from config.
func NewVerifier(cfg Config) *Verifier {
	v := &Verifier{cfg: cfg}
	for _, h := range cfg.HashedTokens {
		if h != "" {
			v.hashed = append(v.hashed, []byte(h))
		}
	}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}
	return v
}

// Enabled reports whether requests must carry credentials.
func (v *Verifier) Enabled() bool { return v.cfg.Enabled }

// VerifyToken checks a bearer token and returns the principal it names.
// Tokens shaped like JWTs are validated against the JWT secret; everything
// else is compared against the static token hashes.
func (v *Verifier) VerifyToken(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	if strings.Count(token, ".") == 2 && v.secret != nil {
		return v.verifyJWT(token)
	}

	for _, hash := range v.hashed {
		if bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil {
			return "api-token", nil
		}
	}
	return "", ErrInvalidToken
}

func (v *Verifier) verifyJWT(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}

	principal := claims.Subject
	if principal == "" {
		principal = claims.Service
	}
	if principal == "" {
		return "", ErrInvalidToken
	}
	return principal, nil
}

// GenerateToken mints an HS256 service token for the given subject. Fails
// when no JWT secret is configured.
func (v *Verifier) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if v.secret == nil {
		return "", errors.New("jwt secret not configured")
	}

	now := time.Now()
	claims := Claims{
		Service: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "barrow",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// HashToken returns the bcrypt hash of a static API token, for writing
// into configuration.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
