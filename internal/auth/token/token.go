// Package token mints and verifies signed session credentials.
//
// A credential proves which user a request belongs to; callers still resolve
// the user record from storage so removed accounts lose access immediately.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a minted credential stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// ErrUnauthenticated indicates a missing, malformed, or expired credential.
var ErrUnauthenticated = errors.New("credential is invalid or expired")

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	Secret string `env:"ROUNDTABLE_TOKEN_SECRET"`
}

// Config defines how session credentials are signed and verified.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// Claims captures the identity carried by a verified credential.
type Claims struct {
	UserID   string
	Username string
}

// sessionClaims is the internal claims type used for JWT parsing.
type sessionClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// LoadConfigFromEnv reads credential signing configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw tokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	secret := strings.TrimSpace(raw.Secret)
	if secret == "" {
		return Config{}, fmt.Errorf("ROUNDTABLE_TOKEN_SECRET is required")
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Secret: []byte(secret),
		TTL:    DefaultTTL,
		Now:    now,
	}, nil
}

// Mint signs a credential for the given user.
func (c Config) Mint(userID string, username string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if len(c.Secret) == 0 {
		return "", errors.New("credential signer is not configured")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	issuedAt := now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		UserID:   userID,
		Username: strings.TrimSpace(username),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.Secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks a credential's signature and expiry and returns its identity.
func (c Config) Verify(credential string) (Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Claims{}, ErrUnauthenticated
	}
	if len(c.Secret) == 0 {
		return Claims{}, errors.New("credential verifier is not configured")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var parsed sessionClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		return c.Secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now().UTC() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	userID := strings.TrimSpace(parsed.UserID)
	if userID == "" {
		return Claims{}, ErrUnauthenticated
	}
	return Claims{
		UserID:   userID,
		Username: strings.TrimSpace(parsed.Username),
	}, nil
}

// mapJWTError translates jwt library errors to credential errors.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: expired", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: bad signature", ErrUnauthenticated)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: bad algorithm", ErrUnauthenticated)
	default:
		return ErrUnauthenticated
	}
}
