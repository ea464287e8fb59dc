package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testConfig(now time.Time) Config {
	return Config{
		Secret: []byte("test-secret"),
		TTL:    DefaultTTL,
		Now:    func() time.Time { return now },
	}
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(now)

	credential, err := cfg.Mint("user-1", "alice")
	if err != nil {
		t.Fatalf("mint credential: %v", err)
	}

	claims, err := cfg.Verify(credential)
	if err != nil {
		t.Fatalf("verify credential: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("user id = %q, want %q", claims.UserID, "user-1")
	}
	if claims.Username != "alice" {
		t.Fatalf("username = %q, want %q", claims.Username, "alice")
	}
}

func TestVerifyRejectsExpiredCredential(t *testing.T) {
	minted := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(minted)

	credential, err := cfg.Mint("user-1", "alice")
	if err != nil {
		t.Fatalf("mint credential: %v", err)
	}

	cfg.Now = func() time.Time { return minted.Add(DefaultTTL + time.Hour) }
	if _, err := cfg.Verify(credential); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("verify expired = %v, want ErrUnauthenticated", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(now)

	credential, err := cfg.Mint("user-1", "alice")
	if err != nil {
		t.Fatalf("mint credential: %v", err)
	}

	other := testConfig(now)
	other.Secret = []byte("other-secret")
	if _, err := other.Verify(credential); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("verify with wrong secret = %v, want ErrUnauthenticated", err)
	}
}

func TestVerifyRejectsEmptyCredential(t *testing.T) {
	cfg := testConfig(time.Now())
	if _, err := cfg.Verify("  "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("verify empty = %v, want ErrUnauthenticated", err)
	}
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig(now)

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID: "user-1",
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none credential: %v", err)
	}

	if _, err := cfg.Verify(unsigned); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("verify none-alg = %v, want ErrUnauthenticated", err)
	}
}

func TestLoadConfigFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("ROUNDTABLE_TOKEN_SECRET", "")
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected missing secret error")
	}

	t.Setenv("ROUNDTABLE_TOKEN_SECRET", "configured-secret")
	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if string(cfg.Secret) != "configured-secret" {
		t.Fatalf("secret = %q, want %q", cfg.Secret, "configured-secret")
	}
	if cfg.TTL != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", cfg.TTL, DefaultTTL)
	}
}
