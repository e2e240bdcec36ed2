package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestIssuerHS256RoundTrip(t *testing.T) {
	iss, err := NewHS256Issuer(testSecret, WithIssuerName("test-issuer"), WithAccessTTL(5*time.Minute))
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	tok, err := iss.Issue(Identity{UserID: "user-42", Role: RoleHR, EmployeeID: "emp-7"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(tok.ExpiresAt) <= 0 || time.Until(tok.ExpiresAt) > 5*time.Minute {
		t.Fatalf("unexpected expiry: %v", tok.ExpiresAt)
	}
	id, err := iss.Parse(tok.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.UserID != "user-42" || id.Role != RoleHR || id.EmployeeID != "emp-7" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIssuerRS256RoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	iss, err := NewRS256Issuer(string(privPEM), string(pubPEM), WithKeyID("k1"))
	if err != nil {
		t.Fatalf("NewRS256Issuer: %v", err)
	}
	tok, err := iss.Issue(Identity{UserID: "u1", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := iss.Parse(tok.Token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.UserID != "u1" || id.Role != RoleAdmin {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewHS256Issuer([]byte("short")); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestIssuerParseFailures(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	iss, err := NewHS256Issuer(testSecret, WithIssuerClock(clock), WithAccessTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	tok, err := iss.Issue(Identity{UserID: "u1", Role: RoleEmployee})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewHS256Issuer([]byte("ffffffffffffffffffffffffffffffff"), WithIssuerClock(clock))
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	if _, err := other.Parse(tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign key, got %v", err)
	}

	foreignIssuer, _ := NewHS256Issuer(testSecret, WithIssuerClock(clock), WithIssuerName("someone-else"))
	if _, err := foreignIssuer.Parse(tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for issuer mismatch, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := iss.Parse(tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after expiry, got %v", err)
	}

	if _, err := iss.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestIssuerToleratesClockSkewBetweenInstances(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ahead := now.Add(2 * time.Second)
	minter, err := NewHS256Issuer(testSecret, WithIssuerClock(func() time.Time { return ahead }))
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	verifier, err := NewHS256Issuer(testSecret, WithIssuerClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}

	tok, err := minter.Issue(Identity{UserID: "u1", Role: RoleHR})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := verifier.Parse(tok.Token)
	if err != nil {
		t.Fatalf("token minted 2s ahead rejected: %v", err)
	}
	if id.UserID != "u1" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	farAhead := now.Add(time.Minute)
	skewed, _ := NewHS256Issuer(testSecret, WithIssuerClock(func() time.Time { return farAhead }))
	future, err := skewed.Issue(Identity{UserID: "u1", Role: RoleHR})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Parse(future.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for token issued a minute ahead, got %v", err)
	}
}

func TestIssuerRejectsUnexpectedAlgorithm(t *testing.T) {
	iss, err := NewHS256Issuer(testSecret)
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	claims := accessClaims{
		Role:      RoleAdmin,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := iss.Parse(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg=none, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := iss.Parse(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for HS512, got %v", err)
	}
}

func TestIssuerRejectsWrongTokenType(t *testing.T) {
	iss, err := NewHS256Issuer(testSecret)
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	claims := accessClaims{
		Role:      RoleAdmin,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := iss.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
