package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer    = "hrcore"
	defaultAccessTTL = 15 * time.Minute
	tokenTypeAccess  = "access"
	minSecretLength  = 32
	// clockSkew tolerates small clock differences between instances sharing a key.
	clockSkew = 5 * time.Second
)

// accessClaims is the JWT payload of an access token.
type accessClaims struct {
	Role       Role   `json:"role"`
	EmployeeID string `json:"emp,omitempty"`
	TokenType  string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies access tokens. Verification is local: signature, algorithm,
// issuer and expiry only, no store lookup.
type Issuer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer) error

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl > 0 {
			i.ttl = ttl
		}
		return nil
	}
}

// WithKeyID sets the key identifier embedded into JWT headers.
func WithKeyID(kid string) IssuerOption {
	return func(i *Issuer) error {
		i.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithIssuerClock overrides time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewHS256Issuer signs with a shared secret of at least 32 bytes.
func NewHS256Issuer(secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", minSecretLength)
	}
	return newIssuer(jwt.SigningMethodHS256, secret, secret, opts)
}

// NewRS256Issuer signs with an RSA private key and verifies with its public key.
func NewRS256Issuer(privatePEM, publicPEM string, opts ...IssuerOption) (*Issuer, error) {
	privatePEM = strings.TrimSpace(privatePEM)
	publicPEM = strings.TrimSpace(publicPEM)
	if privatePEM == "" || publicPEM == "" {
		return nil, errors.New("auth: both private and public keys are required")
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	return newIssuer(jwt.SigningMethodRS256, priv, pub, opts)
}

func newIssuer(method jwt.SigningMethod, signKey, verifyKey any, opts []IssuerOption) (*Issuer, error) {
	i := &Issuer{
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		issuer:    defaultIssuer,
		ttl:       defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// TTL reports the access token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs an access token for id.
func (i *Issuer) Issue(id Identity) (AccessToken, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return AccessToken{}, errors.New("auth: user id is required")
	}
	if !id.Role.Valid() {
		return AccessToken{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, id.Role)
	}
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := accessClaims{
		Role:       id.Role,
		EmployeeID: id.EmployeeID,
		TokenType:  tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(i.method, claims)
	if i.keyID != "" {
		token.Header["kid"] = i.keyID
	}
	signed, err := token.SignedString(i.signKey)
	if err != nil {
		return AccessToken{}, fmt.Errorf("sign token: %w", err)
	}
	// NumericDate truncates to seconds; report what the token actually carries.
	return AccessToken{Token: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse verifies token and returns the identity it encodes. Every failure is ErrInvalidToken.
func (i *Issuer) Parse(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{},
		func(*jwt.Token) (any, error) { return i.verifyKey, nil },
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess || strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Role: claims.Role, EmployeeID: claims.EmployeeID}, nil
}
