// Package token encodes, decodes and validates the engine's signed tokens.
//
// Three kinds exist: access tokens carry identity plus authorization data
// (roles, permissions) so downstream checks need no database round trip;
// refresh tokens carry identity plus a unique jti keyed to a persisted
// record; two-factor tokens are short-lived transitional proofs between
// password success and second-factor completion. All three are HS256-signed
// with a shared secret, and the signature is verified before any claim is
// read.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind discriminates token purposes. Verify rejects kind mismatches so an
// access token can never stand in for a refresh token or vice versa.
type Kind string

const (
	KindAccess    Kind = "access"
	KindRefresh   Kind = "refresh"
	KindTwoFactor Kind = "twofactor"
)

// ErrInvalid covers every verification failure: bad signature, wrong or
// missing kind, missing required claims, expired or not yet valid. Callers
// get no finer distinction.
var ErrInvalid = errors.New("token invalid")

// Claims is the engine's claim set. Subject, expiry and issue time live in
// the embedded RegisteredClaims; Kind is always present; Email, Roles and
// Permissions only on access tokens; the jti (ID) only on refresh tokens.
type Claims struct {
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Kind        Kind     `json:"kind"`
	jwt.RegisteredClaims
}

// Config configures a [Codec]. Now defaults to time.Now; Leeway defaults to
// zero, i.e. no tolerance beyond the standard expiry check.
type Config struct {
	Secret       []byte
	Issuer       string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	TwoFactorTTL time.Duration
	Leeway       time.Duration
	Now          func() time.Time
}

// Codec issues and verifies signed tokens. Immutable after construction and
// safe for concurrent use.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("signing secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.TwoFactorTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("leeway must not be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{config: cfg}, nil
}

// IssueAccess signs an access token carrying the subject's current roles and
// permissions. Revoking a permission takes effect only after AccessTTL; the
// redundancy is a deliberate trade against a per-request store lookup.
func (c *Codec) IssueAccess(subject, email string, roles, permissions []string) (string, error) {
	return c.sign(Claims{
		Email:       email,
		Roles:       roles,
		Permissions: permissions,
		Kind:        KindAccess,
	}, subject, c.config.AccessTTL)
}

// IssueRefresh signs a refresh token and returns it with its unique jti.
// The caller persists the matching record; the token is worthless without it.
func (c *Codec) IssueRefresh(subject string) (string, string, error) {
	jti := uuid.NewString()
	claims := Claims{Kind: KindRefresh}
	claims.ID = jti
	signed, err := c.sign(claims, subject, c.config.RefreshTTL)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// IssueTwoFactor signs the transitional token handed out between password
// verification and second-factor completion.
func (c *Codec) IssueTwoFactor(subject string) (string, error) {
	return c.sign(Claims{Kind: KindTwoFactor}, subject, c.config.TwoFactorTTL)
}

func (c *Codec) sign(claims Claims, subject string, ttl time.Duration) (string, error) {
	now := c.config.Now()
	claims.Subject = subject
	claims.Issuer = c.config.Issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
}

// Verify checks the signature and claim set of tokenString and returns the
// claims when it is a live token of the expected kind. Every failure is
// [ErrInvalid]; malformed input never panics or surfaces parser detail.
func (c *Codec) Verify(tokenString string, expected Kind) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		return nil, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Kind == "" || claims.Kind != expected {
		return nil, ErrInvalid
	}
	if claims.Subject == "" {
		return nil, ErrInvalid
	}
	if expected == KindRefresh && claims.ID == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}
