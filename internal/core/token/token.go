package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims is the payload of a signed token.
type Claims map[string]any

// Reserved claim keys understood by the engine. Everything else is
// opaque host data.
const (
	ClaimIssuer  = "iss"
	ClaimPlayer  = "pid"
	ClaimSession = "sid"
	ClaimData    = "data"
)

// Codec signs and verifies compact signed tokens. Algorithm and issuer
// are fixed at construction and never re-negotiated per connection.
type Codec interface {
	Sign(claims Claims) (string, error)
	Verify(compact string) (Claims, error)
	Issuer() string
}

// Config selects the signing algorithm, key and the issuer written into
// (and expected from) every token.
type Config struct {
	Algorithm string `yaml:"algorithm"`
	Secret    string `yaml:"secret"`
	Issuer    string `yaml:"issuer"`
}

func DefaultConfig() Config {
	return Config{Algorithm: "HS256"}
}

var _ Codec = (*HMACCodec)(nil)

// HMACCodec is a Codec backed by an HMAC-SHA signing method.
type HMACCodec struct {
	method jwt.SigningMethod
	secret []byte
	issuer string
}

// NewHMACCodec builds a codec for the configured HS256/HS384/HS512
// algorithm.
func NewHMACCodec(cfg Config) (*HMACCodec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("token issuer is required")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, errors.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	return &HMACCodec{
		method: method,
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
	}, nil
}

// Issuer returns the issuer written into signed tokens.
func (c *HMACCodec) Issuer() string {
	return c.issuer
}

// Sign produces a compact token carrying the claims plus the configured
// issuer.
func (c *HMACCodec) Sign(claims Claims) (string, error) {
	mapClaims := make(jwt.MapClaims, len(claims)+1)
	for k, v := range claims {
		mapClaims[k] = v
	}
	mapClaims[ClaimIssuer] = c.issuer

	compact, err := jwt.NewWithClaims(c.method, mapClaims).SignedString(c.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return compact, nil
}

// Verify parses the compact token, checks the signature, the signing
// method and the issuer, and returns the claims. All failures are
// reported as ErrBadToken.
func (c *HMACCodec) Verify(compact string) (Claims, error) {
	parsed, err := jwt.Parse(compact, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrBadToken, err.Error())
	}
	if !parsed.Valid {
		return nil, ErrBadToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}

	iss, ok := mapClaims[ClaimIssuer].(string)
	if !ok || iss != c.issuer {
		return nil, errors.Wrapf(ErrBadToken, "invalid issuer %q", iss)
	}

	claims := make(Claims, len(mapClaims))
	for k, v := range mapClaims {
		claims[k] = v
	}
	return claims, nil
}
