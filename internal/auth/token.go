// Package auth issues and verifies the short-lived tokens required to open a signaling connection.
package auth

import (
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrConfig       = errors.New("invalid token config")
)

const DefaultIssuer = "roulette"

type Claims struct {
	DeviceID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Config struct {
	Issuer string
	TTL    time.Duration
	// SecretKeyHex is an Ed25519 secret key. Empty generates a fresh key,
	// which invalidates outstanding tokens on restart.
	SecretKeyHex string
	ClockSkew    time.Duration
}

// Tokens issues and verifies v4.public tokens.
type Tokens struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func NewTokens(cfg Config) (*Tokens, error) {
	if cfg.TTL <= 0 {
		return nil, ErrConfig
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}

	var secret paseto.V4AsymmetricSecretKey
	if cfg.SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		secret = k
	}

	return &Tokens{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (t *Tokens) Issue(deviceID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(t.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(t.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	if err := tok.Set("dev", deviceID); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(t.secret, nil), exp, nil
}

func (t *Tokens) Verify(token string, now time.Time) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	// Fresh parser per call so rules do not accumulate.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(t.issuer))
	p.AddRule(paseto.ValidAt(now.Add(t.clockSkew)))

	parsed, err := p.ParseV4Public(t.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	dev, err := parsed.GetString("dev")
	if err != nil || dev == "" {
		return Claims{}, ErrInvalidToken
	}
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{DeviceID: dev, IssuedAt: iat, ExpiresAt: exp}, nil
}
