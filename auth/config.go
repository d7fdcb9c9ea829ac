package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// SigningMethod defines supported JWT signing algorithms.
type SigningMethod string

const (
	HS256 SigningMethod = "HS256"
	HS384 SigningMethod = "HS384"
	HS512 SigningMethod = "HS512"
	RS256 SigningMethod = "RS256"
	ES256 SigningMethod = "ES256"
)

// Config configures the admin token service.
type Config struct {
	// Enabled gates admin authentication entirely. When false the admin
	// API accepts unauthenticated requests; intended for local development.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Secret is the HMAC signing key (required for HS* methods).
	Secret string `yaml:"secret" mapstructure:"secret"`

	// PrivateKey is the RSA or ECDSA private key (required for RS256/ES256).
	PrivateKey any `yaml:"-" mapstructure:"-"`

	// PublicKey verifies tokens for asymmetric methods. When unset it is
	// derived from PrivateKey.
	PublicKey any `yaml:"-" mapstructure:"-"`

	// Method is the signing algorithm (default HS256).
	Method SigningMethod `yaml:"method" mapstructure:"method"`

	// Issuer is the "iss" claim (optional).
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// TokenTTL is the lifetime of issued tokens (default 1h).
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.Method == "" {
		c.Method = HS256
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = time.Hour
	}
}

// Validate checks required fields based on the signing method.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Method {
	case HS256, HS384, HS512:
		if c.Secret == "" {
			return errors.New("auth: secret is required for HMAC signing methods")
		}
	case RS256:
		if _, ok := c.PrivateKey.(*rsa.PrivateKey); !ok {
			return errors.New("auth: private key must be *rsa.PrivateKey for RS256")
		}
	case ES256:
		if _, ok := c.PrivateKey.(*ecdsa.PrivateKey); !ok {
			return errors.New("auth: private key must be *ecdsa.PrivateKey for ES256")
		}
	default:
		return errors.New("auth: unsupported signing method: " + string(c.Method))
	}
	return nil
}

func (c *Config) signingMethod() gojwt.SigningMethod {
	switch c.Method {
	case HS384:
		return gojwt.SigningMethodHS384
	case HS512:
		return gojwt.SigningMethodHS512
	case RS256:
		return gojwt.SigningMethodRS256
	case ES256:
		return gojwt.SigningMethodES256
	default:
		return gojwt.SigningMethodHS256
	}
}

func (c *Config) signKey() any {
	switch c.Method {
	case RS256, ES256:
		return c.PrivateKey
	default:
		return []byte(c.Secret)
	}
}

func (c *Config) verifyKey() any {
	switch c.Method {
	case RS256:
		if c.PublicKey != nil {
			return c.PublicKey
		}
		if pk, ok := c.PrivateKey.(*rsa.PrivateKey); ok {
			return &pk.PublicKey
		}
		return c.PrivateKey
	case ES256:
		if c.PublicKey != nil {
			return c.PublicKey
		}
		if pk, ok := c.PrivateKey.(*ecdsa.PrivateKey); ok {
			return &pk.PublicKey
		}
		return c.PrivateKey
	default:
		return []byte(c.Secret)
	}
}
