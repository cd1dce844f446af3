// Copyright (c) 2024 ergo-services contributors
// released under the MIT license

package jwt

import (
	"fmt"
	"io"
	"os"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/ergochat/ergo-services/irc/utils"
)

const (
	DefaultCookieExpiration = 30 * time.Minute
	// bound on the length of a cookie accepted over SASL
	MaxCookieLength = 1024
)

var (
	ErrCookiesDisabled = fmt.Errorf("Authcookies are disabled")
	ErrCookieTooLong   = fmt.Errorf("Authcookie is too long")
)

// CookieConfig is the config for issuing and accepting authcookies: short-lived
// HS256 tokens that let a web frontend log a user in over SASL AUTHCOOKIE
// without handling their password twice.
type CookieConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret-file"`
	Expiration time.Duration `yaml:"expiration"`
	Issuer     string        `yaml:"issuer"`

	key []byte
}

func (c *CookieConfig) Postprocess() error {
	if !c.Enabled {
		return nil
	}

	key, err := c.keyBytes()
	if err != nil {
		return err
	}
	if len(key) < 16 {
		return fmt.Errorf("authcookie secret must be at least 16 bytes")
	}
	c.key = key

	if c.Expiration == 0 {
		c.Expiration = DefaultCookieExpiration
	}
	return nil
}

func (c *CookieConfig) keyBytes() (result []byte, err error) {
	if c.SecretFile != "" {
		o, err := os.Open(c.SecretFile)
		if err != nil {
			return nil, err
		}
		defer o.Close()
		return io.ReadAll(o)
	}
	if c.Secret != "" {
		return []byte(c.Secret), nil
	}
	return nil, fmt.Errorf("authcookies enabled, but no secret specified")
}

// implements jwt.Keyfunc
func (c *CookieConfig) keyFunc(_ *jwt.Token) (interface{}, error) {
	return c.key, nil
}

// Issue signs a cookie for the account, whose casefolded name becomes the
// token subject.
func (c *CookieConfig) Issue(accountCasefolded string, now time.Time) (string, error) {
	if !c.Enabled || c.key == nil {
		return "", ErrCookiesDisabled
	}
	claims := jwt.RegisteredClaims{
		Subject:   accountCasefolded,
		Issuer:    c.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.Expiration)),
		ID:        utils.GenerateSecretToken(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

// Validate checks that the cookie is well-formed, unexpired at `now`, and
// was issued for the named account.
func (c *CookieConfig) Validate(cookie, accountCasefolded string, now time.Time) error {
	if !c.Enabled || c.key == nil {
		return ErrCookiesDisabled
	}
	if len(cookie) > MaxCookieLength {
		return ErrCookieTooLong
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(accountCasefolded),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if c.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.Issuer))
	}
	_, err := jwt.NewParser(options...).ParseWithClaims(cookie, &jwt.RegisteredClaims{}, c.keyFunc)
	return err
}
