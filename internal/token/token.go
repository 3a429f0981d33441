// Package token implements the signed bearer tokens used by keygate: admin
// session tokens and license activation tokens. Both are HS256 JWTs (three
// base64url segments joined by "."), signed with independent secrets loaded
// once at process start. Verification failures are deliberately collapsed to
// a single ErrInvalidToken so callers cannot distinguish a bad signature from
// an expired or malformed token.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for every verification failure: malformed
// input, signature mismatch, wrong algorithm, expiry, or missing fields.
var ErrInvalidToken = errors.New("invalid or expired token")

// MinSecretLen is the minimum accepted secret length in bytes.
const MinSecretLen = 32

// issuedAtSkew is how far in the future an iat claim may sit before the
// token is rejected as not-yet-valid.
const issuedAtSkew = 60 * time.Second

// SessionTTL is the fixed lifetime of an admin session token.
const SessionTTL = 24 * time.Hour

// activationTyp marks a payload as a license activation capability.
const activationTyp = "license_activation"

// SessionClaims is the payload of an admin session token.
type SessionClaims struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	SessionToken string `json:"sessionToken"`
	jwt.RegisteredClaims
}

// Validate implements jwt.ClaimsValidator. It runs after the standard
// expiry checks and enforces the required fields and the issued-at skew
// window.
func (c *SessionClaims) Validate() error {
	if c.UserID == "" || c.Email == "" || c.SessionToken == "" {
		return ErrInvalidToken
	}
	return validateIssuedAt(c.IssuedAt)
}

// ActivationClaims is the payload of a license activation token. It is a
// capability reference, not a cache of truth: the activation ledger is
// re-checked on every validate/deactivate call.
type ActivationClaims struct {
	Typ       string `json:"typ"`
	LicenseID string `json:"licenseId"`
	AppName   string `json:"appName"`
	MachineID string `json:"machineId"`
	jwt.RegisteredClaims
}

// Validate implements jwt.ClaimsValidator.
func (c *ActivationClaims) Validate() error {
	if c.Typ != activationTyp {
		return ErrInvalidToken
	}
	if c.LicenseID == "" || c.AppName == "" || c.MachineID == "" {
		return ErrInvalidToken
	}
	return validateIssuedAt(c.IssuedAt)
}

func validateIssuedAt(iat *jwt.NumericDate) error {
	if iat == nil {
		return ErrInvalidToken
	}
	if iat.After(time.Now().Add(issuedAtSkew)) {
		return ErrInvalidToken
	}
	return nil
}

// newParser builds the shared parser: HS256 only, exp required. The iat skew
// check lives in the claims' Validate methods.
func newParser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
}

func checkSecret(secret string) error {
	if len(secret) < MinSecretLen {
		return fmt.Errorf("token secret must be at least %d bytes, got %d", MinSecretLen, len(secret))
	}
	return nil
}

func headerTypOK(t *jwt.Token) bool {
	typ, _ := t.Header["typ"].(string)
	return typ == "JWT"
}

// SessionCodec signs and verifies admin session tokens.
type SessionCodec struct {
	secret []byte
}

// NewSessionCodec creates a session codec. The secret must be at least
// MinSecretLen bytes.
func NewSessionCodec(secret string) (*SessionCodec, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	return &SessionCodec{secret: []byte(secret)}, nil
}

// Sign mints a session token with the fixed 24h expiry.
func (c *SessionCodec) Sign(userID, email, sessionToken string, now time.Time) (string, error) {
	claims := SessionClaims{
		UserID:       userID,
		Email:        email,
		SessionToken: sessionToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(c.secret)
}

// Verify parses and validates a session token.
func (c *SessionCodec) Verify(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := newParser().ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tok.Valid || !headerTypOK(tok) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ActivationCodec signs and verifies license activation tokens.
type ActivationCodec struct {
	secret []byte
}

// NewActivationCodec creates an activation codec. The secret must be at
// least MinSecretLen bytes.
func NewActivationCodec(secret string) (*ActivationCodec, error) {
	if err := checkSecret(secret); err != nil {
		return nil, err
	}
	return &ActivationCodec{secret: []byte(secret)}, nil
}

// Sign mints an activation token bound to the (license, app, machine)
// identity with a caller-supplied expiry. Each token carries a random jti
// for traceability; tokens are never cached or reused across calls.
func (c *ActivationCodec) Sign(licenseID, appName, machineID string, expiresAt time.Time, now time.Time) (string, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	claims := ActivationClaims{
		Typ:       activationTyp,
		LicenseID: licenseID,
		AppName:   appName,
		MachineID: machineID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        hex.EncodeToString(jti),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(c.secret)
}

// Verify parses and validates an activation token.
func (c *ActivationCodec) Verify(tokenString string) (*ActivationClaims, error) {
	claims := &ActivationClaims{}
	tok, err := newParser().ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tok.Valid || !headerTypOK(tok) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
