package runtimebridge

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ReadyIssuer is the issuer the runtime service stamps on ready tokens.
const ReadyIssuer = "spatial-runtime"

// ErrForgedBroadcast is returned for ready broadcasts whose token does not
// verify.
var ErrForgedBroadcast = errors.New("ready broadcast failed verification")

// ReadyClaims is the payload of a signed ready broadcast.
type ReadyClaims struct {
	// Runtime names the runtime instance that became ready.
	Runtime string `json:"runtime"`
	// Version is the runtime version at launch.
	Version int `json:"version"`
	jwt.RegisteredClaims
}

// Verifier checks ready tokens against the runtime's ed25519 public key.
type Verifier struct {
	publicKey ed25519.PublicKey
	maxAge    time.Duration
	now       func() time.Time
}

// ParsePublicKey decodes a hex encoded ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// NewVerifier returns a Verifier for pub. Tokens issued more than maxAge ago
// are rejected; zero disables the age check.
func NewVerifier(pub ed25519.PublicKey, maxAge time.Duration) *Verifier {
	return &Verifier{publicKey: pub, maxAge: maxAge, now: time.Now}
}

// Verify parses and validates a ready token.
func (v *Verifier) Verify(token string) (*ReadyClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ReadyClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.publicKey, nil
	},
		jwt.WithIssuer(ReadyIssuer),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForgedBroadcast, err)
	}

	claims, ok := parsed.Claims.(*ReadyClaims)
	if !ok || !parsed.Valid {
		return nil, ErrForgedBroadcast
	}
	if v.maxAge > 0 {
		if claims.IssuedAt == nil {
			return nil, fmt.Errorf("%w: missing iat", ErrForgedBroadcast)
		}
		if v.now().Sub(claims.IssuedAt.Time) > v.maxAge {
			return nil, fmt.Errorf("%w: stale token", ErrForgedBroadcast)
		}
	}
	return claims, nil
}

// Signer mints ready tokens. The runtime service owns the private key in
// production; Signer exists for the dev runtime and tests.
type Signer struct {
	privateKey ed25519.PrivateKey
}

// NewSigner returns a Signer for priv.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{privateKey: priv}
}

// Sign returns a ready token for runtime at version.
func (s *Signer) Sign(runtime string, version int, at time.Time) (string, error) {
	claims := ReadyClaims{
		Runtime: runtime,
		Version: version,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(at),
			NotBefore: jwt.NewNumericDate(at),
			Issuer:    ReadyIssuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.privateKey)
}
