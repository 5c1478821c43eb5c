// Package token mints and verifies impersonation tokens.
//
// A token is the base64url (unpadded) encoding of a CBOR payload followed
// by a 64-byte Ed25519 signature over the payload bytes:
//
//	[CBOR claims] [64-byte signature]
//
// Signature and expiry checks happen here. Whether the session a token
// points at is still open is decided by the caller against the store.
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/order-fulfillment/internal/codec"
)

const signatureSize = ed25519.SignatureSize

var (
	ErrMalformed        = errors.New("token: malformed")
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
)

type Claims struct {
	// ID is unique per minted token.
	ID           string `cbor:"1,keyasint"`
	AdminID      string `cbor:"2,keyasint"`
	TargetUserID string `cbor:"3,keyasint"`
	// SessionID references the persisted impersonation log row.
	SessionID string `cbor:"4,keyasint"`
	IssuedAt  int64  `cbor:"5,keyasint"`
	ExpiresAt int64  `cbor:"6,keyasint"`
}

// Mint signs claims and returns the encoded token.
func Mint(privateKey ed25519.PrivateKey, claims *Claims) (string, error) {
	payload, err := codec.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: encoding claims: %w", err)
	}

	signature := ed25519.Sign(privateKey, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], signature)

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// VerifyAt checks the signature and the expiry relative to now.
func VerifyAt(publicKey ed25519.PublicKey, encoded string, now time.Time) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) <= signatureSize {
		return nil, ErrMalformed
	}

	split := len(raw) - signatureSize
	payload, signature := raw[:split], raw[split:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var claims Claims
	if err := codec.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if now.Unix() >= claims.ExpiresAt {
		return &claims, ErrExpired
	}
	return &claims, nil
}
