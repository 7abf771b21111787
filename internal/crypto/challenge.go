// Package crypto implements the client-authentication challenge: the
// server hands out random bytes during admission and verifies the
// client's Ed25519 signature over them against a fixed public key.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const challengeSize = 32

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ParsePublicKey checks that a base64-encoded string is a valid Ed25519
// public key.
func ParsePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// NewChallenge returns fresh random challenge bytes, base64-encoded for
// the wire.
func NewChallenge() (string, error) {
	buf := make([]byte, challengeSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// VerifyChallenge verifies the client's signature over the challenge
// the server issued.
func VerifyChallenge(pubkey ed25519.PublicKey, challengeB64, signatureB64 string) error {
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return fmt.Errorf("%w: invalid challenge encoding", ErrInvalidSignature)
	}

	signature, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 encoding", ErrInvalidSignature)
	}

	if !ed25519.Verify(pubkey, challenge, signature) {
		return ErrInvalidSignature
	}

	return nil
}
