package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "impersonation-signing-key"
	publicKeyFile  = "impersonation-signing-key.pub"
)

func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// LoadOrGenerateKeypair reads the keypair from dir, creating and saving a
// new one when none exists yet.
func LoadOrGenerateKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privatePath := filepath.Join(dir, privateKeyFile)
	publicPath := filepath.Join(dir, publicKeyFile)

	privateBytes, err := os.ReadFile(privatePath)
	if errors.Is(err, fs.ErrNotExist) {
		public, private, err := GenerateKeypair()
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating key directory: %w", err)
		}
		if err := os.WriteFile(privatePath, private, 0o600); err != nil {
			return nil, nil, fmt.Errorf("writing private key: %w", err)
		}
		if err := os.WriteFile(publicPath, public, 0o644); err != nil {
			return nil, nil, fmt.Errorf("writing public key: %w", err)
		}
		return public, private, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}

	publicBytes, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}

	return ed25519.PublicKey(publicBytes), ed25519.PrivateKey(privateBytes), nil
}
