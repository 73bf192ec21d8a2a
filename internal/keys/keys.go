// Package keys handles wallet key material: parsing private keys from
// their common export formats, deriving addresses, and verifying
// signatures. Key bytes never leave the process.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Keypair is a wallet signing identity.
type Keypair struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  string // base58 address
}

// ParsePrivateKey accepts a 64-byte ed25519 private key (seed followed
// by public key) encoded as base58 or base64, the two formats wallets
// export.
func ParsePrivateKey(s string) (*Keypair, error) {
	if s == "" {
		return nil, fmt.Errorf("empty private key")
	}

	raw, b58err := base58.Decode(s)
	if b58err != nil || len(raw) != ed25519.PrivateKeySize {
		var b64err error
		raw, b64err = base64.StdEncoding.DecodeString(s)
		if b64err != nil {
			return nil, fmt.Errorf("private key is neither base58 nor base64")
		}
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key decodes to %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}

	priv := ed25519.PrivateKey(raw)
	pub := priv.Public().(ed25519.PublicKey)
	if !IsOnCurve(pub) {
		return nil, fmt.Errorf("derived public key is not on the ed25519 curve")
	}

	return &Keypair{
		PrivateKey: priv,
		PublicKey:  base58.Encode(pub),
	}, nil
}

// NewKeypair generates a random wallet.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{
		PrivateKey: priv,
		PublicKey:  base58.Encode(pub),
	}, nil
}

// Sign signs message with the wallet's private key.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.PrivateKey, message)
}

// Export returns the private key in base58, the format ParsePrivateKey
// accepts back.
func (k *Keypair) Export() string {
	return base58.Encode(k.PrivateKey)
}

// IsOnCurve reports whether pub is a valid compressed ed25519 point.
func IsOnCurve(pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(pub)
	return err == nil
}

// VerifySignature checks a base64 signature over message against a
// base58 public key.
func VerifySignature(message []byte, sigBase64, pubkeyBase58 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigBase64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)
	}
	pub, err := base58.Decode(pubkeyBase58)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig), nil
}
