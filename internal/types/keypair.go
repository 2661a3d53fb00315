package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidKeypair is returned when a keypair file does not hold a 64-byte key.
var ErrInvalidKeypair = errors.New("invalid keypair: must be 64 bytes")

// Keypair is an Ed25519 signing key.
type Keypair struct {
	private ed25519.PrivateKey
	public  Pubkey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	kp := &Keypair{private: priv}
	copy(kp.public[:], pub)
	return kp, nil
}

// KeypairFromBytes builds a keypair from the 64-byte private key layout
// (32-byte seed followed by the 32-byte public key).
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	priv := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
	kp := &Keypair{private: priv}
	copy(kp.public[:], priv.Public().(ed25519.PublicKey))
	if string(kp.public[:]) != string(b[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrInvalidKeypair)
	}
	return kp, nil
}

// Pubkey returns the public half of the keypair.
func (k *Keypair) Pubkey() Pubkey {
	return k.public
}

// Sign signs message with the private key.
func (k *Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// Bytes returns the 64-byte private key.
func (k *Keypair) Bytes() []byte {
	out := make([]byte, len(k.private))
	copy(out, k.private)
	return out
}

// Verify verifies this signature against a message and public key.
func (s Signature) Verify(pubkey Pubkey, message []byte) bool {
	return ed25519.Verify(pubkey[:], message, s[:])
}

// WriteKeypairFile writes the keypair as a JSON array of 64 byte values,
// the format used by the Solana CLI.
func WriteKeypairFile(k *Keypair, path string) error {
	raw := k.Bytes()
	ints := make([]int, len(raw))
	for i, b := range raw {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("marshal keypair: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create keypair dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write keypair file: %w", err)
	}
	return nil
}

// ReadKeypairFile reads a keypair written by WriteKeypairFile.
func ReadKeypairFile(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair file: %w", err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, ErrInvalidKeypair
		}
		raw[i] = byte(v)
	}
	return KeypairFromBytes(raw)
}
