// Package keys holds the ed25519 key pairs used to sign spends, register
// operations and scratchpads, and to derive a node's PeerID.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// ErrInvalidSignature is returned by Verify on a signature mismatch.
var ErrInvalidSignature = errors.New("keys: invalid signature")

// Signer signs messages with a private key it never exposes.
type Signer interface { // A
	PublicKey() ed25519.PublicKey
	Sign(msg []byte) ([]byte, error)
}

// KeyPair is an in-memory ed25519 Signer.
type KeyPair struct { // A
	priv ed25519.PrivateKey
}

// Generate creates a fresh random key pair.
func Generate() (*KeyPair, error) { // A
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{priv: priv}, nil
}

// FromSeed derives a deterministic key pair from a 32 byte seed.
func FromSeed(seed []byte) (*KeyPair, error) { // A
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"keys: seed is %d bytes, want %d",
			len(seed), ed25519.SeedSize,
		)
	}
	return &KeyPair{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k *KeyPair) PublicKey() ed25519.PublicKey { // A
	return k.priv.Public().(ed25519.PublicKey)
}

func (k *KeyPair) Sign(msg []byte) ([]byte, error) { // A
	return ed25519.Sign(k.priv, msg), nil
}

// PeerID derives the keyspace position owned by this key.
func (k *KeyPair) PeerID() address.PeerID { // A
	return address.PeerIDFromKey(k.PublicKey())
}

// Verify checks sig over msg against pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) error { // A
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad public key length %d", ErrInvalidSignature, len(pub))
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// LoadOrCreate reads the hex encoded seed at path, or generates and
// saves a new one when the file does not exist.
func LoadOrCreate(path string) (*KeyPair, error) { // A
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil {
			return nil, fmt.Errorf("decode key file %q: %w", path, decErr)
		}
		return FromSeed(seed)

	case errors.Is(err, os.ErrNotExist):
		kp, genErr := Generate()
		if genErr != nil {
			return nil, genErr
		}
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o700); mkErr != nil {
			return nil, fmt.Errorf("create key dir: %w", mkErr)
		}
		seed := hex.EncodeToString(kp.priv.Seed())
		if wErr := os.WriteFile(path, []byte(seed), 0o600); wErr != nil {
			return nil, fmt.Errorf("save key file %q: %w", path, wErr)
		}
		return kp, nil

	default:
		return nil, fmt.Errorf("stat key file %q: %w", path, err)
	}
}
