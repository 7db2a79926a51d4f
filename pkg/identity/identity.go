// Package identity provides the public-key primitives used to sign and verify
// OCPP messages.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Algorithm identifies a signing algorithm.
type Algorithm string

const (
	AlgEd25519   Algorithm = "ed25519"
	AlgSecp256k1 Algorithm = "secp256k1"
)

// PublicKey is an algorithm-tagged public key.
type PublicKey struct {
	Algo  Algorithm
	Bytes []byte
}

// IsZero reports whether the key carries no material.
func (pk PublicKey) IsZero() bool {
	return len(pk.Bytes) == 0
}

// Signature is an algorithm-tagged signature.
type Signature struct {
	Algo  Algorithm
	Bytes []byte
}

// Signer represents a private key capable of signing.
type Signer interface {
	PublicKey() PublicKey
	Sign(payload []byte) (Signature, error)
	Algorithm() Algorithm
}

// Provider loads or generates a signer.
type Provider interface {
	Load(ctx context.Context) (Signer, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (Signer, error)

// Load implements Provider.
func (f ProviderFunc) Load(ctx context.Context) (Signer, error) {
	return f(ctx)
}

var (
	// ErrUnknownAlgorithm indicates an unknown algorithm.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	// ErrInvalidEncoding indicates an invalid encoded key/signature.
	ErrInvalidEncoding = errors.New("invalid encoding")
)

// ParseAlgorithm normalizes an algorithm name. Empty input selects ed25519.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgEd25519:
		return AlgEd25519, nil
	case AlgSecp256k1:
		return AlgSecp256k1, nil
	default:
		return "", ErrUnknownAlgorithm
	}
}

// EncodePublicKey encodes a public key as "algo:hex".
func EncodePublicKey(pk PublicKey) string {
	return encodeTagged(pk.Algo, pk.Bytes)
}

// DecodePublicKey decodes a public key from "algo:hex". A bare hex string
// is read as an ed25519 key.
func DecodePublicKey(s string) (PublicKey, error) {
	algo, raw, err := decodeTagged(s)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKey{Algo: algo, Bytes: raw}, nil
}

// EncodeSignature encodes a signature as "algo:hex".
func EncodeSignature(sig Signature) string {
	return encodeTagged(sig.Algo, sig.Bytes)
}

// DecodeSignature decodes a signature from "algo:hex".
func DecodeSignature(s string) (Signature, error) {
	algo, raw, err := decodeTagged(s)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Algo: algo, Bytes: raw}, nil
}

func encodeTagged(algo Algorithm, b []byte) string {
	a := strings.ToLower(string(algo))
	if a == "" {
		a = string(AlgEd25519)
	}
	return a + ":" + hex.EncodeToString(b)
}

func decodeTagged(s string) (Algorithm, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, ErrInvalidEncoding
	}
	algo, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		algo, hexPart = string(AlgEd25519), s
	}
	parsed, err := ParseAlgorithm(algo)
	if err != nil {
		return "", nil, err
	}
	raw, err := hex.DecodeString(hexPart)
	if err != nil || len(raw) == 0 {
		return "", nil, ErrInvalidEncoding
	}
	return parsed, raw, nil
}

// Verify checks a signature over the given payload. Mismatched algorithms,
// malformed keys and malformed signatures all report false.
func Verify(pub PublicKey, payload []byte, sig Signature) bool {
	algo := pub.Algo
	if algo == "" {
		algo = sig.Algo
	}
	if algo == "" {
		algo = AlgEd25519
	}
	if sig.Algo != "" && algo != sig.Algo {
		return false
	}

	switch algo {
	case AlgEd25519:
		if len(pub.Bytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(pub.Bytes, payload, sig.Bytes)
	case AlgSecp256k1:
		key, err := secp256k1.ParsePubKey(pub.Bytes)
		if err != nil {
			return false
		}
		parsed, err := ecdsa.ParseDERSignature(sig.Bytes)
		if err != nil {
			return false
		}
		hash := sha256.Sum256(payload)
		return parsed.Verify(hash[:], key)
	default:
		return false
	}
}
