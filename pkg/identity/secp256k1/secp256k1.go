// Package secp256k1 provides an identity.Signer backed by the decred
// secp256k1 implementation.
package secp256k1

import (
	"context"
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/gezibash/ocpp-node/pkg/identity"
)

// SeedSize is the length of a serialized private scalar.
const SeedSize = 32

// Keypair implements identity.Signer for secp256k1.
type Keypair struct {
	private *secp256k1.PrivateKey
}

// Generate creates a new random keypair.
func Generate() (*Keypair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Keypair{private: priv}, nil
}

// FromSeed creates a keypair from a 32-byte private scalar.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, errors.New("invalid seed length")
	}
	priv := secp256k1.PrivKeyFromBytes(seed)
	if priv.Key.IsZero() {
		return nil, errors.New("invalid seed")
	}
	return &Keypair{private: priv}, nil
}

// Seed returns the 32-byte private scalar.
func (k *Keypair) Seed() []byte {
	return k.private.Serialize()
}

// PublicKey returns the compressed public key.
func (k *Keypair) PublicKey() identity.PublicKey {
	return identity.PublicKey{
		Algo:  identity.AlgSecp256k1,
		Bytes: k.private.PubKey().SerializeCompressed(),
	}
}

// Sign signs the sha256 digest of payload and returns a DER signature.
func (k *Keypair) Sign(payload []byte) (identity.Signature, error) {
	hash := sha256.Sum256(payload)
	sig := ecdsa.Sign(k.private, hash[:])
	return identity.Signature{Algo: identity.AlgSecp256k1, Bytes: sig.Serialize()}, nil
}

// Algorithm returns the algorithm identifier.
func (k *Keypair) Algorithm() identity.Algorithm {
	return identity.AlgSecp256k1
}

// Provider loads a keypair from a seed, generating one when the seed is empty.
type Provider struct {
	Seed []byte
}

// Load implements identity.Provider.
func (p Provider) Load(_ context.Context) (identity.Signer, error) {
	if len(p.Seed) == 0 {
		return Generate()
	}
	return FromSeed(p.Seed)
}
