package signing

import (
	"fmt"
	"slices"
	"sync"

	nodeerrors "github.com/gezibash/ocpp-node/pkg/errors"
	"github.com/gezibash/ocpp-node/pkg/identity"
)

// KeyStore holds signing keys and trusted verification keys by key id.
// It is safe for concurrent use.
type KeyStore struct {
	mu      sync.RWMutex
	signers map[string]identity.Signer
	trusted map[string]identity.PublicKey
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		signers: make(map[string]identity.Signer),
		trusted: make(map[string]identity.PublicKey),
	}
}

// AddSigner registers a signing key. Its public key is trusted under the
// same id.
func (ks *KeyStore) AddSigner(keyID string, s identity.Signer) error {
	if keyID == "" || s == nil {
		return fmt.Errorf("add signer: %w", nodeerrors.ErrInvalidInput)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.signers[keyID] = s
	ks.trusted[keyID] = s.PublicKey()
	return nil
}

// Trust registers a verification key.
func (ks *KeyStore) Trust(keyID string, pub identity.PublicKey) error {
	if keyID == "" || pub.IsZero() {
		return fmt.Errorf("trust key: %w", nodeerrors.ErrInvalidInput)
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.trusted[keyID] = pub
	return nil
}

// Remove forgets keyID as both signer and trusted key.
func (ks *KeyStore) Remove(keyID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.signers, keyID)
	delete(ks.trusted, keyID)
}

// Signer returns the signing key registered under keyID.
func (ks *KeyStore) Signer(keyID string) (identity.Signer, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	s, ok := ks.signers[keyID]
	return s, ok
}

// Trusted returns the verification key registered under keyID.
func (ks *KeyStore) Trusted(keyID string) (identity.PublicKey, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	pub, ok := ks.trusted[keyID]
	return pub, ok
}

// SignerIDs returns the ids of all signing keys, sorted.
func (ks *KeyStore) SignerIDs() []string {
	ks.mu.RLock()
	ids := make([]string, 0, len(ks.signers))
	for id := range ks.signers {
		ids = append(ids, id)
	}
	ks.mu.RUnlock()
	slices.Sort(ids)
	return ids
}
