// Package keyring stores the node's signing keys on disk, one file per key
// id, optionally sealed with a passphrase.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/gezibash/ocpp-node/pkg/identity"
	"github.com/gezibash/ocpp-node/pkg/identity/ed25519"
	"github.com/gezibash/ocpp-node/pkg/identity/secp256k1"
)

var (
	ErrNotFound        = errors.New("key not found")
	ErrAlreadyExists   = errors.New("key already exists")
	ErrNoDefault       = errors.New("no default key set")
	ErrInvalidName     = errors.New("invalid key id")
	ErrPassphrase      = errors.New("key is sealed: passphrase required")
	ErrWrongPassphrase = errors.New("wrong passphrase")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Keyring manages key files under dir.
type Keyring struct {
	dir string
	now func() time.Time
}

// Key is a loaded signing key.
type Key struct {
	ID     string
	Signer identity.Signer
	Info   *KeyInfo
}

// KeyInfo describes a stored key without its secret.
type KeyInfo struct {
	ID        string             `json:"id"`
	Algorithm identity.Algorithm `json:"algorithm"`
	PublicKey string             `json:"public_key"`
	Sealed    bool               `json:"sealed"`
	CreatedAt time.Time          `json:"created_at"`
	IsDefault bool               `json:"-"`
}

func New(dir string) *Keyring {
	return &Keyring{dir: dir, now: time.Now}
}

// Dir returns the keyring directory.
func (kr *Keyring) Dir() string { return kr.dir }

// Generate creates a random key for algo and stores it under id. A non-empty
// passphrase seals the seed.
func (kr *Keyring) Generate(_ context.Context, id string, algo identity.Algorithm, passphrase []byte) (*Key, error) {
	signer, seed, err := newSigner(algo)
	if err != nil {
		return nil, err
	}
	return kr.store(id, signer, seed, passphrase)
}

// GenerateNamed is Generate with the id derived from the new public key.
func (kr *Keyring) GenerateNamed(_ context.Context, algo identity.Algorithm, passphrase []byte) (*Key, error) {
	signer, seed, err := newSigner(algo)
	if err != nil {
		return nil, err
	}
	return kr.store(Petname(signer.PublicKey()), signer, seed, passphrase)
}

func newSigner(algo identity.Algorithm) (identity.Signer, []byte, error) {
	switch algo {
	case identity.AlgEd25519, "":
		kp, err := ed25519.Generate()
		if err != nil {
			return nil, nil, err
		}
		return kp, kp.Seed(), nil
	case identity.AlgSecp256k1:
		kp, err := secp256k1.Generate()
		if err != nil {
			return nil, nil, err
		}
		return kp, kp.Seed(), nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", identity.ErrUnknownAlgorithm, algo)
	}
}

// Import stores an existing seed under id.
func (kr *Keyring) Import(_ context.Context, id string, algo identity.Algorithm, seed, passphrase []byte) (*Key, error) {
	signer, err := signerFromSeed(algo, seed)
	if err != nil {
		return nil, err
	}
	return kr.store(id, signer, seed, passphrase)
}

func (kr *Keyring) store(id string, signer identity.Signer, seed, passphrase []byte) (*Key, error) {
	if !validName.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	if kr.keyExists(id) {
		return nil, ErrAlreadyExists
	}

	info := &KeyInfo{
		ID:        id,
		Algorithm: signer.Algorithm(),
		PublicKey: identity.EncodePublicKey(signer.PublicKey()),
		Sealed:    len(passphrase) > 0,
		CreatedAt: kr.now().UTC(),
	}
	if err := kr.saveKey(info, seed, passphrase); err != nil {
		return nil, err
	}
	return &Key{ID: id, Signer: signer, Info: info}, nil
}

// Load opens the key stored under id. passphrase is ignored for unsealed keys.
func (kr *Keyring) Load(_ context.Context, id string, passphrase []byte) (*Key, error) {
	if !validName.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	info, seed, err := kr.loadKey(id, passphrase)
	if err != nil {
		return nil, err
	}
	signer, err := signerFromSeed(info.Algorithm, seed)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", id, err)
	}
	return &Key{ID: id, Signer: signer, Info: info}, nil
}

// LoadDefault opens the default key.
func (kr *Keyring) LoadDefault(ctx context.Context, passphrase []byte) (*Key, error) {
	kf, err := kr.loadKeyringFile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if kf == nil || kf.Default == "" {
		return nil, ErrNoDefault
	}
	return kr.Load(ctx, kf.Default, passphrase)
}

// LoadOrGenerate opens id, creating an ed25519 key when it does not exist.
func (kr *Keyring) LoadOrGenerate(ctx context.Context, id string, passphrase []byte) (*Key, error) {
	key, err := kr.Load(ctx, id, passphrase)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return kr.Generate(ctx, id, identity.AlgEd25519, passphrase)
}

// List returns every stored key sorted by id.
func (kr *Keyring) List(_ context.Context) ([]*KeyInfo, error) {
	kf, err := kr.loadKeyringFile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ids, err := kr.listKeyFiles()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	infos := make([]*KeyInfo, 0, len(ids))
	for _, id := range ids {
		info, err := kr.readInfo(id)
		if err != nil {
			continue
		}
		info.IsDefault = kf != nil && kf.Default == id
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete removes the key and clears it as default.
func (kr *Keyring) Delete(_ context.Context, id string) error {
	if !validName.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	kf, err := kr.loadKeyringFile()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := kr.deleteKeyFile(id); err != nil {
		return err
	}
	if kf != nil && kf.Default == id {
		kf.Default = ""
		return kr.saveKeyringFile(kf)
	}
	return nil
}

// SetDefault marks id as the default key.
func (kr *Keyring) SetDefault(id string) error {
	if !kr.keyExists(id) {
		return ErrNotFound
	}
	kf, err := kr.loadKeyringFile()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		kf = &keyringFile{Version: 1}
	}
	kf.Default = id
	return kr.saveKeyringFile(kf)
}

func signerFromSeed(algo identity.Algorithm, seed []byte) (identity.Signer, error) {
	switch algo {
	case identity.AlgEd25519, "":
		kp, err := ed25519.FromSeed(seed)
		if err != nil {
			return nil, err
		}
		return kp, nil
	case identity.AlgSecp256k1:
		kp, err := secp256k1.FromSeed(seed)
		if err != nil {
			return nil, err
		}
		return kp, nil
	default:
		return nil, fmt.Errorf("%w: %q", identity.ErrUnknownAlgorithm, algo)
	}
}
