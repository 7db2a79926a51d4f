package keyring

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltSize  = 16
	nonceSize = 24

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// sealed is the on-disk form of a passphrase-protected seed.
type sealed struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Box   []byte `json:"box"`
}

func deriveKey(passphrase, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, 32))
	return &key
}

func seal(seed, passphrase []byte) (*sealed, error) {
	s := &sealed{Salt: make([]byte, saltSize), Nonce: make([]byte, nonceSize)}
	if _, err := io.ReadFull(rand.Reader, s.Salt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, s.Nonce); err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], s.Nonce)
	s.Box = secretbox.Seal(nil, seed, &nonce, deriveKey(passphrase, s.Salt))
	return s, nil
}

func (s *sealed) open(passphrase []byte) ([]byte, error) {
	if len(s.Nonce) != nonceSize || len(s.Box) < secretbox.Overhead {
		return nil, ErrWrongPassphrase
	}
	var nonce [nonceSize]byte
	copy(nonce[:], s.Nonce)
	seed, ok := secretbox.Open(nil, s.Box, &nonce, deriveKey(passphrase, s.Salt))
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return seed, nil
}
