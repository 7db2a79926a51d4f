package keyring

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type keyringFile struct {
	Version int    `json:"version"`
	Default string `json:"default,omitempty"`
}

// keyFile is stored as keys/<id>.json. Exactly one of Seed and Sealed is set.
type keyFile struct {
	KeyInfo
	Seed   []byte  `json:"seed,omitempty"`
	Sealed *sealed `json:"sealed_seed,omitempty"`
}

func (kr *Keyring) keysDir() string {
	return filepath.Join(kr.dir, "keys")
}

func (kr *Keyring) keyringFilePath() string {
	return filepath.Join(kr.dir, "keyring.json")
}

func (kr *Keyring) keyPath(id string) string {
	return filepath.Join(kr.keysDir(), id+".json")
}

func (kr *Keyring) keyExists(id string) bool {
	_, err := os.Stat(kr.keyPath(id))
	return err == nil
}

func (kr *Keyring) saveKey(info *KeyInfo, seed, passphrase []byte) error {
	if err := os.MkdirAll(kr.keysDir(), 0o700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}

	kf := keyFile{KeyInfo: *info}
	if len(passphrase) > 0 {
		s, err := seal(seed, passphrase)
		if err != nil {
			return fmt.Errorf("seal key: %w", err)
		}
		kf.Sealed = s
	} else {
		kf.Seed = seed
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	if err := os.WriteFile(kr.keyPath(info.ID), data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func (kr *Keyring) readKeyFile(id string) (*keyFile, error) {
	data, err := os.ReadFile(kr.keyPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	kf.ID = id
	return &kf, nil
}

func (kr *Keyring) readInfo(id string) (*KeyInfo, error) {
	kf, err := kr.readKeyFile(id)
	if err != nil {
		return nil, err
	}
	return &kf.KeyInfo, nil
}

func (kr *Keyring) loadKey(id string, passphrase []byte) (*KeyInfo, []byte, error) {
	kf, err := kr.readKeyFile(id)
	if err != nil {
		return nil, nil, err
	}
	if kf.Sealed == nil {
		return &kf.KeyInfo, kf.Seed, nil
	}
	if len(passphrase) == 0 {
		return nil, nil, ErrPassphrase
	}
	seed, err := kf.Sealed.open(passphrase)
	if err != nil {
		return nil, nil, err
	}
	return &kf.KeyInfo, seed, nil
}

func (kr *Keyring) deleteKeyFile(id string) error {
	if err := os.Remove(kr.keyPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete key file: %w", err)
	}
	return nil
}

func (kr *Keyring) listKeyFiles() ([]string, error) {
	entries, err := os.ReadDir(kr.keysDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read keys directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return ids, nil
}

func (kr *Keyring) loadKeyringFile() (*keyringFile, error) {
	data, err := os.ReadFile(kr.keyringFilePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read keyring file: %w", err)
	}
	kf := &keyringFile{}
	if err := json.Unmarshal(data, kf); err != nil {
		return nil, fmt.Errorf("parse keyring file: %w", err)
	}
	return kf, nil
}

func (kr *Keyring) saveKeyringFile(kf *keyringFile) error {
	if err := os.MkdirAll(kr.dir, 0o700); err != nil {
		return fmt.Errorf("create keyring directory: %w", err)
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keyring file: %w", err)
	}
	if err := os.WriteFile(kr.keyringFilePath(), data, 0o600); err != nil {
		return fmt.Errorf("write keyring file: %w", err)
	}
	return nil
}
