// Package badger provides a BadgerDB-backed journal backend.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/storage"
)

// Key layout:
//
//	rec/<request id>                      record JSON
//	all/<inverted completed>/<request id> empty, newest first
//	act/<action>/<inverted completed>/<request id>
const (
	prefixRecord = "rec/"
	prefixAll    = "all/"
	prefixAction = "act/"
)

const (
	KeyPath       = "path"
	KeySyncWrites = "sync_writes"
	KeyInMemory   = "in_memory"
)

func init() {
	physical.Register("badger", NewFactory, Defaults)
}

// Defaults returns the default options for the BadgerDB backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:       "~/.ocpp-node/journal",
		KeySyncWrites: "false",
		KeyInMemory:   "false",
	}
}

// NewFactory opens a BadgerDB journal.
func NewFactory(_ context.Context, opts storage.Options) (physical.Backend, error) {
	inMemory, err := opts.Bool(KeyInMemory)
	if err != nil {
		return nil, err
	}

	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		path, err := opts.Path(KeyPath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to create directory", err)
		}
		syncWrites, err := opts.Bool(KeySyncWrites)
		if err != nil {
			return nil, err
		}
		bopts = badger.DefaultOptions(path).WithSyncWrites(syncWrites)
	}
	bopts = bopts.WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("badger", KeyPath, "failed to open database", err)
	}
	slog.Info("badger journal initialized", "component", "journal", "in_memory", inMemory)
	return &Backend{db: db}, nil
}

// Backend is a BadgerDB implementation of physical.Backend.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

func recordKey(id string) []byte { return []byte(prefixRecord + id) }

func invertedTime(rec *physical.Record) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.MaxUint64-uint64(rec.CompletedAt.UnixNano()))
	return b[:]
}

func indexKeys(rec *physical.Record) [][]byte {
	ts := invertedTime(rec)
	all := append(append([]byte(prefixAll), ts...), '/')
	all = append(all, rec.RequestID...)
	act := append([]byte(prefixAction+rec.Action+"/"), ts...)
	act = append(append(act, '/'), rec.RequestID...)
	return [][]byte{all, act}
}

func (b *Backend) Put(_ context.Context, rec *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if old, err := getRecord(txn, rec.RequestID); err == nil {
			for _, k := range indexKeys(old) {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, physical.ErrNotFound) {
			return err
		}
		if err := txn.Set(recordKey(rec.RequestID), data); err != nil {
			return err
		}
		for _, k := range indexKeys(rec) {
			if err := txn.Set(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func getRecord(txn *badger.Txn, id string) (*physical.Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec physical.Record
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", id, err)
	}
	return &rec, nil
}

func (b *Backend) Get(_ context.Context, requestID string) (*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	var rec *physical.Record
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, requestID)
		return err
	})
	return rec, err
}

func (b *Backend) List(ctx context.Context, opts physical.ListOptions) ([]*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	prefix := []byte(prefixAll)
	if opts.Action != "" {
		prefix = []byte(prefixAction + opts.Action + "/")
	}
	limit := opts.EffectiveLimit()

	var out []*physical.Record
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = false
		iopts.Prefix = prefix
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			// <prefix><8 byte time>/<id>
			id := string(key[len(prefix)+9:])
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}
