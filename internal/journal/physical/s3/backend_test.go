package s3

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/journal/physical/physicaltest"
	"github.com/gezibash/ocpp-node/internal/storage"
)

// mockS3Server emulates the slice of the S3 API the backend uses, with
// path-style addressing: /bucket/key.
func mockS3Server() *httptest.Server {
	store := &mockStore{objects: make(map[string][]byte)}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(r.URL.Path, "/", 3)

		if len(parts) < 3 || parts[2] == "" {
			if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
				store.list(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		key := parts[2]
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			store.put(key, data)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			data, ok := store.get(key)
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code></Error>`))
				return
			}
			w.Write(data)
		case http.MethodDelete:
			store.del(key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
}

type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *mockStore) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *mockStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.objects[key]
	return d, ok
}

func (m *mockStore) del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

func (m *mockStore) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	maxKeys := 1000
	if v, err := strconv.Atoi(r.URL.Query().Get("max-keys")); err == nil && v > 0 {
		maxKeys = v
	}

	m.mu.Lock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	slices.Sort(keys)

	truncated := len(keys) > maxKeys
	if truncated {
		keys = keys[:maxKeys]
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	sb.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&sb, "<KeyCount>%d</KeyCount><MaxKeys>%d</MaxKeys><IsTruncated>%t</IsTruncated>", len(keys), maxKeys, truncated)
	for _, k := range keys {
		sb.WriteString("<Contents><Key>")
		xml.EscapeText(&sb, []byte(k))
		sb.WriteString("</Key><Size>0</Size></Contents>")
	}
	sb.WriteString("</ListBucketResult>")

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(sb.String()))
}

var timeBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	srv := mockS3Server()
	t.Cleanup(srv.Close)

	b, err := NewFactory(context.Background(), storage.NewOptions("s3", Defaults(), map[string]string{
		KeyBucket:          "test-bucket",
		KeyEndpoint:        srv.URL,
		KeyForcePathStyle:  "true",
		KeyAccessKeyID:     "test",
		KeySecretAccessKey: "test",
	}))
	if err != nil {
		t.Fatal(err)
	}
	return b.(*Backend)
}

func TestBackend(t *testing.T) {
	physicaltest.Run(t, newTestBackend(t))
}

func TestReplaceMovesIndex(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	base := physicaltest.Record("r-1", "Reset", timeBase, 0)
	if err := b.Put(ctx, base); err != nil {
		t.Fatal(err)
	}
	moved := physicaltest.Record("r-1", "Heartbeat", timeBase, 0)
	if err := b.Put(ctx, moved); err != nil {
		t.Fatal(err)
	}

	resets, err := b.List(ctx, physical.ListOptions{Action: "Reset"})
	if err != nil || len(resets) != 0 {
		t.Fatalf("List Reset = %d, %v", len(resets), err)
	}
	beats, err := b.List(ctx, physical.ListOptions{Action: "Heartbeat"})
	if err != nil || len(beats) != 1 {
		t.Fatalf("List Heartbeat = %d, %v", len(beats), err)
	}
}

func TestMissingBucket(t *testing.T) {
	_, err := NewFactory(context.Background(), storage.NewOptions("s3", Defaults(), nil))
	var ce *storage.ConfigError
	if !errors.As(err, &ce) || ce.Field != KeyBucket {
		t.Fatalf("error = %v, want ConfigError on bucket", err)
	}
}
