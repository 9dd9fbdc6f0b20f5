// Copyright 2026 The Previewd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. The same session record always produces
// identical bytes on disk.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored so older
// record files remain readable after the schema grows.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

const recordExtension = ".session.cbor.zst"

// FileStore persists one zstd-compressed CBOR file per session under a
// data directory. Writes go through a temp file and rename so a crashed
// write never leaves a truncated record. Safe for concurrent use.
type FileStore struct {
	mu      sync.Mutex
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore creates the data directory if needed and returns a store
// over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("initializing zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("initializing zstd decoder: %w", err)
	}
	return &FileStore{dir: dir, encoder: encoder, decoder: decoder}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+recordExtension)
}

func (f *FileStore) write(session *Session) error {
	encoded, err := encMode.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", session.ID, err)
	}
	compressed := f.encoder.EncodeAll(encoded, nil)

	tmp, err := os.CreateTemp(f.dir, session.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing record %s: %w", session.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing record %s: %w", session.ID, err)
	}
	if err := os.Rename(tmpPath, f.path(session.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing record %s: %w", session.ID, err)
	}
	return nil
}

func (f *FileStore) read(id string) (*Session, error) {
	compressed, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("reading record %s: %w", id, err)
	}
	encoded, err := f.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing record %s: %w", id, err)
	}
	var session Session
	if err := decMode.Unmarshal(encoded, &session); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return &session, nil
}

// Create persists a new session. Fails if a record already exists.
func (f *FileStore) Create(session *Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path(session.ID)); err == nil {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	return f.write(session)
}

// Update replaces an existing session record.
func (f *FileStore) Update(session *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path(session.ID)); err != nil {
		return fmt.Errorf("updating session %s: %w", session.ID, ErrNotFound)
	}
	return f.write(session)
}

// Get returns the session with the given id.
func (f *FileStore) Get(id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(id)
}

// GetByRequestID scans all records for the most recently started session
// with the given request id.
func (f *FileStore) GetByRequestID(requestID string) (*Session, error) {
	sessions, err := f.List()
	if err != nil {
		return nil, err
	}
	var latest *Session
	for _, session := range sessions {
		if session.RequestID != requestID {
			continue
		}
		if latest == nil || session.StartedAt.After(latest.StartedAt) {
			latest = session
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	return latest, nil
}

// List returns all sessions, ordered by session id.
func (f *FileStore) List() ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("listing store directory: %w", err)
	}
	var sessions []*Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExtension) {
			continue
		}
		session, err := f.read(strings.TrimSuffix(name, recordExtension))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}
