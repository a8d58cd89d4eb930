package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ChangeEvent is broadcast to every subscriber after a successful replace.
type ChangeEvent struct {
	Version          int64
	PreviousChecksum string
	NewChecksum      string
	ChangedSections  []string
}

// ReloadRequest is the body of the admin POST /v0/config endpoint.
type ReloadRequest struct {
	Config   string // raw YAML text; empty means "reload existing file, don't rewrite"
	Validate bool
	Reload   bool
}

// Store holds the current Snapshot behind an atomic pointer and serializes
// writers. Many concurrent readers call Current(); at most one writer
// proceeds through Replace/Apply at a time (mu).
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	version atomic.Int64

	mu       sync.Mutex // serializes writers
	checksum string     // of the on-disk file backing the current snapshot

	subMu sync.Mutex
	subs  map[chan ChangeEvent]struct{}
}

// NewStore loads path, builds the initial snapshot at version 1, and
// returns a ready Store.
func NewStore(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config store: read %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, subs: make(map[chan ChangeEvent]struct{})}
	s.version.Store(1)
	snap := BuildSnapshot(cfg, 1)
	s.current.Store(snap)
	s.checksum = checksumOf(raw)
	return s, nil
}

// Current returns the currently published Snapshot. The returned handle's
// Version is constant for its lifetime regardless of concurrent Replace
// calls (snapshot-immutability invariant, SPEC_FULL.md §8).
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Apply validates req.Config (or, when it is empty, the current backing
// file). A non-empty req.Config atomically rewrites the backing file (temp
// file + SHA-256 checksum + rename) whatever req.Reload says. If req.Reload
// is true, Apply then swaps in the new in-memory snapshot, emitting exactly
// one ChangeEvent; if it is false, the snapshot is left untouched until a
// subsequent reload call and Apply returns a nil event -- per SPEC_FULL.md
// §4.1's "reload=false" semantics.
func (s *Store) Apply(ctx context.Context, req ReloadRequest) (*ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw []byte
	var err error
	if req.Config != "" {
		raw = []byte(req.Config)
	} else {
		raw, err = os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("config store: read %s: %w", s.path, err)
		}
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config store: validate: %w", err)
	}
	if req.Validate && !req.Reload && req.Config == "" {
		return nil, nil // pure validate-only call against the existing file
	}

	if req.Config != "" {
		if err := s.writeAtomic(raw); err != nil {
			return nil, err
		}
	}

	if !req.Reload {
		return nil, nil
	}

	prev := s.current.Load()
	nextVersion := s.version.Add(1)
	next := BuildSnapshot(cfg, nextVersion)
	s.current.Store(next)

	prevChecksum := s.checksum
	newChecksum := checksumOf(raw)
	s.checksum = newChecksum

	event := ChangeEvent{
		Version:          nextVersion,
		PreviousChecksum: prevChecksum,
		NewChecksum:      newChecksum,
		ChangedSections:  changedSections(prev, next),
	}
	s.broadcast(event)
	return &event, nil
}

// writeAtomic writes data to a temp file beside s.path, then renames it into
// place, so readers of s.path never observe a partial write.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".plexus-config-*.tmp")
	if err != nil {
		return fmt.Errorf("config store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("config store: rename into place: %w", err)
	}
	return nil
}

// Raw returns the current contents of the backing config file, for the
// admin GET /v0/config endpoint.
func (s *Store) Raw() ([]byte, error) {
	return os.ReadFile(s.path)
}

// Checksum returns the SHA-256 checksum of the file backing the current
// snapshot, and the snapshot's version, for GET /v0/config/status.
func (s *Store) Checksum() (checksum string, version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checksum, s.version.Load()
}

// Subscribe registers a channel to receive ChangeEvents. The returned
// unsubscribe function must be called when the subscriber (an SSE client on
// GET /v0/events) disconnects.
func (s *Store) Subscribe() (ch chan ChangeEvent, unsubscribe func()) {
	ch = make(chan ChangeEvent, 4)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
		close(ch)
	}
}

func (s *Store) broadcast(event ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- event:
		default: // slow subscriber; drop rather than block the writer
		}
	}
}
