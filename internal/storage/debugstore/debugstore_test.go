package debugstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteCreatesArtifactUnderRequestDir(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := s.Write(ctx, "req-1", at, ClientRequest, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}

	dirs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 1 {
		t.Fatalf("dirs = %v, want 1 entry", dirs)
	}
	data, err := os.ReadFile(filepath.Join(s.rootDir, dirs[0], ClientRequest))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content = %q", data)
	}
}

func TestWriteMultipleArtifactsShareDirectory(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	at := time.Now()

	if err := s.Write(ctx, "req-2", at, ClientRequest, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, "req-2", at, ProviderResponse, []byte("b")); err != nil {
		t.Fatal(err)
	}

	dirs, _ := s.List()
	if len(dirs) != 1 {
		t.Fatalf("expected artifacts to share one directory, got %v", dirs)
	}
}

func TestPurgeRemovesOlderThanCutoff(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	if err := s.Write(ctx, "old-req", old, ClientRequest, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, "fresh-req", fresh, ClientRequest, []byte("x")); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Purge(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	dirs, _ := s.List()
	if len(dirs) != 1 {
		t.Fatalf("dirs after purge = %v, want 1 remaining", dirs)
	}
}

func TestListSortedOldestFirst(t *testing.T) {
	t.Parallel()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	if err := s.Write(ctx, "b", t2, ClientRequest, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, "a", t1, ClientRequest, []byte("x")); err != nil {
		t.Fatal(err)
	}

	dirs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 || dirs[0][:8] != "20260101" {
		t.Errorf("dirs = %v, want t1 first", dirs)
	}
}
