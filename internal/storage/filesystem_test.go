package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePutAndOverwrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}

	url, err := store.Put(context.Background(), "users/u1/jobs/j1/result.png", "image/png", []byte("first"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if url != "http://localhost:8080/static/users/u1/jobs/j1/result.png" {
		t.Fatalf("unexpected url: %s", url)
	}

	// Same key must overwrite, not append.
	if _, err := store.Put(context.Background(), "users/u1/jobs/j1/result.png", "image/png", []byte("second")); err != nil {
		t.Fatalf("Put overwrite error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "users", "u1", "jobs", "j1", "result.png"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwrite, got %q", data)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if _, err := store.Put(context.Background(), "../escape.png", "image/png", []byte("x")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
	if _, err := store.Put(context.Background(), "", "image/png", []byte("x")); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}
