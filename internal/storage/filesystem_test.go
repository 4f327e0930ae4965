package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorePut(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("image bytes")
	url, err := store.Put(context.Background(), "originals/user-1/x.jpg", bytes.NewReader(data), int64(len(data)), "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:8080/static/originals/user-1/x.jpg" {
		t.Fatalf("url = %q", url)
	}

	got, err := os.ReadFile(filepath.Join(dir, "originals", "user-1", "x.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("written bytes differ")
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Put(context.Background(), "../escape.txt", bytes.NewReader([]byte("x")), 1, ""); err == nil {
		t.Fatal("traversal key must be rejected")
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b.png", "a/b.png", false},
		{"/a/b.png", "a/b.png", false},
		{"./a/b.png", "a/b.png", false},
		{"a/../../b.png", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := sanitizeKey(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("sanitizeKey(%q) err = %v", tc.in, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
