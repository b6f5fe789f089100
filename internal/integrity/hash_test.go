package integrity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyFileHash(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "run.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho ok\n"), 0755); err != nil {
		t.Fatal(err)
	}

	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}
	if len(hash) != 64 {
		t.Fatalf("len(hash) = %d, want 64", len(hash))
	}

	if err := VerifyFileHash(path, hash); err != nil {
		t.Fatalf("VerifyFileHash() bare digest: %v", err)
	}
	if err := VerifyFileHash(path, Prefix+hash); err != nil {
		t.Fatalf("VerifyFileHash() prefixed digest: %v", err)
	}
}

func TestVerifyFileHashMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "run.sh")
	if err := os.WriteFile(path, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	err = VerifyFileHash(path, hash)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("VerifyFileHash() error = %v, want *MismatchError", err)
	}
	if mismatch.Expected != hash {
		t.Errorf("Expected = %s, want %s", mismatch.Expected, hash)
	}
}

func TestVerifyFileHashMissingFile(t *testing.T) {
	err := VerifyFileHash(filepath.Join(t.TempDir(), "missing"), "00")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	var mismatch *MismatchError
	if errors.As(err, &mismatch) {
		t.Fatal("missing file should not be reported as a mismatch")
	}
}
