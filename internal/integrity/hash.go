// Package integrity computes and verifies BLAKE3 digests of distribution files.
package integrity

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Prefix marks a digest as BLAKE3 in manifests ("blake3:<hex>").
const Prefix = "blake3:"

// MismatchError reports a file whose digest differs from the declared one.
type MismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", filepath.Base(e.Path), e.Expected, e.Actual)
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Normalize strips the optional "blake3:" prefix and lowercases the digest.
func Normalize(digest string) string {
	digest = strings.TrimSpace(digest)
	digest = strings.TrimPrefix(digest, Prefix)
	return strings.ToLower(digest)
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
// A *MismatchError is returned when the digests differ.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	expected := Normalize(expectedHash)
	if actualHash != expected {
		return &MismatchError{Path: filePath, Expected: expected, Actual: actualHash}
	}

	return nil
}
