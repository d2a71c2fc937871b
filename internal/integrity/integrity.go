// Package integrity verifies downloaded artifacts against their declared
// digests. The check is fail-closed: no caller may proceed to extraction
// without an explicit nil error from VerifyFile.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	lerrors "github.com/ironpike/modloader/internal/errors"
)

// VerifyFile computes the SHA-256 digest of the file at path incrementally and
// compares it, case-insensitively, to expectedHex. A mismatch is reported as
// HashMismatch and is never retried against the same bytes.
func VerifyFile(path, expectedHex string) error {
	want := strings.ToLower(strings.TrimSpace(expectedHex))
	if raw, err := hex.DecodeString(want); err != nil || len(raw) != sha256.Size {
		return lerrors.ManifestMalformed(fmt.Sprintf("expected digest %q is not a sha256 hex string", expectedHex), err)
	}

	f, err := os.Open(path)
	if err != nil {
		return lerrors.FilesystemIO(path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return lerrors.FilesystemIO(path, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return lerrors.HashMismatch(path, want, got)
	}
	return nil
}

// DigestFile returns the lowercase hex SHA-256 of the file at path. Used to
// decide whether an already-downloaded archive can be reused.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", lerrors.FilesystemIO(path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", lerrors.FilesystemIO(path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
