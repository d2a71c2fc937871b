// Package manifest fetches and validates the remote mod catalog.
package manifest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	lerrors "github.com/ironpike/modloader/internal/errors"
)

// Entry describes one downloadable mod package. Entries are read-only to all
// downstream components.
type Entry struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Version     string `json:"version"`
	DownloadURL string `json:"url"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size"`
}

// document is the wire format of the remote manifest.
type document struct {
	Mods []Entry `json:"mods"`
}

// Parse decodes and validates a manifest document. Any invalid entry aborts
// the whole parse: a partially-trusted manifest is never used.
func Parse(data []byte) ([]Entry, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, lerrors.ManifestMalformed("invalid JSON", err)
	}

	seen := make(map[string]struct{}, len(doc.Mods))
	for i := range doc.Mods {
		e := &doc.Mods[i]
		if err := validateEntry(e); err != nil {
			return nil, err
		}
		if _, dup := seen[e.ID]; dup {
			return nil, lerrors.DuplicateID(e.ID)
		}
		seen[e.ID] = struct{}{}

		if _, ok := parseVersion(e.Version); !ok {
			// Accepted, but such entries compare as always-older during planning.
			slog.Warn("Manifest entry has malformed version string",
				slog.String("mod_id", e.ID), slog.String("version", e.Version))
		}
	}
	return doc.Mods, nil
}

// validateEntry enforces the structural invariants of a single entry.
func validateEntry(e *Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return lerrors.ManifestMalformed("entry with empty id", nil)
	}
	if strings.TrimSpace(e.DownloadURL) == "" {
		return lerrors.ManifestMalformed(fmt.Sprintf("entry %q has no download url", e.ID), nil)
	}
	if e.SizeBytes < 0 {
		return lerrors.ManifestMalformed(fmt.Sprintf("entry %q has negative size", e.ID), nil)
	}
	digest := strings.ToLower(strings.TrimSpace(e.SHA256))
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != 32 {
		return lerrors.ManifestMalformed(fmt.Sprintf("entry %q has invalid sha256 digest", e.ID), err)
	}
	e.SHA256 = digest
	return nil
}

// parseVersion splits a semantic-style version into numeric segments.
// Returns ok=false for anything that is not dot-separated decimal numbers.
func parseVersion(s string) ([]int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return nil, false
	}
	parts := strings.Split(s, ".")
	segs := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, false
		}
		segs[i] = n
	}
	return segs, true
}

// CompareVersions orders two version strings segment-wise numerically.
// Returns -1 if a < b, 0 if equal, 1 if a > b. A malformed version compares
// as older than any well-formed one; two malformed versions compare equal.
func CompareVersions(a, b string) int {
	av, aok := parseVersion(a)
	bv, bok := parseVersion(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	for i := 0; i < len(av) || i < len(bv); i++ {
		var x, y int
		if i < len(av) {
			x = av[i]
		}
		if i < len(bv) {
			y = bv[i]
		}
		if x < y {
			return -1
		}
		if x > y {
			return 1
		}
	}
	return 0
}
