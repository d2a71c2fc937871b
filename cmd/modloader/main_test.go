package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeGameFixture lays out a minimal valid installation for game_path mode.
func writeGameFixture(t *testing.T) string {
	t.Helper()
	gameDir := t.TempDir()
	exe := filepath.Join(gameDir, "win32", "BattleBrothers.exe")
	require.NoError(t, os.MkdirAll(filepath.Dir(exe), 0o755))
	require.NoError(t, os.WriteFile(exe, []byte("exe"), 0o755))
	return gameDir
}

func writeCLIConfig(t *testing.T, gameDir, manifestURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
manifest_url: %s
game_path: %s
data_dir: %s
download:
  retries: 0
  initial_delay: 1ms
  max_delay: 1ms
`, manifestURL, gameDir, filepath.Join(dir, "data"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestApplySucceedsDespitePackageFailure(t *testing.T) {
	// One manifest entry whose download URL answers 404: the package fails,
	// the cycle itself does not.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manifest.json" {
			http.NotFound(w, r)
			return
		}
		manifest := fmt.Sprintf(`{"mods":[{"id":"broken","version":"1.0.0","url":"%s/mods/broken.zip","sha256":"%s","size":1}]}`,
			"http://"+r.Host, strings.Repeat("ab", 32))
		_, _ = w.Write([]byte(manifest))
	}))
	defer srv.Close()

	gameDir := writeGameFixture(t)
	CLI.Config = writeCLIConfig(t, gameDir, srv.URL+"/manifest.json")

	require.NoError(t, runApply(false))
}

func TestApplyFailsOnManifestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	gameDir := writeGameFixture(t)
	CLI.Config = writeCLIConfig(t, gameDir, srv.URL+"/manifest.json")

	require.Error(t, runApply(false))
}
