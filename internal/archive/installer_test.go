package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "github.com/ironpike/modloader/internal/errors"
)

// buildZip writes a zip archive with the given name->content entries.
func buildZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	path := filepath.Join(t.TempDir(), "mod.zip")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// snapshot returns relative path -> content for every file under root.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func newInstaller(t *testing.T) (*Installer, string) {
	t.Helper()
	txRoot := filepath.Join(t.TempDir(), "tx")
	return NewInstaller(txRoot), txRoot
}

func TestInstallIntoEmptyTarget(t *testing.T) {
	archivePath := buildZip(t, map[string]string{
		"mod_msu/config.nut":         "::MSU <- {}",
		"mod_msu/hooks/registry.nut": "hooks",
		"readme.txt":                 "read me",
	})
	target := t.TempDir()

	inst, txRoot := newInstaller(t)
	require.NoError(t, inst.Install(context.Background(), archivePath, target))

	assert.Equal(t, map[string]string{
		filepath.Join("mod_msu", "config.nut"):          "::MSU <- {}",
		filepath.Join("mod_msu", "hooks", "registry.nut"): "hooks",
		"readme.txt": "read me",
	}, snapshot(t, target))

	// Transaction scratch space is destroyed on success.
	entries, err := os.ReadDir(txRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInstallOverwritesWithBackupSemantics(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "mod_msu"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "mod_msu", "config.nut"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(target, "unrelated.txt"), []byte("keep"), 0o644))

	archivePath := buildZip(t, map[string]string{"mod_msu/config.nut": "new"})

	inst, _ := newInstaller(t)
	require.NoError(t, inst.Install(context.Background(), archivePath, target))

	got := snapshot(t, target)
	assert.Equal(t, "new", got[filepath.Join("mod_msu", "config.nut")])
	assert.Equal(t, "keep", got["unrelated.txt"], "files outside the package must be untouched")
}

func TestInstallIdempotent(t *testing.T) {
	archivePath := buildZip(t, map[string]string{"a/b.txt": "content"})
	target := t.TempDir()

	inst, _ := newInstaller(t)
	require.NoError(t, inst.Install(context.Background(), archivePath, target))
	first := snapshot(t, target)
	require.NoError(t, inst.Install(context.Background(), archivePath, target))

	assert.Equal(t, first, snapshot(t, target))
}

func TestZipSlipWritesNothing(t *testing.T) {
	cases := []string{
		"../evil.txt",
		"a/../../evil.txt",
		"/etc/evil.txt",
		`..\evil.txt`,
		`C:\evil.txt`,
		"",
	}
	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			if name == "" {
				t.Skip("zip writer cannot create empty entry names")
			}
			archivePath := buildZip(t, map[string]string{
				"legit.txt": "fine",
				name:        "evil",
			})
			target := t.TempDir()

			inst, _ := newInstaller(t)
			err := inst.Install(context.Background(), archivePath, target)
			require.Error(t, err)
			assert.True(t, lerrors.IsCategory(err, lerrors.CategoryFilesystem))
			assert.Empty(t, snapshot(t, target), "zero files may be written for a hostile archive")
		})
	}
}

func TestSanitizeEntryPath(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"mod/config.nut", true},
		{"mod/nested/../config.nut", true}, // normalizes inside root
		{"../escape.txt", false},
		{"a/../../escape.txt", false},
		{"/absolute.txt", false},
		{`C:\windows.txt`, false},
		{"..", false},
		{".", false},
		{"", false},
	}
	for _, c := range cases {
		_, ok := sanitizeEntryPath(c.name)
		assert.Equal(t, c.ok, ok, "entry %q", c.name)
	}
}

func TestRollbackRestoresTargetExactly(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(target, "mod_msu"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "mod_msu", "config.nut"), []byte("v1"), 0o644))
	before := snapshot(t, target)

	archivePath := buildZip(t, map[string]string{
		"mod_msu/config.nut": "v2",
		"mod_msu/new.nut":    "brand new",
		"other/file.txt":     "x",
	})

	// Fail the commit after the first file has been moved into place.
	var committed int
	commitHook = func(rel string) error {
		committed++
		if committed > 1 {
			return errors.New("injected commit failure")
		}
		return nil
	}
	t.Cleanup(func() { commitHook = nil })

	inst, txRoot := newInstaller(t)
	err := inst.Install(context.Background(), archivePath, target)
	require.Error(t, err)

	assert.Equal(t, before, snapshot(t, target), "target must be byte-identical after rollback")

	entries, rerr := os.ReadDir(txRoot)
	require.NoError(t, rerr)
	assert.Empty(t, entries, "staging and backup must be destroyed on failure")
}

func TestCancellationRollsBack(t *testing.T) {
	target := t.TempDir()
	before := snapshot(t, target)

	entries := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		entries["dir/"+n+".txt"] = n
	}
	archivePath := buildZip(t, entries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inst, _ := newInstaller(t)
	err := inst.Install(ctx, archivePath, target)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, snapshot(t, target))
}

func TestInstallRejectsCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))

	inst, _ := newInstaller(t)
	err := inst.Install(context.Background(), path, t.TempDir())
	require.Error(t, err)
	assert.True(t, lerrors.IsCategory(err, lerrors.CategoryFilesystem))
}

func TestSweepStaleRemovesLeftoverTransactions(t *testing.T) {
	inst, txRoot := newInstaller(t)
	stale := filepath.Join(txRoot, "0b7a3f1e-9c3c-4a89-9a57-0d6c2f6f3b7e")
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "stage"), 0o755))
	keep := filepath.Join(txRoot, "not-a-uuid")
	require.NoError(t, os.MkdirAll(keep, 0o755))

	inst.SweepStale()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err, "non-transaction directories are left alone")
}
