// Package archive installs verified package archives into the game directory
// atomically. Extraction goes to a staging directory, files about to be
// overwritten move to a backup area, and the commit step renames staged files
// into place so the target is never observed half-written.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	lerrors "github.com/ironpike/modloader/internal/errors"
	"github.com/ironpike/modloader/internal/logfields"
)

// Installer extracts verified archives into a target directory under a
// per-package transaction.
type Installer struct {
	// txRoot holds per-transaction staging and backup directories.
	txRoot string
}

// NewInstaller creates an Installer with transaction scratch space under txRoot.
func NewInstaller(txRoot string) *Installer {
	return &Installer{txRoot: txRoot}
}

// commitHook, when set, runs before each per-file commit. Test-only failure
// injection seam.
var commitHook func(rel string) error

// transaction is the scratch state for one package's apply step. It is owned
// exclusively by the installer for its lifetime and destroyed on every exit
// path, success or failure.
type transaction struct {
	id         string
	stagingDir string
	backupDir  string
	targetDir  string

	// entries are the sanitized relative paths of every archive file, in
	// extraction order.
	entries []string
	// installed are relative paths whose staged file was renamed into target.
	installed []string
	// backedUp are relative paths moved from target into the backup area.
	backedUp []string
	// createdDirs are target-side directories introduced by this transaction,
	// recorded so rollback can remove them again.
	createdDirs []string
}

// Install extracts archivePath into targetDir. Callers must have verified the
// archive's digest first; Install never checks it.
//
// Zero files are written when any entry fails path sanitization. On failure or
// cancellation during extraction or commit, every backed-up file is restored,
// every introduced file removed, and the staging area discarded.
func (i *Installer) Install(ctx context.Context, archivePath, targetDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return lerrors.FilesystemIO(archivePath, err)
	}
	defer reader.Close()

	// Sanitize every entry before a single byte is written.
	var files []*zip.File
	var rels []string
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !f.FileInfo().Mode().IsRegular() {
			return lerrors.PathTraversalDetected(f.Name).
				WithContext("reason", "non-regular archive entry")
		}
		rel, ok := sanitizeEntryPath(f.Name)
		if !ok {
			return lerrors.PathTraversalDetected(f.Name)
		}
		files = append(files, f)
		rels = append(rels, rel)
	}

	tx := &transaction{
		id:        uuid.NewString(),
		targetDir: targetDir,
		entries:   rels,
	}
	tx.stagingDir = filepath.Join(i.txRoot, tx.id, "stage")
	tx.backupDir = filepath.Join(i.txRoot, tx.id, "backup")

	if err := os.MkdirAll(tx.stagingDir, 0o755); err != nil {
		return classifyFSError(tx.stagingDir, err)
	}
	if err := os.MkdirAll(tx.backupDir, 0o755); err != nil {
		return classifyFSError(tx.backupDir, err)
	}

	slog.Debug("Install transaction started",
		slog.String("tx_id", tx.id), logfields.Path(targetDir), slog.Int("entries", len(files)))

	if err := i.run(ctx, tx, files); err != nil {
		i.rollback(tx)
		i.destroy(tx)
		return err
	}

	i.destroy(tx)
	return nil
}

// run performs extraction, backup and commit for one transaction.
func (i *Installer) run(ctx context.Context, tx *transaction, files []*zip.File) error {
	// Extract everything into staging, checking cancellation at entry boundaries.
	for idx, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := extractEntry(f, filepath.Join(tx.stagingDir, tx.entries[idx])); err != nil {
			return err
		}
	}

	// Move aside every target file this transaction would overwrite.
	for _, rel := range tx.entries {
		targetPath := filepath.Join(tx.targetDir, rel)
		if _, err := os.Lstat(targetPath); err != nil {
			continue
		}
		backupPath := filepath.Join(tx.backupDir, rel)
		if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
			return classifyFSError(backupPath, err)
		}
		if err := os.Rename(targetPath, backupPath); err != nil {
			return classifyFSError(targetPath, err)
		}
		tx.backedUp = append(tx.backedUp, rel)
	}

	// Commit: rename each staged file into its final location. Renames within
	// one volume are atomic per file; the backup area keeps this reversible.
	for _, rel := range tx.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if commitHook != nil {
			if err := commitHook(rel); err != nil {
				return err
			}
		}
		targetPath := filepath.Join(tx.targetDir, rel)
		if err := i.ensureTargetDir(tx, filepath.Dir(targetPath)); err != nil {
			return err
		}
		if err := movePath(filepath.Join(tx.stagingDir, rel), targetPath); err != nil {
			return err
		}
		tx.installed = append(tx.installed, rel)
	}
	return nil
}

// ensureTargetDir creates dir (and parents) under the target, recording every
// directory that did not exist before so rollback can remove it.
func (i *Installer) ensureTargetDir(tx *transaction, dir string) error {
	var missing []string
	for d := dir; strings.HasPrefix(d, tx.targetDir) && d != tx.targetDir; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		}
		missing = append(missing, d)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return classifyFSError(dir, err)
	}
	tx.createdDirs = append(tx.createdDirs, missing...)
	return nil
}

// rollback restores the target directory to its pre-transaction content.
func (i *Installer) rollback(tx *transaction) {
	// Remove files this transaction introduced.
	for _, rel := range tx.installed {
		if err := os.Remove(filepath.Join(tx.targetDir, rel)); err != nil && !os.IsNotExist(err) {
			slog.Error("Rollback failed to remove introduced file",
				slog.String("tx_id", tx.id), logfields.Path(rel), logfields.Error(err))
		}
	}
	// Restore everything that was moved aside.
	for _, rel := range tx.backedUp {
		targetPath := filepath.Join(tx.targetDir, rel)
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			slog.Error("Rollback failed to recreate directory",
				slog.String("tx_id", tx.id), logfields.Path(rel), logfields.Error(err))
			continue
		}
		if err := os.Rename(filepath.Join(tx.backupDir, rel), targetPath); err != nil {
			slog.Error("Rollback failed to restore backup",
				slog.String("tx_id", tx.id), logfields.Path(rel), logfields.Error(err))
		}
	}
	// Remove directories introduced by this transaction, deepest first. A dir
	// that gained unrelated files in the meantime is left alone.
	sort.Slice(tx.createdDirs, func(a, b int) bool {
		return len(tx.createdDirs[a]) > len(tx.createdDirs[b])
	})
	for _, d := range tx.createdDirs {
		_ = os.Remove(d)
	}
}

// destroy removes the transaction's scratch space.
func (i *Installer) destroy(tx *transaction) {
	if err := os.RemoveAll(filepath.Join(i.txRoot, tx.id)); err != nil {
		slog.Warn("Failed to remove transaction directory",
			slog.String("tx_id", tx.id), logfields.Error(err))
	}
}

// SweepStale removes leftover transaction directories from interrupted runs.
// Staging and backup contents are scratch only; the target directory itself is
// always either pre- or post-commit consistent.
func (i *Installer) SweepStale() {
	entries, err := os.ReadDir(i.txRoot)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		stale := filepath.Join(i.txRoot, e.Name())
		slog.Info("Removing stale transaction directory", logfields.Path(stale))
		_ = os.RemoveAll(stale)
	}
}

// sanitizeEntryPath normalizes an archive entry name and reports whether it is
// safe to extract beneath a target root. Empty, absolute, volume-qualified and
// root-escaping names are rejected ("zip slip" defense).
func sanitizeEntryPath(name string) (string, bool) {
	// Zip entries use forward slashes, but hostile archives may smuggle
	// backslashes; treat both as separators before cleaning.
	normalized := strings.ReplaceAll(name, `\`, "/")
	if normalized == "" || strings.HasPrefix(normalized, "/") || strings.Contains(normalized, ":") {
		return "", false
	}
	cleaned := path.Clean(normalized)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return filepath.FromSlash(cleaned), true
}

// extractEntry writes one archive entry to dest inside the staging area.
func extractEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return classifyFSError(dest, err)
	}

	rc, err := f.Open()
	if err != nil {
		return lerrors.FilesystemIO(f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return classifyFSError(dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return classifyFSError(dest, err)
	}
	return nil
}

// movePath renames src to dest, falling back to copy+rename when the two live
// on different volumes.
func movePath(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return classifyFSError(dest, err)
	}

	// Cross-device: copy into a temp file beside dest, then rename within the
	// target volume to keep the per-file atomicity guarantee.
	tmp := dest + ".part"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return classifyFSError(dest, err)
	}
	return os.Remove(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return classifyFSError(src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return classifyFSError(dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return classifyFSError(dest, err)
	}
	return out.Sync()
}

// classifyFSError maps an OS error onto the filesystem error taxonomy.
func classifyFSError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return lerrors.PermissionDenied(path, err)
	case errors.Is(err, syscall.ENOSPC):
		return lerrors.DiskFull(path, err)
	default:
		return lerrors.FilesystemIO(path, err)
	}
}
