// Package steam locates and validates the game installation inside Steam
// library folders. Lookup is pure: nothing is persisted, and the disk is
// re-scanned on every launcher start.
package steam

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/andygrunwald/vdf"

	lerrors "github.com/ironpike/modloader/internal/errors"
	"github.com/ironpike/modloader/internal/logfields"
)

// Installation describes a located, validated game directory.
type Installation struct {
	// RootPath is the game installation directory.
	RootPath string
	// ExecutablePath is the verified game binary inside RootPath.
	ExecutablePath string
}

// ModsDir resolves the directory that receives extracted package files.
func (i *Installation) ModsDir(subdir string) string {
	return filepath.Join(i.RootPath, filepath.FromSlash(subdir))
}

// Locator scans Steam library registration points for an app id.
type Locator struct {
	// Roots are candidate Steam installation directories. Empty uses the
	// platform defaults.
	Roots []string
	// ExecutableRelPath is the expected game binary relative to the game root.
	ExecutableRelPath string
}

// DefaultExecutableRelPath matches the game's shipped layout.
var DefaultExecutableRelPath = filepath.Join("win32", "BattleBrothers.exe")

// NewLocator creates a locator with platform-default Steam roots.
func NewLocator() *Locator {
	return &Locator{
		Roots:             defaultSteamRoots(),
		ExecutableRelPath: DefaultExecutableRelPath,
	}
}

// defaultSteamRoots lists the usual Steam install locations per platform.
func defaultSteamRoots() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Steam"),
			filepath.Join(os.Getenv("ProgramFiles"), "Steam"),
		}
	case "darwin":
		return []string{filepath.Join(home, "Library", "Application Support", "Steam")}
	default:
		return []string{
			filepath.Join(home, ".steam", "steam"),
			filepath.Join(home, ".local", "share", "Steam"),
		}
	}
}

// Locate scans every known library for appID and validates the resolved game
// directory. It returns GameNotFound when no library claims the app, and
// InvalidInstallation when the path exists but the executable is missing.
func (l *Locator) Locate(appID int) (*Installation, error) {
	libraries := l.libraryPaths()
	if len(libraries) == 0 {
		return nil, lerrors.GameNotFound(appID)
	}

	for _, lib := range libraries {
		root, err := l.resolveApp(lib, appID)
		if err != nil {
			slog.Debug("Library does not resolve app", logfields.Path(lib), logfields.Error(err))
			continue
		}
		return l.Validate(root)
	}
	return nil, lerrors.GameNotFound(appID)
}

// Validate confirms path is a usable game installation.
func (l *Locator) Validate(path string) (*Installation, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, lerrors.InvalidInstallation(path, fmt.Errorf("game directory missing: %w", err))
	}

	exe := filepath.Join(path, l.ExecutableRelPath)
	exeInfo, err := os.Stat(exe)
	if err != nil {
		return nil, lerrors.InvalidInstallation(path, fmt.Errorf("executable missing: %w", err))
	}
	if !exeInfo.Mode().IsRegular() {
		return nil, lerrors.InvalidInstallation(path, fmt.Errorf("executable %s is not a regular file", exe))
	}

	return &Installation{RootPath: path, ExecutablePath: exe}, nil
}

// libraryPaths collects all Steam library directories reachable from the
// configured roots, including the roots themselves.
func (l *Locator) libraryPaths() []string {
	seen := make(map[string]struct{})
	var libs []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		libs = append(libs, p)
	}

	for _, root := range l.Roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		add(root)
		for _, extra := range parseLibraryFolders(filepath.Join(root, "steamapps", "libraryfolders.vdf")) {
			add(extra)
		}
	}
	return libs
}

// parseLibraryFolders reads additional library paths from libraryfolders.vdf.
// Both the old flat format ("1" "/path") and the current nested format
// ("1" { "path" "/path" }) are accepted. Parse failures yield no extras.
func parseLibraryFolders(vdfPath string) []string {
	f, err := os.Open(vdfPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	parsed, err := vdf.NewParser(f).Parse()
	if err != nil {
		slog.Debug("Failed to parse libraryfolders.vdf", logfields.Path(vdfPath), logfields.Error(err))
		return nil
	}

	folders, ok := parsed["libraryfolders"].(map[string]interface{})
	if !ok {
		// Older Steam wrote a capitalized section name.
		folders, ok = parsed["LibraryFolders"].(map[string]interface{})
		if !ok {
			return nil
		}
	}

	var paths []string
	for key, value := range folders {
		if key == "contentstatsid" || key == "TimeNextStatsReport" {
			continue
		}
		switch v := value.(type) {
		case string:
			paths = append(paths, v)
		case map[string]interface{}:
			if p, ok := v["path"].(string); ok {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

// resolveApp resolves the install directory of appID inside one library via
// its appmanifest file.
func (l *Locator) resolveApp(library string, appID int) (string, error) {
	manifestPath := filepath.Join(library, "steamapps", fmt.Sprintf("appmanifest_%d.acf", appID))
	f, err := os.Open(manifestPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	parsed, err := vdf.NewParser(f).Parse()
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", manifestPath, err)
	}

	appState, ok := parsed["AppState"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%s has no AppState section", manifestPath)
	}
	installDir, ok := appState["installdir"].(string)
	if !ok || installDir == "" {
		return "", fmt.Errorf("%s has no installdir", manifestPath)
	}

	return filepath.Join(library, "steamapps", "common", installDir), nil
}
