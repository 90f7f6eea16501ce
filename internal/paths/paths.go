// Package paths resolves where the editor keeps its global state DB
// and per-project workspace directories, and maps conversations to the
// workspace that owns them.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvStorageDir overrides the resolved editor storage root. Used by
// tests and by hosts pointing at a copied database.
const EnvStorageDir = "CURSOR_STORAGE_DIR"

// StorageRoot returns the OS-specific Cursor user-data directory.
func StorageRoot() (string, error) {
	if dir := strings.TrimSpace(os.Getenv(EnvStorageDir)); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("paths: resolve home dir: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Cursor"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "Cursor"), nil
	default:
		return filepath.Join(home, ".config", "Cursor"), nil
	}
}

// GlobalStorePath returns the primary state DB path.
func GlobalStorePath() (string, error) {
	root, err := StorageRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "User", "globalStorage", "state.vscdb"), nil
}

// WorkspaceStorageDir returns the directory holding one subdirectory
// per opened workspace.
func WorkspaceStorageDir() (string, error) {
	root, err := StorageRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "User", "workspaceStorage"), nil
}
