package paths

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/usagelens/cursorusage/internal/core"
	"github.com/usagelens/cursorusage/internal/store"
)

// WorkspaceIndex maps conversation IDs to the project each workspace
// belongs to. Every piece is optional: a workspace without an index or
// without a readable DB simply contributes nothing.
type WorkspaceIndex struct {
	Dir string // the workspaceStorage directory
}

type workspaceMeta struct {
	Folder string `json:"folder"`
}

type composerIndex struct {
	AllComposers []struct {
		ComposerID string `json:"composerId"`
	} `json:"allComposers"`
}

// Projects scans every workspace directory once and returns the
// conversation→project mapping.
func (w *WorkspaceIndex) Projects(ctx context.Context) map[string]core.Project {
	if w == nil || w.Dir == "" {
		return nil
	}
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return nil
	}

	out := make(map[string]core.Project)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(w.Dir, entry.Name())
		project, ok := readWorkspaceProject(dir)
		if !ok {
			continue
		}
		for _, id := range readWorkspaceConversations(ctx, dir) {
			out[id] = project
		}
	}
	return out
}

func readWorkspaceProject(dir string) (core.Project, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "workspace.json"))
	if err != nil {
		return core.Project{}, false
	}
	var meta workspaceMeta
	if json.Unmarshal(data, &meta) != nil {
		return core.Project{}, false
	}
	path := folderPath(meta.Folder)
	if path == "" {
		return core.Project{}, false
	}
	return core.Project{Path: path, Name: filepath.Base(path)}, true
}

func readWorkspaceConversations(ctx context.Context, dir string) []string {
	db, err := store.Open(filepath.Join(dir, "state.vscdb"), store.Snapshot)
	if err != nil {
		return nil
	}
	defer db.Close()

	raw, ok := db.GetItem(ctx, "composer.composerData")
	if !ok {
		return nil
	}
	var idx composerIndex
	if json.Unmarshal([]byte(raw), &idx) != nil {
		return nil
	}
	ids := make([]string, 0, len(idx.AllComposers))
	for _, c := range idx.AllComposers {
		if c.ComposerID != "" {
			ids = append(ids, c.ComposerID)
		}
	}
	return ids
}

// folderPath turns the stored folder reference (usually a file:// URI)
// into a plain filesystem path.
func folderPath(folder string) string {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return ""
	}
	if u, err := url.Parse(folder); err == nil && u.Scheme == "file" {
		if p := u.Path; p != "" {
			return filepath.FromSlash(p)
		}
	}
	if strings.HasPrefix(folder, "file://") {
		return filepath.FromSlash(strings.TrimPrefix(folder, "file://"))
	}
	return folder
}
