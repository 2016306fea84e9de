// Package workspace owns the version-scoped directory tree an install run
// reads and writes.
//
// Layout under the cache root:
//
//	<root>/<version>/            persistent, version keyed downloads
//	<root>/<version>/patched/    cleared at every Prepare
//	<root>/<version>/patched/lspatched/
//	<root>/<version>/signed/
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
)

const (
	patchedDirName   = "patched"
	lspatchedDirName = "lspatched"
	signedDirName    = "signed"
	lockFileName     = ".lock"
)

// ErrBusy is returned when another run holds the lock on a version subtree.
var ErrBusy = errors.New("workspace is in use by another install")

// Workspace manages the cache root.
type Workspace struct {
	root string
}

// Layout is the set of directories a single run works in.
type Layout struct {
	Root         string
	Version      string
	VersionDir   string
	PatchedDir   string
	LSPatchedDir string
	SignedDir    string
}

// New returns a workspace rooted at root. Nothing is created on disk.
func New(root string) *Workspace {
	return &Workspace{root: root}
}

// Root returns the cache root directory.
func (w *Workspace) Root() string { return w.root }

// LayoutFor computes the directory paths for versionID without touching disk.
func (w *Workspace) LayoutFor(versionID string) Layout {
	versionDir := filepath.Join(w.root, versionID)
	patched := filepath.Join(versionDir, patchedDirName)
	return Layout{
		Root:         w.root,
		Version:      versionID,
		VersionDir:   versionDir,
		PatchedDir:   patched,
		LSPatchedDir: filepath.Join(patched, lspatchedDirName),
		SignedDir:    filepath.Join(versionDir, signedDirName),
	}
}

// Prepare deletes any stale patched and signed subtrees for versionID and
// recreates them empty. Downloads in the version directory are kept.
// Calling it repeatedly always yields the same empty-directory state.
func (w *Workspace) Prepare(versionID string) (Layout, error) {
	if versionID == "" {
		return Layout{}, fmt.Errorf("version is required")
	}
	layout := w.LayoutFor(versionID)

	for _, dir := range []string{layout.PatchedDir, layout.SignedDir} {
		if err := os.RemoveAll(dir); err != nil {
			return Layout{}, fmt.Errorf("clearing %s: %w", dir, err)
		}
	}

	for _, dir := range []string{layout.LSPatchedDir, layout.SignedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return Layout{}, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	slog.Debug("workspace prepared", "version", versionID, "dir", layout.VersionDir)
	return layout, nil
}

// ClearAll removes the entire cache root, every version and download included.
func (w *Workspace) ClearAll() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("clearing cache %s: %w", w.root, err)
	}
	slog.Info("cache cleared", "dir", w.root)
	return nil
}

// Lock takes an exclusive, non-blocking lock on the version subtree.
// The returned function releases it.
func (w *Workspace) Lock(versionID string) (func() error, error) {
	versionDir := filepath.Join(w.root, versionID)
	if err := os.MkdirAll(versionDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating %s: %w", versionDir, err)
	}

	lock := flock.New(filepath.Join(versionDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("version %s: %w", versionID, ErrBusy)
	}
	return lock.Unlock, nil
}

// CachedArtifact is one persisted download.
type CachedArtifact struct {
	Version string
	Name    string
	Path    string
	Size    int64
}

// Cached lists the version-keyed APK downloads under the cache root, sorted
// by version then name. A missing root yields no artifacts.
func (w *Workspace) Cached() ([]CachedArtifact, error) {
	fsys := os.DirFS(w.root)
	matches, err := doublestar.Glob(fsys, "*/*.apk")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache: %w", err)
	}
	slices.Sort(matches)

	artifacts := make([]CachedArtifact, 0, len(matches))
	for _, m := range matches {
		info, err := fs.Stat(fsys, m)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", m, err)
		}
		if info.IsDir() {
			continue
		}
		artifacts = append(artifacts, CachedArtifact{
			Version: filepath.Dir(filepath.FromSlash(m)),
			Name:    info.Name(),
			Path:    filepath.Join(w.root, filepath.FromSlash(m)),
			Size:    info.Size(),
		})
	}
	return artifacts, nil
}
