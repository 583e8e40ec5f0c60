// Package bundle loads and writes fixture diff bundles and incident
// directories. A bundle is a directory with a manifest.json, full file
// contents under files/, and per-file unified diffs under diffs/. Bundles
// satisfy the indexer's repository port for replay and tests.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileEntry is one changed file in a bundle.
type FileEntry struct {
	Path    string `json:"path"`
	Content string `json:"-"`
	Diff    string `json:"-"`
}

// DiffBundle is a replayable snapshot of one commit's changes.
type DiffBundle struct {
	BundleID  string      `json:"bundle_id"`
	Service   string      `json:"service"`
	CommitSHA string      `json:"commit_sha"`
	Branch    string      `json:"branch,omitempty"`
	Commits   []string    `json:"commits,omitempty"`
	Files     []FileEntry `json:"files"`
}

// LoadDir reads a bundle from disk. Deleted files legitimately have no
// entry under files/; missing diffs are an error.
func LoadDir(dir string) (*DiffBundle, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle manifest: %w", err)
	}

	var b DiffBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle manifest: %w", err)
	}

	for i := range b.Files {
		path := b.Files[i].Path

		content, err := os.ReadFile(filepath.Join(dir, "files", filepath.FromSlash(path)))
		if err == nil {
			b.Files[i].Content = string(content)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read bundle file %s: %w", path, err)
		}

		diff, err := os.ReadFile(filepath.Join(dir, "diffs", filepath.FromSlash(path)+".diff"))
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle diff for %s: %w", path, err)
		}
		b.Files[i].Diff = string(diff)
	}
	return &b, nil
}

// WriteDir persists the bundle in the layout LoadDir reads.
func (b *DiffBundle) WriteDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create bundle dir: %w", err)
	}

	manifest, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bundle manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), manifest, 0644); err != nil {
		return fmt.Errorf("failed to write bundle manifest: %w", err)
	}

	for _, f := range b.Files {
		diffPath := filepath.Join(dir, "diffs", filepath.FromSlash(f.Path)+".diff")
		if err := os.MkdirAll(filepath.Dir(diffPath), 0755); err != nil {
			return fmt.Errorf("failed to create diff dir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(diffPath, []byte(f.Diff), 0644); err != nil {
			return fmt.Errorf("failed to write diff for %s: %w", f.Path, err)
		}

		if f.Content == "" {
			continue // deleted file, no content snapshot
		}
		filePath := filepath.Join(dir, "files", filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return fmt.Errorf("failed to create file dir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(filePath, []byte(f.Content), 0644); err != nil {
			return fmt.Errorf("failed to write file %s: %w", f.Path, err)
		}
	}
	return nil
}

// entry finds a file by path.
func (b *DiffBundle) entry(path string) (FileEntry, bool) {
	for _, f := range b.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Repository port implementation. The bundle represents exactly one commit,
// so commit arguments only need to match the bundle's sha (empty matches).

// GetFile returns the post-change content of a file.
func (b *DiffBundle) GetFile(ctx context.Context, path, commit string) (string, error) {
	f, ok := b.entry(path)
	if !ok {
		return "", fmt.Errorf("file %s not in bundle %s", path, b.BundleID)
	}
	return f.Content, nil
}

// GetDiff returns the unified diff for a file.
func (b *DiffBundle) GetDiff(ctx context.Context, path, commit string) (string, error) {
	f, ok := b.entry(path)
	if !ok {
		return "", fmt.Errorf("no diff for %s in bundle %s", path, b.BundleID)
	}
	return f.Diff, nil
}

// ListChangedFiles returns the bundle's file paths.
func (b *DiffBundle) ListChangedFiles(ctx context.Context, commit string) ([]string, error) {
	paths := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// ListCommits returns the bundle's commit history, newest first, falling
// back to the single bundle commit.
func (b *DiffBundle) ListCommits(ctx context.Context, branch string, sinceDays int) ([]string, error) {
	if len(b.Commits) > 0 {
		return b.Commits, nil
	}
	if b.CommitSHA == "" {
		return nil, nil
	}
	return []string{b.CommitSHA}, nil
}
