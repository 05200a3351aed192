package gitclone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Cloner materializes the pushed commit on disk. It sits behind a narrow
// interface so the pipeline treats source-control access as an external
// collaborator.
type Cloner interface {
	Checkout(ctx context.Context, repoURL, commitSHA string) (workDir string, err error)
	Cleanup(workDir string)
}

// GitCloner clones into <BaseDir>/ci-job-<sha-prefix>.
type GitCloner struct {
	BaseDir string
}

func New(baseDir string) *GitCloner {
	return &GitCloner{BaseDir: baseDir}
}

// Checkout clones the repository and checks out the exact pushed commit. The
// returned directory is owned exclusively by the calling job until Cleanup.
func (c *GitCloner) Checkout(ctx context.Context, repoURL, commitSHA string) (string, error) {
	dir, err := os.MkdirTemp(c.BaseDir, "ci-job-*")
	if err != nil {
		return "", fmt.Errorf("create checkout dir: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL: repoURL,
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("clone %s: %w", repoURL, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(commitSHA)}); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("checkout %s: %w", commitSHA, err)
	}
	return dir, nil
}

// Cleanup deletes the checkout. Callers defer it on every exit path so disk
// usage stays bounded.
func (c *GitCloner) Cleanup(workDir string) {
	if workDir != "" {
		_ = os.RemoveAll(workDir)
	}
}

// StructureSummary renders a bounded file listing of a checkout, the context
// handed to the scanner role. Directories are walked depth-first; .git and
// hidden directories are skipped; output is capped at maxEntries lines.
func StructureSummary(root string, maxEntries int) (string, error) {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	var entries []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() && (name == ".git" || (strings.HasPrefix(name, ".") && path != root)) {
			return filepath.SkipDir
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			rel += "/"
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(entries)
	if len(entries) > maxEntries {
		entries = append(entries[:maxEntries], fmt.Sprintf("... (%d more entries)", len(entries)-maxEntries))
	}
	return strings.Join(entries, "\n"), nil
}
