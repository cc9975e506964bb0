// Package gitsync brings a repository's local checkout in sync with its
// remote and materializes one isolated worktree per branch. A single
// shared clone per repository serves as the object store; each branch
// gets its own detached worktree so file state never collides across
// branches.
package gitsync

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
)

// Syncer clones, fetches, and prunes repository state on disk.
type Syncer struct {
	log    *runlog.Logger
	dryRun bool
}

// New creates a Syncer.
func New(log *runlog.Logger, dryRun bool) *Syncer {
	return &Syncer{log: log, dryRun: dryRun}
}

// Load syncs repo and populates repo.Branches in discovery order: the
// default branch first, then the remaining remote branches as git lists
// them. Safe to call every cycle; it no-ops when nothing changed.
func (s *Syncer) Load(repo *domain.Repository) error {
	if err := os.MkdirAll(repo.Dir, 0755); err != nil {
		return err
	}

	checkout := repo.CheckoutDir()
	if err := s.ensureCheckout(repo, checkout); err != nil {
		return err
	}

	names, err := s.branchNames(repo, checkout)
	if err != nil {
		return err
	}

	repo.Branches = repo.Branches[:0]
	for _, name := range names {
		branch := domain.NewBranch(repo, name)
		if branch.Commit, err = Git(checkout, "rev-parse", "origin/"+name); err != nil {
			return fmt.Errorf("resolving branch %s: %w", name, err)
		}
		if err := s.materialize(branch, checkout); err != nil {
			return err
		}
		repo.Branches = append(repo.Branches, branch)
	}

	return s.clean(repo, checkout)
}

func (s *Syncer) ensureCheckout(repo *domain.Repository, checkout string) error {
	if _, err := os.Stat(filepath.Join(checkout, ".git")); err != nil {
		s.log.Printf(2, "Cloning %s", repo.URL)
		cmd := exec.Command("git", "clone", "--recursive", repo.URL, checkout)
		if out, err := cmd.CombinedOutput(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return &CommandError{Cmd: "git clone " + repo.URL, ExitCode: exitErr.ExitCode(), Output: string(out)}
			}
			return err
		}
		return nil
	}
	s.log.Printf(2, "Fetching %s", repo.Name)
	_, err := Git(checkout, "fetch", "origin", "--prune")
	return err
}

// branchNames returns the branches to track: the configured list, or the
// remote branches enumerated from the checkout. The default branch always
// comes first and HEAD pseudo-entries are skipped.
func (s *Syncer) branchNames(repo *domain.Repository, checkout string) ([]string, error) {
	var discovered []string
	if len(repo.ConfiguredBranches) > 0 {
		discovered = repo.ConfiguredBranches
	} else {
		out, err := Git(checkout, "branch", "-r")
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(out, "\n") {
			name := strings.TrimSpace(line)
			if i := strings.Index(name, "/"); i >= 0 {
				name = name[i+1:]
			}
			if name == "" || strings.HasPrefix(name, "HEAD") {
				continue
			}
			discovered = append(discovered, name)
		}
	}

	names := []string{repo.MainBranch}
	for _, n := range discovered {
		if n != repo.MainBranch {
			names = append(names, n)
		}
	}
	return names, nil
}

// materialize ensures the branch has a detached worktree sharing the
// checkout's object store.
func (s *Syncer) materialize(branch *domain.Branch, checkout string) error {
	dir := branch.Dir()
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	s.log.Printf(2, "Creating worktree for branch %s", branch.Name)
	if _, err := Git(checkout, "worktree", "add", "--detach", dir, "origin/"+branch.Name); err != nil {
		return err
	}
	return nil
}

// clean deletes anything under the repository root that is neither an
// ignored path nor a recognized worktree/metadata path, so branches
// deleted upstream do not grow disk use without bound. Worktrees are
// disposable cache and go away even in dry-run mode; other strays are
// only reported then.
func (s *Syncer) clean(repo *domain.Repository, checkout string) error {
	expected := map[string]bool{filepath.Base(checkout): true}
	for _, p := range repo.Ignore {
		expected[filepath.Clean(p)] = true
	}
	known := map[string]bool{}
	for _, b := range repo.Branches {
		known[b.Filename] = true
		expected[b.Filename] = true
		expected[b.Filename+".json"] = true
	}

	entries, err := os.ReadDir(repo.Dir)
	if err != nil {
		return err
	}
	pruned := false
	for _, e := range entries {
		if expected[e.Name()] {
			continue
		}
		full := filepath.Join(repo.Dir, e.Name())
		stale := e.IsDir() && isWorktree(full)
		if stale {
			s.log.Printf(2, "Removing stale worktree %s", full)
			if err := os.RemoveAll(full); err != nil {
				return err
			}
			pruned = true
			continue
		}
		if s.dryRun {
			s.log.Printf(2, "Would delete unknown file %s", full)
			continue
		}
		s.log.Printf(2, "Deleting unknown file %s", full)
		if err := os.RemoveAll(full); err != nil {
			return err
		}
	}
	if pruned {
		Git(checkout, "worktree", "prune")
	}
	return nil
}

// isWorktree reports whether dir looks like a git worktree (a .git file
// pointing back at the shared object store).
func isWorktree(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && !info.IsDir()
}

// WriteGitExclude records the repository directories in the runner
// root's .git/info/exclude, when that root is itself a git checkout.
func WriteGitExclude(root string, repos []*domain.Repository) error {
	infoDir := filepath.Join(root, ".git", "info")
	if _, err := os.Stat(infoDir); err != nil {
		return nil
	}
	var b strings.Builder
	for _, repo := range repos {
		b.WriteString(filepath.Base(repo.Dir))
		b.WriteString("\n")
	}
	return os.WriteFile(filepath.Join(infoDir, "exclude"), []byte(b.String()), 0644)
}
