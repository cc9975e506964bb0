package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Repository is one configured repository. Identity fields are fixed at
// config load; Branches, Runnable, and FatalError are populated while a
// cycle is in progress.
type Repository struct {
	Name string // short name, last path segment of the config section
	URL  string // git remote
	Dir  string // local root directory holding worktrees + metadata

	MainBranch         string
	ConfiguredBranches []string // explicit branch list; empty means discover
	Baseline           []string
	Always             []string
	Never              []string
	Ignore             []string // paths under Dir the cleaner must never delete

	GitHub  string // "owner/repo", enables PR badges
	Timeout time.Duration

	ReportSubdir string // relative to the branch worktree
	ImageFile    string // relative to ReportSubdir
	GzipGlobs    []string

	WarnReport int64 // bytes; 0 disables
	WarnLog    int64
	WarnBranch int64

	Cores     int // 0 means all
	Memory    int64
	Exclusive bool

	AptPackages []string
	SlackURL    string // resolved webhook, empty disables notification
	Scheduler   string // "direct" or "batch"

	// Populated during a cycle.
	RunAll     bool // every branch is runnable, skip change detection
	RunAllNote string
	Branches   []*Branch
	Runnable   []*Branch
	FatalError string
}

// CheckoutDir is the shared clone used as the object store for worktree
// creation. It lives under the repository root so the cleaner can
// recognize it.
func (r *Repository) CheckoutDir() string {
	return filepath.Join(r.Dir, ".checkout")
}

// Branch returns the branch with the given name, or nil.
func (r *Repository) Branch(name string) *Branch {
	for _, b := range r.Branches {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Branch is one remote branch of a repository, with its on-disk worktree
// and metadata paths derived from a filesystem-safe escaped name.
type Branch struct {
	Repo     *Repository
	Name     string
	Filename string // escaped name, safe as a path component

	Badges []Badge
	Commit string // resolved remote commit, set during sync

	Result *RunResult // last result this cycle, nil until run
}

// NewBranch creates a branch record with derived paths for repo.
func NewBranch(repo *Repository, name string) *Branch {
	return &Branch{
		Repo:     repo,
		Name:     name,
		Filename: EscapeBranch(name),
	}
}

// Dir is the branch's worktree directory.
func (b *Branch) Dir() string {
	return filepath.Join(b.Repo.Dir, b.Filename)
}

// MetadataPath is the branch's persistent metadata record.
func (b *Branch) MetadataPath() string {
	return filepath.Join(b.Repo.Dir, b.Filename+".json")
}

// ReportDir is the branch's report directory, or "" if the repository
// does not declare one.
func (b *Branch) ReportDir() string {
	if b.Repo.ReportSubdir == "" {
		return ""
	}
	return filepath.Join(b.Dir(), b.Repo.ReportSubdir)
}

// HasBadge reports whether the branch carries the given badge.
func (b *Branch) HasBadge(badge Badge) bool {
	for _, bd := range b.Badges {
		if bd == badge {
			return true
		}
	}
	return false
}

// AddBadge attaches a badge if not already present.
func (b *Branch) AddBadge(badge Badge) {
	if !b.HasBadge(badge) {
		b.Badges = append(b.Badges, badge)
	}
}

// EscapeBranch maps a branch name to a filesystem-safe filename.
// "%" escapes first so the mapping is reversible.
func EscapeBranch(name string) string {
	name = strings.ReplaceAll(name, "%", "_25")
	return strings.ReplaceAll(name, "/", "_2f")
}

// RunResult is the transient outcome of one job.
type RunResult struct {
	Kind     ResultKind
	Elapsed  time.Duration
	Info     map[string]string // side-channel fields plus derived url/img/logurl
	LogName  string
	Warnings []Warning

	// Submitted marks a job that was only handed to an external queue.
	// The real outcome is produced and reported later by the re-entrant
	// runner, so a submitted result is excluded from run summaries and
	// history.
	Submitted bool
}
