// Package scheduler abstracts how a nightly job is actually launched:
// either spawned directly as an isolated child of this process, or
// submitted to an external batch scheduler and run later by a separate
// runner invocation. Both variants speak the same result vocabulary.
package scheduler

import (
	"context"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// Job is a self-contained description of one build to launch.
type Job struct {
	Name    string // encodes repository + branch, used as the queue job name
	Repo    string
	Branch  string
	Dir     string // worktree to build in
	LogPath string // combined stdout/stderr destination
	LogName string
	Timeout time.Duration
	Env     []string // extra environment entries

	// Resource request, for the batch variant.
	Cores     int
	Memory    int64
	Exclusive bool
}

// Adapter launches jobs under one scheduling strategy.
type Adapter interface {
	// Inline reports whether Run executes the job to completion in this
	// process. When false, Run only submits the job and the executor
	// skips the local build pipeline.
	Inline() bool

	// Run launches the job. For inline adapters it blocks until the job
	// finishes, the timeout expires, or ctx is cancelled.
	Run(ctx context.Context, job Job) (domain.ResultKind, error)

	// Queued reports whether a job for the branch is already pending.
	Queued(repo, branch string) (bool, error)
}

// JobName builds the queue job name for a repository/branch pair.
func JobName(repo, branchFile string) string {
	return "nightly:" + repo + ":" + branchFile
}
