// Package executor runs one nightly job for one branch: worktree reset,
// build under a scheduler adapter with a timeout, side-channel collection,
// metadata persistence, and report publishing.
package executor

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/gitsync"
	"github.com/pavpanchekha/nightly-runner/internal/metadata"
	"github.com/pavpanchekha/nightly-runner/internal/resultchan"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
	"github.com/pavpanchekha/nightly-runner/internal/scheduler"
)

// Executor drives job execution for branches.
type Executor struct {
	Log         *runlog.Logger
	Adapter     scheduler.Adapter
	LogsDir     string
	ReportsRoot string
	BaseURL     string
	ChannelDir  string // where side-channel files live; "" uses os.TempDir
	DryRun      bool
}

// Execute runs the branch's job and returns the merged result. Under a
// non-inline adapter it only submits the job description and returns;
// the re-entrant runner performs the build later.
func (e *Executor) Execute(ctx context.Context, branch *domain.Branch, logName string) (domain.RunResult, error) {
	repo := branch.Repo
	job := scheduler.Job{
		Name:      scheduler.JobName(repo.Name, branch.Filename),
		Repo:      repo.Name,
		Branch:    branch.Name,
		Dir:       branch.Dir(),
		LogPath:   filepath.Join(e.LogsDir, logName),
		LogName:   logName,
		Timeout:   repo.Timeout,
		Cores:     repo.Cores,
		Memory:    repo.Memory,
		Exclusive: repo.Exclusive,
	}

	if !e.Adapter.Inline() {
		e.Log.Printf(2, "Submitting %s to the batch queue", job.Name)
		kind, err := e.Adapter.Run(ctx, job)
		if err != nil {
			return domain.RunResult{Kind: domain.ResultFailure, LogName: logName}, err
		}
		return domain.RunResult{Kind: kind, LogName: logName, Info: map[string]string{}, Submitted: true}, nil
	}

	if err := e.prepareWorktree(branch); err != nil {
		return domain.RunResult{Kind: domain.ResultFailure, LogName: logName}, err
	}

	if e.DryRun {
		e.Log.Printf(2, "Dry run; not executing %s", job.Name)
		return domain.RunResult{Kind: domain.ResultSuccess, LogName: logName, Info: map[string]string{}}, nil
	}

	if reportDir := branch.ReportDir(); reportDir != "" {
		// Stale artifacts from a previous attempt must never leak into
		// a new report.
		if err := os.RemoveAll(reportDir); err != nil {
			return domain.RunResult{Kind: domain.ResultFailure, LogName: logName}, err
		}
		if err := os.MkdirAll(reportDir, 0755); err != nil {
			return domain.RunResult{Kind: domain.ResultFailure, LogName: logName}, err
		}
	}

	channelDir := e.ChannelDir
	if channelDir == "" {
		channelDir = os.TempDir()
	}
	channel, err := resultchan.New(channelDir)
	if err != nil {
		return domain.RunResult{Kind: domain.ResultFailure, LogName: logName}, err
	}
	defer channel.Remove()
	job.Env = append(job.Env,
		channel.Env(),
		config.EnvConfigFile+"="+os.Getenv(config.EnvConfigFile))

	e.Log.Printf(2, "Executing nice make -C %s nightly", job.Dir)
	start := time.Now()
	kind, runErr := e.Adapter.Run(ctx, job)
	elapsed := time.Since(start)
	switch kind {
	case domain.ResultSuccess:
		e.Log.Printf(1, "Successfully ran on branch %s", branch.Name)
	case domain.ResultTimeout:
		e.Log.Printf(1, "Run on branch %s timed out after %s", branch.Name, config.FormatElapsed(repo.Timeout))
	case domain.ResultKilled:
		e.Log.Printf(1, "Run on branch %s was killed", branch.Name)
	default:
		e.Log.Printf(1, "Run on branch %s failed", branch.Name)
	}
	if runErr != nil {
		e.Log.Printf(2, "Job error: %v", runErr)
	}

	// The commit is recorded no matter how the job ended: a failing job
	// is retried only when its commit changes.
	if err := metadata.WriteBranch(branch.MetadataPath(), metadata.BranchMeta{
		Commit: branch.Commit,
		Time:   float64(time.Now().Unix()),
	}); err != nil {
		return domain.RunResult{Kind: kind, LogName: logName, Elapsed: elapsed}, err
	}

	info, err := channel.Collect()
	if err != nil {
		e.Log.Printf(2, "Could not read result channel: %v", err)
		info = map[string]string{}
	}
	if e.BaseURL != "" {
		info["logurl"] = e.BaseURL + "logs/" + url.PathEscape(logName)
	}

	result := domain.RunResult{
		Kind:    kind,
		Elapsed: elapsed,
		Info:    info,
		LogName: logName,
	}
	e.publishReport(branch, &result)
	e.sizeWarnings(branch, &result)
	return result, nil
}

// prepareWorktree hard-resets the branch worktree to the resolved remote
// commit and updates nested submodules. Failures here are hard errors.
func (e *Executor) prepareWorktree(branch *domain.Branch) error {
	dir := branch.Dir()
	if _, err := gitsync.Git(dir, "reset", "--hard", branch.Commit); err != nil {
		return err
	}
	if _, err := gitsync.Git(dir, "submodule", "update", "--init", "--recursive", "--force"); err != nil {
		return err
	}
	return nil
}
