// Package coordinator drives one full nightly cycle: it acquires the
// single-instance run lock, syncs and plans every repository, executes
// the combined job list sequentially, keeps the lock record's live
// status current, and notifies each repository exactly once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/gitsync"
	"github.com/pavpanchekha/nightly-runner/internal/history"
	"github.com/pavpanchekha/nightly-runner/internal/metadata"
	"github.com/pavpanchekha/nightly-runner/internal/notify"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
)

// Loader syncs a repository's on-disk state (gitsync.Syncer).
type Loader interface {
	Load(*domain.Repository) error
}

// JobPlanner selects and orders runnable branches (planner.Planner).
type JobPlanner interface {
	Plan(*domain.Repository) ([]*domain.Branch, error)
}

// JobExecutor runs one branch job (executor.Executor).
type JobExecutor interface {
	Execute(ctx context.Context, branch *domain.Branch, logName string) (domain.RunResult, error)
}

// Coordinator performs nightly cycles.
type Coordinator struct {
	Cfg     *config.Config
	Repos   []*domain.Repository
	Log     *runlog.Logger
	LogPath string // the run log's own path, recorded in the lock

	Sync     Loader
	Planner  JobPlanner
	Executor func(*domain.Repository) JobExecutor
	Notifier func(*domain.Repository) notify.Notifier
	History  *history.Store // optional

	// CheckApt reports whether any of the packages would be updated.
	// Nil disables the run-all trigger. InstallApt applies the pending
	// updates before the run-all; nil skips installation.
	CheckApt   func(pkgs []string) (bool, error)
	InstallApt func(pkgs []string) error

	// Cooldown is the pause between jobs; PollInterval is the lock
	// contention retry period. Both default when zero.
	Cooldown     time.Duration
	PollInterval time.Duration
}

const (
	defaultCooldown     = 30 * time.Second
	defaultPollInterval = 15 * time.Minute
)

// Run performs one full cycle. It returns after every repository has
// been attempted and the lock released, or immediately when the lock is
// held and waiting is disabled (a no-op cycle, not an error).
func (c *Coordinator) Run(ctx context.Context) error {
	status := metadata.RunStatus{
		RunID:  uuid.NewString(),
		PID:    os.Getpid(),
		Start:  time.Now(),
		Config: c.Cfg.Path,
		Log:    c.LogPath,
	}

	lock, err := c.acquire(ctx, status)
	if err != nil {
		return err
	}
	if lock == nil {
		return nil // lock held elsewhere, waiting disabled
	}
	defer lock.Release()

	if c.Cfg.Defaults.DryRun {
		c.Log.Printf(0, "Running in dry-run mode. No nightlies will be executed.")
	}
	if err := gitsync.WriteGitExclude(".", c.Repos); err != nil {
		c.Log.Printf(0, "Could not update .git/info/exclude: %v", err)
	}

	// One broken repository must never block the others: preparation
	// failures become per-repository fatal notifications and the cycle
	// moves on.
	for _, repo := range c.Repos {
		c.Log.Printf(0, "Beginning nightly run for %s", repo.Name)
		if err := c.prepare(repo); err != nil {
			repo.FatalError = fatalMessage(err)
			c.Log.Printf(0, "%s", repo.FatalError)
			c.postFatal(repo)
		}
	}

	var jobs []*domain.Branch
	for _, repo := range c.Repos {
		jobs = append(jobs, repo.Runnable...)
	}
	c.runJobs(ctx, lock, status, jobs)

	lock.Update(status.Idle())
	c.Log.Printf(0, "Finished nightly run for today")
	return nil
}

// acquire attempts the atomic lock create, polling on contention when
// configured. A nil lock with nil error means another instance runs.
func (c *Coordinator) acquire(ctx context.Context, status metadata.RunStatus) (*metadata.Lock, error) {
	poll := c.PollInterval
	if poll == 0 {
		poll = defaultPollInterval
	}
	for {
		lock, err := metadata.AcquireLock(c.Cfg.Defaults.LockPath, status)
		if err == nil {
			return lock, nil
		}
		var held *metadata.ErrLockHeld
		if !errors.As(err, &held) {
			return nil, err
		}
		if held.OwnerPID != 0 {
			c.Log.Printf(0, "Nightly already running on pid %d", held.OwnerPID)
		} else {
			c.Log.Printf(0, "Nightly already running")
		}
		if !c.Cfg.Defaults.WaitOnLock {
			return nil, nil
		}
		select {
		case <-time.After(poll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// prepare runs the apt check, sync, and plan phases for one repository.
func (c *Coordinator) prepare(repo *domain.Repository) error {
	if c.CheckApt != nil && len(repo.AptPackages) > 0 {
		c.Log.Printf(1, "Checking for updates to apt packages")
		updated, err := c.CheckApt(repo.AptPackages)
		if err != nil {
			return err
		}
		if updated {
			repo.RunAll = true
			repo.RunAllNote = "a package updated"
			if c.InstallApt != nil && !c.Cfg.Defaults.DryRun {
				c.Log.Printf(1, "Installing updated apt packages")
				if err := c.InstallApt(repo.AptPackages); err != nil {
					return err
				}
			}
		}
	}
	if err := c.Sync.Load(repo); err != nil {
		return err
	}
	runnable, err := c.Planner.Plan(repo)
	if err != nil {
		return err
	}
	repo.Runnable = runnable
	if len(runnable) == 0 {
		c.Log.Printf(1, "No branches to run")
	}
	return nil
}

// runJobs executes the flat job list in planner order, updating the lock
// record before each job and notifying each repository after its last
// job completes.
func (c *Coordinator) runJobs(ctx context.Context, lock *metadata.Lock, status metadata.RunStatus, jobs []*domain.Branch) {
	remaining := map[*domain.Repository]int{}
	for _, br := range jobs {
		remaining[br.Repo]++
	}

	cooldown := c.Cooldown
	if cooldown == 0 {
		cooldown = defaultCooldown
	}

	for i, br := range jobs {
		repo := br.Repo
		if i > 0 && !c.Cfg.Defaults.DryRun {
			select {
			case <-time.After(cooldown):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			c.killRemaining(jobs[i:], remaining)
			return
		}

		c.Log.Printf(1, "Running tests on branch %s of %s", br.Name, repo.Name)
		logName := LogNameFor(time.Now(), repo.Name, br.Filename)
		if err := lock.Update(status.WithJob(repo.Name, br.Name, logName, i, len(jobs))); err != nil {
			c.Log.Printf(2, "Could not update lock record: %v", err)
		}

		started := time.Now()
		result, err := c.Executor(repo).Execute(ctx, br, logName)
		if err != nil {
			c.Log.Printf(1, "Branch %s failed: %v", br.Name, err)
			if result.Kind == "" {
				result.Kind = domain.ResultFailure
			}
			result.LogName = logName
		}
		br.Result = &result
		c.record(status.RunID, br, started)

		remaining[repo]--
		if remaining[repo] == 0 {
			c.postRun(repo)
		}

		if result.Kind == domain.ResultKilled {
			c.killRemaining(jobs[i+1:], remaining)
			return
		}
	}
}

// killRemaining posts a best-effort killed result for the branch jobs
// that never ran, so termination is visible per repository.
func (c *Coordinator) killRemaining(jobs []*domain.Branch, remaining map[*domain.Repository]int) {
	c.Log.Printf(0, "Run cancelled; reporting remaining jobs as killed")
	for _, br := range jobs {
		if br.Result == nil {
			br.Result = &domain.RunResult{Kind: domain.ResultKilled, Info: map[string]string{}}
		}
		remaining[br.Repo]--
		if remaining[br.Repo] == 0 {
			c.postRun(br.Repo)
		}
	}
}

// record appends the job to the run history, when configured. Jobs that
// were only submitted to an external queue have no outcome to record.
func (c *Coordinator) record(runID string, br *domain.Branch, started time.Time) {
	if c.History == nil || br.Result == nil || br.Result.Submitted {
		return
	}
	err := c.History.Record(history.Entry{
		RunID:     runID,
		Repo:      br.Repo.Name,
		Branch:    br.Name,
		Commit:    br.Commit,
		Result:    br.Result.Kind,
		Elapsed:   br.Result.Elapsed,
		LogName:   br.Result.LogName,
		StartedAt: started,
	})
	if err != nil {
		c.Log.Printf(2, "Could not record history: %v", err)
	}
}

// postRun sends the repository's run summary. Transport failures are
// logged and swallowed.
func (c *Coordinator) postRun(repo *domain.Repository) {
	if c.Cfg.Defaults.DryRun {
		return
	}
	var reports []notify.BranchReport
	for _, br := range repo.Runnable {
		// Submitted jobs finish later under the re-entrant runner, which
		// posts its own completion summary.
		if br.Result == nil || br.Result.Submitted {
			continue
		}
		reports = append(reports, notify.BranchReport{
			Branch:   br.Name,
			Result:   br.Result.Kind,
			Elapsed:  config.FormatElapsed(br.Result.Elapsed),
			Info:     br.Result.Info,
			LogName:  br.Result.LogName,
			Warnings: br.Result.Warnings,
		})
	}
	if len(reports) == 0 {
		return
	}
	if repo.RunAll && repo.RunAllNote != "" {
		note := domain.Warning{Kind: "apt", Message: "Reran all branches because " + repo.RunAllNote}
		reports[0].Warnings = append(append([]domain.Warning{}, reports[0].Warnings...), note)
	}
	c.Log.Printf(1, "Posting results of %s run", repo.Name)
	if err := c.Notifier(repo).PostRun(repo.Name, reports); err != nil {
		c.Log.Printf(2, "Notification failed: %v", err)
	}
}

func (c *Coordinator) postFatal(repo *domain.Repository) {
	if c.Cfg.Defaults.DryRun {
		return
	}
	if err := c.Notifier(repo).PostFatal(repo.Name, repo.FatalError); err != nil {
		c.Log.Printf(2, "Notification failed: %v", err)
	}
}

// LogNameFor builds the job log file name from timestamp, repository,
// and branch filename.
func LogNameFor(start time.Time, repo, branchFile string) string {
	return fmt.Sprintf("%s-%s-%s.log", start.Format("2006-01-02-150405"), repo, branchFile)
}

// fatalMessage renders an error the way fatal notifications expect,
// keeping command and exit code visible for external command failures.
func fatalMessage(err error) string {
	var cmdErr *gitsync.CommandError
	if errors.As(err, &cmdErr) {
		return fmt.Sprintf("Process `%s` returned error code %d", cmdErr.Cmd, cmdErr.ExitCode)
	}
	return err.Error()
}
