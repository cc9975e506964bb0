package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// Direct spawns the build as a niced child in its own process group and
// owns its lifecycle end to end. A timeout or cancellation kills the
// whole group, so grandchildren cannot outlive the job.
type Direct struct{}

// NewDirect creates the direct-spawn adapter.
func NewDirect() *Direct { return &Direct{} }

func (*Direct) Inline() bool { return true }

// Queued always reports false: direct jobs are never queued anywhere.
func (*Direct) Queued(repo, branch string) (bool, error) { return false, nil }

// Run executes `make nightly` in the job's worktree, combined output to
// the job log. The timeout always wins over exit status; cancellation of
// ctx yields the killed result.
func (*Direct) Run(ctx context.Context, job Job) (domain.ResultKind, error) {
	// Append so a batch scheduler redirecting the runner's own stdout to
	// the same file does not lose it.
	logFile, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return domain.ResultFailure, err
	}
	defer logFile.Close()

	cmd := exec.Command("nice", "make", "-C", job.Dir, "nightly")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), job.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return domain.ResultFailure, fmt.Errorf("starting job: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if job.Timeout > 0 {
		timer := time.NewTimer(job.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			if _, ok := err.(*exec.ExitError); ok {
				return domain.ResultFailure, nil
			}
			return domain.ResultFailure, err
		}
		return domain.ResultSuccess, nil
	case <-timeout:
		killGroup(cmd)
		<-done
		return domain.ResultTimeout, nil
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return domain.ResultKilled, nil
	}
}

// killGroup kills the job's entire process group, falling back to the
// process itself if the group is gone.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
