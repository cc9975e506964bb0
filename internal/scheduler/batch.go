package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// Batch submits jobs to an external batch scheduler (sbatch/squeue) and
// returns immediately. The scheduler later invokes the stateless
// nightly-runner binary, which re-derives the branch configuration from
// the same config file and repeats the build, publish, and notification
// steps on its own.
type Batch struct {
	configPath string
	runnerBin  string
}

// NewBatch creates the batch-queue adapter. runnerBin is the
// nightly-runner executable the scheduler should invoke; an empty value
// resolves it from PATH.
func NewBatch(configPath, runnerBin string) *Batch {
	if runnerBin == "" {
		runnerBin = "nightly-runner"
	}
	return &Batch{configPath: configPath, runnerBin: runnerBin}
}

func (*Batch) Inline() bool { return false }

// Run submits the job description and returns. Submission success maps
// to the success kind; the job's own result is reported later by the
// runner process.
func (b *Batch) Run(ctx context.Context, job Job) (domain.ResultKind, error) {
	args := []string{
		"--job-name", job.Name,
		"--output", job.LogPath,
	}
	if job.Timeout > 0 {
		mins := int(job.Timeout/time.Minute) + 1
		args = append(args, fmt.Sprintf("--time=%d", mins))
	}
	if job.Exclusive {
		args = append(args, "--exclusive")
	} else {
		if job.Cores > 0 {
			args = append(args, fmt.Sprintf("--cpus-per-task=%d", job.Cores))
		}
		if job.Memory > 0 {
			args = append(args, fmt.Sprintf("--mem=%s", slurmSize(job.Memory)))
		}
	}
	args = append(args, "--wrap",
		fmt.Sprintf("%s %s %s %s", b.runnerBin, job.Repo, job.Branch, job.LogName))

	cmd := exec.CommandContext(ctx, "sbatch", args...)
	cmd.Env = append(os.Environ(), config.EnvConfigFile+"="+b.configPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return domain.ResultFailure, fmt.Errorf("sbatch: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return domain.ResultSuccess, nil
}

// Queued asks the scheduler's queue for a pending or running job with
// this branch's job name, so it is not submitted twice.
func (b *Batch) Queued(repo, branch string) (bool, error) {
	out, err := exec.Command("squeue", "--noheader", "--format=%j").Output()
	if err != nil {
		return false, fmt.Errorf("squeue: %w", err)
	}
	return QueueHasJob(string(out), JobName(repo, domain.EscapeBranch(branch))), nil
}

// QueueHasJob scans squeue output (one job name per line) for name.
func QueueHasJob(out, name string) bool {
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			return true
		}
	}
	return false
}

// slurmSize renders a byte count in the scheduler's G/M/K notation.
func slurmSize(n int64) string {
	switch {
	case n%(1<<30) == 0:
		return fmt.Sprintf("%dG", n>>30)
	case n%(1<<20) == 0:
		return fmt.Sprintf("%dM", n>>20)
	case n%(1<<10) == 0:
		return fmt.Sprintf("%dK", n>>10)
	default:
		return fmt.Sprintf("%d", n)
	}
}
