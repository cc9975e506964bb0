// nightly-runner is the stateless per-branch job runner the batch
// scheduler invokes. It re-derives the branch configuration from the
// config file named by $NIGHTLY_CONF_FILE and repeats the worktree-reset,
// build, report-publish, and metadata steps on its own, posting its own
// notification when done.
//
// Exit codes: 0 success, 1 job failure, 2 invocation error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/executor"
	"github.com/pavpanchekha/nightly-runner/internal/gitsync"
	"github.com/pavpanchekha/nightly-runner/internal/notify"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
	"github.com/pavpanchekha/nightly-runner/internal/scheduler"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: nightly-runner <repo> <branch> <log_name>\n")
		return 2
	}
	repoName, branchName, logName := args[0], args[1], args[2]

	confPath := os.Getenv(config.EnvConfigFile)
	if confPath == "" {
		fmt.Fprintf(os.Stderr, "nightly-runner: $%s is not set\n", config.EnvConfigFile)
		return 2
	}
	cfg, err := config.Load(confPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	secrets, err := config.LoadSecrets(cfg.Defaults.SecretsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	repo, err := cfg.Repository(repoName, secrets)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	log := runlog.New(os.Stdout)
	log.Printf(0, "Running branch %s on repo %s", branchName, repoName)

	branch := domain.NewBranch(repo, branchName)
	branch.Commit, err = gitsync.Git(branch.Dir(), "rev-parse", "origin/"+branchName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var notifier notify.Notifier = notify.Noop{}
	if repo.SlackURL != "" && cfg.Defaults.BaseURL != "" {
		notifier = notify.NewSlackNotifier(repo.SlackURL, cfg.Defaults.BaseURL)
	}

	// A termination signal must still produce a posted "killed" result
	// with the partial elapsed time before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec := &executor.Executor{
		Log:         log,
		Adapter:     scheduler.NewDirect(),
		LogsDir:     cfg.Defaults.LogsDir,
		ReportsRoot: cfg.Defaults.ReportsDir,
		BaseURL:     cfg.Defaults.BaseURL,
		DryRun:      cfg.Defaults.DryRun,
	}

	result, err := exec.Execute(ctx, branch, logName)
	if err != nil {
		log.Printf(0, "Job error: %v", err)
		if result.Kind == "" {
			result.Kind = domain.ResultFailure
		}
	}
	if result.Info == nil {
		result.Info = map[string]string{}
	}

	log.Printf(0, "Posting results of run")
	if perr := notifier.PostRun(repoName, []notify.BranchReport{{
		Branch:   branchName,
		Result:   result.Kind,
		Elapsed:  config.FormatElapsed(result.Elapsed),
		Info:     result.Info,
		LogName:  logName,
		Warnings: result.Warnings,
	}}); perr != nil {
		log.Printf(0, "Notification failed: %v", perr)
	}

	logSlurmUsage(log)

	if result.Kind == domain.ResultSuccess {
		return 0
	}
	return 1
}

// logSlurmUsage reads the batch step's peak memory and wall time back
// from sstat. Best effort; skipped outside a slurm job.
func logSlurmUsage(log *runlog.Logger) {
	jobID := os.Getenv("SLURM_JOB_ID")
	if jobID == "" {
		return
	}
	out, err := exec.Command("sstat", "--noheader", "-j", jobID+".batch", "--format=MaxRSS,Elapsed").Output()
	if err != nil {
		log.Printf(0, "Could not read job stats: %v", err)
		return
	}
	maxRSS, elapsed, err := parseSstat(string(out))
	if err != nil {
		log.Printf(0, "Could not read job stats: %v", err)
		return
	}
	log.Printf(0, "Nightly used memory=%s, elapsed=%s",
		strings.ToLower(humanize.IBytes(uint64(maxRSS))), elapsed)
}

// parseSstat splits sstat's single "MaxRSS Elapsed" line.
func parseSstat(out string) (int64, string, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("unexpected sstat output %q", out)
	}
	maxRSS, err := config.ParseSize(strings.ToLower(fields[0]))
	if err != nil {
		return 0, "", fmt.Errorf("unknown MaxRSS %q", fields[0])
	}
	return maxRSS, fields[1], nil
}
