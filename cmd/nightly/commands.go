package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/pavpanchekha/nightly-runner/internal/aptcheck"
	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/coordinator"
	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/executor"
	"github.com/pavpanchekha/nightly-runner/internal/gitsync"
	"github.com/pavpanchekha/nightly-runner/internal/history"
	"github.com/pavpanchekha/nightly-runner/internal/metadata"
	"github.com/pavpanchekha/nightly-runner/internal/notify"
	"github.com/pavpanchekha/nightly-runner/internal/planner"
	"github.com/pavpanchekha/nightly-runner/internal/prlist"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
	"github.com/pavpanchekha/nightly-runner/internal/scheduler"
)

var (
	statusWatch  bool
	historyRepo  string
	historyLimit int
	daemonCron   string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one full nightly cycle",
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a run is in progress and its live status",
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "keep watching the lock record for changes")
	rootCmd.AddCommand(statusCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past job runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyRepo, "repo", "", "filter by repository")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 30, "number of entries")
	rootCmd.AddCommand(historyCmd)

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run cycles on a cron schedule",
		RunE:  runDaemon,
	}
	daemonCmd.Flags().StringVar(&daemonCron, "cron", "", "cron expression (default from config)")
	rootCmd.AddCommand(daemonCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	if path == "" {
		return nil, fmt.Errorf("no config file: pass --config or set $%s", config.EnvConfigFile)
	}
	return config.Load(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	os.Setenv(config.EnvConfigFile, cfg.Path)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, cleanup, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return coord.Run(ctx)
}

// buildCoordinator wires the engine from configuration. The returned
// cleanup closes the run log and history store.
func buildCoordinator(cfg *config.Config) (*coordinator.Coordinator, func(), error) {
	secrets, err := config.LoadSecrets(cfg.Defaults.SecretsDir)
	if err != nil {
		return nil, nil, err
	}
	repos, err := cfg.Repositories(secrets)
	if err != nil {
		return nil, nil, err
	}

	for _, dir := range []string{cfg.Defaults.LogsDir, cfg.Defaults.ReportsDir, cfg.Defaults.ReposDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
	}

	logPath := filepath.Join(cfg.Defaults.LogsDir, time.Now().Format("2006-01-02-150405")+".log")
	log, err := runlog.Open(logPath)
	if err != nil {
		return nil, nil, err
	}
	log.Printf(0, "Nightly script starting up")
	log.Printf(0, "Loaded configuration file %s", cfg.Path)

	adapters := map[string]scheduler.Adapter{}
	for _, repo := range repos {
		if _, ok := adapters[repo.Name]; !ok {
			adapters[repo.Name] = adapterFor(cfg, repo)
		}
	}

	hist, err := history.Open(cfg.Defaults.HistoryPath)
	if err != nil {
		log.Printf(0, "Run history disabled: %v", err)
		hist = nil
	}

	coord := &coordinator.Coordinator{
		Cfg:     cfg,
		Repos:   repos,
		Log:     log,
		LogPath: logPath,
		Sync:    gitsync.New(log, cfg.Defaults.DryRun),
		Planner: planner.New(log, prlist.New(""), queueChecker{adapters}),
		Executor: func(repo *domain.Repository) coordinator.JobExecutor {
			return &executor.Executor{
				Log:         log,
				Adapter:     adapters[repo.Name],
				LogsDir:     cfg.Defaults.LogsDir,
				ReportsRoot: cfg.Defaults.ReportsDir,
				BaseURL:     cfg.Defaults.BaseURL,
				DryRun:      cfg.Defaults.DryRun,
			}
		},
		Notifier: func(repo *domain.Repository) notify.Notifier {
			if repo.SlackURL == "" || cfg.Defaults.BaseURL == "" {
				return notify.Noop{}
			}
			return notify.NewSlackNotifier(repo.SlackURL, cfg.Defaults.BaseURL)
		},
		History:    hist,
		CheckApt:   aptcheck.CheckUpdates,
		InstallApt: aptcheck.Install,
	}

	cleanup := func() {
		if hist != nil {
			hist.Close()
		}
		log.Close()
	}
	return coord, cleanup, nil
}

func adapterFor(cfg *config.Config, repo *domain.Repository) scheduler.Adapter {
	if repo.Scheduler == "batch" {
		return scheduler.NewBatch(cfg.Path, "")
	}
	return scheduler.NewDirect()
}

// queueChecker routes queued-badge checks to each repository's adapter,
// so only batch repositories consult the external queue.
type queueChecker struct {
	adapters map[string]scheduler.Adapter
}

func (q queueChecker) Queued(repo, branch string) (bool, error) {
	a, ok := q.adapters[repo]
	if !ok {
		return false, nil
	}
	return a.Queued(repo, branch)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	printStatus(cfg.Defaults.LockPath)
	if !statusWatch {
		return nil
	}
	return watchStatus(cmd, cfg.Defaults.LockPath)
}

func printStatus(lockPath string) {
	st, err := metadata.ReadStatus(lockPath)
	if err != nil {
		fmt.Println("idle")
		return
	}
	fmt.Printf("running\tpid=%d\tsince=%s\n", st.PID, st.Start.Format(time.RFC3339))
	if st.Repo != "" {
		fmt.Printf("current\t%s/%s\tjob %d of %d\tlog=%s\n",
			st.Repo, st.Branch, st.Done+1, st.Total, st.BranchLog)
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.Defaults.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(historyRepo, historyLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tREPO\tBRANCH\tRESULT\tELAPSED\tCOMMIT")
	for _, e := range entries {
		commit := e.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Format("2006-01-02 15:04"), e.Repo, e.Branch,
			e.Result, config.FormatElapsed(e.Elapsed), commit)
	}
	return w.Flush()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	os.Setenv(config.EnvConfigFile, cfg.Path)

	expr := daemonCron
	if expr == "" {
		expr = cfg.Defaults.Cron
	}
	if expr == "" {
		return fmt.Errorf("no schedule: pass --cron or set cron in [defaults]")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	_, err = c.AddFunc(expr, func() {
		coord, cleanup, err := buildCoordinator(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		defer cleanup()
		if err := coord.Run(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
