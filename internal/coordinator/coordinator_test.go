package coordinator

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/config"
	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/gitsync"
	"github.com/pavpanchekha/nightly-runner/internal/metadata"
	"github.com/pavpanchekha/nightly-runner/internal/notify"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
)

type fakeSync struct {
	fail map[string]error
}

func (f *fakeSync) Load(repo *domain.Repository) error {
	if err := f.fail[repo.Name]; err != nil {
		return err
	}
	return nil
}

type fakePlanner struct{}

func (fakePlanner) Plan(repo *domain.Repository) ([]*domain.Branch, error) {
	return repo.Branches, nil
}

type fakeExecutor struct {
	ran    []string
	kinds  map[string]domain.ResultKind
	submit map[string]bool
}

func (f *fakeExecutor) Execute(ctx context.Context, br *domain.Branch, logName string) (domain.RunResult, error) {
	f.ran = append(f.ran, br.Repo.Name+"/"+br.Name)
	kind := f.kinds[br.Name]
	if kind == "" {
		kind = domain.ResultSuccess
	}
	return domain.RunResult{
		Kind:      kind,
		LogName:   logName,
		Info:      map[string]string{},
		Submitted: f.submit[br.Name],
	}, nil
}

type fakeNotifier struct {
	runs   map[string][][]notify.BranchReport
	fatals map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		runs:   map[string][][]notify.BranchReport{},
		fatals: map[string][]string{},
	}
}

func (f *fakeNotifier) PostRun(repo string, reports []notify.BranchReport) error {
	f.runs[repo] = append(f.runs[repo], reports)
	return nil
}

func (f *fakeNotifier) PostFatal(repo, msg string) error {
	f.fatals[repo] = append(f.fatals[repo], msg)
	return nil
}

func repoWithBranches(t *testing.T, name string, branches ...string) *domain.Repository {
	t.Helper()
	repo := &domain.Repository{Name: name, Dir: t.TempDir(), MainBranch: branches[0]}
	for _, bn := range branches {
		b := domain.NewBranch(repo, bn)
		b.Commit = "deadbeef"
		repo.Branches = append(repo.Branches, b)
	}
	return repo
}

type fixture struct {
	coord    *Coordinator
	exec     *fakeExecutor
	notifier *fakeNotifier
	sync     *fakeSync
}

func newFixture(t *testing.T, repos ...*domain.Repository) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Defaults.LockPath = filepath.Join(t.TempDir(), "running.lock")
	exec := &fakeExecutor{kinds: map[string]domain.ResultKind{}, submit: map[string]bool{}}
	notifier := newFakeNotifier()
	sync := &fakeSync{fail: map[string]error{}}
	return &fixture{
		coord: &Coordinator{
			Cfg:      cfg,
			Repos:    repos,
			Log:      runlog.New(io.Discard),
			Sync:     sync,
			Planner:  fakePlanner{},
			Executor: func(*domain.Repository) JobExecutor { return exec },
			Notifier: func(*domain.Repository) notify.Notifier { return notifier },
			Cooldown: time.Millisecond,
		},
		exec:     exec,
		notifier: notifier,
		sync:     sync,
	}
}

func TestRun_NotifiesOncePerRepo(t *testing.T) {
	x := repoWithBranches(t, "x", "main", "feat")
	y := repoWithBranches(t, "y", "main")
	f := newFixture(t, x, y)

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []string{"x/main", "x/feat", "y/main"}
	if len(f.exec.ran) != len(want) {
		t.Fatalf("ran %v, want %v", f.exec.ran, want)
	}
	for i := range want {
		if f.exec.ran[i] != want[i] {
			t.Errorf("job %d = %s, want %s", i, f.exec.ran[i], want[i])
		}
	}
	if len(f.notifier.runs["x"]) != 1 || len(f.notifier.runs["y"]) != 1 {
		t.Errorf("notifications: x=%d y=%d, want one each",
			len(f.notifier.runs["x"]), len(f.notifier.runs["y"]))
	}
	if got := len(f.notifier.runs["x"][0]); got != 2 {
		t.Errorf("x summary has %d branch reports, want 2", got)
	}
}

func TestRun_BrokenRepoDoesNotBlockOthers(t *testing.T) {
	x := repoWithBranches(t, "x", "main")
	y := repoWithBranches(t, "y", "main")
	f := newFixture(t, x, y)
	f.sync.fail["x"] = &gitsync.CommandError{Cmd: "git fetch origin", ExitCode: 128}

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if x.FatalError != "Process `git fetch origin` returned error code 128" {
		t.Errorf("fatal error = %q", x.FatalError)
	}
	if len(f.notifier.fatals["x"]) != 1 {
		t.Errorf("x fatal notifications = %d, want 1", len(f.notifier.fatals["x"]))
	}
	if len(f.exec.ran) != 1 || f.exec.ran[0] != "y/main" {
		t.Errorf("ran = %v, want just y/main", f.exec.ran)
	}
	if len(f.notifier.runs["y"]) != 1 {
		t.Errorf("y run notifications = %d, want 1", len(f.notifier.runs["y"]))
	}
}

func TestRun_NoopWhenLockHeld(t *testing.T) {
	x := repoWithBranches(t, "x", "main")
	f := newFixture(t, x)

	held, err := metadata.AcquireLock(f.coord.Cfg.Defaults.LockPath, metadata.RunStatus{PID: 4242})
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.exec.ran) != 0 {
		t.Errorf("ran = %v, want nothing while lock is held", f.exec.ran)
	}

	// The competing lock must survive the no-op cycle.
	if _, err := metadata.ReadStatus(f.coord.Cfg.Defaults.LockPath); err != nil {
		t.Errorf("lock record gone: %v", err)
	}
}

func TestRun_ReleasesLock(t *testing.T) {
	x := repoWithBranches(t, "x", "main")
	f := newFixture(t, x)

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.ReadStatus(f.coord.Cfg.Defaults.LockPath); err == nil {
		t.Error("lock still present after cycle")
	}
}

func TestRun_KilledJobStopsCycle(t *testing.T) {
	x := repoWithBranches(t, "x", "main", "feat-a", "feat-b")
	f := newFixture(t, x)
	f.exec.kinds["feat-a"] = domain.ResultKilled

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(f.exec.ran) != 2 {
		t.Fatalf("ran = %v, want stop after the killed job", f.exec.ran)
	}
	// The unrun branch still shows up, as killed, in the single summary.
	if len(f.notifier.runs["x"]) != 1 {
		t.Fatalf("x notifications = %d, want 1", len(f.notifier.runs["x"]))
	}
	reports := f.notifier.runs["x"][0]
	if len(reports) != 3 {
		t.Fatalf("summary has %d reports, want 3", len(reports))
	}
	for _, r := range reports[1:] {
		if r.Result != domain.ResultKilled {
			t.Errorf("branch %s result = %v, want killed", r.Branch, r.Result)
		}
	}
}

func TestRun_DryRunSkipsNotification(t *testing.T) {
	x := repoWithBranches(t, "x", "main")
	f := newFixture(t, x)
	f.coord.Cfg.Defaults.DryRun = true

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.exec.ran) != 1 {
		t.Errorf("ran = %v, dry run still executes the pipeline", f.exec.ran)
	}
	if len(f.notifier.runs) != 0 {
		t.Errorf("notifications sent in dry run: %v", f.notifier.runs)
	}
}

// A repository whose jobs were only handed to the batch queue gets no
// summary here; the re-entrant runner posts the real result later.
func TestRun_SubmittedJobsNotSummarized(t *testing.T) {
	x := repoWithBranches(t, "x", "main", "feat")
	f := newFixture(t, x)
	f.exec.submit["main"] = true
	f.exec.submit["feat"] = true

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(f.exec.ran) != 2 {
		t.Fatalf("ran = %v, want both branches submitted", f.exec.ran)
	}
	if len(f.notifier.runs) != 0 {
		t.Errorf("summary posted at submit time: %v", f.notifier.runs)
	}
}

func TestRun_AptUpdateTriggersRunAll(t *testing.T) {
	x := repoWithBranches(t, "x", "main")
	x.AptPackages = []string{"racket"}
	f := newFixture(t, x)
	f.coord.CheckApt = func(pkgs []string) (bool, error) { return true, nil }
	var installed []string
	f.coord.InstallApt = func(pkgs []string) error {
		installed = pkgs
		return nil
	}

	if err := f.coord.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !x.RunAll {
		t.Error("RunAll not set after apt reported updates")
	}
	if len(installed) != 1 || installed[0] != "racket" {
		t.Errorf("installed = %v, want the repo's package list", installed)
	}

	// The run summary carries a note saying why every branch ran.
	if len(f.notifier.runs["x"]) != 1 {
		t.Fatalf("x notifications = %d, want 1", len(f.notifier.runs["x"]))
	}
	warnings := f.notifier.runs["x"][0][0].Warnings
	found := false
	for _, w := range warnings {
		if w.Kind == "apt" && w.Message == "Reran all branches because a package updated" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want the apt run-all note", warnings)
	}
}

func TestLogNameFor(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	got := LogNameFor(ts, "herbie", "pavel_2ffix")
	if got != "2026-03-14-150926-herbie-pavel_2ffix.log" {
		t.Errorf("LogNameFor = %q", got)
	}
}

func TestFatalMessage(t *testing.T) {
	cmdErr := &gitsync.CommandError{Cmd: "git clone x", ExitCode: 128}
	if got := fatalMessage(cmdErr); got != "Process `git clone x` returned error code 128" {
		t.Errorf("fatalMessage = %q", got)
	}
	wrapped := errors.New("disk full")
	if got := fatalMessage(wrapped); got != "disk full" {
		t.Errorf("fatalMessage = %q", got)
	}
}
