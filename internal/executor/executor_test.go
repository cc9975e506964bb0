package executor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
	"github.com/pavpanchekha/nightly-runner/internal/scheduler"
)

type submitOnly struct {
	jobs []scheduler.Job
}

func (*submitOnly) Inline() bool { return false }

func (s *submitOnly) Run(ctx context.Context, job scheduler.Job) (domain.ResultKind, error) {
	s.jobs = append(s.jobs, job)
	return domain.ResultSuccess, nil
}

func (*submitOnly) Queued(repo, branch string) (bool, error) { return false, nil }

func testBranch(t *testing.T, report string) *domain.Branch {
	t.Helper()
	repo := &domain.Repository{
		Name:         "herbie",
		Dir:          t.TempDir(),
		MainBranch:   "main",
		ReportSubdir: report,
	}
	b := domain.NewBranch(repo, "main")
	b.Commit = "0123456789abcdef0123456789abcdef01234567"
	repo.Branches = []*domain.Branch{b}
	return b
}

func TestExecute_BatchSubmitsAndReturns(t *testing.T) {
	adapter := &submitOnly{}
	e := &Executor{
		Log:     runlog.New(io.Discard),
		Adapter: adapter,
		LogsDir: t.TempDir(),
	}
	branch := testBranch(t, "")

	result, err := e.Execute(context.Background(), branch, "x.log")
	if err != nil {
		t.Fatal(err)
	}
	if result.Kind != domain.ResultSuccess {
		t.Errorf("kind = %v", result.Kind)
	}
	if !result.Submitted {
		t.Error("batch result not marked submitted")
	}
	if len(adapter.jobs) != 1 {
		t.Fatalf("submitted %d jobs", len(adapter.jobs))
	}
	job := adapter.jobs[0]
	if job.Name != "nightly:herbie:main" {
		t.Errorf("job name = %q", job.Name)
	}
	if job.LogPath != filepath.Join(e.LogsDir, "x.log") {
		t.Errorf("log path = %q", job.LogPath)
	}
}

func TestPublishReport(t *testing.T) {
	branch := testBranch(t, "reports/nightly")
	branch.Repo.ImageFile = "summary.png"

	reportDir := branch.ReportDir()
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"index.html":  "<html>",
		"summary.png": "png-bytes",
	} {
		if err := os.WriteFile(filepath.Join(reportDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	e := &Executor{
		Log:         runlog.New(io.Discard),
		ReportsRoot: t.TempDir(),
		BaseURL:     "https://nightly.example.com/",
	}
	result := domain.RunResult{Info: map[string]string{}}
	e.publishReport(branch, &result)

	url := result.Info["url"]
	if !strings.HasPrefix(url, "https://nightly.example.com/reports/herbie/") {
		t.Fatalf("url = %q", url)
	}
	name := strings.TrimPrefix(url, "https://nightly.example.com/reports/herbie/")
	if parts := strings.Split(name, ":"); len(parts) != 3 || parts[1] != "main" || parts[2] != "01234567" {
		t.Errorf("published name = %q, want <ts>:main:01234567", name)
	}
	if result.Info["img"] != url+"/summary.png" {
		t.Errorf("img = %q", result.Info["img"])
	}

	published := filepath.Join(e.ReportsRoot, "herbie", name, "index.html")
	if _, err := os.Stat(published); err != nil {
		t.Errorf("published file missing: %v", err)
	}
	if _, err := os.Stat(reportDir); !os.IsNotExist(err) {
		t.Error("report directory should be removed after publish")
	}
}

func TestPublishReport_JobOwnsURL(t *testing.T) {
	branch := testBranch(t, "reports/nightly")
	if err := os.MkdirAll(branch.ReportDir(), 0o755); err != nil {
		t.Fatal(err)
	}

	e := &Executor{
		Log:         runlog.New(io.Discard),
		ReportsRoot: t.TempDir(),
		BaseURL:     "https://nightly.example.com/",
	}
	result := domain.RunResult{Info: map[string]string{"url": "https://elsewhere.example.com/"}}
	e.publishReport(branch, &result)

	if result.Info["url"] != "https://elsewhere.example.com/" {
		t.Errorf("url overwritten: %q", result.Info["url"])
	}
	if entries, _ := os.ReadDir(filepath.Join(e.ReportsRoot, "herbie")); len(entries) != 0 {
		t.Error("nothing should be published when the job set its own url")
	}
}

func TestPublishReport_SizeWarning(t *testing.T) {
	branch := testBranch(t, "reports/nightly")
	branch.Repo.WarnReport = 10

	reportDir := branch.ReportDir()
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(reportDir, "big.dat"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{Log: runlog.New(io.Discard)}
	result := domain.RunResult{Info: map[string]string{}}
	e.publishReport(branch, &result)

	found := false
	for _, w := range result.Warnings {
		if w.Kind == "report-size" && strings.Contains(w.Message, "big.dat") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want report-size naming big.dat", result.Warnings)
	}
}

func TestGzipMatching(t *testing.T) {
	dir := t.TempDir()
	files := []string{"data.json", "keep.html", "nested"}
	for _, name := range files[:2] {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("content"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "more.json"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := gzipMatching(dir, []string{"*.json"}); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"data.json.gz", "keep.html", filepath.Join("nested", "more.json.gz")} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("missing %s: %v", want, err)
		}
	}
	for _, gone := range []string{"data.json", filepath.Join("nested", "more.json")} {
		if _, err := os.Stat(filepath.Join(dir, gone)); !os.IsNotExist(err) {
			t.Errorf("%s should have been replaced by its .gz copy", gone)
		}
	}
}

func TestTreeSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "small"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "large"), make([]byte, 90), 0o644); err != nil {
		t.Fatal(err)
	}

	total, biggest, biggestSize := treeSize(dir)
	if total != 100 {
		t.Errorf("total = %d", total)
	}
	if biggest != filepath.Join("sub", "large") || biggestSize != 90 {
		t.Errorf("biggest = %q (%d)", biggest, biggestSize)
	}
}

func TestSizeWarnings(t *testing.T) {
	branch := testBranch(t, "")
	branch.Repo.WarnBranch = 10
	branch.Repo.WarnLog = 10

	if err := os.MkdirAll(branch.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(branch.Dir(), "blob"), make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}
	logsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(logsDir, "run.log"), make([]byte, 50), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &Executor{Log: runlog.New(io.Discard), LogsDir: logsDir}
	result := domain.RunResult{LogName: "run.log"}
	e.sizeWarnings(branch, &result)

	kinds := map[string]bool{}
	for _, w := range result.Warnings {
		kinds[w.Kind] = true
	}
	if !kinds["branch-size"] || !kinds["log-size"] {
		t.Errorf("warnings = %v, want branch-size and log-size", result.Warnings)
	}
}
