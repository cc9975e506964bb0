package executor

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// publishReport compresses, size-checks, and publishes the branch's
// report directory. Problems become non-fatal warnings on the result.
func (e *Executor) publishReport(branch *domain.Branch, result *domain.RunResult) {
	reportDir := branch.ReportDir()
	if reportDir == "" {
		return
	}
	if _, err := os.Stat(reportDir); err != nil {
		e.Log.Printf(2, "Report directory %s does not exist", reportDir)
		return
	}

	repo := branch.Repo
	if len(repo.GzipGlobs) > 0 {
		e.Log.Printf(2, "Compressing report files matching %v", repo.GzipGlobs)
		if err := gzipMatching(reportDir, repo.GzipGlobs); err != nil {
			result.Warnings = append(result.Warnings, domain.Warning{
				Kind:    "broken-report",
				Message: fmt.Sprintf("Error compressing report: %v", err),
			})
		}
	}

	total, biggest, _ := treeSize(reportDir)
	if repo.WarnReport > 0 && total > repo.WarnReport {
		msg := fmt.Sprintf("Report size %s exceeds limit %s; largest file `%s`",
			humanize.IBytes(uint64(total)), humanize.IBytes(uint64(repo.WarnReport)), biggest)
		e.Log.Printf(2, "%s", msg)
		result.Warnings = append(result.Warnings, domain.Warning{Kind: "report-size", Message: msg})
	}

	// A job that already reported its own url owns publication.
	if result.Info["url"] != "" || e.BaseURL == "" {
		return
	}

	shortCommit := branch.Commit
	if len(shortCommit) > 8 {
		shortCommit = shortCommit[:8]
	}
	name := fmt.Sprintf("%d:%s:%s", time.Now().Unix(), branch.Filename, shortCommit)
	destDir := filepath.Join(e.ReportsRoot, repo.Name, name)

	e.Log.Printf(2, "Publishing report directory %s to %s", reportDir, destDir)
	if err := copyTree(reportDir, destDir); err != nil {
		msg := fmt.Sprintf("Error saving report: %v", err)
		e.Log.Printf(2, "%s", msg)
		result.Warnings = append(result.Warnings, domain.Warning{Kind: "broken-report", Message: msg})
		return
	}

	urlBase := e.BaseURL + "reports/" + repo.Name + "/" + name
	result.Info["url"] = urlBase
	if repo.ImageFile != "" {
		imagePath := filepath.Join(reportDir, repo.ImageFile)
		if _, err := os.Stat(imagePath); err == nil {
			result.Info["img"] = urlBase + "/" + filepath.ToSlash(repo.ImageFile)
		}
	}
	os.RemoveAll(reportDir)
}

// sizeWarnings checks the branch tree and job log against the configured
// thresholds.
func (e *Executor) sizeWarnings(branch *domain.Branch, result *domain.RunResult) {
	repo := branch.Repo
	if repo.WarnBranch > 0 {
		total, biggest, _ := treeSize(branch.Dir())
		if total > repo.WarnBranch {
			msg := fmt.Sprintf("Branch size %s exceeds limit %s; largest file `%s`",
				humanize.IBytes(uint64(total)), humanize.IBytes(uint64(repo.WarnBranch)), biggest)
			e.Log.Printf(2, "%s", msg)
			result.Warnings = append(result.Warnings, domain.Warning{Kind: "branch-size", Message: msg})
		}
	}
	if repo.WarnLog > 0 {
		if info, err := os.Stat(filepath.Join(e.LogsDir, result.LogName)); err == nil && info.Size() > repo.WarnLog {
			msg := fmt.Sprintf("Log size %s exceeds limit %s",
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(repo.WarnLog)))
			e.Log.Printf(2, "%s", msg)
			result.Warnings = append(result.Warnings, domain.Warning{Kind: "log-size", Message: msg})
		}
	}
}

// treeSize walks root and returns the total size, the relative path of
// the largest file, and its size.
func treeSize(root string) (int64, string, int64) {
	var total, biggestSize int64
	var biggest string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		if info.Size() > biggestSize {
			biggestSize = info.Size()
			if rel, err := filepath.Rel(root, path); err == nil {
				biggest = rel
			}
		}
		return nil
	})
	return total, biggest, biggestSize
}

// gzipMatching replaces every file under dir matching one of the globs
// with a maximally compressed .gz copy.
func gzipMatching(dir string, globs []string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		matched := false
		for _, g := range globs {
			if ok, _ := filepath.Match(g, d.Name()); ok {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		if err := gzipFile(path); err != nil {
			return err
		}
		return os.Remove(path)
	})
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer out.Close()
	zw, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// copyTree recursively copies the directory src to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return err
		}
		return out.Close()
	})
}
