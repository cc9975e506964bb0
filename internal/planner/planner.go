// Package planner decides, per repository, which branches run this cycle
// and in what order.
package planner

import (
	"github.com/pavpanchekha/nightly-runner/internal/domain"
	"github.com/pavpanchekha/nightly-runner/internal/metadata"
	"github.com/pavpanchekha/nightly-runner/internal/runlog"
)

// PRLister enumerates open pull-request head branches for a repository.
// Failures degrade to "no pr badges"; they never block planning.
type PRLister interface {
	OpenPRHeads(repo *domain.Repository) (map[string]int, error)
}

// QueueChecker reports whether a job for the branch is already pending in
// the external scheduler's queue.
type QueueChecker interface {
	Queued(repo, branch string) (bool, error)
}

// Planner computes the runnable branch list.
type Planner struct {
	log   *runlog.Logger
	prs   PRLister
	queue QueueChecker
}

// New creates a Planner. prs and queue may be nil.
func New(log *runlog.Logger, prs PRLister, queue QueueChecker) *Planner {
	return &Planner{log: log, prs: prs, queue: queue}
}

// Plan assigns badges and returns the runnable branches in execution
// order. The badge passes are applied in a fixed order: always branches
// are appended if absent, baseline branches move to the front only when
// something else would run, and never branches are removed last,
// unconditionally. Replanning an unchanged repository yields an empty
// list.
func (p *Planner) Plan(repo *domain.Repository) ([]*domain.Branch, error) {
	p.assignBadges(repo)

	var runnable []*domain.Branch
	if repo.RunAll {
		p.log.Printf(1, "Running all branches of %s: %s", repo.Name, repo.RunAllNote)
		runnable = append(runnable, repo.Branches...)
	} else {
		for _, b := range repo.Branches {
			stored := metadata.ReadBranch(b.MetadataPath())
			if b.Commit != stored.Commit {
				p.log.Printf(2, "Branch %s changed (%.8s -> %.8s)", b.Name, stored.Commit, b.Commit)
				runnable = append(runnable, b)
			} else {
				p.log.Printf(2, "Branch %s has not changed since last run; skipping", b.Name)
			}
		}
	}

	for _, b := range repo.Branches {
		if b.HasBadge(domain.BadgeAlways) && !contains(runnable, b) {
			p.log.Printf(2, "Adding always-run branch %s", b.Name)
			runnable = append(runnable, b)
		}
	}
	for _, b := range repo.Branches {
		if b.HasBadge(domain.BadgeBaseline) && len(runnable) > 0 {
			p.log.Printf(2, "Moving baseline branch %s to the front", b.Name)
			runnable = remove(runnable, b)
			runnable = append([]*domain.Branch{b}, runnable...)
		}
	}
	for _, b := range repo.Branches {
		if b.HasBadge(domain.BadgeNever) && contains(runnable, b) {
			p.log.Printf(2, "Removing never-run branch %s", b.Name)
			runnable = remove(runnable, b)
		}
	}
	for _, b := range repo.Branches {
		if b.HasBadge(domain.BadgeQueued) && contains(runnable, b) {
			p.log.Printf(2, "Branch %s already queued; skipping", b.Name)
			runnable = remove(runnable, b)
		}
	}

	return runnable, nil
}

// assignBadges attaches the declared badges plus the computed main, pr#,
// and queued badges.
func (p *Planner) assignBadges(repo *domain.Repository) {
	var prHeads map[string]int
	if p.prs != nil && repo.GitHub != "" {
		heads, err := p.prs.OpenPRHeads(repo)
		if err != nil {
			p.log.Printf(2, "PR listing failed for %s: %v", repo.Name, err)
		} else {
			prHeads = heads
		}
	}

	for _, b := range repo.Branches {
		b.Badges = nil
		if b.Name == repo.MainBranch {
			b.AddBadge(domain.BadgeMain)
		}
		for _, n := range repo.Baseline {
			if b.Name == n {
				b.AddBadge(domain.BadgeBaseline)
			}
		}
		for _, n := range repo.Always {
			if b.Name == n {
				b.AddBadge(domain.BadgeAlways)
			}
		}
		for _, n := range repo.Never {
			if b.Name == n {
				b.AddBadge(domain.BadgeNever)
			}
		}
		if n, ok := prHeads[b.Name]; ok {
			b.AddBadge(domain.PRBadge(n))
		}
		if p.queue != nil {
			queued, err := p.queue.Queued(repo.Name, b.Name)
			if err != nil {
				p.log.Printf(2, "Queue check failed for %s: %v", b.Name, err)
			} else if queued {
				b.AddBadge(domain.BadgeQueued)
			}
		}
	}
}

func contains(list []*domain.Branch, b *domain.Branch) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

func remove(list []*domain.Branch, b *domain.Branch) []*domain.Branch {
	out := list[:0]
	for _, x := range list {
		if x != b {
			out = append(out, x)
		}
	}
	return out
}
