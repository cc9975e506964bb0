// Package notify is the boundary to the notification collaborator. The
// engine hands it per-repository run summaries and fatal messages;
// transport failures are the caller's to log and swallow, never to
// escalate into a job's result.
package notify

import (
	"golang.org/x/sync/errgroup"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// BranchReport is the outcome of one branch's job, ready for rendering.
type BranchReport struct {
	Branch   string
	Result   domain.ResultKind
	Elapsed  string
	Info     map[string]string // side-channel + derived fields
	LogName  string
	Warnings []domain.Warning
}

// Notifier posts run outcomes for one repository.
type Notifier interface {
	// PostRun reports the results of a completed set of branch jobs.
	PostRun(repo string, reports []BranchReport) error
	// PostFatal reports a repository-level fatal error.
	PostFatal(repo string, message string) error
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) PostRun(string, []BranchReport) error { return nil }
func (Noop) PostFatal(string, string) error       { return nil }

// Multi fans a notification out to several notifiers concurrently and
// returns the first error.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a notifier that sends to all provided notifiers.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) PostRun(repo string, reports []BranchReport) error {
	var g errgroup.Group
	for _, n := range m.notifiers {
		n := n
		g.Go(func() error { return n.PostRun(repo, reports) })
	}
	return g.Wait()
}

func (m *Multi) PostFatal(repo string, message string) error {
	var g errgroup.Group
	for _, n := range m.notifiers {
		n := n
		g.Go(func() error { return n.PostFatal(repo, message) })
	}
	return g.Wait()
}
