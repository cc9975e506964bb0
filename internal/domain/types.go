package domain

import "fmt"

// ResultKind classifies the outcome of one nightly job.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
	ResultTimeout ResultKind = "timeout"
	ResultKilled  ResultKind = "killed"
)

// Badge is a declarative label attached to a branch that controls
// planner inclusion, exclusion, and ordering.
type Badge string

const (
	BadgeMain     Badge = "main"
	BadgeBaseline Badge = "baseline"
	BadgeAlways   Badge = "always"
	BadgeNever    Badge = "never"
	BadgeQueued   Badge = "queued"
)

// PRBadge returns the badge for a branch that is the head of an open
// pull request, e.g. "pr#17".
func PRBadge(number int) Badge {
	return Badge(fmt.Sprintf("pr#%d", number))
}

// Warning is a non-fatal observation raised while running a job. It is
// queued for the repository's next notification and never fails the job.
type Warning struct {
	Kind    string // e.g. "report-size", "log-size", "branch-size"
	Message string
}
