// Package metadata persists the small JSON records the orchestrator
// depends on: per-branch last-run state and the global run-lock record.
package metadata

import (
	"encoding/json"
	"os"
)

// BranchMeta is the per-branch persistent record. Commit is the sole
// idempotence signal: a branch is "unchanged" iff its current remote
// commit equals the stored one. It is written after every attempt, so a
// failing job is not retried until its commit changes.
type BranchMeta struct {
	Commit string  `json:"commit"`
	Time   float64 `json:"time"` // unix epoch of the last attempt
}

// ReadBranch loads the record at path. An absent, unreadable, or corrupt
// file reads as an empty record, which forces the branch to be treated
// as changed.
func ReadBranch(path string) BranchMeta {
	var m BranchMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return BranchMeta{}
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return BranchMeta{}
	}
	return m
}

// WriteBranch persists the record at path.
func WriteBranch(path string, m BranchMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
