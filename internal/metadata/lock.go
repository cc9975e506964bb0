package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// RunStatus is the content of the run-lock record: process identity plus
// a best-effort live-status snapshot. The record's existence is the
// mutex; its content may be stale if the owner crashed. The coordinator
// treats RunStatus as immutable, deriving a new value per transition and
// serializing it wholesale.
type RunStatus struct {
	RunID  string    `json:"run_id"`
	PID    int       `json:"pid"`
	Start  time.Time `json:"start"`
	Config string    `json:"config"`
	Log    string    `json:"log"`

	Repo      string `json:"repo,omitempty"`
	Branch    string `json:"branch,omitempty"`
	BranchLog string `json:"branch_log,omitempty"`
	Done      int    `json:"done,omitempty"`
	Total     int    `json:"total,omitempty"`
}

// WithJob returns a copy describing the job about to run.
func (s RunStatus) WithJob(repo, branch, branchLog string, done, total int) RunStatus {
	s.Repo, s.Branch, s.BranchLog = repo, branch, branchLog
	s.Done, s.Total = done, total
	return s
}

// Idle returns a copy with the per-job fields cleared.
func (s RunStatus) Idle() RunStatus {
	s.Repo, s.Branch, s.BranchLog = "", "", ""
	return s
}

// ErrLockHeld is returned when another process holds the run lock.
// OwnerPID is 0 when the existing record could not be read.
type ErrLockHeld struct {
	OwnerPID int
}

func (e *ErrLockHeld) Error() string {
	if e.OwnerPID == 0 {
		return "run lock already held"
	}
	return fmt.Sprintf("run lock already held by pid %d", e.OwnerPID)
}

// Lock is an acquired run lock.
type Lock struct {
	path string
}

// AcquireLock atomically creates the lock file and writes the initial
// status record. If the file already exists, the existing record is read
// best-effort for diagnostics and ErrLockHeld is returned.
func AcquireLock(path string, status RunStatus) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			held := &ErrLockHeld{}
			if existing, rerr := ReadStatus(path); rerr == nil {
				held.OwnerPID = existing.PID
			}
			return nil, held
		}
		return nil, err
	}
	l := &Lock{path: path}
	if err := json.NewEncoder(f).Encode(status); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return l, nil
}

// Update rewrites the whole record with the given status.
func (l *Lock) Update(status RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0644)
}

// Release deletes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadStatus loads the current lock record, for status display and lock
// contention diagnostics.
func ReadStatus(path string) (RunStatus, error) {
	var s RunStatus
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.New("run lock record is corrupt")
	}
	return s, nil
}
