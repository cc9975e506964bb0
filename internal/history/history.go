// Package history provides SQLite-backed persistence of past job runs,
// one row per executed branch job.
package history

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	repo TEXT NOT NULL,
	branch TEXT NOT NULL,
	commit_hash TEXT NOT NULL,
	result TEXT NOT NULL,
	elapsed_secs REAL NOT NULL,
	log_name TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_repo_branch ON runs(repo, branch);
`

// Entry is one recorded job run.
type Entry struct {
	ID        string
	RunID     string // correlates entries from the same cycle
	Repo      string
	Branch    string
	Commit    string
	Result    domain.ResultKind
	Elapsed   time.Duration
	LogName   string
	StartedAt time.Time
}

// Store provides run-history persistence.
type Store struct {
	db *sql.DB
}

// Open creates a Store backed by the database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one run entry, assigning it an ID.
func (s *Store) Record(e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, run_id, repo, branch, commit_hash, result, elapsed_secs, log_name, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.RunID, e.Repo, e.Branch, e.Commit, string(e.Result),
		e.Elapsed.Seconds(), e.LogName, e.StartedAt)
	return err
}

// Recent returns up to limit entries, newest first, optionally filtered
// by repository.
func (s *Store) Recent(repo string, limit int) ([]Entry, error) {
	query := `
		SELECT id, run_id, repo, branch, commit_hash, result, elapsed_secs, log_name, started_at
		FROM runs`
	args := []any{}
	if repo != "" {
		query += " WHERE repo = ?"
		args = append(args, repo)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var result string
		var secs float64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Repo, &e.Branch, &e.Commit,
			&result, &secs, &e.LogName, &e.StartedAt); err != nil {
			return nil, err
		}
		e.Result = domain.ResultKind(result)
		e.Elapsed = time.Duration(secs * float64(time.Second))
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
