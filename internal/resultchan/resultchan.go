// Package resultchan is the per-job side channel a spawned build can use
// to report structured key/value results back to the orchestrator. The
// executor creates a job-scoped backing file and passes its path to the
// child through the environment; the nightly-results command appends one
// JSON-encoded message per call. The child never needs access to the
// orchestrator's state or credentials, and a job that never reports
// simply leaves the channel empty.
package resultchan

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EnvResultsFile names the channel's backing file in the job environment.
const EnvResultsFile = "NIGHTLY_RESULTS_FILE"

// Message is one reported record: a key and its value tokens.
type Message struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// Channel is one job's side channel.
type Channel struct {
	path string
}

// New creates a fresh channel backed by a uniquely named file under dir.
func New(dir string) (*Channel, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "results-"+uuid.NewString()+".jsonl")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return nil, err
	}
	return &Channel{path: path}, nil
}

// Path returns the backing file path.
func (c *Channel) Path() string { return c.path }

// Env returns the environment entry that exposes the channel to a job.
func (c *Channel) Env() string { return EnvResultsFile + "=" + c.path }

// Collect reads all reported messages into a flat info map, joining value
// tokens with spaces. Corrupt lines are skipped.
func (c *Channel) Collect() (map[string]string, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	info := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		info[m.Key] = strings.Join(m.Values, " ")
	}
	return info, scanner.Err()
}

// Reset truncates the channel so contents never leak into the next job.
func (c *Channel) Reset() error {
	return os.Truncate(c.path, 0)
}

// Remove deletes the backing file.
func (c *Channel) Remove() error {
	err := os.Remove(c.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Append validates and appends one message to the channel file at path.
// It is used by the nightly-results command running inside the job.
func Append(path string, m Message) error {
	if err := Validate(m); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// Validate enforces the message rules: the reserved "url" key must carry
// a single absolute URI.
func Validate(m Message) error {
	if m.Key == "" {
		return fmt.Errorf("result message needs a key")
	}
	if m.Key == "url" {
		if len(m.Values) != 1 {
			return fmt.Errorf("url takes exactly one value")
		}
		// Host-less absolute URIs such as file:///x are fine; the value
		// just has to parse and carry a scheme.
		u, err := url.Parse(m.Values[0])
		if err != nil || !u.IsAbs() || !strings.Contains(m.Values[0], "://") {
			return fmt.Errorf("invalid URL: %q", m.Values[0])
		}
	}
	return nil
}
