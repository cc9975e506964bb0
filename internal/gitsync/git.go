package gitsync

import (
	"fmt"
	"os/exec"
	"strings"
)

// CommandError reports a nonzero exit from external tooling, keeping the
// offending command and exit code for the per-repository fatal message.
type CommandError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("process %q returned error code %d", e.Cmd, e.ExitCode)
}

// Git runs a git command in dir and returns its trimmed combined output.
func Git(dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	cmd := exec.Command("git", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", &CommandError{
				Cmd:      "git " + strings.Join(full, " "),
				ExitCode: exitErr.ExitCode(),
				Output:   string(out),
			}
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(full, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}
