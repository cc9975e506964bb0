// Package aptcheck detects updates to a repository's declared system
// packages. An update flags the repository "run all": every branch runs
// regardless of change detection.
package aptcheck

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

var aptLine = regexp.MustCompile(`(?m)^(\d+) upgraded, (\d+) newly installed, (\d+) to remove and (\d+) not upgraded\.$`)

// CheckUpdates dry-runs an install of pkgs and reports whether apt would
// upgrade, install, or remove anything.
func CheckUpdates(pkgs []string) (bool, error) {
	out, err := exec.Command("sudo", append([]string{"apt", "install", "--dry-run"}, pkgs...)...).CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("apt dry-run: %w", err)
	}
	return ParseAptOutput(string(out))
}

// Install installs pkgs.
func Install(pkgs []string) error {
	out, err := exec.Command("sudo", append([]string{"apt", "install", "--yes"}, pkgs...)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("apt install: %s: %w", out, err)
	}
	return nil
}

// ParseAptOutput finds apt's summary line and reports whether any count
// besides "not upgraded" is nonzero.
func ParseAptOutput(out string) (bool, error) {
	m := aptLine.FindStringSubmatch(out)
	if m == nil {
		return false, fmt.Errorf("apt: no package summary line in output")
	}
	for _, field := range m[1:4] {
		n, _ := strconv.Atoi(field)
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}
