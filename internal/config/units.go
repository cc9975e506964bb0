package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeout parses a human-unit duration: "2hr", "90m", "30sec", or a
// bare number of seconds.
func ParseTimeout(s string) (time.Duration, error) {
	units := []struct {
		suffix string
		mult   time.Duration
	}{
		{"hr", time.Hour}, {"h", time.Hour},
		{"min", time.Minute}, {"m", time.Minute},
		{"sec", time.Second}, {"s", time.Second},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return time.Duration(n * float64(u.mult)), nil
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n * float64(time.Second)), nil
}

// ParseSize parses a human-unit byte count: "1gb", "512mb", "100k", or a
// bare number of bytes.
func ParseSize(s string) (int64, error) {
	units := []struct {
		suffix string
		mult   int64
	}{
		{"kb", 1 << 10}, {"mb", 1 << 20}, {"gb", 1 << 30},
		{"k", 1 << 10}, {"m", 1 << 20}, {"g", 1 << 30},
	}
	ls := strings.ToLower(s)
	for _, u := range units {
		if strings.HasSuffix(ls, u.suffix) {
			n, err := strconv.ParseFloat(strings.TrimSuffix(ls, u.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q", s)
			}
			return int64(n * float64(u.mult)), nil
		}
	}
	n, err := strconv.ParseInt(ls, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n, nil
}

// ParseCores parses a core-count hint; "all" (or empty) means no
// reservation and returns 0.
func ParseCores(s string) (int, error) {
	if s == "" || strings.EqualFold(s, "all") {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid cores %q", s)
	}
	return n, nil
}

// FormatElapsed renders a wall time the way run summaries expect:
// seconds under two minutes, minutes under two hours, hours beyond.
func FormatElapsed(d time.Duration) string {
	t := d.Seconds()
	switch {
	case t < 120:
		return fmt.Sprintf("%.1fs", t)
	case t < 120*60:
		return fmt.Sprintf("%.1fm", t/60)
	default:
		return fmt.Sprintf("%.1fh", t/60/60)
	}
}
