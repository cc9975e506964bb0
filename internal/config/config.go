// Package config loads and validates the nightly runner configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// EnvConfigFile names the active configuration file so re-entrant runner
// invocations can reconstruct identical configuration.
const EnvConfigFile = "NIGHTLY_CONF_FILE"

// Config holds all application configuration
type Config struct {
	Defaults Defaults     `toml:"defaults"`
	Repos    []RepoConfig `toml:"repo"`

	// Path is the file this config was loaded from, resolved.
	Path string `toml:"-"`
}

// Defaults holds settings shared by every repository
type Defaults struct {
	BaseURL     string `toml:"base_url"`
	ReposDir    string `toml:"repos_dir"`
	ReportsDir  string `toml:"reports_dir"`
	LogsDir     string `toml:"logs_dir"`
	LockPath    string `toml:"lock_path"`
	SecretsDir  string `toml:"secrets_dir"`
	HistoryPath string `toml:"history_path"`
	DryRun      bool   `toml:"dry_run"`
	WaitOnLock  bool   `toml:"wait_on_lock"`
	Cron        string `toml:"cron"` // daemon mode schedule
}

// RepoConfig is one [[repo]] table
type RepoConfig struct {
	Name       string   `toml:"name"`
	URL        string   `toml:"url"`
	GitHub     string   `toml:"github"` // owner/repo shorthand
	Main       string   `toml:"main"`
	Branches   []string `toml:"branches"`
	Baseline   []string `toml:"baseline"`
	Always     []string `toml:"always"`
	Never      []string `toml:"never"`
	Ignore     []string `toml:"ignore"`
	Timeout    string   `toml:"timeout"`
	Report     string   `toml:"report"`
	Image      string   `toml:"image"`
	Gzip       []string `toml:"gzip"`
	WarnReport string   `toml:"warn_report"`
	WarnLog    string   `toml:"warn_log"`
	WarnBranch string   `toml:"warn_branch"`
	Cores      string   `toml:"cores"` // "all" or a count
	Memory     string   `toml:"memory"`
	Exclusive  bool     `toml:"exclusive"`
	Apt        []string `toml:"apt"`
	Slack      string   `toml:"slack"` // channel name looked up in secrets
	Scheduler  string   `toml:"scheduler"`
}

// ValidationError reports a configuration problem found before any side
// effect occurs.
type ValidationError struct {
	Section string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config: repo %q: %s: %s", e.Section, e.Field, e.Reason)
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Defaults: Defaults{
			ReposDir:    ".",
			ReportsDir:  "reports",
			LogsDir:     "logs",
			LockPath:    "running.lock",
			HistoryPath: "history.db",
		},
	}
}

// Load reads and validates configuration from a TOML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	d := &cfg.Defaults
	if d.BaseURL != "" && !strings.HasSuffix(d.BaseURL, "/") {
		d.BaseURL += "/"
	}
	for _, p := range []*string{&d.ReposDir, &d.ReportsDir, &d.LogsDir, &d.LockPath, &d.HistoryPath} {
		if *p, err = filepath.Abs(ExpandPath(*p)); err != nil {
			return nil, err
		}
	}
	if d.SecretsDir != "" {
		if d.SecretsDir, err = filepath.Abs(ExpandPath(d.SecretsDir)); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	seen := map[string]bool{}
	for i := range c.Repos {
		rc := &c.Repos[i]
		if rc.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("repo[%d].name", i), Reason: "required"}
		}
		short := ShortName(rc.Name)
		if seen[short] {
			return &ValidationError{Section: rc.Name, Field: "name", Reason: "duplicate short name " + short}
		}
		seen[short] = true
		if rc.URL == "" && rc.GitHub == "" {
			return &ValidationError{Section: rc.Name, Field: "url", Reason: "either url or github is required"}
		}
		if rc.Timeout != "" {
			if _, err := ParseTimeout(rc.Timeout); err != nil {
				return &ValidationError{Section: rc.Name, Field: "timeout", Reason: err.Error()}
			}
		}
		for _, f := range []struct{ name, val string }{
			{"warn_report", rc.WarnReport}, {"warn_log", rc.WarnLog},
			{"warn_branch", rc.WarnBranch}, {"memory", rc.Memory},
		} {
			if f.val == "" {
				continue
			}
			if _, err := ParseSize(f.val); err != nil {
				return &ValidationError{Section: rc.Name, Field: f.name, Reason: err.Error()}
			}
		}
		if rc.Cores != "" {
			if _, err := ParseCores(rc.Cores); err != nil {
				return &ValidationError{Section: rc.Name, Field: "cores", Reason: err.Error()}
			}
		}
		switch rc.Scheduler {
		case "", "direct", "batch":
		default:
			return &ValidationError{Section: rc.Name, Field: "scheduler", Reason: "must be direct or batch"}
		}
		if rc.Image != "" && rc.Report == "" {
			return &ValidationError{Section: rc.Name, Field: "image", Reason: "requires report"}
		}
	}
	return nil
}

// Repositories resolves the configured repositories into domain values.
// Secrets are consulted for notification webhooks; a missing secret just
// disables notification for that repository.
func (c *Config) Repositories(secrets Secrets) ([]*domain.Repository, error) {
	var repos []*domain.Repository
	for i := range c.Repos {
		rc := &c.Repos[i]
		repo, err := c.resolveRepo(rc, secrets)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// Repository resolves a single repository by short name. Used by the
// re-entrant job runner, which re-derives configuration per job.
func (c *Config) Repository(name string, secrets Secrets) (*domain.Repository, error) {
	for i := range c.Repos {
		if ShortName(c.Repos[i].Name) == name {
			return c.resolveRepo(&c.Repos[i], secrets)
		}
	}
	return nil, fmt.Errorf("config: no repository named %q", name)
}

func (c *Config) resolveRepo(rc *RepoConfig, secrets Secrets) (*domain.Repository, error) {
	short := ShortName(rc.Name)
	url := rc.URL
	if url == "" {
		url = "git@github.com:" + rc.GitHub + ".git"
	}
	main := rc.Main
	if main == "" {
		main = "main"
	}
	repo := &domain.Repository{
		Name:               short,
		URL:                url,
		Dir:                filepath.Join(c.Defaults.ReposDir, short),
		MainBranch:         main,
		ConfiguredBranches: rc.Branches,
		Baseline:           rc.Baseline,
		Always:             rc.Always,
		Never:              rc.Never,
		Ignore:             rc.Ignore,
		GitHub:             rc.GitHub,
		ReportSubdir:       rc.Report,
		ImageFile:          rc.Image,
		GzipGlobs:          rc.Gzip,
		Exclusive:          rc.Exclusive,
		AptPackages:        rc.Apt,
		Scheduler:          rc.Scheduler,
	}
	if repo.Scheduler == "" {
		repo.Scheduler = "direct"
	}

	var err error
	if rc.Timeout != "" {
		if repo.Timeout, err = ParseTimeout(rc.Timeout); err != nil {
			return nil, err
		}
	}
	if rc.WarnReport != "" {
		if repo.WarnReport, err = ParseSize(rc.WarnReport); err != nil {
			return nil, err
		}
	}
	if rc.WarnLog != "" {
		if repo.WarnLog, err = ParseSize(rc.WarnLog); err != nil {
			return nil, err
		}
	}
	if rc.WarnBranch != "" {
		if repo.WarnBranch, err = ParseSize(rc.WarnBranch); err != nil {
			return nil, err
		}
	}
	if rc.Memory != "" {
		if repo.Memory, err = ParseSize(rc.Memory); err != nil {
			return nil, err
		}
	}
	if rc.Cores != "" {
		if repo.Cores, err = ParseCores(rc.Cores); err != nil {
			return nil, err
		}
	}
	if rc.Slack != "" && secrets != nil {
		repo.SlackURL = secrets.Webhook(rc.Slack)
	}
	return repo, nil
}

// ShortName returns the last path segment of a configured repo name, so
// "uwplse/herbie" and "herbie" both map to directory "herbie".
func ShortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
