package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Secrets resolves notification channel names to webhook URLs.
type Secrets interface {
	Webhook(channel string) string
}

type secretFile struct {
	Slack string `yaml:"slack"`
}

// FileSecrets is a directory of per-channel YAML files, each named
// <channel>.yaml and carrying the channel's webhook URL. Credentials stay
// out of the main configuration file this way.
type FileSecrets struct {
	webhooks map[string]string
}

// LoadSecrets reads every *.yaml file under dir. A missing or empty dir
// yields an empty lookup, not an error.
func LoadSecrets(dir string) (*FileSecrets, error) {
	s := &FileSecrets{webhooks: map[string]string{}}
	if dir == "" {
		return s, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var sf secretFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, err
		}
		channel := strings.TrimSuffix(e.Name(), ".yaml")
		if sf.Slack != "" {
			s.webhooks[channel] = sf.Slack
		}
	}
	return s, nil
}

// Webhook returns the webhook for channel, or "" when unknown.
func (s *FileSecrets) Webhook(channel string) string {
	return s.webhooks[channel]
}
