package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// SlackNotifier posts run summaries to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	baseURL    string // public base for log links
	client     *http.Client
}

// NewSlackNotifier creates a Slack notifier. An empty webhook disables it.
func NewSlackNotifier(webhookURL, baseURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		baseURL:    baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks,omitempty"`
}

type block struct {
	Type      string     `json:"type"`
	Text      *text      `json:"text,omitempty"`
	Accessory *accessory `json:"accessory,omitempty"`
	Fields    []text     `json:"fields,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
	AltText   string     `json:"alt_text,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type accessory struct {
	Type  string `json:"type"`
	Text  text   `json:"text"`
	URL   string `json:"url"`
	Style string `json:"style,omitempty"`
}

// PostRun renders one section per branch: the result line, a button to
// the error log or the published report, any extra side-channel fields,
// and an image block when one was reported.
func (s *SlackNotifier) PostRun(repo string, reports []BranchReport) error {
	var blocks []block
	for _, r := range reports {
		result := string(r.Result)
		if r.Result != domain.ResultSuccess {
			result = "*" + result + "*"
		}
		line := fmt.Sprintf("Branch `%s` of `%s` was a %s in %s", r.Branch, repo, result, r.Elapsed)
		if emoji := r.Info["emoji"]; emoji != "" {
			line += " " + emoji
		}

		b := block{Type: "section", Text: &text{Type: "mrkdwn", Text: line}}
		if r.Result != domain.ResultSuccess {
			b.Accessory = &accessory{
				Type:  "button",
				Text:  text{Type: "plain_text", Text: "Error Log"},
				URL:   s.baseURL + "logs/" + url.PathEscape(r.LogName),
				Style: "primary",
			}
		} else if reportURL := r.Info["url"]; reportURL != "" {
			b.Accessory = &accessory{
				Type: "button",
				Text: text{Type: "plain_text", Text: "View Report"},
				URL:  reportURL,
			}
		}
		for _, k := range sortedKeys(r.Info) {
			switch k {
			case "url", "emoji", "img", "logurl":
				continue
			}
			b.Fields = append(b.Fields,
				text{Type: "mrkdwn", Text: "*" + titleCase(k) + "*"},
				text{Type: "mrkdwn", Text: r.Info[k]})
		}
		blocks = append(blocks, b)

		if img := r.Info["img"]; img != "" {
			imgURL, alt, _ := strings.Cut(img, " ")
			if alt == "" {
				alt = fmt.Sprintf("Image for %s branch %s", repo, r.Branch)
			}
			blocks = append(blocks, block{Type: "image", ImageURL: imgURL, AltText: alt})
		}
		for _, w := range r.Warnings {
			blocks = append(blocks, block{Type: "section", Text: &text{
				Type: "mrkdwn",
				Text: fmt.Sprintf(":warning: `%s`: %s", w.Kind, w.Message),
			}})
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return s.post(message{Text: "Nightly data for " + repo, Blocks: blocks})
}

// PostFatal reports a repository-level fatal error.
func (s *SlackNotifier) PostFatal(repo string, msg string) error {
	return s.post(message{
		Text: "Fatal error running nightlies for " + repo,
		Blocks: []block{
			{Type: "section", Text: &text{Type: "mrkdwn", Text: msg}},
		},
	})
}

func (s *SlackNotifier) post(m message) error {
	if s.webhookURL == "" {
		return nil // disabled
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
