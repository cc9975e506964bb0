// Package prlist is the boundary to the pull-request listing
// collaborator. It feeds the planner's pr# badges; failures here degrade
// to "no badges" rather than blocking a cycle.
package prlist

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pavpanchekha/nightly-runner/internal/domain"
)

// Client lists open pull requests via the GitHub REST API.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client. baseURL overrides the API endpoint for tests; an
// empty value targets api.github.com.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type pull struct {
	Number int `json:"number"`
	Head   struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

// OpenPRHeads returns a map from head branch name to PR number for all
// open pull requests against the repository's upstream.
func (c *Client) OpenPRHeads(repo *domain.Repository) (map[string]int, error) {
	if repo.GitHub == "" {
		return nil, nil
	}
	url := fmt.Sprintf("%s/repos/%s/pulls?state=open&per_page=100", c.baseURL, repo.GitHub)
	resp, err := c.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github returned %d for %s", resp.StatusCode, repo.GitHub)
	}

	var pulls []pull
	if err := json.NewDecoder(resp.Body).Decode(&pulls); err != nil {
		return nil, err
	}
	heads := make(map[string]int, len(pulls))
	for _, p := range pulls {
		heads[p.Head.Ref] = p.Number
	}
	return heads, nil
}
