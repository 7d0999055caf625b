// Package github wraps the GitHub API surface the pipeline needs: opening
// pull requests, reading deploy checks, and fetching failure logs.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const (
	autoLabel = "seo-auto"

	// maxLogFetch bounds a single log download. Deploy providers can emit
	// very large logs; only the tail matters for diagnosis.
	maxLogFetch = 64 * 1024
)

// CheckRun is a provider-neutral view of one GitHub check run.
type CheckRun struct {
	Name       string
	AppSlug    string
	Status     string
	Conclusion string
	DetailsURL string
	Summary    string
}

// CommitStatus is a provider-neutral view of one commit status context.
type CommitStatus struct {
	Context     string
	State       string
	Description string
	TargetURL   string
}

// Client talks to the GitHub REST API for one installation token.
type Client struct {
	api  *gh.Client
	http *http.Client
}

// NewClient builds an authenticated client. The token must carry repo scope.
func NewClient(ctx context.Context, token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github: token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &Client{api: gh.NewClient(tc), http: tc}, nil
}

// ParseRepoURL extracts owner and repo name from an HTTPS or SSH GitHub URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	trimmed = strings.TrimPrefix(trimmed, "git@github.com:")
	if u, parseErr := url.Parse(trimmed); parseErr == nil && u.Host != "" {
		trimmed = strings.TrimPrefix(u.Path, "/")
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("github: cannot parse repository from %q", repoURL)
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// OpenPullRequest opens a PR from head into base and applies the automation
// label. A missing label is created once and the labeling retried; label
// failures never fail the PR itself.
func (c *Client) OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (string, error) {
	pr, _, err := c.api.PullRequests.Create(ctx, owner, repo, &gh.NewPullRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
		Head:  gh.String(head),
		Base:  gh.String(base),
	})
	if err != nil {
		return "", fmt.Errorf("github: create pull request: %w", err)
	}

	c.applyAutoLabel(ctx, owner, repo, pr.GetNumber())

	return pr.GetHTMLURL(), nil
}

func (c *Client) applyAutoLabel(ctx context.Context, owner, repo string, number int) {
	_, _, err := c.api.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{autoLabel})
	if err == nil {
		return
	}

	_, _, createErr := c.api.Issues.CreateLabel(ctx, owner, repo, &gh.Label{
		Name:        gh.String(autoLabel),
		Color:       gh.String("0e8a16"),
		Description: gh.String("Automated SEO improvements"),
	})
	if createErr != nil {
		return
	}
	c.api.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{autoLabel})
}

// ResolveHead returns the tip commit SHA of a branch.
func (c *Client) ResolveHead(ctx context.Context, owner, repo, branch string) (string, error) {
	ref, _, err := c.api.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("github: resolve head of %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// ListCheckRuns returns all check runs for a commit.
func (c *Client) ListCheckRuns(ctx context.Context, owner, repo, sha string) ([]CheckRun, error) {
	var runs []CheckRun
	opts := &gh.ListCheckRunsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		result, resp, err := c.api.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("github: list check runs: %w", err)
		}
		for _, run := range result.CheckRuns {
			runs = append(runs, CheckRun{
				Name:       run.GetName(),
				AppSlug:    run.GetApp().GetSlug(),
				Status:     run.GetStatus(),
				Conclusion: run.GetConclusion(),
				DetailsURL: run.GetDetailsURL(),
				Summary:    run.GetOutput().GetSummary(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return runs, nil
}

// ListCommitStatuses returns the combined commit statuses for a commit. Used
// as a fallback for providers that report via the legacy status API.
func (c *Client) ListCommitStatuses(ctx context.Context, owner, repo, sha string) ([]CommitStatus, error) {
	var statuses []CommitStatus
	opts := &gh.ListOptions{PerPage: 100}
	for {
		page, resp, err := c.api.Repositories.ListStatuses(ctx, owner, repo, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("github: list commit statuses: %w", err)
		}
		for _, st := range page {
			statuses = append(statuses, CommitStatus{
				Context:     st.GetContext(),
				State:       st.GetState(),
				Description: st.GetDescription(),
				TargetURL:   st.GetTargetURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return statuses, nil
}

// FetchLogExcerpt downloads up to maxLogFetch bytes from a check's details
// URL. A failure returns an empty excerpt, not an error; logs are best-effort
// diagnostic input.
func (c *Client) FetchLogExcerpt(ctx context.Context, logURL string) string {
	if logURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL, nil)
	if err != nil {
		return ""
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogFetch))
	if err != nil {
		return ""
	}
	return string(data)
}
