package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	vcs "github.com/pressroom-dev/seopilot/internal/vcs/github"
	"github.com/pressroom-dev/seopilot/state"
)

// Hosting is the repository hosting surface the pipeline drives. Implemented
// by internal/vcs/github.
type Hosting interface {
	OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (string, error)
	ResolveHead(ctx context.Context, owner, repo, branch string) (string, error)
	ListCheckRuns(ctx context.Context, owner, repo, sha string) ([]vcs.CheckRun, error)
	ListCommitStatuses(ctx context.Context, owner, repo, sha string) ([]vcs.CommitStatus, error)
	FetchLogExcerpt(ctx context.Context, logURL string) string
}

// Publisher pushes the remediation branch and opens the review request.
type Publisher struct {
	hosting Hosting
}

func NewPublisher(hosting Hosting) *Publisher {
	return &Publisher{hosting: hosting}
}

// BranchName derives the remediation branch for a run. The run ID suffix
// keeps same-day runs for one domain from colliding.
func BranchName(domain string, now time.Time, runID string) string {
	clean := strings.TrimPrefix(domain, "https://")
	clean = strings.TrimPrefix(clean, "http://")
	clean = strings.ReplaceAll(clean, "/", "_")
	return fmt.Sprintf("seo-auto/%s/%s-%s", clean, now.Format("2006-01-02"), shortSuffix(runID))
}

// Publish pushes the branch and opens a pull request against the base
// branch. The branch is never merged here; review stays with a human.
func (p *Publisher) Publish(ctx context.Context, ws Workspace, run state.Run, branch string, now time.Time) (string, error) {
	if err := ws.Push(ctx, branch); err != nil {
		return "", err
	}

	owner, repo, err := vcs.ParseRepoURL(run.RepoURL)
	if err != nil {
		return "", err
	}

	title := fmt.Sprintf("[SEO] %s: Automated improvements (%s)", run.Domain, now.Format("2006-01-02"))
	body := buildPRBody(run.Plan, run.Domain)

	prURL, err := p.hosting.OpenPullRequest(ctx, owner, repo, title, body, branch, run.BaseBranch)
	if err != nil {
		return "", err
	}
	return prURL, nil
}

func buildPRBody(plan *state.Plan, domain string) string {
	var tierSections []string
	totalChanges := 0
	nonEmptyTiers := 0

	if plan != nil {
		for _, tier := range plan.Tiers {
			if len(tier.Changes) == 0 {
				continue
			}
			nonEmptyTiers++
			totalChanges += len(tier.Changes)

			var lines []string
			for _, c := range tier.Changes {
				target := c.PageURL
				if target == "" {
					target = c.FilePath
				}
				if target == "" {
					target = "N/A"
				}
				lines = append(lines, fmt.Sprintf("- **%s** on `%s`: %s", changeType(c), target, c.Justification))
			}
			tierSections = append(tierSections, fmt.Sprintf("### %s — %s (%d changes)\n%s",
				tier.Tier, tier.Description, len(tier.Changes), strings.Join(lines, "\n")))
		}
	}

	return fmt.Sprintf(`## SEO Improvements for %s

Automated analysis identified %d improvements across %d priority tiers.

%s

---
*Generated by the SEO remediation pipeline. Human review required before merge.*`,
		domain, totalChanges, nonEmptyTiers, strings.Join(tierSections, "\n\n"))
}
