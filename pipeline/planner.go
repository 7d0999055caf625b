package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pressroom-dev/seopilot/internal/llmjson"
	"github.com/pressroom-dev/seopilot/state"
)

// RepoContext describes the repository a plan targets. The planner feeds it
// to the model so file path guesses line up with the real tree.
type RepoContext struct {
	RepoURL            string
	BaseBranch         string
	CompanyDescription string
}

// Planner turns an audit result into a tiered improvement plan.
type Planner struct {
	llm LLMClient
}

func NewPlanner(llm LLMClient) *Planner {
	return &Planner{llm: llm}
}

// BuildPlan digests the audit for the model, requests a plan, and enforces
// the per-tier change caps on whatever comes back.
func (p *Planner) BuildPlan(ctx context.Context, audit AuditResult, repo RepoContext) (state.Plan, error) {
	digest := buildAuditDigest(audit, repo)

	raw, err := p.llm.Complete(ctx, analysisSystemPrompt, digest)
	if err != nil {
		return state.Plan{}, fmt.Errorf("analysis request: %w", err)
	}

	var plan state.Plan
	if err := llmjson.ExtractObject(raw, &plan); err != nil {
		return state.Plan{}, fmt.Errorf("analysis response: %w", err)
	}

	capTiers(&plan)
	return plan, nil
}

// buildAuditDigest flattens audit data into the text block the analysis
// prompt expects.
func buildAuditDigest(audit AuditResult, repo RepoContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SEO AUDIT RESULTS FOR %s\n", audit.Domain)
	fmt.Fprintf(&b, "%d pages crawled.\n\n", audit.PagesAudited)

	totalIssues := 0
	for _, page := range audit.Pages {
		totalIssues += len(page.Issues)
		fmt.Fprintf(&b, "\n--- %s ---\n", page.URL)
		fmt.Fprintf(&b, "Title (%d chars): %s\n", page.TitleLength, orMissing(page.Title))
		fmt.Fprintf(&b, "Meta desc (%d chars): %s\n", page.MetaDescriptionLength, clip(orMissing(page.MetaDescription), 100))
		fmt.Fprintf(&b, "H1s: %d | H2s: %d | Words: %d\n", page.H1Count, page.H2Count, page.WordCount)
		fmt.Fprintf(&b, "Images: %d total, %d missing alt\n", page.TotalImages, page.ImagesMissingAlt)
		fmt.Fprintf(&b, "Links: %d internal, %d external\n", page.InternalLinks, page.ExternalLinks)
		fmt.Fprintf(&b, "Schema: %s | Canonical: %s | OG: %s\n", yesNo(page.HasSchema), yesNo(page.Canonical != ""), yesNo(page.OGImage != ""))
		if len(page.Issues) > 0 {
			fmt.Fprintf(&b, "Issues: %s\n", strings.Join(page.Issues, ", "))
		}
	}

	fmt.Fprintf(&b, "\nTOTAL ISSUES: %d across %d pages\n", totalIssues, len(audit.Pages))

	if audit.Recommendations.Analysis != "" {
		fmt.Fprintf(&b, "\n\nEXISTING ANALYSIS:\n%s\n", audit.Recommendations.Analysis)
	}
	if repo.RepoURL != "" {
		fmt.Fprintf(&b, "\n\nTARGET REPO: %s\n", repo.RepoURL)
	}
	if repo.BaseBranch != "" {
		fmt.Fprintf(&b, "BASE BRANCH: %s\n", repo.BaseBranch)
	}
	if repo.CompanyDescription != "" {
		fmt.Fprintf(&b, "\nCOMPANY CONTEXT: %s\n", repo.CompanyDescription)
	}

	return b.String()
}

// capTiers truncates each tier to its change budget. The prompt states the
// caps but model output is untrusted.
func capTiers(plan *state.Plan) {
	for i := range plan.Tiers {
		limit := state.TierCap(plan.Tiers[i].Tier)
		if len(plan.Tiers[i].Changes) > limit {
			plan.Tiers[i].Changes = plan.Tiers[i].Changes[:limit]
		}
	}
}

func orMissing(s string) string {
	if s == "" {
		return "MISSING"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
