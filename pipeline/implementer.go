package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressroom-dev/seopilot/internal/edit"
	"github.com/pressroom-dev/seopilot/internal/llmjson"
	"github.com/pressroom-dev/seopilot/internal/observability"
	"github.com/pressroom-dev/seopilot/state"
)

// maxFileContext caps how much of a referenced file is quoted in the
// implementation prompt.
const maxFileContext = 10000

// Workspace is the clone surface the pipeline drives. Implemented by
// internal/workspace.
type Workspace interface {
	Root() string
	CreateBranch(name string) error
	HasChanges() (bool, error)
	CommitAll(message string) (string, error)
	Push(ctx context.Context, branch string) error
	Close() error
}

// TierResult summarizes the implementation outcome for one tier.
type TierResult struct {
	Tier         string   `json:"tier"`
	EditsApplied int      `json:"edits_applied"`
	EditsTotal   int      `json:"edits_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Implementer converts planned changes into applied, committed file edits.
type Implementer struct {
	llm     LLMClient
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewImplementer(llm LLMClient, logger *slog.Logger, metrics *observability.Metrics) *Implementer {
	if logger == nil {
		logger = observability.NewLogger("pipeline.implementer")
	}
	return &Implementer{llm: llm, logger: logger, metrics: metrics}
}

// Apply walks the plan tier by tier: request edits from the model, apply
// them, and commit each tier that produced changes. It returns per-tier
// results, the total edits applied, and the number of planned changes that
// made it into commits. A tier whose model call fails is recorded and
// skipped; the other tiers still run.
func (im *Implementer) Apply(ctx context.Context, ws Workspace, plan state.Plan, domain string) ([]TierResult, int, int) {
	var results []TierResult
	totalApplied := 0
	committedChanges := 0

	for _, tier := range plan.Tiers {
		if len(tier.Changes) == 0 {
			results = append(results, TierResult{Tier: tier.Tier})
			continue
		}

		prompt := buildImplementPrompt(ws.Root(), tier)
		raw, err := im.llm.Complete(ctx, implementSystemPrompt, prompt)
		if err != nil {
			im.logger.Error("implementation request failed", "event", "implement_failed", "tier", tier.Tier, "error", err)
			results = append(results, TierResult{Tier: tier.Tier, Errors: []string{err.Error()}})
			continue
		}
		im.metrics.IncLLMRequest("implement")

		edits := parseEdits(raw, im.logger)
		result := TierResult{Tier: tier.Tier, EditsTotal: len(edits)}
		for _, e := range edits {
			if err := edit.Apply(ws.Root(), e); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", e.FilePath, err))
				im.metrics.IncEdit("rejected")
				continue
			}
			result.EditsApplied++
			im.metrics.IncEdit("applied")
		}
		totalApplied += result.EditsApplied
		results = append(results, result)

		dirty, err := ws.HasChanges()
		if err != nil || !dirty {
			continue
		}
		message := fmt.Sprintf("[SEO %s] %s: %s", tier.Tier, domain, tierDescription(tier))
		if _, err := ws.CommitAll(message); err != nil {
			im.logger.Error("tier commit failed", "event", "commit_failed", "tier", tier.Tier, "error", err)
			continue
		}
		committedChanges += len(tier.Changes)
	}

	return results, totalApplied, committedChanges
}

// parseEdits decodes the model's edit array. An unparseable response yields
// zero edits rather than an error; the tier simply applies nothing.
func parseEdits(raw string, logger *slog.Logger) []edit.Edit {
	var edits []edit.Edit
	if err := llmjson.ExtractArray(raw, &edits); err != nil {
		logger.Warn("could not parse edits from model response", "event", "edits_unparseable", "error", err)
		return nil
	}
	return edits
}

func buildImplementPrompt(root string, tier state.Tier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# SEO Changes: %s\n", tier.Tier)
	fmt.Fprintf(&b, "Apply these %d changes to the repository.\n\n", len(tier.Changes))

	for i, change := range tier.Changes {
		fmt.Fprintf(&b, "## Change %d: %s\n", i+1, strings.ToUpper(changeType(change)))
		if change.FilePath != "" {
			fmt.Fprintf(&b, "**File**: `%s`\n", change.FilePath)
		}
		if change.PageURL != "" {
			fmt.Fprintf(&b, "**Page**: %s\n", change.PageURL)
		}
		fmt.Fprintf(&b, "**Type**: %s\n", changeType(change))
		if change.CurrentValue != "" {
			fmt.Fprintf(&b, "**Current value**: %s\n", change.CurrentValue)
		}
		if change.SuggestedValue != "" {
			fmt.Fprintf(&b, "**Change to**: %s\n", change.SuggestedValue)
		}
		if change.Justification != "" {
			fmt.Fprintf(&b, "**Why**: %s\n", change.Justification)
		}
		b.WriteString("\n")
	}

	contexts := collectFileContexts(root, tier.Changes, maxFileContext)
	if len(contexts) > 0 {
		b.WriteString("\n# Current File Contents\n")
		for _, c := range contexts {
			b.WriteString(c)
		}
	}

	return b.String()
}

// collectFileContexts reads each referenced file once, truncated to limit
// bytes. Unreadable files are skipped silently; the model works from the
// change directives alone.
func collectFileContexts(root string, changes []state.Change, limit int) []string {
	var contexts []string
	seen := make(map[string]struct{})
	for _, change := range changes {
		fp := change.FilePath
		if fp == "" {
			continue
		}
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}

		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(fp)))
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > limit {
			content = content[:limit] + "\n... (truncated)"
		}
		contexts = append(contexts, fmt.Sprintf("\n--- Current content of %s ---\n%s\n--- End of %s ---", fp, content, fp))
	}
	return contexts
}

func changeType(change state.Change) string {
	if change.ChangeType == "" {
		return "update"
	}
	return change.ChangeType
}

func tierDescription(tier state.Tier) string {
	if tier.Description == "" {
		return "SEO improvements"
	}
	return tier.Description
}
