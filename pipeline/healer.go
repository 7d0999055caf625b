package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressroom-dev/seopilot/internal/edit"
	"github.com/pressroom-dev/seopilot/internal/observability"
	"github.com/pressroom-dev/seopilot/state"
)

const (
	// maxHealAttempts bounds the self-healing loop per run.
	maxHealAttempts = 2

	// maxHealFileContext caps how much of a changed file is quoted in the
	// diagnosis prompt.
	maxHealFileContext = 8000

	// maxHealLogContext caps the deploy details and build log excerpts.
	maxHealLogContext = 3000
)

// HealOutcome reports one self-heal attempt.
type HealOutcome struct {
	Healed       bool
	EditsApplied int
	Error        string
}

// Healer diagnoses a failed deploy with the model and pushes repair commits.
type Healer struct {
	llm     LLMClient
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewHealer(llm LLMClient, logger *slog.Logger, metrics *observability.Metrics) *Healer {
	if logger == nil {
		logger = observability.NewLogger("pipeline.healer")
	}
	return &Healer{llm: llm, logger: logger, metrics: metrics}
}

// Heal runs one fetch-diagnose-fix-push cycle. It never escalates a model or
// application failure into an error; the outcome records why healing did not
// happen and the caller decides whether to retry.
func (h *Healer) Heal(ctx context.Context, ws Workspace, hosting Hosting, plan *state.Plan, deploy DeployOutcome, branch string) HealOutcome {
	buildLog := ""
	if deploy.LogURL != "" {
		buildLog = hosting.FetchLogExcerpt(ctx, deploy.LogURL)
	}

	prompt := buildHealPrompt(ws.Root(), plan, deploy, buildLog)
	raw, err := h.llm.Complete(ctx, healSystemPrompt, prompt)
	if err != nil {
		h.metrics.IncHeal("request_failed")
		return HealOutcome{Error: fmt.Sprintf("diagnosis request failed: %v", err)}
	}
	h.metrics.IncLLMRequest("heal")

	edits := parseEdits(raw, h.logger)
	if len(edits) == 0 {
		h.metrics.IncHeal("no_fix")
		return HealOutcome{Error: "Could not determine fix from build log"}
	}

	applied := 0
	var errs []string
	for _, e := range edits {
		if err := edit.Apply(ws.Root(), e); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", e.FilePath, err))
			h.metrics.IncEdit("rejected")
			continue
		}
		applied++
		h.metrics.IncEdit("applied")
	}
	if applied == 0 {
		h.metrics.IncHeal("no_edits_applied")
		return HealOutcome{Error: fmt.Sprintf("No edits could be applied: %s", strings.Join(errs, "; "))}
	}

	message := fmt.Sprintf("[SEO fix] Build repair: %d %s", applied, plural(applied, "edit", "edits"))
	sha, err := ws.CommitAll(message)
	if err != nil {
		h.metrics.IncHeal("commit_failed")
		return HealOutcome{EditsApplied: applied, Error: fmt.Sprintf("Commit failed: %v", err)}
	}
	if sha == "" {
		h.metrics.IncHeal("no_diff")
		return HealOutcome{EditsApplied: applied, Error: "Edits produced no repository diff"}
	}

	if err := ws.Push(ctx, branch); err != nil {
		h.metrics.IncHeal("push_failed")
		return HealOutcome{EditsApplied: applied, Error: fmt.Sprintf("Push failed: %v", err)}
	}

	h.metrics.IncHeal("pushed")
	h.logger.Info("pushed fix edits", "event", "heal_pushed", "branch", branch, "edits", applied)
	return HealOutcome{Healed: true, EditsApplied: applied}
}

func buildHealPrompt(root string, plan *state.Plan, deploy DeployOutcome, buildLog string) string {
	var changeSummary []string
	var fileContents []string
	seen := make(map[string]struct{})

	if plan != nil {
		for _, tier := range plan.Tiers {
			for _, change := range tier.Changes {
				changeSummary = append(changeSummary, fmt.Sprintf("- %s on %s: '%s' -> '%s'",
					changeType(change), orPlaceholder(change.FilePath), clip(change.CurrentValue, 80), clip(change.SuggestedValue, 80)))

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
				if len(content) > maxHealFileContext {
					content = content[:maxHealFileContext] + "\n... (truncated)"
				}
				fileContents = append(fileContents, fmt.Sprintf("\n--- %s ---\n%s\n--- end %s ---", fp, content, fp))
			}
		}
	}

	summaryBlock := "(no change details available)"
	if len(changeSummary) > 0 {
		summaryBlock = strings.Join(changeSummary, "\n")
	}
	contentsBlock := "(no file contents available)"
	if len(fileContents) > 0 {
		contentsBlock = strings.Join(fileContents, "")
	}

	return fmt.Sprintf(`BUILD FAILED after SEO changes were pushed.

## Deploy Error
%s

## Build Log (excerpt)
%s

## Changes We Made
%s

## Current File Contents (after our changes)
%s

Fix the build error. Return JSON edits to repair the files.`,
		clip(deploy.Details, maxHealLogContext), clip(buildLog, maxHealLogContext), summaryBlock, contentsBlock)
}

func orPlaceholder(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
