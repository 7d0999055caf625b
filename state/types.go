package state

import "time"

// Run represents one end-to-end remediation run for a domain/repository pair.
type Run struct {
	ID           string     `json:"id"`
	Domain       string     `json:"domain"`
	RepoURL      string     `json:"repo_url"`
	BaseBranch   string     `json:"base_branch"`
	Status       RunStatus  `json:"status"`
	AuditID      *string    `json:"audit_id,omitempty"`
	Plan         *Plan      `json:"plan,omitempty"`
	PRURL        string     `json:"pr_url"`
	BranchName   string     `json:"branch_name"`
	ChangesMade  int        `json:"changes_made"`
	DeployStatus string     `json:"deploy_status"`
	DeployLog    string     `json:"deploy_log"`
	HealAttempts int        `json:"heal_attempts"`
	Error        string     `json:"error"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Plan is the tiered improvement plan produced by the analysis phase.
type Plan struct {
	Summary string `json:"summary"`
	Tiers   []Tier `json:"tiers"`
}

// Tier is one priority bucket of planned changes, highest priority first.
type Tier struct {
	Tier        string   `json:"tier"`
	Description string   `json:"description"`
	Changes     []Change `json:"changes"`
}

// Change is a single planned improvement targeting one page/file.
type Change struct {
	PageURL        string  `json:"page_url"`
	FilePath       string  `json:"file_path"`
	ChangeType     string  `json:"change_type"`
	CurrentValue   string  `json:"current_value"`
	SuggestedValue string  `json:"suggested_value"`
	Justification  string  `json:"justification"`
	PriorityScore  float64 `json:"priority_score"`
}

// TotalChanges counts planned changes across all tiers.
func (p *Plan) TotalChanges() int {
	if p == nil {
		return 0
	}
	total := 0
	for _, tier := range p.Tiers {
		total += len(tier.Changes)
	}
	return total
}

// TierCap returns the maximum number of changes allowed in a tier. The
// planner's model output is untrusted, so consumers truncate to this cap
// instead of assuming the contract held.
func TierCap(name string) int {
	switch name {
	case "P0":
		return 5
	case "P1":
		return 7
	default:
		return 8
	}
}
