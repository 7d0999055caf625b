package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row cannot be located.
var ErrNotFound = errors.New("state: not found")

// maxDeployLogLen bounds the deploy log excerpt persisted on a run.
const maxDeployLogLen = 2000

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const runColumns = `id, domain, repo_url, base_branch, status, audit_id, plan, pr_url, branch_name,
changes_made, deploy_status, deploy_log, heal_attempts, error, created_at, updated_at, completed_at`

// CreateRun inserts a new run in pending status unless explicitly provided.
func (s *Store) CreateRun(ctx context.Context, run Run) (Run, error) {
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	if run.BaseBranch == "" {
		run.BaseBranch = "main"
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO runs (id, domain, repo_url, base_branch, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at
`, run.ID, run.Domain, run.RepoURL, run.BaseBranch, run.Status).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)
	return scanRun(row, runID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, runID string) (Run, error) {
	var run Run
	var auditID sql.NullString
	var planRaw []byte
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.Domain,
		&run.RepoURL,
		&run.BaseBranch,
		&run.Status,
		&auditID,
		&planRaw,
		&run.PRURL,
		&run.BranchName,
		&run.ChangesMade,
		&run.DeployStatus,
		&run.DeployLog,
		&run.HealAttempts,
		&run.Error,
		&run.CreatedAt,
		&run.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return Run{}, err
	}
	if auditID.Valid {
		run.AuditID = &auditID.String
	}
	if len(planRaw) > 0 {
		var plan Plan
		if err := json.Unmarshal(planRaw, &plan); err != nil {
			return Run{}, fmt.Errorf("decode plan for run %s: %w", runID, err)
		}
		run.Plan = &plan
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// TransitionRunStatus enforces the run status machine using row-level
// locking. Terminal transitions stamp completed_at.
func (s *Store) TransitionRunStatus(ctx context.Context, runID string, next RunStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current RunStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: run %s", ErrNotFound, runID)
			}
			return err
		}

		if err := validateRunTransition(runID, current, next); err != nil {
			return err
		}

		if next.IsTerminal() {
			_, err := tx.ExecContext(ctx, `
UPDATE runs SET status = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1
`, runID, next)
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE runs SET status = $2, updated_at = NOW() WHERE id = $1`, runID, next)
		return err
	})
}

// SetAuditID records the auditor's persisted result reference.
func (s *Store) SetAuditID(ctx context.Context, runID, auditID string) error {
	return s.exec(ctx, runID, `UPDATE runs SET audit_id = $2, updated_at = NOW() WHERE id = $1`, auditID)
}

// SetPlan persists the tiered plan as JSONB.
func (s *Store) SetPlan(ctx context.Context, runID string, plan Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan for run %s: %w", runID, err)
	}
	return s.exec(ctx, runID, `UPDATE runs SET plan = $2, updated_at = NOW() WHERE id = $1`, data)
}

// SetChangesMade records the count of edits applied so far.
func (s *Store) SetChangesMade(ctx context.Context, runID string, changes int) error {
	return s.exec(ctx, runID, `UPDATE runs SET changes_made = $2, updated_at = NOW() WHERE id = $1`, changes)
}

// SetPublication records the branch and review-request URL after pushing.
func (s *Store) SetPublication(ctx context.Context, runID, prURL, branchName string, changes int) error {
	return s.exec(ctx, runID, `
UPDATE runs SET pr_url = $2, branch_name = $3, changes_made = $4, updated_at = NOW() WHERE id = $1
`, prURL, branchName, changes)
}

// SetDeployState records the verifier outcome and a bounded log excerpt.
func (s *Store) SetDeployState(ctx context.Context, runID, deployStatus, deployLog string) error {
	if len(deployLog) > maxDeployLogLen {
		deployLog = deployLog[:maxDeployLogLen]
	}
	return s.exec(ctx, runID, `
UPDATE runs SET deploy_status = $2, deploy_log = $3, updated_at = NOW() WHERE id = $1
`, deployStatus, deployLog)
}

// SetHealAttempts records heal progress. The count is monotonic: a stale
// writer can never decrease it.
func (s *Store) SetHealAttempts(ctx context.Context, runID string, attempts int) error {
	return s.exec(ctx, runID, `
UPDATE runs SET heal_attempts = GREATEST(heal_attempts, $2), updated_at = NOW() WHERE id = $1
`, attempts)
}

// SetRunError records the run's error text.
func (s *Store) SetRunError(ctx context.Context, runID, message string) error {
	return s.exec(ctx, runID, `UPDATE runs SET error = $2, updated_at = NOW() WHERE id = $1`, message)
}

func (s *Store) exec(ctx context.Context, runID, query string, args ...any) error {
	all := append([]any{runID}, args...)
	res, err := s.db.ExecContext(ctx, query, all...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
