package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pressroom-dev/seopilot/internal/artifacts"
	"github.com/pressroom-dev/seopilot/internal/observability"
	vcs "github.com/pressroom-dev/seopilot/internal/vcs/github"
	"github.com/pressroom-dev/seopilot/state"
)

// RunStore is the persistence surface the service needs. Implemented by
// state.Store.
type RunStore interface {
	CreateRun(ctx context.Context, run state.Run) (state.Run, error)
	GetRun(ctx context.Context, runID string) (state.Run, error)
	TransitionRunStatus(ctx context.Context, runID string, next state.RunStatus) error
	SetAuditID(ctx context.Context, runID, auditID string) error
	SetPlan(ctx context.Context, runID string, plan state.Plan) error
	SetChangesMade(ctx context.Context, runID string, changes int) error
	SetPublication(ctx context.Context, runID, prURL, branchName string, changes int) error
	SetDeployState(ctx context.Context, runID, deployStatus, deployLog string) error
	SetHealAttempts(ctx context.Context, runID string, attempts int) error
	SetRunError(ctx context.Context, runID, message string) error
}

// WorkspaceFactory opens a fresh clone of the target repository.
type WorkspaceFactory func(ctx context.Context, repoURL, baseBranch string) (Workspace, error)

// Config wires a Service. Store, Auditor, LLM, Hosting, and OpenWorkspace
// are required; the rest default sensibly.
type Config struct {
	Store         RunStore
	Auditor       Auditor
	LLM           LLMClient
	Hosting       Hosting
	OpenWorkspace WorkspaceFactory
	Archiver      *artifacts.S3Archiver
	IDGen         IDGenerator
	Clock         Clock
	Logger        *slog.Logger
	Metrics       *observability.Metrics
}

// Service runs the end-to-end remediation pipeline: audit, plan, implement,
// publish, verify, heal. Runs execute asynchronously; state lands in the
// store at every phase boundary so a crashed process leaves an honest record.
type Service struct {
	store       RunStore
	auditor     Auditor
	llm         LLMClient
	hosting     Hosting
	open        WorkspaceFactory
	archiver    *artifacts.S3Archiver
	planner     *Planner
	implementer *Implementer
	publisher   *Publisher
	verifier    *Verifier
	healer      *Healer
	idgen       IDGenerator
	clock       Clock
	logger      *slog.Logger
	metrics     *observability.Metrics

	wg sync.WaitGroup
}

func NewService(cfg Config) *Service {
	if cfg.IDGen == nil {
		cfg.IDGen = RandomIDGenerator{}
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("pipeline")
	}

	return &Service{
		store:       cfg.Store,
		auditor:     cfg.Auditor,
		llm:         cfg.LLM,
		hosting:     cfg.Hosting,
		open:        cfg.OpenWorkspace,
		archiver:    cfg.Archiver,
		planner:     NewPlanner(cfg.LLM),
		implementer: NewImplementer(cfg.LLM, cfg.Logger, cfg.Metrics),
		publisher:   NewPublisher(cfg.Hosting),
		verifier:    NewVerifier(cfg.Hosting, cfg.Clock, cfg.Logger),
		healer:      NewHealer(cfg.LLM, cfg.Logger, cfg.Metrics),
		idgen:       cfg.IDGen,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// StartRun persists a pending run and kicks off execution in the background.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (state.Run, error) {
	if err := req.Validate(); err != nil {
		return state.Run{}, err
	}

	run := state.Run{
		ID:         s.idgen.RunID(),
		Domain:     req.Domain,
		RepoURL:    req.RepoURL,
		BaseBranch: req.BaseBranch,
		Status:     state.RunStatusPending,
	}
	created, err := s.store.CreateRun(ctx, run)
	if err != nil {
		return state.Run{}, err
	}
	s.metrics.IncRun(string(state.RunStatusPending))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeRun(context.Background(), created, req.CompanyDescription)
	}()

	return created, nil
}

// GetRun returns the current state of one run.
func (s *Service) GetRun(ctx context.Context, runID string) (state.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// Wait blocks until all in-flight runs finish. Used on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) executeRun(ctx context.Context, run state.Run, companyDescription string) {
	logger := observability.WithDomain(observability.WithRun(s.logger, run.ID), run.Domain)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "event", "run_panic", "panic", fmt.Sprint(r))
			s.failRun(ctx, run.ID, fmt.Sprintf("internal error: %v", r), logger)
		}
	}()

	// Phase 1: audit.
	if !s.transition(ctx, run.ID, state.RunStatusAuditing, logger) {
		return
	}
	logger.Info("auditing site", "event", "audit_started")

	audit, err := s.auditor.RunAudit(ctx, run.Domain, maxAuditPages)
	if err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("Audit failed: %v", err), logger)
		return
	}
	if audit.AuditID != "" {
		if err := s.store.SetAuditID(ctx, run.ID, audit.AuditID); err != nil {
			logger.Warn("persist audit id failed", "event", "persist_failed", "error", err)
		}
	}

	// Phase 2: analysis.
	if !s.transition(ctx, run.ID, state.RunStatusAnalyzing, logger) {
		return
	}
	logger.Info("analyzing audit results", "event", "analysis_started")

	plan, err := s.planner.BuildPlan(ctx, audit, RepoContext{
		RepoURL:            run.RepoURL,
		BaseBranch:         run.BaseBranch,
		CompanyDescription: companyDescription,
	})
	if err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("Analysis failed: %v", err), logger)
		return
	}
	s.metrics.IncLLMRequest("analyze")
	if err := s.store.SetPlan(ctx, run.ID, plan); err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("persist plan: %v", err), logger)
		return
	}
	if uri, err := s.archiver.ArchivePlan(ctx, run.ID, plan); err != nil {
		logger.Warn("plan archive failed", "event", "archive_failed", "error", err)
	} else if uri != "" {
		logger.Info("plan archived", "event", "plan_archived", "uri", uri)
	}

	if plan.TotalChanges() == 0 {
		logger.Info("no improvements identified", "event", "plan_empty")
		s.completeRun(ctx, run.ID, "No SEO improvements identified", logger)
		return
	}

	// Phase 3: implement.
	if !s.transition(ctx, run.ID, state.RunStatusImplementing, logger) {
		return
	}
	logger.Info("implementing planned changes", "event", "implement_started", "planned", plan.TotalChanges())

	ws, err := s.open(ctx, run.RepoURL, run.BaseBranch)
	if err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("Clone failed: %v", err), logger)
		return
	}
	defer ws.Close()

	branch := BranchName(run.Domain, s.clock.Now(), run.ID)
	if err := ws.CreateBranch(branch); err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("Branch failed: %v", err), logger)
		return
	}

	_, applied, committed := s.implementer.Apply(ctx, ws, plan, run.Domain)
	if err := s.store.SetChangesMade(ctx, run.ID, applied); err != nil {
		logger.Warn("persist changes failed", "event", "persist_failed", "error", err)
	}

	if committed == 0 {
		logger.Info("no changes applied", "event", "implement_empty")
		s.completeRun(ctx, run.ID, "No changes could be applied to repo files", logger)
		return
	}

	// Phase 4: push and open the PR.
	if !s.transition(ctx, run.ID, state.RunStatusPushing, logger) {
		return
	}
	logger.Info("pushing changes and creating pull request", "event", "publish_started", "branch", branch)

	run.Plan = &plan
	prURL, err := s.publisher.Publish(ctx, ws, run, branch, s.clock.Now())
	if err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("Publish failed: %v", err), logger)
		return
	}
	if err := s.store.SetPublication(ctx, run.ID, prURL, branch, committed); err != nil {
		logger.Warn("persist publication failed", "event", "persist_failed", "error", err)
	}
	logger.Info("pull request opened", "event", "pr_opened", "pr_url", prURL)

	// Phase 5: verify the deploy, healing on failure.
	s.verifyAndHeal(ctx, run, ws, &plan, branch, logger)
}

// verifyAndHeal drives the verify loop with up to maxHealAttempts repair
// cycles. Every exit path ends the run in complete or failed.
func (s *Service) verifyAndHeal(ctx context.Context, run state.Run, ws Workspace, plan *state.Plan, branch string, logger *slog.Logger) {
	if !s.transition(ctx, run.ID, state.RunStatusVerifying, logger) {
		return
	}
	s.setDeployState(ctx, run.ID, state.DeployStatusPending, "", logger)

	owner, repo, err := vcs.ParseRepoURL(run.RepoURL)
	if err != nil {
		s.failRun(ctx, run.ID, err.Error(), logger)
		return
	}

	outcome, err := s.verifier.VerifyDeploy(ctx, owner, repo, branch)
	if err != nil {
		s.failRun(ctx, run.ID, fmt.Sprintf("Verification aborted: %v", err), logger)
		return
	}

	switch outcome.Status {
	case state.DeployStatusSuccess:
		logger.Info("deploy verified", "event", "deploy_success")
		s.setDeployState(ctx, run.ID, state.DeployStatusSuccess, "", logger)
		s.completeRun(ctx, run.ID, "", logger)
		return
	case state.DeployStatusNoChecks, state.DeployStatusTimeout:
		logger.Info("no deploy verdict, completing without verification", "event", "deploy_unverified", "deploy_status", outcome.Status)
		s.setDeployState(ctx, run.ID, outcome.Status, outcome.Details, logger)
		s.completeRun(ctx, run.ID, "", logger)
		return
	}

	// Deploy failed; enter the heal loop.
	logger.Warn("deploy failed", "event", "deploy_failed", "details", clip(outcome.Details, 200))
	s.setDeployState(ctx, run.ID, state.DeployStatusFailed, outcome.Details, logger)

	for attempt := 1; attempt <= maxHealAttempts; attempt++ {
		if !s.transition(ctx, run.ID, state.RunStatusHealing, logger) {
			return
		}
		if err := s.store.SetHealAttempts(ctx, run.ID, attempt); err != nil {
			logger.Warn("persist heal attempts failed", "event", "persist_failed", "error", err)
		}
		if uri, err := s.archiver.ArchiveDeployLog(ctx, run.ID, attempt, outcome.Details); err != nil {
			logger.Warn("deploy log archive failed", "event", "archive_failed", "error", err)
		} else if uri != "" {
			logger.Info("deploy log archived", "event", "deploy_log_archived", "uri", uri)
		}
		logger.Info("heal attempt", "event", "heal_started", "attempt", attempt, "max_attempts", maxHealAttempts)

		heal := s.healer.Heal(ctx, ws, s.hosting, plan, outcome, branch)
		if !heal.Healed {
			logger.Warn("heal attempt failed", "event", "heal_failed", "attempt", attempt, "error", heal.Error)
			if attempt == maxHealAttempts {
				s.setDeployState(ctx, run.ID, state.DeployStatusFailed, outcome.Details, logger)
				s.completeRun(ctx, run.ID, fmt.Sprintf("Deploy failed, heal failed: %s", heal.Error), logger)
				return
			}
			continue
		}

		// Fix pushed; verify again.
		if !s.transition(ctx, run.ID, state.RunStatusVerifying, logger) {
			return
		}
		s.setDeployState(ctx, run.ID, state.DeployStatusPending, "", logger)

		outcome, err = s.verifier.VerifyDeploy(ctx, owner, repo, branch)
		if err != nil {
			s.failRun(ctx, run.ID, fmt.Sprintf("Verification aborted: %v", err), logger)
			return
		}

		switch outcome.Status {
		case state.DeployStatusSuccess:
			logger.Info("deploy healed", "event", "deploy_healed", "attempt", attempt)
			s.setDeployState(ctx, run.ID, state.DeployStatusHealed, "", logger)
			s.completeRun(ctx, run.ID, "", logger)
			return
		case state.DeployStatusNoChecks, state.DeployStatusTimeout:
			// The fix shipped and nothing contradicts it; count it healed.
			s.setDeployState(ctx, run.ID, state.DeployStatusHealed, outcome.Details, logger)
			s.completeRun(ctx, run.ID, "", logger)
			return
		}

		logger.Warn("deploy still failing after heal", "event", "deploy_still_failing", "attempt", attempt)
		s.setDeployState(ctx, run.ID, state.DeployStatusFailed, outcome.Details, logger)
	}

	s.completeRun(ctx, run.ID, "Deploy failed after all heal attempts", logger)
}

func (s *Service) transition(ctx context.Context, runID string, next state.RunStatus, logger *slog.Logger) bool {
	if err := s.store.TransitionRunStatus(ctx, runID, next); err != nil {
		logger.Error("status transition failed", "event", "transition_failed", "next", string(next), "error", err)
		return false
	}
	s.metrics.IncRun(string(next))
	return true
}

func (s *Service) setDeployState(ctx context.Context, runID, status, log string, logger *slog.Logger) {
	if err := s.store.SetDeployState(ctx, runID, status, log); err != nil {
		logger.Warn("persist deploy state failed", "event", "persist_failed", "error", err)
	}
}

func (s *Service) completeRun(ctx context.Context, runID, message string, logger *slog.Logger) {
	if message != "" {
		if err := s.store.SetRunError(ctx, runID, message); err != nil {
			logger.Warn("persist run note failed", "event", "persist_failed", "error", err)
		}
	}
	if s.transition(ctx, runID, state.RunStatusComplete, logger) {
		logger.Info("run complete", "event", "run_complete")
	}
}

func (s *Service) failRun(ctx context.Context, runID, message string, logger *slog.Logger) {
	logger.Error("run failed", "event", "run_failed", "error", message)
	if err := s.store.SetRunError(ctx, runID, message); err != nil {
		logger.Warn("persist run error failed", "event", "persist_failed", "error", err)
	}
	s.transition(ctx, runID, state.RunStatusFailed, logger)
}
