package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	vcs "github.com/pressroom-dev/seopilot/internal/vcs/github"
	"github.com/pressroom-dev/seopilot/state"
)

// ---- fakes ----

type fakeStore struct {
	mu            sync.Mutex
	runs          map[string]*state.Run
	statusHistory []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*state.Run{}}
}

func (s *fakeStore) CreateRun(ctx context.Context, run state.Run) (state.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.BaseBranch == "" {
		run.BaseBranch = "main"
	}
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	copied := run
	s.runs[run.ID] = &copied
	return run, nil
}

func (s *fakeStore) GetRun(ctx context.Context, runID string) (state.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return state.Run{}, fmt.Errorf("%w: run %s", state.ErrNotFound, runID)
	}
	return *run, nil
}

func (s *fakeStore) TransitionRunStatus(ctx context.Context, runID string, next state.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", state.ErrNotFound, runID)
	}
	run.Status = next
	s.statusHistory = append(s.statusHistory, string(next))
	if next.IsTerminal() {
		now := time.Now()
		run.CompletedAt = &now
	}
	return nil
}

func (s *fakeStore) mutate(runID string, fn func(*state.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: run %s", state.ErrNotFound, runID)
	}
	fn(run)
	return nil
}

func (s *fakeStore) SetAuditID(ctx context.Context, runID, auditID string) error {
	return s.mutate(runID, func(r *state.Run) { r.AuditID = &auditID })
}

func (s *fakeStore) SetPlan(ctx context.Context, runID string, plan state.Plan) error {
	return s.mutate(runID, func(r *state.Run) { r.Plan = &plan })
}

func (s *fakeStore) SetChangesMade(ctx context.Context, runID string, changes int) error {
	return s.mutate(runID, func(r *state.Run) { r.ChangesMade = changes })
}

func (s *fakeStore) SetPublication(ctx context.Context, runID, prURL, branchName string, changes int) error {
	return s.mutate(runID, func(r *state.Run) {
		r.PRURL = prURL
		r.BranchName = branchName
		r.ChangesMade = changes
	})
}

func (s *fakeStore) SetDeployState(ctx context.Context, runID, deployStatus, deployLog string) error {
	return s.mutate(runID, func(r *state.Run) {
		r.DeployStatus = deployStatus
		r.DeployLog = deployLog
	})
}

func (s *fakeStore) SetHealAttempts(ctx context.Context, runID string, attempts int) error {
	return s.mutate(runID, func(r *state.Run) {
		if attempts > r.HealAttempts {
			r.HealAttempts = attempts
		}
	})
}

func (s *fakeStore) SetRunError(ctx context.Context, runID, message string) error {
	return s.mutate(runID, func(r *state.Run) { r.Error = message })
}

type fakeAuditor struct {
	result AuditResult
	err    error
}

func (a *fakeAuditor) RunAudit(ctx context.Context, domain string, maxPages int) (AuditResult, error) {
	if a.err != nil {
		return AuditResult{}, a.err
	}
	return a.result, nil
}

// scriptedLLM replays canned responses in order.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (l *scriptedLLM) Complete(ctx context.Context, system, user string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.calls
	l.calls++
	if idx < len(l.errs) && l.errs[idx] != nil {
		return "", l.errs[idx]
	}
	if idx >= len(l.responses) {
		return "", fmt.Errorf("scripted llm exhausted at call %d", idx)
	}
	return l.responses[idx], nil
}

type fakeHosting struct {
	mu          sync.Mutex
	prURL       string
	prErr       error
	prPanic     bool
	prTitle     string
	prBody      string
	head        string
	checkRuns   [][]vcs.CheckRun
	statuses    []vcs.CommitStatus
	logExcerpt  string
	checksCalls int
}

func (h *fakeHosting) OpenPullRequest(ctx context.Context, owner, repo, title, body, head, base string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.prPanic {
		panic("hosting client blew up")
	}
	if h.prErr != nil {
		return "", h.prErr
	}
	h.prTitle = title
	h.prBody = body
	return h.prURL, nil
}

func (h *fakeHosting) ResolveHead(ctx context.Context, owner, repo, branch string) (string, error) {
	if h.head == "" {
		return "", fmt.Errorf("branch %s not found", branch)
	}
	return h.head, nil
}

func (h *fakeHosting) ListCheckRuns(ctx context.Context, owner, repo, sha string) ([]vcs.CheckRun, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.checkRuns) == 0 {
		return nil, nil
	}
	idx := h.checksCalls
	if idx >= len(h.checkRuns) {
		idx = len(h.checkRuns) - 1
	}
	h.checksCalls++
	return h.checkRuns[idx], nil
}

func (h *fakeHosting) ListCommitStatuses(ctx context.Context, owner, repo, sha string) ([]vcs.CommitStatus, error) {
	return h.statuses, nil
}

func (h *fakeHosting) FetchLogExcerpt(ctx context.Context, logURL string) string {
	return h.logExcerpt
}

// fakeWorkspace backs Workspace with a real temp directory so edits hit real
// files, and snapshots contents to answer HasChanges.
type fakeWorkspace struct {
	root     string
	branch   string
	snapshot map[string]string
	commits  []string
	pushes   int
	pushErr  error
	closed   bool
}

func newFakeWorkspace(t *testing.T, files map[string]string) *fakeWorkspace {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return &fakeWorkspace{root: root, snapshot: snapshotDir(t, root)}
}

func snapshotDir(t *testing.T, root string) map[string]string {
	t.Helper()
	snap := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		snap[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func (w *fakeWorkspace) Root() string { return w.root }

func (w *fakeWorkspace) CreateBranch(name string) error {
	w.branch = name
	return nil
}

func (w *fakeWorkspace) hasDiff() bool {
	snap := map[string]string{}
	filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, _ := os.ReadFile(path)
		rel, _ := filepath.Rel(w.root, path)
		snap[rel] = string(data)
		return nil
	})
	if len(snap) != len(w.snapshot) {
		return true
	}
	for k, v := range snap {
		if w.snapshot[k] != v {
			return true
		}
	}
	return false
}

func (w *fakeWorkspace) HasChanges() (bool, error) {
	return w.hasDiff(), nil
}

func (w *fakeWorkspace) CommitAll(message string) (string, error) {
	if !w.hasDiff() {
		return "", nil
	}
	w.commits = append(w.commits, message)
	snap := map[string]string{}
	filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, _ := os.ReadFile(path)
		rel, _ := filepath.Rel(w.root, path)
		snap[rel] = string(data)
		return nil
	})
	w.snapshot = snap
	return fmt.Sprintf("sha%d", len(w.commits)), nil
}

func (w *fakeWorkspace) Push(ctx context.Context, branch string) error {
	if w.pushErr != nil {
		return w.pushErr
	}
	w.pushes++
	return nil
}

func (w *fakeWorkspace) Close() error {
	w.closed = true
	return nil
}

// fakeClock advances instantly on Sleep so poll loops run without waiting.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}

// ---- wiring helpers ----

const planJSON = `{
  "summary": "Title tags are weak across the site.",
  "tiers": [
    {
      "tier": "P0",
      "description": "Critical fixes",
      "changes": [
        {
          "page_url": "https://example.com/",
          "file_path": "index.html",
          "change_type": "title",
          "current_value": "<title>Home</title>",
          "suggested_value": "<title>Acme Widgets | Industrial Fasteners</title>",
          "justification": "Homepage title is generic",
          "priority_score": 95
        }
      ]
    }
  ]
}`

const editsJSON = `[
  {
    "file_path": "index.html",
    "search": "<title>Home</title>",
    "replace": "<title>Acme Widgets | Industrial Fasteners</title>"
  }
]`

const emptyPlanJSON = `{"summary": "Site is in good shape.", "tiers": []}`

type testEnv struct {
	store   *fakeStore
	llm     *scriptedLLM
	hosting *fakeHosting
	ws      *fakeWorkspace
	clock   *fakeClock
	service *Service
}

func newTestEnv(t *testing.T, llm *scriptedLLM, hosting *fakeHosting) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newFakeStore(),
		llm:     llm,
		hosting: hosting,
		ws:      newFakeWorkspace(t, map[string]string{"index.html": "<title>Home</title>\n"}),
		clock:   &fakeClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)},
	}
	env.service = NewService(Config{
		Store:   env.store,
		Auditor: &fakeAuditor{result: AuditResult{AuditID: "audit_1", Domain: "example.com", PagesAudited: 1}},
		LLM:     llm,
		Hosting: hosting,
		OpenWorkspace: func(ctx context.Context, repoURL, baseBranch string) (Workspace, error) {
			return env.ws, nil
		},
		Clock: env.clock,
	})
	return env
}

func startAndWait(t *testing.T, env *testEnv) state.Run {
	t.Helper()
	run, err := env.service.StartRun(context.Background(), StartRunRequest{
		Domain:  "example.com",
		RepoURL: "https://github.com/acme/site",
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	env.service.Wait()
	final, err := env.service.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	return final
}

// ---- scenario tests ----

func TestRunEmptyPlanCompletesWithoutWorkspace(t *testing.T) {
	llm := &scriptedLLM{responses: []string{emptyPlanJSON}}
	env := newTestEnv(t, llm, &fakeHosting{})

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	if final.ChangesMade != 0 {
		t.Fatalf("changes_made = %d, want 0", final.ChangesMade)
	}
	if final.Error != "No SEO improvements identified" {
		t.Fatalf("unexpected note: %q", final.Error)
	}
	if final.PRURL != "" {
		t.Fatalf("no PR should exist, got %q", final.PRURL)
	}
	if env.ws.branch != "" {
		t.Fatal("workspace should never have been touched")
	}
}

func TestRunHappyPathDeploySucceeds(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON}}
	hosting := &fakeHosting{
		prURL: "https://github.com/acme/site/pull/7",
		head:  "abc123",
		checkRuns: [][]vcs.CheckRun{
			{{Name: "netlify/deploy", Status: "completed", Conclusion: "success"}},
		},
	}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete (error: %s)", final.Status, final.Error)
	}
	if final.DeployStatus != state.DeployStatusSuccess {
		t.Fatalf("deploy_status = %s, want success", final.DeployStatus)
	}
	if final.PRURL != "https://github.com/acme/site/pull/7" {
		t.Fatalf("unexpected pr_url %q", final.PRURL)
	}
	if final.ChangesMade != 1 {
		t.Fatalf("changes_made = %d, want 1", final.ChangesMade)
	}
	if !strings.HasPrefix(final.BranchName, "seo-auto/example.com/2026-08-31-") {
		t.Fatalf("unexpected branch %q", final.BranchName)
	}
	if final.AuditID == nil || *final.AuditID != "audit_1" {
		t.Fatalf("audit id not recorded: %v", final.AuditID)
	}
	if len(env.ws.commits) != 1 || !strings.HasPrefix(env.ws.commits[0], "[SEO P0] example.com:") {
		t.Fatalf("unexpected commits %v", env.ws.commits)
	}
	if env.ws.pushes != 1 {
		t.Fatalf("pushes = %d, want 1", env.ws.pushes)
	}
	if !env.ws.closed {
		t.Fatal("workspace not closed")
	}
	if !strings.Contains(hosting.prTitle, "[SEO] example.com: Automated improvements (2026-08-31)") {
		t.Fatalf("unexpected PR title %q", hosting.prTitle)
	}

	wantHistory := []string{"auditing", "analyzing", "implementing", "pushing", "verifying", "complete"}
	if strings.Join(env.store.statusHistory, ",") != strings.Join(wantHistory, ",") {
		t.Fatalf("status history %v, want %v", env.store.statusHistory, wantHistory)
	}
}

func TestRunNoChecksCompletesWithPR(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON}}
	hosting := &fakeHosting{
		prURL: "https://github.com/acme/site/pull/8",
		head:  "abc123",
		// No check runs and no statuses, ever.
	}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete (error: %s)", final.Status, final.Error)
	}
	if final.DeployStatus != state.DeployStatusNoChecks {
		t.Fatalf("deploy_status = %s, want no_checks", final.DeployStatus)
	}
	if final.PRURL == "" {
		t.Fatal("pr_url should survive a no_checks outcome")
	}
	if final.HealAttempts != 0 {
		t.Fatalf("heal_attempts = %d, want 0", final.HealAttempts)
	}
}

func TestRunHealExhaustionEndsComplete(t *testing.T) {
	// Deploy fails; both heal attempts return no edits.
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON, "[]", "[]"}}
	hosting := &fakeHosting{
		prURL: "https://github.com/acme/site/pull/9",
		head:  "abc123",
		checkRuns: [][]vcs.CheckRun{
			{{Name: "netlify/deploy", Status: "completed", Conclusion: "failure", Summary: "Build script exited 1", DetailsURL: "https://app.netlify.com/deploys/1"}},
		},
		logExcerpt: "Error: missing closing tag in index.html",
	}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	if final.DeployStatus != state.DeployStatusFailed {
		t.Fatalf("deploy_status = %s, want failed", final.DeployStatus)
	}
	if final.HealAttempts != 2 {
		t.Fatalf("heal_attempts = %d, want 2", final.HealAttempts)
	}
	if !strings.Contains(final.Error, "Deploy failed, heal failed") {
		t.Fatalf("unexpected error %q", final.Error)
	}
	if final.PRURL == "" {
		t.Fatal("pr_url should survive heal exhaustion")
	}
}

func TestRunHealThenSuccessMarksHealed(t *testing.T) {
	healEdits := `[
  {
    "file_path": "index.html",
    "search": "<title>Acme Widgets | Industrial Fasteners</title>",
    "replace": "<title>Acme Widgets</title>"
  }
]`
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON, healEdits}}
	hosting := &fakeHosting{
		prURL: "https://github.com/acme/site/pull/10",
		head:  "abc123",
		checkRuns: [][]vcs.CheckRun{
			{{Name: "netlify/deploy", Status: "completed", Conclusion: "failure", Summary: "yaml parse error", DetailsURL: "https://app.netlify.com/deploys/2"}},
			{{Name: "netlify/deploy", Status: "completed", Conclusion: "success"}},
		},
		logExcerpt: "yaml: line 3: could not find expected ':'",
	}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete (error: %s)", final.Status, final.Error)
	}
	if final.DeployStatus != state.DeployStatusHealed {
		t.Fatalf("deploy_status = %s, want healed", final.DeployStatus)
	}
	if final.HealAttempts != 1 {
		t.Fatalf("heal_attempts = %d, want 1", final.HealAttempts)
	}
	if len(env.ws.commits) != 2 {
		t.Fatalf("commits = %v, want tier commit plus fix commit", env.ws.commits)
	}
	if !strings.HasPrefix(env.ws.commits[1], "[SEO fix] Build repair: 1 edit") {
		t.Fatalf("unexpected fix commit %q", env.ws.commits[1])
	}
	if env.ws.pushes != 2 {
		t.Fatalf("pushes = %d, want 2", env.ws.pushes)
	}
}

func TestRunAuditFailureFailsRun(t *testing.T) {
	env := newTestEnv(t, &scriptedLLM{}, &fakeHosting{})
	env.service.auditor = &fakeAuditor{err: fmt.Errorf("crawler unreachable")}

	final := startAndWait(t, env)

	if final.Status != state.RunStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "Audit failed") {
		t.Fatalf("unexpected error %q", final.Error)
	}
}

func TestRunPublishFailureFailsRun(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON}}
	hosting := &fakeHosting{prErr: fmt.Errorf("422 validation failed")}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "Publish failed") {
		t.Fatalf("unexpected error %q", final.Error)
	}
	if !env.ws.closed {
		t.Fatal("workspace must be cleaned up on failure")
	}
}

func TestRunNoApplicableEditsCompletesBenign(t *testing.T) {
	// Model proposes an edit whose anchor does not exist in the tree.
	badEdits := `[{"file_path": "index.html", "search": "<title>Nope</title>", "replace": "x"}]`
	llm := &scriptedLLM{responses: []string{planJSON, badEdits}}
	env := newTestEnv(t, llm, &fakeHosting{})

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	if final.Error != "No changes could be applied to repo files" {
		t.Fatalf("unexpected note %q", final.Error)
	}
	if final.PRURL != "" {
		t.Fatal("no PR should be opened without commits")
	}
}

func TestRunHealExhaustionWithPushedFixes(t *testing.T) {
	// Both heal attempts push plausible fixes, yet the deploy keeps failing.
	healFix1 := `[{"file_path": "index.html", "search": "<title>Acme Widgets | Industrial Fasteners</title>", "replace": "<title>Acme Widgets</title>"}]`
	healFix2 := `[{"file_path": "index.html", "search": "<title>Acme Widgets</title>", "replace": "<title>Acme</title>"}]`
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON, healFix1, healFix2}}
	hosting := &fakeHosting{
		prURL: "https://github.com/acme/site/pull/11",
		head:  "abc123",
		checkRuns: [][]vcs.CheckRun{
			{{Name: "netlify/deploy", Status: "completed", Conclusion: "failure", Summary: "still broken"}},
		},
		logExcerpt: "Error: build keeps failing",
	}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	if final.DeployStatus != state.DeployStatusFailed {
		t.Fatalf("deploy_status = %s, want failed", final.DeployStatus)
	}
	if final.HealAttempts != 2 {
		t.Fatalf("heal_attempts = %d, want exactly 2", final.HealAttempts)
	}
	if final.Error != "Deploy failed after all heal attempts" {
		t.Fatalf("unexpected error %q", final.Error)
	}
	// One tier push plus two fix pushes.
	if env.ws.pushes != 3 {
		t.Fatalf("pushes = %d, want 3", env.ws.pushes)
	}
}

func TestRunPanicFailsRunAndClosesWorkspace(t *testing.T) {
	llm := &scriptedLLM{responses: []string{planJSON, editsJSON}}
	hosting := &fakeHosting{prPanic: true}
	env := newTestEnv(t, llm, hosting)

	final := startAndWait(t, env)

	if final.Status != state.RunStatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "internal error") {
		t.Fatalf("unexpected error %q", final.Error)
	}
	if !env.ws.closed {
		t.Fatal("workspace must be closed on panic")
	}
}

func TestStartRunValidation(t *testing.T) {
	env := newTestEnv(t, &scriptedLLM{}, &fakeHosting{})
	_, err := env.service.StartRun(context.Background(), StartRunRequest{Domain: "example.com"})
	if err == nil {
		t.Fatal("expected validation error for missing repo_url")
	}
}
