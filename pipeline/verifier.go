package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressroom-dev/seopilot/internal/observability"
	vcs "github.com/pressroom-dev/seopilot/internal/vcs/github"
	"github.com/pressroom-dev/seopilot/state"
)

const (
	// verifyMaxWait bounds one verification pass.
	verifyMaxWait = 300 * time.Second
	// verifyPollInterval is the delay between checks API polls.
	verifyPollInterval = 15 * time.Second
	// verifyNoChecksGrace is how long to wait for any deploy check to appear
	// before concluding the repository has no CI.
	verifyNoChecksGrace = 60 * time.Second

	// maxDeployDetails bounds the failure summary captured for diagnosis.
	maxDeployDetails = 2000
)

// deployKeywords identify a check run or status context as deploy-related.
var deployKeywords = []string{"netlify", "vercel", "cloudflare", "deploy", "build", "pages"}

// DeployOutcome is the result of one verification pass.
type DeployOutcome struct {
	Status     string
	Details    string
	LogURL     string
	Conclusion string
}

// Verifier polls the hosting checks API until a deploy concludes or the wait
// budget runs out.
type Verifier struct {
	hosting Hosting
	clock   Clock
	logger  *slog.Logger
}

func NewVerifier(hosting Hosting, clock Clock, logger *slog.Logger) *Verifier {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = observability.NewLogger("pipeline.verifier")
	}
	return &Verifier{hosting: hosting, clock: clock, logger: logger}
}

// VerifyDeploy watches the branch tip for a deploy-related check run,
// falling back to legacy commit statuses. It returns a terminal outcome; the
// only error case is context cancellation.
func (v *Verifier) VerifyDeploy(ctx context.Context, owner, repo, branch string) (DeployOutcome, error) {
	start := v.clock.Now()
	sawPending := false

	for v.clock.Now().Sub(start) < verifyMaxWait {
		sha, err := v.hosting.ResolveHead(ctx, owner, repo, branch)
		if err != nil {
			return DeployOutcome{
				Status:  state.DeployStatusNoChecks,
				Details: clip(fmt.Sprintf("Cannot read branch: %v", err), 200),
			}, nil
		}

		checkRuns, err := v.hosting.ListCheckRuns(ctx, owner, repo, sha)
		if err != nil {
			v.logger.Warn("check runs poll failed", "event", "checks_poll_failed", "error", err)
			if err := v.clock.Sleep(ctx, verifyPollInterval); err != nil {
				return DeployOutcome{}, err
			}
			continue
		}

		deployCheck, found := findDeployCheck(checkRuns)
		if !found {
			outcome, done, pending := v.checkCommitStatuses(ctx, owner, repo, sha)
			if done {
				return outcome, nil
			}
			if pending {
				sawPending = true
			}
			if !sawPending && v.clock.Now().Sub(start) > verifyNoChecksGrace {
				return DeployOutcome{
					Status:  state.DeployStatusNoChecks,
					Details: "No deploy checks found after 60s",
				}, nil
			}
			if err := v.clock.Sleep(ctx, verifyPollInterval); err != nil {
				return DeployOutcome{}, err
			}
			continue
		}

		if deployCheck.Status == "completed" {
			if deployCheck.Conclusion == "success" {
				return DeployOutcome{
					Status:  state.DeployStatusSuccess,
					Details: "Deploy succeeded",
					LogURL:  deployCheck.DetailsURL,
				}, nil
			}
			details := deployCheck.Summary
			if details == "" {
				details = fmt.Sprintf("Deploy failed: %s", deployCheck.Conclusion)
			}
			return DeployOutcome{
				Status:     state.DeployStatusFailed,
				Details:    clip(details, maxDeployDetails),
				LogURL:     deployCheck.DetailsURL,
				Conclusion: deployCheck.Conclusion,
			}, nil
		}

		// Queued or in progress.
		sawPending = true
		if err := v.clock.Sleep(ctx, verifyPollInterval); err != nil {
			return DeployOutcome{}, err
		}
	}

	return DeployOutcome{
		Status:  state.DeployStatusTimeout,
		Details: fmt.Sprintf("Deploy verification timed out after %ds", int(verifyMaxWait.Seconds())),
	}, nil
}

// checkCommitStatuses consults the legacy status API used by some deploy
// providers. It reports a terminal outcome, or whether a matching pending
// status was seen.
func (v *Verifier) checkCommitStatuses(ctx context.Context, owner, repo, sha string) (DeployOutcome, bool, bool) {
	statuses, err := v.hosting.ListCommitStatuses(ctx, owner, repo, sha)
	if err != nil {
		return DeployOutcome{}, false, false
	}
	for _, st := range statuses {
		if !matchesDeployKeyword(st.Context) {
			continue
		}
		switch st.State {
		case "success":
			return DeployOutcome{
				Status:  state.DeployStatusSuccess,
				Details: fmt.Sprintf("Deploy passed via status: %s", st.Context),
				LogURL:  st.TargetURL,
			}, true, false
		case "failure", "error":
			details := st.Description
			if details == "" {
				details = "Deploy failed"
			}
			return DeployOutcome{
				Status:  state.DeployStatusFailed,
				Details: clip(details, maxDeployDetails),
				LogURL:  st.TargetURL,
			}, true, false
		default:
			// Pending: keep polling.
			return DeployOutcome{}, false, true
		}
	}
	return DeployOutcome{}, false, false
}

func findDeployCheck(runs []vcs.CheckRun) (vcs.CheckRun, bool) {
	for _, run := range runs {
		if matchesDeployKeyword(run.Name) || matchesDeployKeyword(run.AppSlug) {
			return run, true
		}
	}
	return vcs.CheckRun{}, false
}

func matchesDeployKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range deployKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
