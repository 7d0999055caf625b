package state

import (
	"errors"
	"fmt"
)

type RunStatus string

const (
	RunStatusPending      RunStatus = "pending"
	RunStatusAuditing     RunStatus = "auditing"
	RunStatusAnalyzing    RunStatus = "analyzing"
	RunStatusImplementing RunStatus = "implementing"
	RunStatusPushing      RunStatus = "pushing"
	RunStatusVerifying    RunStatus = "verifying"
	RunStatusHealing      RunStatus = "healing"
	RunStatusComplete     RunStatus = "complete"
	RunStatusFailed       RunStatus = "failed"
)

// Deploy status values recorded on the run. The verifier's no_checks and
// timeout outcomes are stored verbatim on the first verification pass; after
// a heal they count as healed.
const (
	DeployStatusPending  = "pending"
	DeployStatusSuccess  = "success"
	DeployStatusFailed   = "failed"
	DeployStatusHealed   = "healed"
	DeployStatusNoChecks = "no_checks"
	DeployStatusTimeout  = "timeout"
)

// runTransitions documents the run status machine. Statuses only move
// forward through the phase order; any non-terminal status may jump to
// failed, analyzing/implementing may jump straight to complete (benign
// empty outcomes), and verifying/healing form the one sanctioned cycle.
var runTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:      {RunStatusPending, RunStatusAuditing, RunStatusFailed},
	RunStatusAuditing:     {RunStatusAuditing, RunStatusAnalyzing, RunStatusFailed},
	RunStatusAnalyzing:    {RunStatusAnalyzing, RunStatusImplementing, RunStatusComplete, RunStatusFailed},
	RunStatusImplementing: {RunStatusImplementing, RunStatusPushing, RunStatusComplete, RunStatusFailed},
	RunStatusPushing:      {RunStatusPushing, RunStatusVerifying, RunStatusFailed},
	RunStatusVerifying:    {RunStatusVerifying, RunStatusHealing, RunStatusComplete, RunStatusFailed},
	RunStatusHealing:      {RunStatusHealing, RunStatusVerifying, RunStatusComplete, RunStatusFailed},
	RunStatusComplete:     {RunStatusComplete},
	RunStatusFailed:       {RunStatusFailed},
}

// IsTerminal reports whether a status ends the run.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// TransitionError signals an illegal status transition detected in the persistence layer.
type TransitionError struct {
	RunID string
	From  string
	To    string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("run %s: invalid transition from %s to %s", e.RunID, e.From, e.To)
}

// UnknownStatusError signals a status value that is not part of the documented state machine.
type UnknownStatusError struct {
	Status string
}

func (e UnknownStatusError) Error() string {
	return fmt.Sprintf("run: unknown status %q", e.Status)
}

func validateRunTransition(id string, from, to RunStatus) error {
	allowed, ok := runTransitions[from]
	if !ok {
		return UnknownStatusError{Status: string(from)}
	}
	if _, ok := runTransitions[to]; !ok {
		return UnknownStatusError{Status: string(to)}
	}
	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}
	return TransitionError{RunID: id, From: string(from), To: string(to)}
}

func IsTransitionError(err error) bool {
	var te TransitionError
	return errors.As(err, &te)
}

func IsUnknownStatusError(err error) bool {
	var ue UnknownStatusError
	return errors.As(err, &ue)
}
