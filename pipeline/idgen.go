package pipeline

import (
	"crypto/rand"
	"fmt"
	"time"
)

// IDGenerator produces opaque run identifiers.
type IDGenerator interface {
	RunID() string
}

// RandomIDGenerator produces random, prefixed identifiers.
type RandomIDGenerator struct{}

func (RandomIDGenerator) RunID() string { return randomID("seorun") }

func randomID(prefix string) string {
	var b [10]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%x", prefix, b[:])
}

// shortSuffix returns the tail of a run ID for use in branch names, keeping
// concurrent runs for the same domain from colliding.
func shortSuffix(runID string) string {
	const n = 6
	if len(runID) <= n {
		return runID
	}
	return runID[len(runID)-n:]
}
