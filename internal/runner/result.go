package runner

import (
	"time"

	"github.com/sznuper/cvtrigger/internal/result"
)

// CycleResult captures the outcome of one trigger cycle. Errors are stored in
// Err/Stage rather than returned, so the caller always has something to
// display.
type CycleResult struct {
	ID         string
	Program    int
	ResultPath string
	Document   *result.Document // nil unless the cycle succeeded
	Notified   []string         // services notified (or would-notify)
	DryRun     bool
	Duration   time.Duration
	Err        error
	Stage      string // state the cycle failed in, or "output"
}

// Kind classifies the cycle failure. Only meaningful when Err is set.
func (r CycleResult) Kind() Kind {
	return KindOf(r.Err)
}

// Outcome is "succeeded" or the failure code.
func (r CycleResult) Outcome() string {
	if r.Err == nil {
		return "succeeded"
	}
	return r.Kind().Code()
}
