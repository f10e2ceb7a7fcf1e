package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/ryosukesatoh/social-digest/internal/metrics"
	"github.com/ryosukesatoh/social-digest/internal/store"
)

// Outcome tags the result of one account.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons.
const (
	ReasonFresh   = "fresh summary exists"
	ReasonNoItems = "no recent items"
)

// AccountResult is Ok(Record), Skipped(Reason) or Failed(Err).
type AccountResult struct {
	Account string
	Outcome Outcome
	// Reason is the skip reason, or the failed step.
	Reason string
	Items  int
	Record *store.Record
	Err    error
}

// Report describes one run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Tracked    []string
	Accounts   []AccountResult
	// Aggregate is nil when no digest was produced.
	Aggregate *store.Record
	Notified  int
	Err       error
}

// Count returns the number of accounts with the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Accounts {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Result returns the result for account.
func (r *Report) Result(account string) (AccountResult, bool) {
	for _, res := range r.Accounts {
		if res.Account == account {
			return res, true
		}
	}
	return AccountResult{}, false
}

// Status is the run status label used for metrics.
func (r *Report) Status() string {
	switch {
	case r.Err != nil:
		return metrics.StatusFailure
	case r.Aggregate == nil:
		return metrics.StatusNoop
	default:
		return metrics.StatusSuccess
	}
}

// String renders a one-line-per-account summary for the running log.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d ok, %d skipped, %d failed", r.Count(OutcomeOK), r.Count(OutcomeSkipped), r.Count(OutcomeFailed))
	for _, res := range r.Accounts {
		switch res.Outcome {
		case OutcomeOK:
			fmt.Fprintf(&sb, "\n  %-8s %s (%d items)", res.Outcome, res.Account, res.Items)
		case OutcomeSkipped:
			fmt.Fprintf(&sb, "\n  %-8s %s: %s", res.Outcome, res.Account, res.Reason)
		default:
			fmt.Fprintf(&sb, "\n  %-8s %s: %v", res.Outcome, res.Account, res.Err)
		}
	}
	if r.Aggregate != nil {
		fmt.Fprintf(&sb, "\n  digest from %s, delivered to %d publisher(s)", strings.Join(r.Aggregate.SourceIDs, ", "), r.Notified)
	}
	return sb.String()
}
