package reconcile

import "time"

// Pass names, used for logging, metrics, and on-demand runs.
const (
	PassEnsure   = "ensure"
	PassDrift    = "drift"
	PassConverge = "converge"
	PassMissed   = "missed"
	PassConfirm  = "confirm"
	PassPurge    = "purge"
	PassLegacy   = "legacy"
)

// PassNames lists every pass Run accepts.
func PassNames() []string {
	return []string{PassEnsure, PassDrift, PassConverge, PassMissed, PassConfirm, PassPurge, PassLegacy}
}

// Report summarises one pass. Passes never return errors; per-item store
// failures are counted here and retried by the next trigger.
type Report struct {
	Pass      string
	Created   int
	Cancelled int
	Finalized int
	Purged    int
	Scanned   int
	Pages     int
	Failures  int
	Duration  time.Duration
}

// Mutations is the number of writes the pass issued.
func (r Report) Mutations() int {
	return r.Created + r.Cancelled + r.Finalized + r.Purged
}

// add folds a sub-pass into r, keeping r's name.
func (r *Report) add(o Report) {
	r.Created += o.Created
	r.Cancelled += o.Cancelled
	r.Finalized += o.Finalized
	r.Purged += o.Purged
	r.Scanned += o.Scanned
	r.Pages += o.Pages
	r.Failures += o.Failures
}
