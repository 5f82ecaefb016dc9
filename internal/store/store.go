package store

import "time"

// OutcomeRecord is the storage representation of a settled preload.
//
// It is decoupled from the imgpreload.Outcome type and optimized for JSON
// serialization (used by the REST API and SSE).
type OutcomeRecord struct {
	RunID     string    `json:"run_id"`
	Index     int       `json:"index"`
	URL       string    `json:"url"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Cached    bool      `json:"cached"`
	Anonymous bool      `json:"anonymous"`
	LatencyMs int64     `json:"latency_ms"`
	SettledAt time.Time `json:"settled_at"`

	// Error contains the failure message. nil when fulfilled.
	Error *string `json:"error"`
}

// FailureRecord names one failed URL of a run.
type FailureRecord struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// RunRecord is the storage representation of a completed run's summary.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	Method      string          `json:"method"`
	Concurrency int             `json:"concurrency"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Total       int             `json:"total"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	DurationMs  int64           `json:"duration_ms"`
	Failures    []FailureRecord `json:"failures"`
}

// Store defines storage and subscription operations for preload outcomes.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Update stores an outcome and notifies all subscribers.
	// Outcomes are keyed by URL; later outcomes replace earlier ones.
	Update(record OutcomeRecord)

	// GetAll returns the latest outcome for every URL, sorted by URL.
	GetAll() []OutcomeRecord

	// AddRun records a completed run, keeping only the most recent runs.
	AddRun(run RunRecord)

	// Runs returns recorded runs, newest first.
	Runs() []RunRecord

	// Subscribe returns a channel that receives outcome updates.
	// Slow consumers may miss updates. Caller must call Unsubscribe when done.
	Subscribe() <-chan OutcomeRecord

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan OutcomeRecord)
}
