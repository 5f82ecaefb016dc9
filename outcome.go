package imgpreload

import (
	"errors"
	"time"
)

// Sentinel errors wrapped by [Outcome.Err]. Use [errors.Is] to test for them.
var (
	// ErrInvalidURL reports an empty or unparseable URL. No network activity
	// takes place for these.
	ErrInvalidURL = errors.New("invalid url")

	// ErrNetwork reports a load failure from the fetch mechanism.
	ErrNetwork = errors.New("network error")

	// ErrTimeout reports a fetch that did not settle within the per-image timeout.
	ErrTimeout = errors.New("timeout")
)

// OutcomeStatus is the settled state of a single preload attempt.
type OutcomeStatus string

const (
	// OutcomeFulfilled indicates the image was loaded (or was already loaded).
	OutcomeFulfilled OutcomeStatus = "fulfilled"

	// OutcomeRejected indicates the attempt failed; see [Outcome.Reason].
	OutcomeRejected OutcomeStatus = "rejected"
)

// FailureReason classifies a rejected [Outcome].
type FailureReason string

const (
	// ReasonInvalidURL is reported for empty or malformed input.
	ReasonInvalidURL FailureReason = "invalid-url"

	// ReasonNetworkError is reported when the fetch fails.
	ReasonNetworkError FailureReason = "network-error"

	// ReasonTimeout is reported when the fetch does not settle in time.
	ReasonTimeout FailureReason = "timeout"
)

// String returns the string representation of the reason.
func (r FailureReason) String() string {
	return string(r)
}

// Outcome holds the settled result of preloading a single URL.
//
// Outcomes are recorded at the URL's position in the request list, so a
// [Summary] can correlate failures back to the URLs that caused them
// regardless of completion order.
type Outcome struct {
	// RunID identifies the run that produced the outcome. Empty for
	// outcomes returned directly by [Preloader.PreloadOne].
	RunID string

	// Index is the URL's position in the request list.
	Index int

	// URL is the URL exactly as requested.
	URL string

	// Status is fulfilled or rejected.
	Status OutcomeStatus

	// Reason classifies a rejected outcome. Empty when fulfilled.
	Reason FailureReason

	// Err wraps one of [ErrInvalidURL], [ErrNetwork] or [ErrTimeout].
	// nil when fulfilled.
	Err error

	// Cached is true when the URL was already loaded by this Preloader and
	// no network activity took place.
	Cached bool

	// Anonymous is true when the fetch was issued without credentials.
	Anonymous bool

	// Latency is the time from initiation to settlement.
	Latency time.Duration
}

// Fulfilled reports whether the outcome succeeded.
func (o Outcome) Fulfilled() bool {
	return o.Status == OutcomeFulfilled
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	// RunID identifies the run in log lines and the dashboard.
	RunID string

	// Method is the configured transport, recorded for diagnostics.
	Method Method

	// Concurrency is the effective (clamped) concurrency for the run.
	Concurrency int

	Successful int
	Failed     int
	Total      int

	// Outcomes is indexed by request position and has length Total.
	Outcomes []Outcome

	StartedAt  time.Time
	FinishedAt time.Time
}

// Failures returns the rejected outcomes in request order.
func (s Summary) Failures() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if o.Status == OutcomeRejected {
			failed = append(failed, o)
		}
	}
	return failed
}

// Duration returns the wall-clock time the run took.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func newSummary(runID string, method Method, concurrency int, outcomes []Outcome, started time.Time) Summary {
	s := Summary{
		RunID:       runID,
		Method:      method,
		Concurrency: concurrency,
		Total:       len(outcomes),
		Outcomes:    outcomes,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeFulfilled:
			s.Successful++
		case OutcomeRejected:
			s.Failed++
		}
	}
	return s
}
