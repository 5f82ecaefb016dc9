package store

import (
	"sort"
	"sync"
)

// MaxRuns is how many run records a MemoryStore keeps.
const MaxRuns = 20

const subscriberBuffer = 100

// MemoryStore is an in-memory implementation of [Store].
//
// Outcomes are keyed by URL, with new outcomes replacing previous values.
// Subscribers receive updates via buffered channels; if a subscriber's
// buffer is full, the update is dropped for that subscriber.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes map[string]OutcomeRecord
	runs     []RunRecord

	subMu       sync.RWMutex
	subscribers map[chan OutcomeRecord]struct{}
}

// NewMemoryStore creates a new in-memory [Store] implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		outcomes:    make(map[string]OutcomeRecord),
		subscribers: make(map[chan OutcomeRecord]struct{}),
	}
}

// Update stores an [OutcomeRecord] and notifies all subscribers.
func (m *MemoryStore) Update(record OutcomeRecord) {
	m.mu.Lock()
	m.outcomes[record.URL] = record
	m.mu.Unlock()

	m.notifySubscribers(record)
}

// GetAll returns a snapshot of the latest outcome per URL, sorted by URL.
func (m *MemoryStore) GetAll() []OutcomeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]OutcomeRecord, 0, len(m.outcomes))
	for _, r := range m.outcomes {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].URL < records[j].URL
	})
	return records
}

// AddRun records a completed run. Only the most recent [MaxRuns] are kept.
func (m *MemoryStore) AddRun(run RunRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = append(m.runs, run)
	if len(m.runs) > MaxRuns {
		m.runs = append([]RunRecord(nil), m.runs[len(m.runs)-MaxRuns:]...)
	}
}

// Runs returns a copy of the recorded runs, newest first.
func (m *MemoryStore) Runs() []RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]RunRecord, len(m.runs))
	for i, r := range m.runs {
		runs[len(m.runs)-1-i] = r
	}
	return runs
}

// Subscribe creates a new subscription with a buffer of 100 updates.
//
// Caller must call [MemoryStore.Unsubscribe] when done.
func (m *MemoryStore) Subscribe() <-chan OutcomeRecord {
	ch := make(chan OutcomeRecord, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
// Safe to call multiple times or with an unknown channel.
func (m *MemoryStore) Unsubscribe(ch <-chan OutcomeRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// notifySubscribers sends the record to all subscribers without blocking.
func (m *MemoryStore) notifySubscribers(record OutcomeRecord) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- record:
		default:
			// subscriber is slow, drop the message
		}
	}
}
