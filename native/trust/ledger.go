package trust

import (
	"errors"
	"fmt"
)

// storage abstracts the subset of state manager functionality required by the
// trust ledger.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var recordPrefix = []byte("trust/record/")

func recordKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, addr))
}

var (
	// ErrNotInitialised marks calls against a ledger without a storage
	// backend.
	ErrNotInitialised = errors.New("trust: ledger not initialised")
)

// Ledger persists the per-address trust counters and answers admission
// queries in O(1). Mutation happens through exactly two entry points:
// RecordCompletion, driven by contract closure, and RecordReview, driven by
// review submission.
type Ledger struct {
	store storage
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

// Record retrieves the raw counters for an address. The boolean reports
// whether the address has any history.
func (l *Ledger) Record(addr [20]byte) (*Record, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, ErrNotInitialised
	}
	var rec Record
	ok, err := l.store.KVGet(recordKey(addr), &rec)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

// Metrics derives the aggregate statistics for an address. Addresses with no
// history yield neutral zero metrics rather than an error, so brand-new
// fulfillers are not pre-emptively excluded.
func (l *Ledger) Metrics(addr [20]byte) (Metrics, error) {
	rec, _, err := l.Record(addr)
	if err != nil {
		return Metrics{}, err
	}
	return MetricsFromRecord(rec), nil
}

// CheckRequirements reports whether the address's current metrics satisfy the
// supplied thresholds.
func (l *Ledger) CheckRequirements(addr [20]byte, req Requirements) (bool, error) {
	rec, _, err := l.Record(addr)
	if err != nil {
		return false, err
	}
	return Satisfies(rec, req), nil
}

// RecordCompletion folds the outcome of a closed contract into the address's
// counters. completed reports whether the fulfillment succeeded (creator
// completion or arbitration in the fulfiller's favour); durationSecs is the
// Reserved-to-Fulfilled interval and is only accumulated for successful
// completions. Lapsed reservations never reach this method.
func (l *Ledger) RecordCompletion(addr [20]byte, completed bool, durationSecs uint64) error {
	if l == nil || l.store == nil {
		return ErrNotInitialised
	}
	rec, _, err := l.Record(addr)
	if err != nil {
		return err
	}
	updated := rec.Clone()
	updated.Accepted++
	if completed {
		updated.Completed++
		updated.CumulativeCompletionSecs += durationSecs
	}
	return l.store.KVPut(recordKey(addr), updated)
}

// RecordReview folds a post-closure review into the subject's counters.
func (l *Ledger) RecordReview(addr [20]byte, satisfied bool) error {
	if l == nil || l.store == nil {
		return ErrNotInitialised
	}
	rec, _, err := l.Record(addr)
	if err != nil {
		return err
	}
	updated := rec.Clone()
	updated.TotalReviews++
	if satisfied {
		updated.SatisfiedReviews++
	}
	return l.store.KVPut(recordKey(addr), updated)
}
