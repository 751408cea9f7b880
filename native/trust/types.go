package trust

import "math"

// Record holds the running per-address counters the ledger maintains. Every
// derived metric is a pure function of these five fields, so admission checks
// never have to replay an address's contract history. The record is updated
// exactly once per contract closure and once per review submission.
type Record struct {
	Accepted                 uint64
	Completed                uint64
	SatisfiedReviews         uint64
	TotalReviews             uint64
	CumulativeCompletionSecs uint64
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return &Record{}
	}
	clone := *r
	return &clone
}

// Metrics are the aggregate statistics derived from a Record. Percentages are
// expressed on a 0-100 scale.
type Metrics struct {
	PercentCompleted  uint8
	TotalCompleted    uint64
	PercentSatisfied  uint8
	AvgCompletionSecs uint64
}

// Requirements are the minimum thresholds a fulfiller must meet before
// reserving a contract. A zero value imposes no constraint for that field.
// AvgCompletionSecs is an upper bound (faster is better); all other fields are
// lower bounds.
type Requirements struct {
	PercentCompleted  uint8
	TotalCompleted    uint64
	PercentSatisfied  uint8
	AvgCompletionSecs uint64
}

// MetricsFromRecord derives the aggregate metrics from the raw counters. A nil
// record yields neutral zero metrics, the stance taken for addresses with no
// history.
func MetricsFromRecord(rec *Record) Metrics {
	if rec == nil {
		return Metrics{}
	}
	m := Metrics{TotalCompleted: rec.Completed}
	if rec.Accepted > 0 {
		m.PercentCompleted = percentOf(rec.Completed, rec.Accepted)
	}
	if rec.TotalReviews > 0 {
		m.PercentSatisfied = percentOf(rec.SatisfiedReviews, rec.TotalReviews)
	}
	if rec.Completed > 0 {
		m.AvgCompletionSecs = rec.CumulativeCompletionSecs / rec.Completed
	}
	return m
}

// percentOf computes part*100/total on the 0-100 scale without overflowing
// the intermediate product.
func percentOf(part, total uint64) uint8 {
	if total == 0 {
		return 0
	}
	if part >= total {
		return 100
	}
	if part > math.MaxUint64/100 {
		// part < total here, so total/100 is non-zero.
		return uint8(part / (total / 100))
	}
	return uint8(part * 100 / total)
}

// Satisfies reports whether the record meets the supplied thresholds.
// Comparisons against fields the address has never produced an observation for
// are skipped: a fulfiller with no accepted reservations is not excluded by a
// completion-rate floor, one with no reviews is not excluded by a satisfaction
// floor, and one with no completions is not excluded by a completion-time
// ceiling. Newcomers are therefore admitted unless the requirements explicitly
// demand TotalCompleted > 0.
func Satisfies(rec *Record, req Requirements) bool {
	m := MetricsFromRecord(rec)
	observedAccepts := rec != nil && rec.Accepted > 0
	observedReviews := rec != nil && rec.TotalReviews > 0
	if observedAccepts && m.PercentCompleted < req.PercentCompleted {
		return false
	}
	if m.TotalCompleted < req.TotalCompleted {
		return false
	}
	if observedReviews && m.PercentSatisfied < req.PercentSatisfied {
		return false
	}
	if req.AvgCompletionSecs > 0 && m.TotalCompleted > 0 && m.AvgCompletionSecs > req.AvgCompletionSecs {
		return false
	}
	return true
}
