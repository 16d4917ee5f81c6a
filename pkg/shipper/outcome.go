package shipper

import "time"

// OutcomeKind tags the terminal state of one carrier dispatch.
type OutcomeKind int

const (
	// OutcomeQuoted means the carrier produced a rankable offer.
	OutcomeQuoted OutcomeKind = iota
	// OutcomeUnavailable means the carrier failed, timed out or answered with garbage.
	OutcomeUnavailable
	// OutcomeFatal means the dispatch could not run at all.
	OutcomeFatal
)

// String returns the metric label for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeQuoted:
		return "quoted"
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one carrier.
type Outcome struct {
	Kind     OutcomeKind
	Carrier  string
	Quote    CarrierQuote
	Err      error
	Duration time.Duration
}

// Quoted wraps a successful carrier quote.
func Quoted(carrier string, q CarrierQuote, d time.Duration) Outcome {
	q.Available = true
	return Outcome{Kind: OutcomeQuoted, Carrier: carrier, Quote: q, Duration: d}
}

// Unavailable wraps a carrier failure into its diagnostic record.
func Unavailable(carrier, displayName string, err error, at time.Time, d time.Duration) Outcome {
	return Outcome{
		Kind:     OutcomeUnavailable,
		Carrier:  carrier,
		Quote:    UnavailableQuote(carrier, displayName, err.Error(), at),
		Err:      err,
		Duration: d,
	}
}

// Fatal wraps an aggregation fault.
func Fatal(carrier string, err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Carrier: carrier, Err: err}
}
