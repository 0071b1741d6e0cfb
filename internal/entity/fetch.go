package entity

import (
	"log/slog"
)

// AttemptOutcome is the result of one fetch attempt.
type AttemptOutcome string

const (
	// AttemptSuccess means the item was fetched and converted.
	AttemptSuccess AttemptOutcome = "success"
	// AttemptTransientFailure means the attempt failed and may be retried.
	AttemptTransientFailure AttemptOutcome = "transient_failure"
	// AttemptExhaustedRetries means every attempt failed transiently.
	AttemptExhaustedRetries AttemptOutcome = "exhausted_retries"
	// AttemptFailed means the item failed for a reason retrying cannot fix.
	AttemptFailed AttemptOutcome = "failed"
)

// IsTerminal reports whether no further attempt follows.
func (o AttemptOutcome) IsTerminal() bool {
	return o != AttemptTransientFailure
}

// FetchAttempt records one retry cycle of an item fetch.
type FetchAttempt struct {
	ItemID        string
	AttemptNumber int
	Outcome       AttemptOutcome
	Reason        error
	// OutputPath is set on success.
	OutputPath string
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (a FetchAttempt) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("item_id", a.ItemID),
		slog.Int("attempt", a.AttemptNumber),
		slog.String("outcome", string(a.Outcome)),
	}
	if a.Reason != nil {
		attrs = append(attrs, slog.String("reason", a.Reason.Error()))
	}
	if a.OutputPath != "" {
		attrs = append(attrs, slog.String("output", a.OutputPath))
	}

	return slog.GroupValue(attrs...)
}

// Phase is the stage an in-flight item is in.
type Phase string

const (
	// PhaseFetching means bytes are being received.
	PhaseFetching Phase = "fetching"
	// PhaseConverting means the transcoder is running.
	PhaseConverting Phase = "converting"
	// PhaseDone means the item finished successfully.
	PhaseDone Phase = "done"
	// PhaseFailed means the item reached a terminal failure.
	PhaseFailed Phase = "failed"
)

// IsTerminal reports whether the phase ends the item's event stream.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// ProgressEvent is a fine-grained update from one fetcher.
type ProgressEvent struct {
	ItemOrdinal int
	ItemTitle   string
	// Fraction is in [0, 1]; meaningless when Known is false.
	Fraction float64
	// Known is false while the total stream size is unknown.
	Known bool
	Phase Phase
	// Attempt is the 1-based attempt number that produced the event.
	Attempt int
	// Err is set on PhaseFailed.
	Err error
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (e ProgressEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("ordinal", e.ItemOrdinal),
		slog.String("title", e.ItemTitle),
		slog.Float64("fraction", e.Fraction),
		slog.Bool("known", e.Known),
		slog.String("phase", string(e.Phase)),
		slog.Int("attempt", e.Attempt),
	)
}
