package entity

import (
	"log/slog"
)

// Outcome summarises a whole run.
type Outcome string

const (
	// OutcomeAllSucceeded means every item succeeded.
	OutcomeAllSucceeded Outcome = "all_succeeded"
	// OutcomePartialFailure means some but not all items succeeded.
	OutcomePartialFailure Outcome = "partial_failure"
	// OutcomeTotalFailure means no item succeeded, including runs that dispatched nothing.
	OutcomeTotalFailure Outcome = "total_failure"
)

// DownloadResult is computed once after every item reached a terminal state.
type DownloadResult struct {
	RunID      string           `json:"runId"`
	TotalItems int              `json:"totalItems"`
	Succeeded  int              `json:"succeeded"`
	Failed     []ItemDescriptor `json:"failed,omitempty"`
	Outcome    Outcome          `json:"outcome"`
	// Err is the fatal cause for runs that never dispatched.
	Err error `json:"-"`
}

// NewDownloadResult derives the outcome from the per-item tallies.
func NewDownloadResult(runID string, total, succeeded int, failed []ItemDescriptor, err error) DownloadResult {
	res := DownloadResult{
		RunID:      runID,
		TotalItems: total,
		Succeeded:  succeeded,
		Failed:     failed,
		Err:        err,
	}

	switch {
	case total > 0 && succeeded == total:
		res.Outcome = OutcomeAllSucceeded
	case succeeded > 0:
		res.Outcome = OutcomePartialFailure
	default:
		res.Outcome = OutcomeTotalFailure
	}

	return res
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r DownloadResult) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", r.RunID),
		slog.Int("total", r.TotalItems),
		slog.Int("succeeded", r.Succeeded),
		slog.Int("failed", len(r.Failed)),
		slog.String("outcome", string(r.Outcome)),
	}
	if r.Err != nil {
		attrs = append(attrs, slog.String("error", r.Err.Error()))
	}

	return slog.GroupValue(attrs...)
}

// Notification is the outward two-channel signal rendered by presentation layers.
type Notification struct {
	Percent int
	Message string
	// Result is set only on the last notification of a run.
	Result *DownloadResult
}

// IsFinal reports whether the notification terminates the run's stream.
func (n Notification) IsFinal() bool {
	return n.Result != nil
}
