// Package progress folds per-item progress events into one status stream.
package progress

import (
	"fmt"

	"audiofetch/internal/consts"
	"audiofetch/internal/entity"
	"audiofetch/pkg/calc"
)

const fullPercent = 100

// Aggregator maps ProgressEvents to Notifications.
// It is not safe for concurrent use; one goroutine owns it for the whole run.
type Aggregator struct {
	total    int
	percent  int
	started  map[int]bool
	attempts map[int]int
	terminal map[int]bool
}

// New creates an Aggregator for a single item run.
func New() *Aggregator {
	a := &Aggregator{}
	a.Start(1)

	return a
}

// Start resets the aggregator for a run of total items.
func (a *Aggregator) Start(total int) {
	a.total = max(total, 1)
	a.percent = 0
	a.started = make(map[int]bool)
	a.attempts = make(map[int]int)
	a.terminal = make(map[int]bool)
}

// Map turns an event into a notification.
// It returns false for events of items that already reached a terminal phase.
func (a *Aggregator) Map(e entity.ProgressEvent) (entity.Notification, bool) {
	if a.terminal[e.ItemOrdinal] {
		return entity.Notification{}, false
	}

	// a retry starts its stream over, so the old attempt's percent no longer applies
	if !a.started[e.ItemOrdinal] || e.Attempt > a.attempts[e.ItemOrdinal] {
		a.started[e.ItemOrdinal] = true
		a.percent = 0
	}

	a.attempts[e.ItemOrdinal] = max(a.attempts[e.ItemOrdinal], e.Attempt)

	var msg string

	switch e.Phase {
	case entity.PhaseFetching:
		msg = a.label("Downloading", e)

		if e.Known {
			a.percent = calc.Percent(e.Fraction)
		} else {
			msg += consts.MsgSizeUnknown
		}
	case entity.PhaseConverting:
		msg = a.label("Converting", e)
	case entity.PhaseDone:
		a.terminal[e.ItemOrdinal] = true
		a.percent = fullPercent
		msg = a.label("Finished", e)
	case entity.PhaseFailed:
		a.terminal[e.ItemOrdinal] = true
		msg = consts.MsgErrorPrefix + e.ItemTitle + ": " + cause(e.Err)
	default:
		return entity.Notification{}, false
	}

	return entity.Notification{Percent: a.percent, Message: msg}, true
}

// Finish builds the final notification carrying the result.
func (a *Aggregator) Finish(res entity.DownloadResult) entity.Notification {
	n := entity.Notification{Percent: a.percent, Result: &res}

	switch res.Outcome {
	case entity.OutcomeAllSucceeded:
		n.Percent = fullPercent
		n.Message = consts.MsgAllSucceeded
	case entity.OutcomePartialFailure:
		n.Percent = fullPercent
		n.Message = fmt.Sprintf(consts.MsgPartialFailure, len(res.Failed), res.TotalItems)
	default:
		err := res.Err
		if err == nil {
			err = fmt.Errorf("all %d items failed", res.TotalItems)
		}

		n.Message = consts.MsgErrorPrefix + cause(err)
	}

	return n
}

func (a *Aggregator) label(verb string, e entity.ProgressEvent) string {
	if a.total <= 1 {
		return verb + " " + e.ItemTitle
	}

	if verb == "Downloading" || verb == "Converting" {
		verb += " item"
	}

	return fmt.Sprintf("%s %d/%d: %s", verb, e.ItemOrdinal+1, a.total, e.ItemTitle)
}

func cause(err error) string {
	if err == nil {
		return "unknown error"
	}

	return err.Error()
}
