package tui

import (
	"fmt"
	"io"

	"audiofetch/internal/entity"
)

// plainStep is the percent change that prints a line when the message stays the same.
const plainStep = 10

// Plain prints notifications as lines on w until the channel is closed and returns the final result.
// A line is written when the message changes or the percent moved by at least plainStep.
func Plain(w io.Writer, notes <-chan entity.Notification) *entity.DownloadResult {
	var (
		res         *entity.DownloadResult
		lastMessage string
		lastPercent = -plainStep
	)

	for n := range notes {
		if n.IsFinal() {
			res = n.Result
		}

		if n.Message == lastMessage && n.Percent-lastPercent < plainStep && !n.IsFinal() {
			continue
		}

		lastMessage, lastPercent = n.Message, n.Percent

		fmt.Fprintf(w, "[%3d%%] %s\n", n.Percent, n.Message)
	}

	return res
}
