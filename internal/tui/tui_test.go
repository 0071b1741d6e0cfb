//nolint:testpackage // drives the model with its own message types
package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"audiofetch/internal/entity"

	tea "github.com/charmbracelet/bubbletea"
)

func feed(notes ...entity.Notification) <-chan entity.Notification {
	ch := make(chan entity.Notification, len(notes))
	for _, n := range notes {
		ch <- n
	}
	close(ch)

	return ch
}

func final(outcome entity.Outcome, total, succeeded int, msg string) entity.Notification {
	res := entity.DownloadResult{RunID: "run", TotalItems: total, Succeeded: succeeded, Outcome: outcome}
	for i := succeeded; i < total; i++ {
		res.Failed = append(res.Failed, entity.ItemDescriptor{ID: "x", Title: "Broken"})
	}

	return entity.Notification{Percent: 100, Message: msg, Result: &res}
}

// drive runs the read commands the way the program loop would, until one of them quits.
func drive(t *testing.T, m tea.Model, notes <-chan entity.Notification) tea.Model {
	t.Helper()

	cmd := waitForNotification(notes)

	for range 100 {
		msg := cmd()
		if _, ok := msg.(tea.QuitMsg); ok {
			return m
		}

		m, cmd = m.Update(msg)
		if cmd == nil {
			t.Fatal("model stopped reading notifications")
		}
	}

	t.Fatal("model never quit")

	return nil
}

func TestModelFollowsRun(t *testing.T) {
	notes := feed(
		entity.Notification{Percent: 0, Message: "Downloading item 1/2: a"},
		entity.Notification{Percent: 50, Message: "Downloading item 1/2: a"},
		entity.Notification{Percent: 100, Message: "Finished 1/2: a"},
		entity.Notification{Percent: 0, Message: "Error: b: item unavailable"},
		final(entity.OutcomePartialFailure, 2, 1, "Finished with errors: 1 of 2 failed"),
	)

	var m tea.Model = New("https://www.youtube.com/playlist?list=PL1", notes, func() {})

	m, _ = m.Update(tea.WindowSizeMsg{Width: 100})
	m = drive(t, m, notes)

	model := m.(Model)

	res := model.Result()
	if res == nil || res.Outcome != entity.OutcomePartialFailure {
		t.Fatalf("Result() = %+v, want partial failure", res)
	}

	if model.progress.Width != 80 {
		t.Errorf("progress width = %d, want 80", model.progress.Width)
	}

	wantHistory := []string{
		"Downloading item 1/2: a",
		"Finished 1/2: a",
		"Error: b: item unavailable",
		"Finished with errors: 1 of 2 failed",
	}
	if strings.Join(model.history, "|") != strings.Join(wantHistory, "|") {
		t.Errorf("history = %q, want %q", model.history, wantHistory)
	}

	view := m.View()
	for _, want := range []string{"Finished with errors: 1 of 2 failed", "Succeeded: 1", "Broken"} {
		if !strings.Contains(view, want) {
			t.Errorf("final view misses %q:\n%s", want, view)
		}
	}
}

func TestModelHistoryBounded(t *testing.T) {
	var m tea.Model = New("u", nil, nil)

	for i := range historySize + 5 {
		m, _ = m.Update(notificationMsg{Percent: i, Message: strings.Repeat("x", i+1)})
	}

	if got := len(m.(Model).history); got != historySize {
		t.Errorf("history length = %d, want %d", got, historySize)
	}
}

func TestModelCancel(t *testing.T) {
	var cancels int

	notes := make(chan entity.Notification, 1)

	var m tea.Model = New("u", notes, func() { cancels++ })

	for range 2 {
		var cmd tea.Cmd

		m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		if cmd != nil {
			t.Fatal("interrupt must not quit before the final notification")
		}
	}

	if cancels != 1 {
		t.Errorf("cancel called %d times, want 1", cancels)
	}

	if !strings.Contains(m.View(), "cancelling") {
		t.Errorf("view should show cancellation:\n%s", m.View())
	}

	notes <- final(entity.OutcomeTotalFailure, 0, 0, "Error: run interrupted: context canceled")

	m, cmd := m.Update(waitForNotification(notes)())
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("final notification should quit")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q after the result should quit")
	}
}

func TestModelETA(t *testing.T) {
	m := New("u", nil, nil)

	next, _ := m.Update(notificationMsg{Percent: 0, Message: "Downloading a"})
	m = next.(Model)

	if strings.Contains(m.View(), "ETA") {
		t.Errorf("no ETA expected at 0%%:\n%s", m.View())
	}

	m.itemStarted = time.Now().Add(-10 * time.Second)

	next, _ = m.Update(notificationMsg{Percent: 50, Message: "Downloading a"})
	m = next.(Model)

	if eta := m.eta(); eta < 9*time.Second || eta > 11*time.Second {
		t.Errorf("eta() = %v, want about 10s", eta)
	}

	if !strings.Contains(m.View(), "ETA 10s") {
		t.Errorf("view misses ETA:\n%s", m.View())
	}

	// the next item starts over, so the old start time no longer counts
	next, _ = m.Update(notificationMsg{Percent: 10, Message: "Downloading b"})
	m = next.(Model)

	if eta := m.eta(); eta > time.Second {
		t.Errorf("eta() after restart = %v, want near zero", eta)
	}
}

func TestModelClosedChannel(t *testing.T) {
	notes := feed()

	m := New("u", notes, nil)

	_, cmd := m.Update(waitForNotification(notes)())
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closed channel should quit")
	}
}

func TestPlain(t *testing.T) {
	notes := feed(
		entity.Notification{Percent: 0, Message: "Downloading x"},
		entity.Notification{Percent: 4, Message: "Downloading x"},
		entity.Notification{Percent: 10, Message: "Downloading x"},
		entity.Notification{Percent: 15, Message: "Downloading x"},
		entity.Notification{Percent: 100, Message: "Converting x"},
		entity.Notification{Percent: 100, Message: "Finished x"},
		final(entity.OutcomeAllSucceeded, 1, 1, "All items downloaded successfully!"),
	)

	var buf bytes.Buffer

	res := Plain(&buf, notes)
	if res == nil || res.Outcome != entity.OutcomeAllSucceeded {
		t.Fatalf("Plain() = %+v, want all succeeded", res)
	}

	want := "[  0%] Downloading x\n" +
		"[ 10%] Downloading x\n" +
		"[100%] Converting x\n" +
		"[100%] Finished x\n" +
		"[100%] All items downloaded successfully!\n"

	if got := buf.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}
