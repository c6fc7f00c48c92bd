package testutil

import (
	"sync"
	"testing"
	"time"

	"leakwatch/internal/model"
)

// Recorder collects events and alerts delivered to watcher listeners.
type Recorder struct {
	mu     sync.Mutex
	events []model.FileEvent
	alerts []model.Alert
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// OnEvent matches monitor.EventListener.
func (r *Recorder) OnEvent(e model.FileEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.poke()
	return nil
}

// OnAlert matches monitor.AlertListener.
func (r *Recorder) OnAlert(a model.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	r.poke()
	return nil
}

func (r *Recorder) poke() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []model.FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.FileEvent(nil), r.events...)
}

// Alerts returns a copy of the recorded alerts.
func (r *Recorder) Alerts() []model.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Alert(nil), r.alerts...)
}

// WaitForEvent blocks until an event satisfying match is recorded, failing
// the test after timeout.
func (r *Recorder) WaitForEvent(t *testing.T, timeout time.Duration, match func(model.FileEvent) bool) model.FileEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, e := range r.Events() {
			if match(e) {
				return e
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("no matching event within %v; got %+v", timeout, r.Events())
			return model.FileEvent{}
		}
	}
}

// WaitForAlert blocks until an alert satisfying match is recorded.
func (r *Recorder) WaitForAlert(t *testing.T, timeout time.Duration, match func(model.Alert) bool) model.Alert {
	t.Helper()
	deadline := time.After(timeout)
	for {
		for _, a := range r.Alerts() {
			if match(a) {
				return a
			}
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("no matching alert within %v; got %+v", timeout, r.Alerts())
			return model.Alert{}
		}
	}
}
