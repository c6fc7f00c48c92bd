package monitor

import (
	"leakwatch/internal/model"
)

// notice carries exactly one of event or alert to the listener goroutine.
type notice struct {
	event *model.FileEvent
	alert *model.Alert
}

// notify queues a notice without blocking the watch loop.
func (w *DirectoryWatcher) notify(s *session, n notice) {
	select {
	case s.notices <- n:
	default:
		w.stats.dropped.Add(1)
		w.logger.Warn("listener queue full, dropping notification", "root", s.root)
	}
}

// dispatch delivers queued notices until the loop closes the channel.
func (w *DirectoryWatcher) dispatch(notices <-chan notice) {
	for n := range notices {
		w.lmu.RLock()
		onEvent, onAlert := w.onEvent, w.onAlert
		w.lmu.RUnlock()

		if n.event != nil && onEvent != nil {
			ev := *n.event
			w.deliver("event", func() error { return onEvent(ev) })
		}
		if n.alert != nil && onAlert != nil {
			a := *n.alert
			w.deliver("alert", func() error { return onAlert(a) })
		}
	}
}

// deliver runs one listener call, containing both errors and panics.
func (w *DirectoryWatcher) deliver(listener string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("listener panicked", "listener", listener, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		w.logger.Warn("listener failed", "listener", listener, "error", err)
	}
}
