package alert

import (
	"fmt"
	"strings"
	"sync"

	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

// Store is the persistence the publisher needs.
type Store interface {
	SaveAlert(alert *model.Alert) (int64, error)
}

// Publisher persists alerts for suspicious events and fans them out to
// subscribers. Delivery never blocks: a subscriber whose buffer is full
// misses the alert.
type Publisher struct {
	store  Store
	clock  monitor.Clock
	logger monitor.Logger

	mu     sync.RWMutex
	subs   map[int]chan model.Alert
	nextID int
	closed bool
}

func NewPublisher(store Store, clock monitor.Clock, logger monitor.Logger) *Publisher {
	if clock == nil {
		clock = monitor.RealClock{}
	}
	if logger == nil {
		logger = monitor.NewNopLogger()
	}
	return &Publisher{
		store:  store,
		clock:  clock,
		logger: logger,
		subs:   make(map[int]chan model.Alert),
	}
}

// Publish builds, saves and announces an alert for event, which must
// already carry its store id.
func (p *Publisher) Publish(event *model.FileEvent, verdict monitor.Verdict) (*model.Alert, error) {
	if event == nil || event.ID <= 0 {
		return nil, fmt.Errorf("publishing alert: event has no store id")
	}

	severity := verdict.Severity
	if severity < model.SeverityLow {
		severity = model.SeverityLow
	}

	a := &model.Alert{
		FileEventID:  event.ID,
		Severity:     severity,
		Acknowledged: false,
		CreatedAt:    p.clock.Now(),
		ActionsTaken: describe(event, verdict),
	}

	id, err := p.store.SaveAlert(a)
	if err != nil {
		return nil, fmt.Errorf("publishing alert for event %d: %w", event.ID, err)
	}
	a.ID = id

	p.logger.Warn("suspicious activity",
		"alert_id", a.ID, "event_id", event.ID, "file", event.FileName,
		"type", event.Type, "severity", a.Severity)

	p.fanOut(*a)
	return a, nil
}

func (p *Publisher) fanOut(a model.Alert) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, ch := range p.subs {
		select {
		case ch <- a:
		default:
			p.logger.Warn("subscriber buffer full, dropping alert", "subscriber", id, "alert_id", a.ID)
		}
	}
}

// Subscribe returns a channel receiving every alert published from now on,
// and a function that unsubscribes and closes the channel.
func (p *Publisher) Subscribe(buffer int) (<-chan model.Alert, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan model.Alert, buffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}

	id := p.nextID
	p.nextID++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

// Close closes every subscriber channel. Later Subscribe calls receive a
// closed channel; Publish keeps saving alerts.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.closed = true
}

// describe summarises what was recorded and which rules fired.
func describe(event *model.FileEvent, verdict monitor.Verdict) string {
	primary, ok := verdict.Primary()
	if !ok {
		return fmt.Sprintf("logged %s event on %s", strings.ToLower(string(event.Type)), event.FileName)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "logged %s event on %s: %s (%s)",
		strings.ToLower(string(event.Type)), event.FileName, primary.Rule, primary.Reason)

	var others []string
	for _, m := range verdict.Matches {
		if m.Rule != primary.Rule {
			others = append(others, m.Rule)
		}
	}
	if len(others) > 0 {
		fmt.Fprintf(&b, "; also matched %s", strings.Join(others, ", "))
	}
	return b.String()
}

var _ monitor.AlertPublisher = (*Publisher)(nil)
