package monitor

import (
	"leakwatch/internal/model"
)

// Digest is the result of hashing one file.
type Digest struct {
	Hash string // lowercase hex
	Size int64
	Kind string // extension sniffed from magic bytes; empty when unknown
}

// Hasher computes content digests.
type Hasher interface {
	Sum(path string) (*Digest, error)
}

// Observation is everything a classifier may look at for one event.
type Observation struct {
	Root  string
	Path  string
	Event model.FileEvent
	Kind  string
}

// RuleMatch records one rule that fired.
type RuleMatch struct {
	Rule     string
	Severity model.Severity
	Reason   string
}

// Verdict is the classifier's decision for one event. Matches are listed in
// rule priority order.
type Verdict struct {
	Suspicious bool
	Severity   model.Severity
	Matches    []RuleMatch
}

// Primary returns the highest-severity match, preferring the earliest rule on ties.
func (v Verdict) Primary() (RuleMatch, bool) {
	for _, m := range v.Matches {
		if m.Severity == v.Severity {
			return m, true
		}
	}
	return RuleMatch{}, false
}

// Classifier decides whether an event is suspicious.
type Classifier interface {
	Classify(obs Observation) Verdict
}

// AlertPublisher persists and announces an alert for a stored suspicious event.
type AlertPublisher interface {
	Publish(event *model.FileEvent, verdict Verdict) (*model.Alert, error)
}

// EventListener receives every persisted event.
type EventListener func(model.FileEvent) error

// AlertListener receives every published alert.
type AlertListener func(model.Alert) error
