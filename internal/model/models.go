package model

import (
	"fmt"
	"strings"
	"time"
)

// EventType is the kind of change observed on a file.
type EventType string

const (
	EventCreated  EventType = "Created"
	EventModified EventType = "Modified"
	EventDeleted  EventType = "Deleted"
	// Renamed and Copied are accepted by the store but never produced by the watcher.
	EventRenamed EventType = "Renamed"
	EventCopied  EventType = "Copied"
)

// ParseEventType accepts the canonical names case-insensitively.
func ParseEventType(s string) (EventType, error) {
	for _, t := range []EventType{EventCreated, EventModified, EventDeleted, EventRenamed, EventCopied} {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown event type: %q", s)
}

// Severity ranks an alert. The zero value is below LOW and means "no match".
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "NONE"
}

// ParseSeverity converts a stored severity name back into a Severity.
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if strings.EqualFold(s, name) {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity: %q", s)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	sev, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = sev
	return nil
}

// FileEvent is one observed change to a file inside a monitored root.
// Events are append-only: once saved they are never updated or deleted.
type FileEvent struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"file_name"` // last path component
	Type        EventType `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`    // observation instant
	ContentHash string    `json:"content_hash"` // lowercase hex; empty when unavailable
	Suspicious  bool      `json:"suspicious"`
	CreatedAt   time.Time `json:"created_at"`
}

// Alert is raised for every suspicious FileEvent.
type Alert struct {
	ID           int64     `json:"id"`
	FileEventID  int64     `json:"file_event_id"`
	Severity     Severity  `json:"severity"`
	Acknowledged bool      `json:"acknowledged"`
	CreatedAt    time.Time `json:"created_at"`
	ActionsTaken string    `json:"actions_taken"`
}

// Fingerprint is the last known content hash for an absolute file path.
type Fingerprint struct {
	ID          int64     `json:"id"`
	FilePath    string    `json:"file_path"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary aggregates the events of a reporting window.
type Summary struct {
	From          time.Time         `json:"from"`
	To            time.Time         `json:"to"`
	Total         int               `json:"total"`
	Suspicious    int               `json:"suspicious"`
	DistinctFiles int               `json:"distinct_files"`
	ByType        map[EventType]int `json:"by_type"`
}

// Summarize counts events into a Summary for the given window.
func Summarize(from, to time.Time, events []*FileEvent) *Summary {
	s := &Summary{From: from, To: to, ByType: make(map[EventType]int)}
	files := make(map[string]struct{})
	for _, e := range events {
		s.Total++
		if e.Suspicious {
			s.Suspicious++
		}
		files[e.FileName] = struct{}{}
		s.ByType[e.Type]++
	}
	s.DistinctFiles = len(files)
	return s
}

// ParseBound parses a query bound given as RFC 3339 or as a local date
// (YYYY-MM-DD). A date used as an upper bound covers the whole day.
func ParseBound(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	day, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	if upper {
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return day, nil
}
