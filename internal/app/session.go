package app

import (
	"time"
)

// Session describes one CLI invocation. Its ID tags every log line the
// invocation writes so interleaved runs can be told apart in leakwatch.log.
type Session struct {
	ID        string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
}

func NewSession(id, command string, startedAt time.Time) *Session {
	return &Session{
		ID:        id,
		Command:   command,
		StartedAt: startedAt,
		Status:    "success",
	}
}

// Fail marks the session as failed.
func (s *Session) Fail() {
	s.Status = "error"
}

// Elapsed reports how long the session has run as of now.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt).Round(time.Millisecond)
}
