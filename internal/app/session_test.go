package app

import (
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	s := NewSession("session-1", "watch", start)

	if s.ID != "session-1" || s.Command != "watch" {
		t.Errorf("session = %+v", s)
	}
	if s.Status != "success" {
		t.Errorf("Status = %q, want success", s.Status)
	}

	s.Fail()
	if s.Status != "error" {
		t.Errorf("Status after Fail() = %q, want error", s.Status)
	}

	if got := s.Elapsed(start.Add(1500*time.Millisecond + 300*time.Microsecond)); got != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", got)
	}
}
