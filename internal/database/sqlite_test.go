package database

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"leakwatch/internal/model"
)

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// newTestStore creates a new in-memory store with migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:", fixedClock{now: base})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func saveEvent(t *testing.T, s *SQLiteStore, name string, typ model.EventType, ts time.Time, suspicious bool) int64 {
	t.Helper()
	id, err := s.SaveEvent(&model.FileEvent{
		FileName:    name,
		Type:        typ,
		Timestamp:   ts,
		ContentHash: "abc123",
		Suspicious:  suspicious,
	})
	if err != nil {
		t.Fatalf("SaveEvent(%s) error = %v", name, err)
	}
	return id
}

func TestSQLiteStore_SaveAndGetEvent(t *testing.T) {
	t.Run("round trips every field", func(t *testing.T) {
		s := newTestStore(t)

		in := &model.FileEvent{
			FileName:    "/srv/share/id_rsa.pem",
			Type:        model.EventCreated,
			Timestamp:   base.Add(1500 * time.Millisecond),
			ContentHash: "deadbeef",
			Suspicious:  true,
		}
		id, err := s.SaveEvent(in)
		if err != nil {
			t.Fatalf("SaveEvent() error = %v", err)
		}
		if id <= 0 {
			t.Fatalf("SaveEvent() id = %d, want > 0", id)
		}

		got, err := s.GetEvent(id)
		if err != nil {
			t.Fatalf("GetEvent() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetEvent() returned nil")
		}
		if got.ID != id || got.FileName != in.FileName || got.Type != in.Type {
			t.Errorf("GetEvent() = %+v", got)
		}
		if !got.Timestamp.Equal(in.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, in.Timestamp)
		}
		if got.ContentHash != "deadbeef" || !got.Suspicious {
			t.Errorf("ContentHash/Suspicious = %q/%v", got.ContentHash, got.Suspicious)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
		}
	})

	t.Run("ids are strictly increasing", func(t *testing.T) {
		s := newTestStore(t)
		first := saveEvent(t, s, "/a", model.EventCreated, base, false)
		second := saveEvent(t, s, "/b", model.EventCreated, base, false)
		if second <= first {
			t.Errorf("ids %d then %d, want increasing", first, second)
		}
	})

	t.Run("returns nil for unknown id", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.GetEvent(42)
		if err != nil {
			t.Fatalf("GetEvent() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetEvent() = %+v, want nil", got)
		}
	})

	t.Run("rejects empty file name", func(t *testing.T) {
		s := newTestStore(t)
		if _, err := s.SaveEvent(&model.FileEvent{Type: model.EventCreated, Timestamp: base}); err == nil {
			t.Error("SaveEvent() expected error for empty file name")
		}
	})
}

func TestSQLiteStore_GetAllEvents(t *testing.T) {
	t.Run("empty store returns empty slice", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.GetAllEvents()
		if err != nil {
			t.Fatalf("GetAllEvents() error = %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("GetAllEvents() = %v, want empty non-nil slice", got)
		}
	})

	t.Run("newest first", func(t *testing.T) {
		s := newTestStore(t)
		saveEvent(t, s, "/old", model.EventCreated, base, false)
		saveEvent(t, s, "/new", model.EventModified, base.Add(time.Hour), false)
		saveEvent(t, s, "/mid", model.EventDeleted, base.Add(time.Minute), false)

		got, err := s.GetAllEvents()
		if err != nil {
			t.Fatalf("GetAllEvents() error = %v", err)
		}
		want := []string{"/new", "/mid", "/old"}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i, name := range want {
			if got[i].FileName != name {
				t.Errorf("got[%d] = %s, want %s", i, got[i].FileName, name)
			}
		}
	})

	t.Run("equal timestamps order by id descending", func(t *testing.T) {
		s := newTestStore(t)
		saveEvent(t, s, "/first", model.EventCreated, base, false)
		saveEvent(t, s, "/second", model.EventCreated, base, false)

		got, err := s.GetAllEvents()
		if err != nil {
			t.Fatalf("GetAllEvents() error = %v", err)
		}
		if got[0].FileName != "/second" {
			t.Errorf("got[0] = %s, want /second", got[0].FileName)
		}
	})
}

func TestSQLiteStore_GetEventsByDateRange(t *testing.T) {
	s := newTestStore(t)
	saveEvent(t, s, "/before", model.EventCreated, base.Add(-time.Second), false)
	saveEvent(t, s, "/start", model.EventCreated, base, false)
	saveEvent(t, s, "/inside", model.EventCreated, base.Add(30*time.Minute), false)
	saveEvent(t, s, "/end", model.EventCreated, base.Add(time.Hour), false)
	saveEvent(t, s, "/after", model.EventCreated, base.Add(time.Hour+time.Millisecond), false)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  []string
	}{
		{"bounds are inclusive", base, base.Add(time.Hour), []string{"/end", "/inside", "/start"}},
		{"single instant", base, base, []string{"/start"}},
		{"no matches", base.Add(2 * time.Hour), base.Add(3 * time.Hour), []string{}},
		{"inverted range is empty", base.Add(time.Hour), base, []string{}},
		{"non-utc bounds", base.In(time.FixedZone("EST", -5*3600)), base.Add(time.Minute).In(time.FixedZone("EST", -5*3600)), []string{"/start"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetEventsByDateRange(tt.start, tt.end)
			if err != nil {
				t.Fatalf("GetEventsByDateRange() error = %v", err)
			}
			if got == nil {
				t.Fatal("GetEventsByDateRange() returned nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i, name := range tt.want {
				if got[i].FileName != name {
					t.Errorf("got[%d] = %s, want %s", i, got[i].FileName, name)
				}
			}
		})
	}
}

func TestSQLiteStore_GetSuspiciousEvents(t *testing.T) {
	s := newTestStore(t)
	saveEvent(t, s, "/notes.txt", model.EventCreated, base, false)
	saveEvent(t, s, "/id_rsa", model.EventCreated, base.Add(time.Second), true)
	saveEvent(t, s, "/passwords.txt", model.EventModified, base.Add(2*time.Second), true)

	got, err := s.GetSuspiciousEvents()
	if err != nil {
		t.Fatalf("GetSuspiciousEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, e := range got {
		if !e.Suspicious {
			t.Errorf("event %s not suspicious", e.FileName)
		}
	}
	if got[0].FileName != "/passwords.txt" {
		t.Errorf("got[0] = %s, want /passwords.txt", got[0].FileName)
	}
}

func TestSQLiteStore_Alerts(t *testing.T) {
	t.Run("save and get", func(t *testing.T) {
		s := newTestStore(t)
		eventID := saveEvent(t, s, "/id_rsa", model.EventCreated, base, true)

		id, err := s.SaveAlert(&model.Alert{
			FileEventID:  eventID,
			Severity:     model.SeverityHigh,
			ActionsTaken: "logged",
		})
		if err != nil {
			t.Fatalf("SaveAlert() error = %v", err)
		}

		got, err := s.GetAlert(id)
		if err != nil {
			t.Fatalf("GetAlert() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetAlert() returned nil")
		}
		if got.FileEventID != eventID || got.Severity != model.SeverityHigh || got.Acknowledged {
			t.Errorf("GetAlert() = %+v", got)
		}
		if got.ActionsTaken != "logged" {
			t.Errorf("ActionsTaken = %q", got.ActionsTaken)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base)
		}
	})

	t.Run("rejects unknown event", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.SaveAlert(&model.Alert{FileEventID: 999, Severity: model.SeverityLow})
		if err == nil {
			t.Error("SaveAlert() expected foreign key error")
		}
	})

	t.Run("unknown id returns nil", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.GetAlert(7)
		if err != nil || got != nil {
			t.Errorf("GetAlert() = %v, %v, want nil, nil", got, err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		s := newTestStore(t)
		eventID := saveEvent(t, s, "/id_rsa", model.EventCreated, base, true)
		s.SaveAlert(&model.Alert{FileEventID: eventID, Severity: model.SeverityLow, CreatedAt: base})
		s.SaveAlert(&model.Alert{FileEventID: eventID, Severity: model.SeverityHigh, CreatedAt: base.Add(time.Minute)})

		got, err := s.GetAllAlerts()
		if err != nil {
			t.Fatalf("GetAllAlerts() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].Severity != model.SeverityHigh {
			t.Errorf("got[0].Severity = %v, want HIGH", got[0].Severity)
		}
	})

	t.Run("empty list is non-nil", func(t *testing.T) {
		s := newTestStore(t)
		got, err := s.GetAllAlerts()
		if err != nil || got == nil || len(got) != 0 {
			t.Errorf("GetAllAlerts() = %v, %v", got, err)
		}
	})
}

func TestSQLiteStore_AcknowledgeAlert(t *testing.T) {
	s := newTestStore(t)
	eventID := saveEvent(t, s, "/id_rsa", model.EventCreated, base, true)
	id, err := s.SaveAlert(&model.Alert{FileEventID: eventID, Severity: model.SeverityMedium})
	if err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}

	if err := s.AcknowledgeAlert(id); err != nil {
		t.Fatalf("AcknowledgeAlert() error = %v", err)
	}
	got, _ := s.GetAlert(id)
	if !got.Acknowledged {
		t.Error("alert not acknowledged")
	}

	// Acknowledging twice is allowed.
	if err := s.AcknowledgeAlert(id); err != nil {
		t.Errorf("second AcknowledgeAlert() error = %v", err)
	}

	if err := s.AcknowledgeAlert(id + 100); !errors.Is(err, ErrNotFound) {
		t.Errorf("AcknowledgeAlert(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Fingerprints(t *testing.T) {
	t.Run("upsert replaces hash for same path", func(t *testing.T) {
		s := newTestStore(t)

		if err := s.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/a.txt", ContentHash: "h1", Size: 5}); err != nil {
			t.Fatalf("UpsertFingerprint() error = %v", err)
		}
		if err := s.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/a.txt", ContentHash: "h2", Size: 9, LastSeen: base.Add(time.Hour)}); err != nil {
			t.Fatalf("UpsertFingerprint() error = %v", err)
		}

		got, err := s.FindFingerprintsUnder("/w")
		if err != nil {
			t.Fatalf("FindFingerprintsUnder() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].ContentHash != "h2" || got[0].Size != 9 {
			t.Errorf("fingerprint = %+v", got[0])
		}
		if !got[0].LastSeen.Equal(base.Add(time.Hour)) {
			t.Errorf("LastSeen = %v", got[0].LastSeen)
		}
	})

	t.Run("find by hash", func(t *testing.T) {
		s := newTestStore(t)
		s.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/b.txt", ContentHash: "same"})
		s.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/a.txt", ContentHash: "same"})
		s.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/c.txt", ContentHash: "other"})

		got, err := s.FindFingerprintsByHash("same")
		if err != nil {
			t.Fatalf("FindFingerprintsByHash() error = %v", err)
		}
		if len(got) != 2 || got[0].FilePath != "/w/a.txt" || got[1].FilePath != "/w/b.txt" {
			t.Errorf("FindFingerprintsByHash() = %v", got)
		}

		none, err := s.FindFingerprintsByHash("missing")
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("FindFingerprintsByHash(missing) = %v, %v", none, err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newTestStore(t)
		s.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/a.txt", ContentHash: "h"})

		if err := s.DeleteFingerprint("/w/a.txt"); err != nil {
			t.Fatalf("DeleteFingerprint() error = %v", err)
		}
		if err := s.DeleteFingerprint("/w/never.txt"); err != nil {
			t.Errorf("DeleteFingerprint(missing) error = %v", err)
		}
		got, _ := s.FindFingerprintsByHash("h")
		if len(got) != 0 {
			t.Errorf("fingerprint still present: %v", got)
		}
	})

	t.Run("under root matches whole path segments only", func(t *testing.T) {
		s := newTestStore(t)
		paths := []string{
			"/w/docs/a.txt",
			"/w/docs/deep/b.txt",
			"/w/docs2/c.txt",
			"/w/do_s/d.txt",
			"/w/100%/e.txt",
		}
		for _, p := range paths {
			if err := s.UpsertFingerprint(&model.Fingerprint{FilePath: p, ContentHash: "h"}); err != nil {
				t.Fatalf("UpsertFingerprint(%s) error = %v", p, err)
			}
		}

		tests := []struct {
			root string
			want []string
		}{
			{"/w/docs", []string{"/w/docs/a.txt", "/w/docs/deep/b.txt"}},
			{"/w/docs/", []string{"/w/docs/a.txt", "/w/docs/deep/b.txt"}},
			{"/w/do_s", []string{"/w/do_s/d.txt"}},
			{"/w/100%", []string{"/w/100%/e.txt"}},
			{"/elsewhere", []string{}},
		}
		for _, tt := range tests {
			t.Run(tt.root, func(t *testing.T) {
				got, err := s.FindFingerprintsUnder(tt.root)
				if err != nil {
					t.Fatalf("FindFingerprintsUnder() error = %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("FindFingerprintsUnder(%s) = %d results, want %d", tt.root, len(got), len(tt.want))
				}
				for i, p := range tt.want {
					if got[i].FilePath != p {
						t.Errorf("got[%d] = %s, want %s", i, got[i].FilePath, p)
					}
				}
			})
		}
	})
}

func TestSQLiteStore_BackupTo(t *testing.T) {
	s := newTestStore(t)
	saveEvent(t, s, "/w/a.txt", model.EventCreated, base, false)
	saveEvent(t, s, "/w/id_rsa", model.EventCreated, base.Add(time.Second), true)

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := s.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	restored, err := NewSQLiteStore(dest, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()

	got, err := restored.GetAllEvents()
	if err != nil {
		t.Fatalf("GetAllEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("backup has %d events, want 2", len(got))
	}

	if err := s.BackupTo(dest); err == nil {
		t.Error("BackupTo() over an existing file should fail")
	}
}

func TestSQLiteStore_ConcurrentSaves(t *testing.T) {
	s := newTestStore(t)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.SaveEvent(&model.FileEvent{
					FileName:  filepath.Join("/w", "f"),
					Type:      model.EventModified,
					Timestamp: base.Add(time.Duration(w*perWorker+i) * time.Millisecond),
				}); err != nil {
					t.Errorf("SaveEvent() error = %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := s.GetAllEvents()
	if err != nil {
		t.Fatalf("GetAllEvents() error = %v", err)
	}
	if len(got) != workers*perWorker {
		t.Errorf("len = %d, want %d", len(got), workers*perWorker)
	}
	seen := make(map[int64]bool)
	for _, e := range got {
		if seen[e.ID] {
			t.Errorf("duplicate id %d", e.ID)
		}
		seen[e.ID] = true
	}
}
