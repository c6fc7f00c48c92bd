package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leakwatch/internal/config"
	"leakwatch/internal/database"
	"leakwatch/internal/model"
	"leakwatch/internal/testutil"
)

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type envelope struct {
	Status  string          `json:"status"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	store   *database.SQLiteStore
	handler http.Handler
	alertID int64
	eventID int64
}

func newFixture(t *testing.T, cfg config.APIConfig) *fixture {
	t.Helper()
	clock := testutil.NewStubClock(base.Add(time.Hour))
	store := testutil.NewTestStore(t, clock)

	save := func(name string, offset time.Duration, suspicious bool) int64 {
		id, err := store.SaveEvent(&model.FileEvent{
			FileName:    name,
			Type:        model.EventCreated,
			Timestamp:   base.Add(offset),
			ContentHash: "h-" + name,
			Suspicious:  suspicious,
		})
		if err != nil {
			t.Fatalf("SaveEvent() error = %v", err)
		}
		return id
	}
	save("notes.txt", 0, false)
	secret := save("id_rsa.pem", time.Minute, true)
	save("draft.docx", 2*time.Minute, false)

	alertID, err := store.SaveAlert(&model.Alert{FileEventID: secret, Severity: model.SeverityHigh, ActionsTaken: "logged"})
	if err != nil {
		t.Fatalf("SaveAlert() error = %v", err)
	}
	if err := store.UpsertFingerprint(&model.Fingerprint{FilePath: "/w/id_rsa.pem", ContentHash: "h-id_rsa.pem", Size: 10}); err != nil {
		t.Fatalf("UpsertFingerprint() error = %v", err)
	}

	srv := NewServer(store, nil, clock)
	return &fixture{store: store, handler: srv.Router(cfg), alertID: alertID, eventID: secret}
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decoding body %q: %v", method, target, rec.Body.String(), err)
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	rec, env := f.do(t, "GET", "/api/health")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Errorf("health = %d %+v", rec.Code, env)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestListEvents(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	tests := []struct {
		name     string
		target   string
		wantCode int
		want     []string
	}{
		{"all newest first", "/api/events", 200, []string{"draft.docx", "id_rsa.pem", "notes.txt"}},
		{"suspicious only", "/api/events?suspicious=true", 200, []string{"id_rsa.pem"}},
		{"inclusive range", "/api/events?from=2024-01-15T10:30:00Z&to=2024-01-15T10:31:00Z", 200, []string{"id_rsa.pem", "notes.txt"}},
		{"range and suspicious", "/api/events?from=2024-01-15T10:30:00Z&suspicious=true", 200, []string{"id_rsa.pem"}},
		{"inverted range", "/api/events?from=2024-01-15T11:00:00Z&to=2024-01-15T10:00:00Z", 200, []string{}},
		{"bad bound", "/api/events?from=soon", 400, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.do(t, "GET", tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.want == nil {
				if env.Error != "error" || env.Message == "" {
					t.Errorf("error body = %+v", env)
				}
				return
			}
			var events []model.FileEvent
			if err := json.Unmarshal(env.Data, &events); err != nil {
				t.Fatalf("decoding events: %v", err)
			}
			if len(events) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(events), len(tt.want))
			}
			for i, name := range tt.want {
				if events[i].FileName != name {
					t.Errorf("events[%d] = %s, want %s", i, events[i].FileName, name)
				}
			}
		})
	}
}

func TestGetEvent(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	rec, env := f.do(t, "GET", "/api/events/2")
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var e model.FileEvent
	json.Unmarshal(env.Data, &e)
	if e.ID != f.eventID || e.FileName != "id_rsa.pem" || !e.Suspicious {
		t.Errorf("event = %+v", e)
	}

	if rec, _ := f.do(t, "GET", "/api/events/999"); rec.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d, want 404", rec.Code)
	}
	if rec, _ := f.do(t, "GET", "/api/events/abc"); rec.Code != http.StatusNotFound {
		t.Errorf("non-numeric id status = %d, want 404", rec.Code)
	}
}

func TestAlerts(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	t.Run("list", func(t *testing.T) {
		_, env := f.do(t, "GET", "/api/alerts")
		var alerts []model.Alert
		json.Unmarshal(env.Data, &alerts)
		if len(alerts) != 1 || alerts[0].FileEventID != f.eventID || alerts[0].Severity != model.SeverityHigh {
			t.Errorf("alerts = %+v", alerts)
		}
	})

	t.Run("acknowledge", func(t *testing.T) {
		rec, _ := f.do(t, "POST", "/api/alerts/1/ack")
		if rec.Code != 200 {
			t.Fatalf("ack status = %d (%s)", rec.Code, rec.Body.String())
		}
		a, _ := f.store.GetAlert(f.alertID)
		if !a.Acknowledged {
			t.Error("alert not acknowledged in store")
		}

		_, env := f.do(t, "GET", "/api/alerts?unacknowledged=true")
		var open []model.Alert
		json.Unmarshal(env.Data, &open)
		if len(open) != 0 {
			t.Errorf("unacknowledged = %+v, want none", open)
		}
	})

	t.Run("acknowledge missing", func(t *testing.T) {
		if rec, _ := f.do(t, "POST", "/api/alerts/77/ack"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		if rec, _ := f.do(t, "GET", "/api/alerts/1/ack"); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestFingerprints(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	if rec, _ := f.do(t, "GET", "/api/fingerprints"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing hash status = %d, want 400", rec.Code)
	}

	_, env := f.do(t, "GET", "/api/fingerprints?hash=h-id_rsa.pem")
	var fps []model.Fingerprint
	json.Unmarshal(env.Data, &fps)
	if len(fps) != 1 || fps[0].FilePath != "/w/id_rsa.pem" {
		t.Errorf("fingerprints = %+v", fps)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	_, env := f.do(t, "GET", "/api/stats?days=1")
	var s model.Summary
	if err := json.Unmarshal(env.Data, &s); err != nil {
		t.Fatalf("decoding summary: %v", err)
	}
	if s.Total != 3 || s.Suspicious != 1 || s.DistinctFiles != 3 || s.ByType[model.EventCreated] != 3 {
		t.Errorf("summary = %+v", s)
	}

	if rec, _ := f.do(t, "GET", "/api/stats?days=-2"); rec.Code != http.StatusBadRequest {
		t.Errorf("negative days status = %d, want 400", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, config.APIConfig{RateLimit: 0.001, Burst: 2})

	for i := 0; i < 2; i++ {
		if rec, _ := f.do(t, "GET", "/api/health"); rec.Code != 200 {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec, env := f.do(t, "GET", "/api/health")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", rec.Code)
	}
	if env.Error != "error" {
		t.Errorf("body = %+v", env)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.2") {
		t.Fatal("first request of each client should pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("second request from 10.0.0.1 should be limited")
	}
}

func TestRateLimit_ForwardedHeaders(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantCodes  []int
	}{
		// Rotating X-Forwarded-For must not buy a fresh bucket per request.
		{"untrusted", false, []int{200, 429, 429}},
		{"trusted proxy", true, []int{200, 200, 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, config.APIConfig{RateLimit: 0.001, Burst: 1, TrustProxy: tt.trustProxy})
			for i, want := range tt.wantCodes {
				req := httptest.NewRequest("GET", "/api/health", nil)
				req.RemoteAddr = "192.0.2.10:5000"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
				rec := httptest.NewRecorder()
				f.handler.ServeHTTP(rec, req)
				if rec.Code != want {
					t.Errorf("request %d status = %d, want %d", i, rec.Code, want)
				}
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		header     map[string]string
		remote     string
		trustProxy bool
		want       string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "9.9.9.9:1", true, "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "9.9.9.9:1", true, "5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:1234", true, "9.9.9.9"},
		{"spoofed forwarded", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "9.9.9.9:1", false, "9.9.9.9"},
		{"spoofed real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "9.9.9.9:1", false, "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := clientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
