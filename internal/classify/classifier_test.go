package classify

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"leakwatch/internal/config"
	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func observe(root, name string, typ model.EventType, at time.Time) monitor.Observation {
	path := filepath.Join(root, name)
	return monitor.Observation{
		Root: root,
		Path: path,
		Event: model.FileEvent{
			FileName:  name,
			Type:      typ,
			Timestamp: at,
		},
	}
}

func TestIsSensitiveName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"id_rsa.pem", true},
		{"server.KEY", true},
		{"keystore.jks", true},
		{"client.p12", true},
		{"root.cer", true},
		{"MyPassword.txt", true},
		{"top_SECRET_plans.docx", true},
		{"private-notes.md", true},
		{"notes.txt", false},
		{"keyboard.txt", false},
		{"pem.txt", false},
		{"report.pdf", false},
		{"certificate.crt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSensitiveName(tt.name); got != tt.want {
				t.Errorf("IsSensitiveName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestClassifier_Baseline(t *testing.T) {
	c := New(Settings{})

	tests := []struct {
		file           string
		typ            model.EventType
		wantSuspicious bool
		wantSeverity   model.Severity
	}{
		{"id_rsa.pem", model.EventCreated, true, model.SeverityHigh},
		{"id_rsa.pem", model.EventDeleted, true, model.SeverityHigh},
		{"passwords.csv", model.EventModified, true, model.SeverityHigh},
		{"notes.txt", model.EventCreated, false, model.SeverityNone},
		{"notes.txt", model.EventModified, false, model.SeverityNone},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.file, tt.typ), func(t *testing.T) {
			v := c.Classify(observe("/watched", tt.file, tt.typ, base))
			if v.Suspicious != tt.wantSuspicious {
				t.Errorf("Suspicious = %v, want %v", v.Suspicious, tt.wantSuspicious)
			}
			if v.Severity != tt.wantSeverity {
				t.Errorf("Severity = %v, want %v", v.Severity, tt.wantSeverity)
			}
		})
	}
}

func TestClassifier_BulkCopy(t *testing.T) {
	c := New(Settings{BulkCopyThreshold: 3, BulkCopyWindow: 10 * time.Minute})

	var last monitor.Verdict
	for i := 0; i < 3; i++ {
		last = c.Classify(observe("/watched", fmt.Sprintf("f%d.txt", i), model.EventCreated, base.Add(time.Duration(i)*time.Minute)))
		if i < 2 && last.Suspicious {
			t.Fatalf("event %d flagged before threshold", i)
		}
	}
	if !last.Suspicious || last.Severity != model.SeverityMedium {
		t.Fatalf("third create: Suspicious=%v Severity=%v, want MEDIUM", last.Suspicious, last.Severity)
	}
	if m, _ := last.Primary(); m.Rule != RuleBulkCopy {
		t.Errorf("Primary rule = %q, want %q", m.Rule, RuleBulkCopy)
	}

	t.Run("escalates at twice the threshold", func(t *testing.T) {
		var v monitor.Verdict
		for i := 3; i < 6; i++ {
			v = c.Classify(observe("/watched", fmt.Sprintf("f%d.txt", i), model.EventCreated, base.Add(3*time.Minute)))
		}
		if v.Severity != model.SeverityHigh {
			t.Errorf("Severity = %v, want HIGH", v.Severity)
		}
	})

	t.Run("window expires", func(t *testing.T) {
		v := c.Classify(observe("/watched", "late.txt", model.EventCreated, base.Add(time.Hour)))
		if v.Suspicious {
			t.Error("create an hour later should not be part of the burst")
		}
	})

	t.Run("repeated creates of one file count once", func(t *testing.T) {
		c := New(Settings{BulkCopyThreshold: 2, BulkCopyWindow: time.Minute})
		c.Classify(observe("/watched", "same.txt", model.EventCreated, base))
		v := c.Classify(observe("/watched", "same.txt", model.EventCreated, base.Add(time.Second)))
		if v.Suspicious {
			t.Error("one distinct file must not trigger bulk-copy")
		}
	})
}

func TestClassifier_WindowsArePerRoot(t *testing.T) {
	c := New(Settings{BulkCopyThreshold: 2, BulkCopyWindow: 10 * time.Minute})

	c.Classify(observe("/a", "one.txt", model.EventCreated, base))
	v := c.Classify(observe("/b", "two.txt", model.EventCreated, base.Add(time.Second)))
	if v.Suspicious {
		t.Error("creates in different roots must not share a window")
	}

	v = c.Classify(observe("/a", "three.txt", model.EventCreated, base.Add(2*time.Second)))
	if !v.Suspicious {
		t.Error("second create in /a should reach the threshold")
	}
}

func TestClassifier_FrequentModification(t *testing.T) {
	c := New(Settings{FrequentModThreshold: 3, FrequentModWindow: 15 * time.Minute})

	for i := 0; i < 2; i++ {
		if v := c.Classify(observe("/watched", "draft.txt", model.EventModified, base.Add(time.Duration(i)*time.Minute))); v.Suspicious {
			t.Fatalf("modification %d flagged early", i)
		}
	}
	v := c.Classify(observe("/watched", "draft.txt", model.EventModified, base.Add(2*time.Minute)))
	if !v.Suspicious || v.Severity != model.SeverityMedium {
		t.Fatalf("third modification: Suspicious=%v Severity=%v", v.Suspicious, v.Severity)
	}

	t.Run("other files are independent", func(t *testing.T) {
		if v := c.Classify(observe("/watched", "other.txt", model.EventModified, base.Add(3*time.Minute))); v.Suspicious {
			t.Error("first modification of other.txt flagged")
		}
	})

	t.Run("delete resets history", func(t *testing.T) {
		c.Classify(observe("/watched", "draft.txt", model.EventDeleted, base.Add(4*time.Minute)))
		if v := c.Classify(observe("/watched", "draft.txt", model.EventModified, base.Add(5*time.Minute))); v.Suspicious {
			t.Error("history should be cleared after delete")
		}
	})
}

func TestClassifier_FrequentModificationFoldsWriteBursts(t *testing.T) {
	c := New(Settings{FrequentModThreshold: 3, FrequentModWindow: 15 * time.Minute})

	tests := []struct {
		name string
		at   time.Duration
		want bool
	}{
		{"first save", 0, false},
		{"second write of first save", 100 * time.Millisecond, false},
		{"third write of first save", 900 * time.Millisecond, false},
		{"fourth write of first save", 1500 * time.Millisecond, false},
		{"second save", time.Minute, false},
		{"third save", 2 * time.Minute, true},
		{"write inside third save", 2*time.Minute + 500*time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(observe("/watched", "draft.txt", model.EventModified, base.Add(tt.at)))
			if v.Suspicious != tt.want {
				t.Errorf("Suspicious = %v, want %v (matches %+v)", v.Suspicious, tt.want, v.Matches)
			}
		})
	}
}

func TestClassifier_OffHours(t *testing.T) {
	band, err := ParseBand("23:00", "06:00")
	if err != nil {
		t.Fatalf("ParseBand() error = %v", err)
	}
	c := New(Settings{OffHours: band, Location: time.UTC})

	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 1, 15, 23, 30, 0, 0, time.UTC), true},
		{time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC), false},
		{time.Date(2024, 1, 15, 22, 59, 0, 0, time.UTC), false},
		{base, false},
	}

	for _, tt := range tests {
		t.Run(tt.at.Format("15:04"), func(t *testing.T) {
			v := c.Classify(observe("/watched", "notes.txt", model.EventModified, tt.at))
			if v.Suspicious != tt.want {
				t.Errorf("Suspicious = %v, want %v", v.Suspicious, tt.want)
			}
			if tt.want && v.Severity != model.SeverityLow {
				t.Errorf("Severity = %v, want LOW", v.Severity)
			}
		})
	}
}

func TestClassifier_Masquerade(t *testing.T) {
	c := New(Settings{Masquerade: true})

	tests := []struct {
		file string
		kind string
		want model.Severity
	}{
		{"report.pdf", "zip", model.SeverityMedium},
		{"holiday.jpg", "exe", model.SeverityHigh},
		{"budget.xlsx", "zip", model.SeverityNone},
		{"photo.jpeg", "jpg", model.SeverityNone},
		{"archive.zip", "zip", model.SeverityNone},
		{"notes.txt", "", model.SeverityNone},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			obs := observe("/watched", tt.file, model.EventCreated, base)
			obs.Kind = tt.kind
			v := c.Classify(obs)
			if v.Severity != tt.want {
				t.Errorf("Severity = %v, want %v", v.Severity, tt.want)
			}
		})
	}
}

func TestClassifier_MaxSeverityAndTieBreak(t *testing.T) {
	band, _ := ParseBand("00:00", "23:59")
	c := New(Settings{
		BulkCopyThreshold: 1,
		BulkCopyWindow:    time.Minute,
		OffHours:          band,
		Location:          time.UTC,
	})

	v := c.Classify(observe("/watched", "secret.txt", model.EventCreated, base))
	if v.Severity != model.SeverityHigh {
		t.Fatalf("Severity = %v, want HIGH", v.Severity)
	}

	var rules []string
	for _, m := range v.Matches {
		rules = append(rules, m.Rule)
	}
	want := []string{RuleSensitiveName, RuleBulkCopy, RuleOffHours}
	if fmt.Sprint(rules) != fmt.Sprint(want) {
		t.Errorf("Matches = %v, want %v", rules, want)
	}

	// Two MEDIUM-or-lower rules: the earlier one wins the tie.
	c2 := New(Settings{
		BulkCopyThreshold:    1,
		BulkCopyWindow:       time.Minute,
		FrequentModThreshold: 1,
		FrequentModWindow:    time.Minute,
		Masquerade:           true,
	})
	obs := observe("/watched", "report.pdf", model.EventCreated, base)
	obs.Kind = "zip"
	v = c2.Classify(obs)
	primary, ok := v.Primary()
	if !ok || primary.Rule != RuleBulkCopy {
		t.Errorf("Primary = %+v, want %s", primary, RuleBulkCopy)
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Run("defaults enable every rule but off-hours", func(t *testing.T) {
		cfg := config.NewConfig("h", "/tmp/lw").Rules
		c, err := NewFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		want := []string{RuleSensitiveName, RuleBulkCopy, RuleFrequentMod, RuleMasquerade}
		if fmt.Sprint(c.Rules()) != fmt.Sprint(want) {
			t.Errorf("Rules() = %v, want %v", c.Rules(), want)
		}
	})

	t.Run("band enables off-hours", func(t *testing.T) {
		cfg := config.NewConfig("h", "/tmp/lw").Rules
		cfg.OffHoursStart, cfg.OffHoursEnd = "23:00", "06:00"
		c, err := NewFromConfig(cfg)
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		want := []string{RuleSensitiveName, RuleBulkCopy, RuleFrequentMod, RuleOffHours, RuleMasquerade}
		if fmt.Sprint(c.Rules()) != fmt.Sprint(want) {
			t.Errorf("Rules() = %v, want %v", c.Rules(), want)
		}
	})

	t.Run("zero values leave only the filename rule", func(t *testing.T) {
		c, err := NewFromConfig(config.RulesConfig{})
		if err != nil {
			t.Fatalf("NewFromConfig() error = %v", err)
		}
		if got := c.Rules(); len(got) != 1 || got[0] != RuleSensitiveName {
			t.Errorf("Rules() = %v", got)
		}
	})

	t.Run("rejects malformed band", func(t *testing.T) {
		_, err := NewFromConfig(config.RulesConfig{OffHoursStart: "25:00", OffHoursEnd: "06:00"})
		if err == nil {
			t.Error("NewFromConfig() expected error")
		}
	})
}

func TestBand(t *testing.T) {
	day, err := ParseBand("09:00", "17:30")
	if err != nil {
		t.Fatalf("ParseBand() error = %v", err)
	}
	if day.String() != "09:00-17:30" {
		t.Errorf("String() = %q", day.String())
	}
	if !day.Contains(time.Date(2024, 1, 1, 17, 29, 0, 0, time.UTC)) {
		t.Error("17:29 should be inside 09:00-17:30")
	}
	if day.Contains(time.Date(2024, 1, 1, 17, 30, 0, 0, time.UTC)) {
		t.Error("end is exclusive")
	}

	if _, err := ParseBand("06:00", "06:00"); err == nil {
		t.Error("ParseBand() expected error for empty band")
	}
}
