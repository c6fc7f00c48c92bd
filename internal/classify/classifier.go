package classify

import (
	"fmt"
	"sync"
	"time"

	"leakwatch/internal/config"
	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

// Rule names, in reporting priority order.
const (
	RuleSensitiveName = "sensitive-filename"
	RuleBulkCopy      = "bulk-copy"
	RuleFrequentMod   = "frequent-modification"
	RuleOffHours      = "off-hours"
	RuleMasquerade    = "masquerade"
)

// Settings configures the optional rules. A zero threshold or an empty
// off-hours band disables the corresponding rule.
type Settings struct {
	BulkCopyThreshold    int
	BulkCopyWindow       time.Duration
	FrequentModThreshold int
	FrequentModWindow    time.Duration
	OffHours             *Band
	Masquerade           bool
	Location             *time.Location // wall clock for off-hours; defaults to time.Local
}

// rule inspects one observation. Stateful rules keep their windows in the
// per-root state they are handed.
type rule interface {
	name() string
	evaluate(st *rootState, obs monitor.Observation) *monitor.RuleMatch
}

// Classifier applies the rule set to events. The filename rule is pure; the
// window rules keep rolling state scoped to each monitored root.
type Classifier struct {
	rules []rule

	mu    sync.Mutex
	roots map[string]*rootState
}

// New builds a Classifier. The sensitive-filename rule is always enabled.
func New(s Settings) *Classifier {
	rules := []rule{sensitiveNameRule{}}
	if s.BulkCopyThreshold > 0 && s.BulkCopyWindow > 0 {
		rules = append(rules, &bulkCopyRule{threshold: s.BulkCopyThreshold, window: s.BulkCopyWindow})
	}
	if s.FrequentModThreshold > 0 && s.FrequentModWindow > 0 {
		rules = append(rules, &frequentModRule{threshold: s.FrequentModThreshold, window: s.FrequentModWindow})
	}
	if s.OffHours != nil {
		loc := s.Location
		if loc == nil {
			loc = time.Local
		}
		rules = append(rules, &offHoursRule{band: *s.OffHours, loc: loc})
	}
	if s.Masquerade {
		rules = append(rules, newMasqueradeRule())
	}
	return &Classifier{rules: rules, roots: make(map[string]*rootState)}
}

// NewFromConfig translates the [rules] config section into a Classifier.
func NewFromConfig(cfg config.RulesConfig) (*Classifier, error) {
	s := Settings{
		BulkCopyThreshold:    cfg.BulkCopyThreshold,
		BulkCopyWindow:       time.Duration(cfg.BulkCopyWindowMinutes) * time.Minute,
		FrequentModThreshold: cfg.FrequentModificationThreshold,
		FrequentModWindow:    time.Duration(cfg.FrequentModificationWindowMinutes) * time.Minute,
		Masquerade:           cfg.Masquerade,
	}
	if cfg.OffHoursStart != "" || cfg.OffHoursEnd != "" {
		band, err := ParseBand(cfg.OffHoursStart, cfg.OffHoursEnd)
		if err != nil {
			return nil, fmt.Errorf("parsing off-hours band: %w", err)
		}
		s.OffHours = band
	}
	return New(s), nil
}

// Rules returns the names of the enabled rules in priority order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.name()
	}
	return names
}

// Classify returns the verdict for one observation. The severity is the
// maximum over every rule that fired.
func (c *Classifier) Classify(obs monitor.Observation) monitor.Verdict {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.roots[obs.Root]
	if !ok {
		st = newRootState()
		c.roots[obs.Root] = st
	}

	var v monitor.Verdict
	for _, r := range c.rules {
		m := r.evaluate(st, obs)
		if m == nil {
			continue
		}
		v.Matches = append(v.Matches, *m)
		if m.Severity > v.Severity {
			v.Severity = m.Severity
		}
	}
	v.Suspicious = len(v.Matches) > 0

	if obs.Event.Type == model.EventDeleted {
		st.forget(obs.Path)
	}
	return v
}

var _ monitor.Classifier = (*Classifier)(nil)
