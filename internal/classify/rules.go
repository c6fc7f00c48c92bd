package classify

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

var (
	sensitiveSuffixes = []string{".key", ".pem", ".p12", ".cer", ".jks"}
	sensitiveWords    = []string{"password", "secret", "private"}
)

// IsSensitiveName reports whether a file name looks like key material or credentials.
func IsSensitiveName(fileName string) bool {
	name := strings.ToLower(fileName)
	for _, s := range sensitiveSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	for _, w := range sensitiveWords {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

type sensitiveNameRule struct{}

func (sensitiveNameRule) name() string { return RuleSensitiveName }

func (sensitiveNameRule) evaluate(_ *rootState, obs monitor.Observation) *monitor.RuleMatch {
	if !IsSensitiveName(obs.Event.FileName) {
		return nil
	}
	return &monitor.RuleMatch{
		Rule:     RuleSensitiveName,
		Severity: model.SeverityHigh,
		Reason:   fmt.Sprintf("name %q matches a key or credential pattern", obs.Event.FileName),
	}
}

// bulkCopyRule fires when many distinct files appear in one root within a window.
type bulkCopyRule struct {
	threshold int
	window    time.Duration
}

func (r *bulkCopyRule) name() string { return RuleBulkCopy }

func (r *bulkCopyRule) evaluate(st *rootState, obs monitor.Observation) *monitor.RuleMatch {
	t := obs.Event.Type
	if t != model.EventCreated && t != model.EventCopied {
		return nil
	}

	n := st.recordCreate(obs.Path, obs.Event.Timestamp, r.window)
	if n < r.threshold {
		return nil
	}
	sev := model.SeverityMedium
	if n >= 2*r.threshold {
		sev = model.SeverityHigh
	}
	return &monitor.RuleMatch{
		Rule:     RuleBulkCopy,
		Severity: sev,
		Reason:   fmt.Sprintf("%d files created within %s", n, r.window),
	}
}

// frequentModRule fires when one file is modified repeatedly within a window.
type frequentModRule struct {
	threshold int
	window    time.Duration
}

func (r *frequentModRule) name() string { return RuleFrequentMod }

func (r *frequentModRule) evaluate(st *rootState, obs monitor.Observation) *monitor.RuleMatch {
	if obs.Event.Type != model.EventModified {
		return nil
	}

	n, counted := st.recordModify(obs.Path, obs.Event.Timestamp, r.window)
	if !counted || n < r.threshold {
		return nil
	}
	return &monitor.RuleMatch{
		Rule:     RuleFrequentMod,
		Severity: model.SeverityMedium,
		Reason:   fmt.Sprintf("modified %d times within %s", n, r.window),
	}
}

type offHoursRule struct {
	band Band
	loc  *time.Location
}

func (r *offHoursRule) name() string { return RuleOffHours }

func (r *offHoursRule) evaluate(_ *rootState, obs monitor.Observation) *monitor.RuleMatch {
	local := obs.Event.Timestamp.In(r.loc)
	if !r.band.Contains(local) {
		return nil
	}
	return &monitor.RuleMatch{
		Rule:     RuleOffHours,
		Severity: model.SeverityLow,
		Reason:   fmt.Sprintf("activity at %s is outside working hours (%s)", local.Format("15:04"), r.band),
	}
}

// masqueradeRule flags content whose magic bytes contradict its extension.
type masqueradeRule struct {
	aliases map[string]map[string]bool
}

func newMasqueradeRule() *masqueradeRule {
	r := &masqueradeRule{aliases: make(map[string]map[string]bool)}
	allow := func(kind string, exts ...string) {
		if r.aliases[kind] == nil {
			r.aliases[kind] = map[string]bool{kind: true}
		}
		for _, e := range exts {
			r.aliases[kind][e] = true
		}
	}

	// Office and package formats are zip containers.
	allow("zip",
		"docx", "docm", "dotx", "xlsx", "xlsm", "xltx", "pptx", "pptm", "potx",
		"jar", "war", "ear", "apk", "odt", "ods", "odp", "epub", "whl", "nupkg", "crx")
	allow("xml", "svg", "html", "htm", "plist", "config", "xsd", "xsl")
	allow("mp4", "m4v", "m4a", "mov")
	allow("mov", "qt", "mp4")
	allow("ogg", "ogv", "oga", "opus")
	allow("exe", "dll", "sys", "scr", "cpl", "ocx")
	allow("gz", "gzip", "tgz")
	allow("jpg", "jpeg", "jpe", "jfif")
	allow("tif", "tiff")
	allow("doc", "xls", "ppt", "msi", "msg")
	return r
}

func (r *masqueradeRule) name() string { return RuleMasquerade }

func (r *masqueradeRule) evaluate(_ *rootState, obs monitor.Observation) *monitor.RuleMatch {
	actual := obs.Kind
	declared := strings.ToLower(strings.TrimPrefix(filepath.Ext(obs.Event.FileName), "."))
	if actual == "" || declared == "" || actual == declared {
		return nil
	}
	if r.aliases[actual][declared] {
		return nil
	}

	sev := model.SeverityMedium
	if actual == "exe" || actual == "elf" || actual == "dll" {
		sev = model.SeverityHigh
	}
	return &monitor.RuleMatch{
		Rule:     RuleMasquerade,
		Severity: sev,
		Reason:   fmt.Sprintf("content is %s but the name claims .%s", actual, declared),
	}
}
