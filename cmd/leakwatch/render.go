package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"leakwatch/internal/archive"
	"leakwatch/internal/model"
)

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorOrange = lipgloss.Color("#FFB86C")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")

	critStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	highStyle  = lipgloss.NewStyle().Foreground(colorOrange).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	titleStyle = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(colorGray)
)

func severityStyle(s model.Severity) lipgloss.Style {
	switch {
	case s >= model.SeverityCritical:
		return critStyle
	case s >= model.SeverityHigh:
		return highStyle
	case s >= model.SeverityMedium:
		return warnStyle
	default:
		return okStyle
	}
}

const timeLayout = "2006-01-02 15:04:05"

func printEvent(w io.Writer, e *model.FileEvent, now time.Time) {
	flag := "  "
	if e.Suspicious {
		flag = critStyle.Render("! ")
	}
	hash := e.ContentHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	if hash == "" {
		hash = dimStyle.Render("-")
	}
	fmt.Fprintf(w, "%s#%-6d %-9s %s  %-12s %s %s\n",
		flag,
		e.ID,
		e.Type,
		e.Timestamp.Local().Format(timeLayout),
		hash,
		e.FileName,
		dimStyle.Render("("+humanize.RelTime(e.Timestamp, now, "ago", "from now")+")"),
	)
}

func printAlert(w io.Writer, a *model.Alert, now time.Time) {
	state := warnStyle.Render("open")
	if a.Acknowledged {
		state = okStyle.Render("ack ")
	}
	fmt.Fprintf(w, "#%-6d %s  %s  event #%-6d %s  %s\n",
		a.ID,
		severityStyle(a.Severity).Render(fmt.Sprintf("%-8s", a.Severity)),
		state,
		a.FileEventID,
		dimStyle.Render(humanize.RelTime(a.CreatedAt, now, "ago", "from now")),
		a.ActionsTaken,
	)
}

func printFingerprint(w io.Writer, f *model.Fingerprint) {
	fmt.Fprintf(w, "%s  %8s  %s  %s\n",
		f.ContentHash,
		humanize.IBytes(uint64(max(f.Size, 0))),
		f.LastSeen.Local().Format(timeLayout),
		f.FilePath,
	)
}

func printSummary(w io.Writer, s *model.Summary) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Events %s .. %s",
		s.From.Local().Format(timeLayout), s.To.Local().Format(timeLayout))))
	fmt.Fprintf(w, "Total:          %s\n", humanize.Comma(int64(s.Total)))
	suspicious := humanize.Comma(int64(s.Suspicious))
	if s.Suspicious > 0 {
		suspicious = critStyle.Render(suspicious)
	}
	fmt.Fprintf(w, "Suspicious:     %s\n", suspicious)
	fmt.Fprintf(w, "Distinct files: %s\n", humanize.Comma(int64(s.DistinctFiles)))
	for _, t := range []model.EventType{model.EventCreated, model.EventModified, model.EventDeleted, model.EventRenamed, model.EventCopied} {
		if n := s.ByType[t]; n > 0 {
			fmt.Fprintf(w, "  %-10s %s\n", t, humanize.Comma(int64(n)))
		}
	}
}

func printObject(w io.Writer, o archive.Object) {
	fmt.Fprintf(w, "%-40s %8s  %s\n", o.Name, humanize.IBytes(uint64(max(o.Size, 0))), o.ModTime.Local().Format(timeLayout))
}

// joinRoots renders the watched roots for the watch banner.
func joinRoots(roots []string) string {
	return strings.Join(roots, ", ")
}
