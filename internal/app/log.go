package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// lwHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<sessionID>\t<message>\t<key=value ...>
type lwHandler struct {
	w         io.Writer
	sessionID string
	level     slog.Leveler
	attrs     []slog.Attr
}

func (h *lwHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.level == nil {
		return true
	}
	return l >= h.level.Level()
}

func (h *lwHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s",
		r.Time.UTC().Format("2006-01-02T15:04:05.000Z"), r.Level.String(), h.sessionID, flatten(r.Message))

	for _, a := range h.attrs {
		writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *lwHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lwHandler{
		w:         h.w,
		sessionID: h.sessionID,
		level:     h.level,
		attrs:     append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *lwHandler) WithGroup(string) slog.Handler { return h }

// writeAttr keeps each line a single record: tabs and newlines in values
// (file names may contain them) are escaped.
func writeAttr(b *strings.Builder, a slog.Attr) {
	fmt.Fprintf(b, "\t%s=%s", a.Key, flatten(a.Value.Resolve().String()))
}

var flattener = strings.NewReplacer("\t", `\t`, "\n", `\n`, "\r", `\r`)

func flatten(s string) string { return flattener.Replace(s) }

// newLogger creates a structured logger that writes to both logDir/leakwatch.log
// and stderr. It returns the slog.Logger, the open log file (for cleanup), and any error.
func newLogger(logDir, sessionID string, level slog.Leveler) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "leakwatch.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	return slog.New(&lwHandler{w: w, sessionID: sessionID, level: level}), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the monitor.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
