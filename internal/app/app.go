package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"leakwatch/internal/alert"
	"leakwatch/internal/api"
	"leakwatch/internal/archive"
	"leakwatch/internal/classify"
	"leakwatch/internal/config"
	"leakwatch/internal/database"
	"leakwatch/internal/hash"
	"leakwatch/internal/model"
	"leakwatch/internal/monitor"
)

const notifierBuffer = 64

// LWApp is the application layer between the CLI and the monitoring core.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and owns the store lifetime until Close.
type LWApp struct {
	cfg        *config.Config
	store      *database.SQLiteStore
	hasher     *hash.Hasher
	classifier *classify.Classifier
	publisher  *alert.Publisher
	archive    archive.Archive
	notifier   *alert.Notifier
	clock      monitor.Clock
	log        monitor.Logger
	logFile    *os.File
	session    *Session

	mu           sync.Mutex
	watchers     []*monitor.DirectoryWatcher
	stopNotifier func()
	notifierDone chan struct{}
}

// NewLWApp creates a fully wired LWApp from the given config.
// command names the CLI command being run and is logged with the session.
// The caller must call Close when done.
func NewLWApp(cfg *config.Config, command string, verbose bool) (*LWApp, error) {
	return newLWApp(cfg, command, verbose, monitor.RealClock{}, monitor.UUIDGenerator{})
}

func newLWApp(cfg *config.Config, command string, verbose bool, clock monitor.Clock, ids monitor.IDGenerator) (*LWApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	session := NewSession(ids.New(), command, clock.Now())

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, session.ID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	a := &LWApp{cfg: cfg, clock: clock, log: log, logFile: logFile, session: session}
	if err := a.wire(); err != nil {
		a.closeResources()
		return nil, err
	}

	log.Info("session started", "command", command, "host", cfg.HostID, "hash", a.hasher.Algorithm(), "rules", a.classifier.Rules())
	return a, nil
}

func (a *LWApp) wire() error {
	hasher, err := hash.New(a.cfg.Monitor.HashAlgorithm, a.log)
	if err != nil {
		return fmt.Errorf("creating hasher: %w", err)
	}
	a.hasher = hasher

	classifier, err := classify.NewFromConfig(a.cfg.Rules)
	if err != nil {
		return fmt.Errorf("creating classifier: %w", err)
	}
	a.classifier = classifier

	store, err := database.NewStoreFromConfig(a.cfg.Database, a.cfg.HostID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.store = store

	if err := store.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	a.publisher = alert.NewPublisher(store, a.clock, a.log)

	ar, err := archive.NewArchiveFromConfig(context.Background(), a.cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	a.archive = ar

	if a.cfg.Notify.Webhook != "" {
		n, err := alert.NewNotifier(a.cfg.Notify.Webhook, a.cfg.Notify.AllowLocal, a.clock, a.log)
		if err != nil {
			return fmt.Errorf("creating webhook notifier: %w", err)
		}
		a.notifier = n
	}
	return nil
}

// Store exposes the event store to callers that render query results.
func (a *LWApp) Store() monitor.EventStore { return a.store }

// Session returns the current CLI session.
func (a *LWApp) Session() *Session { return a.session }

// StartWatching starts one watcher per path, falling back to the configured
// monitor paths when none are given. If any root fails to register, the
// watchers already started are stopped and the error is returned.
func (a *LWApp) StartWatching(paths []string, onEvent monitor.EventListener, onAlert monitor.AlertListener) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.watchers) > 0 {
		return nil, fmt.Errorf("already watching")
	}
	if len(paths) == 0 {
		paths = a.cfg.Monitor.Paths
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to watch: pass a path or set monitor.paths in the config")
	}

	opts := monitor.Options{
		Recursive:    a.cfg.Monitor.Recursive,
		Ignore:       a.cfg.Monitor.Ignore,
		Fingerprints: a.cfg.Monitor.Fingerprints,
	}

	var roots []string
	for _, p := range paths {
		w := monitor.NewDirectoryWatcher(a.store, a.hasher, a.classifier, a.publisher, a.log, a.clock, opts)
		w.SetEventListener(onEvent)
		w.SetAlertListener(onAlert)
		if err := w.Start(p); err != nil {
			a.stopWatchersLocked()
			a.session.Fail()
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
		root, _ := w.MonitoredPath()
		roots = append(roots, root)
		a.watchers = append(a.watchers, w)
	}

	if a.notifier != nil {
		alerts, cancel := a.publisher.Subscribe(notifierBuffer)
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.notifier.Run(context.Background(), alerts)
		}()
		a.stopNotifier = cancel
		a.notifierDone = done
	}
	return roots, nil
}

// StopWatching stops every watcher and logs its counters.
func (a *LWApp) StopWatching() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopWatchersLocked()
}

func (a *LWApp) stopWatchersLocked() {
	for _, w := range a.watchers {
		root, _ := w.MonitoredPath()
		if err := w.Stop(); err != nil {
			a.log.Warn("stopping watcher", "root", root, "error", err)
		}
		s := w.Stats()
		a.log.Info("watcher stats", "root", root,
			"events", s.Events, "suspicious", s.Suspicious, "alerts", s.Alerts,
			"hash_failures", s.HashFailures, "store_failures", s.StoreFailures,
			"overflows", s.Overflows, "dropped", s.Dropped)
	}
	a.watchers = nil

	if a.stopNotifier != nil {
		a.stopNotifier()
		<-a.notifierDone
		a.stopNotifier, a.notifierDone = nil, nil
	}
}

// Stats returns the counters of every active watcher keyed by root.
func (a *LWApp) Stats() map[string]monitor.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]monitor.Stats, len(a.watchers))
	for _, w := range a.watchers {
		if root, ok := w.MonitoredPath(); ok {
			out[root] = w.Stats()
		}
	}
	return out
}

// Watch monitors paths until ctx is cancelled.
func (a *LWApp) Watch(ctx context.Context, paths []string, onEvent monitor.EventListener, onAlert monitor.AlertListener) error {
	if _, err := a.StartWatching(paths, onEvent, onAlert); err != nil {
		return err
	}
	<-ctx.Done()
	a.StopWatching()
	return nil
}

// EventQuery selects events. Zero bounds are open: From defaults to the
// epoch and To to now when only one of them is set.
type EventQuery struct {
	Suspicious bool
	From       time.Time
	To         time.Time
}

// Events returns the events matching q, newest first.
func (a *LWApp) Events(q EventQuery) ([]*model.FileEvent, error) {
	if q.From.IsZero() && q.To.IsZero() {
		if q.Suspicious {
			return a.store.GetSuspiciousEvents()
		}
		return a.store.GetAllEvents()
	}

	from, to := q.From, q.To
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = a.clock.Now()
	}
	events, err := a.store.GetEventsByDateRange(from, to)
	if err != nil || !q.Suspicious {
		return events, err
	}
	out := []*model.FileEvent{}
	for _, e := range events {
		if e.Suspicious {
			out = append(out, e)
		}
	}
	return out, nil
}

// Alerts returns alerts newest first, optionally only unacknowledged ones.
func (a *LWApp) Alerts(unacknowledgedOnly bool) ([]*model.Alert, error) {
	alerts, err := a.store.GetAllAlerts()
	if err != nil || !unacknowledgedOnly {
		return alerts, err
	}
	out := []*model.Alert{}
	for _, al := range alerts {
		if !al.Acknowledged {
			out = append(out, al)
		}
	}
	return out, nil
}

// Acknowledge marks an alert as handled.
func (a *LWApp) Acknowledge(id int64) error {
	if err := a.store.AcknowledgeAlert(id); err != nil {
		return err
	}
	a.log.Info("alert acknowledged", "alert_id", id)
	return nil
}

// Fingerprints finds every path whose last known content hash is hash.
// With an empty hash it lists the fingerprints under the configured roots.
func (a *LWApp) Fingerprints(hash string) ([]*model.Fingerprint, error) {
	if hash != "" {
		return a.store.FindFingerprintsByHash(hash)
	}

	out := []*model.Fingerprint{}
	for _, p := range a.cfg.Monitor.Paths {
		root, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving path: %w", err)
		}
		fps, err := a.store.FindFingerprintsUnder(root)
		if err != nil {
			return nil, err
		}
		out = append(out, fps...)
	}
	return out, nil
}

// HashFile hashes a single file with the configured algorithm, for looking
// up where a known document has been seen.
func (a *LWApp) HashFile(rawPath string) (string, error) {
	d, err := a.hasher.Sum(rawPath)
	if err != nil {
		return "", err
	}
	return d.Hash, nil
}

// Summary reports event counts over [from, to].
func (a *LWApp) Summary(from, to time.Time) (*model.Summary, error) {
	events, err := a.store.GetEventsByDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return model.Summarize(from, to, events), nil
}

// Snapshot copies the event database into the configured archive.
func (a *LWApp) Snapshot(ctx context.Context) (*archive.Object, error) {
	if a.archive == nil {
		return nil, fmt.Errorf("archiving is disabled: set [archive] type in the config")
	}
	if err := a.archive.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("archive not usable: %w", err)
	}

	dir, err := os.MkdirTemp("", "leakwatch-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir for snapshot: %w", err)
	}
	defer os.RemoveAll(dir)

	tmpPath := filepath.Join(dir, "snapshot.db")
	if err := a.store.BackupTo(tmpPath); err != nil {
		return nil, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	now := a.clock.Now()
	name := archive.SnapshotName(a.cfg.HostID, now)
	if err := a.archive.Put(ctx, name, f, info.Size()); err != nil {
		return nil, fmt.Errorf("uploading snapshot: %w", err)
	}

	a.log.Info("snapshot archived", "name", name, "size", info.Size(), "archive", a.archive.Location())
	return &archive.Object{Name: name, Size: info.Size(), ModTime: now}, nil
}

// Snapshots lists what the archive holds.
func (a *LWApp) Snapshots(ctx context.Context) ([]archive.Object, error) {
	if a.archive == nil {
		return nil, fmt.Errorf("archiving is disabled: set [archive] type in the config")
	}
	return a.archive.List(ctx)
}

// Handler returns the HTTP query API.
func (a *LWApp) Handler() http.Handler {
	return api.NewServer(a.store, a.log, a.clock).Router(a.cfg.API)
}

// Serve runs the HTTP query API until ctx is cancelled.
func (a *LWApp) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.API.Listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.log.Info("api listening", "addr", a.cfg.API.Listen)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		a.session.Fail()
		return fmt.Errorf("serving api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down api: %w", err)
	}
	return nil
}

// Fail marks the session as failed so Close logs it that way.
func (a *LWApp) Fail() { a.session.Fail() }

// Close stops any watchers and releases the store and log file.
func (a *LWApp) Close() error {
	a.StopWatching()
	a.log.Info("session finished", "command", a.session.Command, "status", a.session.Status,
		"elapsed", a.session.Elapsed(a.clock.Now()))
	return a.closeResources()
}

func (a *LWApp) closeResources() error {
	var firstErr error
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
