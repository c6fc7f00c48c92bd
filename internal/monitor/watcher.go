package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"leakwatch/internal/fs"
	"leakwatch/internal/model"
)

// ErrRegistration is wrapped by every error that prevents a watch from starting.
var ErrRegistration = errors.New("watch registration failed")

const defaultQueueSize = 256

// Options tunes a DirectoryWatcher.
type Options struct {
	Recursive    bool     // also watch subdirectories, including ones created later
	Ignore       []string // extra ignore patterns on top of the root's .lwignore
	Fingerprints bool     // maintain the path -> hash fingerprint table
	QueueSize    int      // listener queue capacity; defaults to 256
}

// Stats are cumulative counters for one watcher.
type Stats struct {
	Events        uint64
	Suspicious    uint64
	Alerts        uint64
	HashFailures  uint64
	StoreFailures uint64
	Overflows     uint64
	Reconciles    uint64 // completed rescans of the root
	Dropped       uint64 // listener notifications discarded because the queue was full
}

type counters struct {
	events, suspicious, alerts  atomic.Uint64
	hashFailures, storeFailures atomic.Uint64
	overflows, dropped          atomic.Uint64
	reconciles                  atomic.Uint64
}

// session holds the state of one Watching period.
type session struct {
	root    string
	fsw     *fsnotify.Watcher
	ignore  *fs.IgnoreMatcher
	running atomic.Bool
	rescan  chan struct{}
	notices chan notice
	done    chan struct{}
}

// DirectoryWatcher observes one monitored root and feeds every change through
// hashing, classification, persistence and alerting. It moves between Idle
// and Watching; at most one consumption goroutine exists per watcher.
type DirectoryWatcher struct {
	store      EventStore
	hasher     Hasher
	classifier Classifier
	publisher  AlertPublisher
	logger     Logger
	clock      *monotonicClock
	opts       Options

	mu      sync.Mutex // guards session
	session *session

	lmu     sync.RWMutex
	onEvent EventListener
	onAlert AlertListener

	stats counters
}

// NewDirectoryWatcher creates an Idle watcher.
func NewDirectoryWatcher(store EventStore, hasher Hasher, classifier Classifier, publisher AlertPublisher, logger Logger, clock Clock, opts Options) *DirectoryWatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &DirectoryWatcher{
		store:      store,
		hasher:     hasher,
		classifier: classifier,
		publisher:  publisher,
		logger:     logger,
		clock:      newMonotonicClock(clock),
		opts:       opts,
	}
}

// SetEventListener registers the callback that receives every persisted event.
// Callbacks run on a dedicated goroutine, never on the watch loop.
func (w *DirectoryWatcher) SetEventListener(l EventListener) {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	w.onEvent = l
}

// SetAlertListener registers the callback that receives every published alert.
func (w *DirectoryWatcher) SetAlertListener(l AlertListener) {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	w.onAlert = l
}

// Start begins monitoring path. A watcher that is already Watching is
// stopped first. On failure the watcher is left Idle and the returned error
// wraps ErrRegistration.
func (w *DirectoryWatcher) Start(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session != nil {
		w.logger.Info("restarting watcher", "old_root", w.session.root, "new_root", path)
		if err := w.stopLocked(); err != nil {
			w.logger.Warn("stopping previous watch", "error", err)
		}
	}

	root, err := fs.ResolveDirectory(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	ignore, err := fs.LoadIgnoreMatcher(root, w.opts.Ignore)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistration, err)
	}

	dirs := []string{root}
	if w.opts.Recursive {
		dirs, err = fs.Directories(root, ignore)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRegistration, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: creating watch handle: %v", ErrRegistration, err)
	}
	for _, d := range dirs {
		if err := fsw.Add(d); err != nil {
			fsw.Close()
			return fmt.Errorf("%w: watching %s: %v", ErrRegistration, d, err)
		}
	}

	s := &session{
		root:    root,
		fsw:     fsw,
		ignore:  ignore,
		rescan:  make(chan struct{}, 1),
		notices: make(chan notice, w.opts.QueueSize),
		done:    make(chan struct{}),
	}
	s.running.Store(true)
	w.session = s

	go w.dispatch(s.notices)
	go w.loop(s)

	w.logger.Info("monitoring started", "root", root, "directories", len(dirs))
	return nil
}

// Stop ends monitoring and waits for the watch loop to exit.
// Calling Stop on an Idle watcher does nothing.
func (w *DirectoryWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session == nil {
		w.logger.Debug("stop requested while idle")
		return nil
	}
	return w.stopLocked()
}

func (w *DirectoryWatcher) stopLocked() error {
	s := w.session
	s.running.Store(false)
	err := s.fsw.Close()
	<-s.done
	w.session = nil

	w.logger.Info("monitoring stopped", "root", s.root)
	if err != nil {
		return fmt.Errorf("closing watch handle: %w", err)
	}
	return nil
}

// IsMonitoring reports whether the watcher is Watching.
func (w *DirectoryWatcher) IsMonitoring() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session != nil
}

// MonitoredPath returns the active root, or false when Idle.
func (w *DirectoryWatcher) MonitoredPath() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return "", false
	}
	return w.session.root, true
}

// Reconcile asks the watch loop to rescan the root against the fingerprint
// table. It returns false when Idle or when a rescan is already pending.
func (w *DirectoryWatcher) Reconcile() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return false
	}
	select {
	case w.session.rescan <- struct{}{}:
		return true
	default:
		return false
	}
}

// Stats returns a snapshot of the counters.
func (w *DirectoryWatcher) Stats() Stats {
	return Stats{
		Events:        w.stats.events.Load(),
		Suspicious:    w.stats.suspicious.Load(),
		Alerts:        w.stats.alerts.Load(),
		HashFailures:  w.stats.hashFailures.Load(),
		StoreFailures: w.stats.storeFailures.Load(),
		Overflows:     w.stats.overflows.Load(),
		Reconciles:    w.stats.reconciles.Load(),
		Dropped:       w.stats.dropped.Load(),
	}
}

func (w *DirectoryWatcher) loop(s *session) {
	defer close(s.done)
	defer close(s.notices)

	w.baseline(s)

	for {
		select {
		case ev, ok := <-s.fsw.Events:
			if !ok || !s.running.Load() {
				return
			}
			w.handle(s, ev)
		case err, ok := <-s.fsw.Errors:
			if !ok || !s.running.Load() {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.stats.overflows.Add(1)
				w.logger.Warn("event queue overflowed, reconciling root", "root", s.root)
				w.reconcile(s)
				continue
			}
			w.logger.Warn("watch error", "root", s.root, "error", err)
		case <-s.rescan:
			w.reconcile(s)
		}
	}
}

// handle turns one raw notification into pipeline runs: one for the path,
// plus one per file when a directory arrives or leaves.
func (w *DirectoryWatcher) handle(s *session, ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	if s.ignore.Skip(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.process(s, path, model.EventCreated, nil)
		if w.opts.Recursive {
			w.watchSubtree(s, path)
		}
	case ev.Has(fsnotify.Write):
		w.process(s, path, model.EventModified, nil)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.process(s, path, model.EventDeleted, nil)
		w.forgetSubtree(s, path)
	}
	// chmod only: nothing to record
}

// watchSubtree registers a directory that appeared under the root and
// records every file it already holds. A directory moved or copied in
// produces a single notification for itself and none for its contents.
func (w *DirectoryWatcher) watchSubtree(s *session, path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	dirs, err := fs.Directories(path, s.ignore)
	if err != nil {
		w.logger.Warn("listing new directory", "path", path, "error", err)
		return
	}
	for _, d := range dirs {
		if err := s.fsw.Add(d); err != nil {
			w.logger.Warn("watching new directory", "path", d, "error", err)
		}
	}

	files, err := fs.Files(path, true, s.ignore)
	if err != nil {
		w.logger.Warn("listing files of new directory", "path", path, "error", err)
		return
	}
	for _, f := range files {
		w.process(s, f, model.EventCreated, nil)
	}
}

// forgetSubtree records a Deleted event for every fingerprinted file below a
// path that disappeared. Moving a directory out of the root reports only the
// directory itself.
func (w *DirectoryWatcher) forgetSubtree(s *session, path string) {
	if w.opts.Recursive {
		_ = s.fsw.Remove(path) // already gone when the directory was deleted
	}
	if !w.opts.Fingerprints {
		return
	}

	known, err := w.store.FindFingerprintsUnder(path)
	if err != nil {
		w.logger.Error("loading fingerprints", "path", path, "error", err)
		return
	}
	for _, fp := range known {
		if fp.FilePath == path {
			continue
		}
		w.process(s, fp.FilePath, model.EventDeleted, nil)
	}
}

// process runs the pipeline for one path: hash, classify, persist, alert,
// fingerprint, notify. A precomputed digest skips hashing.
func (w *DirectoryWatcher) process(s *session, path string, kind model.EventType, digest *Digest) {
	event := &model.FileEvent{
		FileName:  filepath.Base(path),
		Type:      kind,
		Timestamp: w.clock.Now(),
	}

	if digest == nil && kind != model.EventDeleted {
		digest = w.digest(path)
	}
	obs := Observation{Root: s.root, Path: path}
	if digest != nil {
		event.ContentHash = digest.Hash
		obs.Kind = digest.Kind
	}
	obs.Event = *event

	verdict := w.classifier.Classify(obs)
	event.Suspicious = verdict.Suspicious
	w.stats.events.Add(1)

	id, err := w.store.SaveEvent(event)
	if err != nil {
		w.stats.storeFailures.Add(1)
		w.logger.Error("saving event", "file", path, "type", kind, "error", err)
		return
	}
	event.ID = id
	w.logger.Debug("event recorded", "id", id, "file", path, "type", kind, "suspicious", event.Suspicious)

	w.fingerprint(path, event, digest)

	if !verdict.Suspicious {
		w.notify(s, notice{event: event})
		return
	}
	w.stats.suspicious.Add(1)

	// The alert is persisted before listeners hear about its event.
	alert, err := w.publisher.Publish(event, verdict)
	if err != nil {
		w.logger.Error("publishing alert", "event_id", id, "file", path, "error", err)
		w.notify(s, notice{event: event})
		return
	}
	w.stats.alerts.Add(1)
	w.notify(s, notice{event: event})
	w.notify(s, notice{alert: alert})
}

// digest hashes path if it is a regular file. Failures degrade to nil.
func (w *DirectoryWatcher) digest(path string) *Digest {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	d, err := w.hasher.Sum(path)
	if err != nil {
		w.stats.hashFailures.Add(1)
		w.logger.Warn("hashing failed, recording event without hash", "file", path, "error", err)
		return nil
	}
	return d
}

func (w *DirectoryWatcher) fingerprint(path string, event *model.FileEvent, digest *Digest) {
	if !w.opts.Fingerprints {
		return
	}

	var err error
	switch {
	case event.Type == model.EventDeleted:
		err = w.store.DeleteFingerprint(path)
	case digest != nil:
		err = w.store.UpsertFingerprint(&model.Fingerprint{
			FilePath:    path,
			ContentHash: digest.Hash,
			Size:        digest.Size,
			LastSeen:    event.Timestamp,
		})
	}
	if err != nil {
		w.logger.Warn("updating fingerprint", "file", path, "error", err)
	}
}
