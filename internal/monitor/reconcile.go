package monitor

import (
	"path/filepath"
	"sort"

	"leakwatch/internal/fs"
	"leakwatch/internal/model"
)

// reconcile rescans the root after notifications may have been lost and
// replays the differences against the fingerprint table as ordinary events:
// unknown files become Created, changed hashes Modified, and vanished
// fingerprints Deleted.
func (w *DirectoryWatcher) reconcile(s *session) {
	if !w.opts.Fingerprints {
		w.logger.Warn("cannot reconcile without fingerprints, changes may have been missed", "root", s.root)
		return
	}

	known, err := w.store.FindFingerprintsUnder(s.root)
	if err != nil {
		w.logger.Error("loading fingerprints", "root", s.root, "error", err)
		return
	}
	byPath := make(map[string]*model.Fingerprint, len(known))
	for _, fp := range known {
		if !w.opts.Recursive && filepath.Dir(fp.FilePath) != s.root {
			continue
		}
		byPath[fp.FilePath] = fp
	}

	files, err := fs.Files(s.root, w.opts.Recursive, s.ignore)
	if err != nil {
		w.logger.Error("scanning root", "root", s.root, "error", err)
		return
	}

	var created, modified, deleted int
	for _, path := range files {
		fp, seen := byPath[path]
		delete(byPath, path)

		d := w.digest(path)
		if d == nil {
			continue
		}
		switch {
		case !seen:
			created++
			w.process(s, path, model.EventCreated, d)
		case fp.ContentHash != d.Hash:
			modified++
			w.process(s, path, model.EventModified, d)
		}
	}

	missing := make([]string, 0, len(byPath))
	for path := range byPath {
		missing = append(missing, path)
	}
	sort.Strings(missing)
	for _, path := range missing {
		deleted++
		w.process(s, path, model.EventDeleted, nil)
	}

	w.stats.reconciles.Add(1)
	w.logger.Info("reconciled root", "root", s.root, "created", created, "modified", modified, "deleted", deleted)
}

// baseline fingerprints the files already under a root the first time it is
// watched, without recording events. Later reconciles then report only what
// changed since monitoring began, not the root's existing contents.
func (w *DirectoryWatcher) baseline(s *session) {
	if !w.opts.Fingerprints {
		return
	}

	known, err := w.store.FindFingerprintsUnder(s.root)
	if err != nil {
		w.logger.Error("loading fingerprints", "root", s.root, "error", err)
		return
	}
	if len(known) > 0 {
		return
	}

	files, err := fs.Files(s.root, w.opts.Recursive, s.ignore)
	if err != nil {
		w.logger.Error("scanning root", "root", s.root, "error", err)
		return
	}

	now := w.clock.Now()
	var n int
	for _, path := range files {
		if !s.running.Load() {
			return
		}
		d := w.digest(path)
		if d == nil {
			continue
		}
		fp := &model.Fingerprint{FilePath: path, ContentHash: d.Hash, Size: d.Size, LastSeen: now}
		if err := w.store.UpsertFingerprint(fp); err != nil {
			w.logger.Warn("updating fingerprint", "file", path, "error", err)
			continue
		}
		n++
	}
	w.logger.Info("fingerprinted existing files", "root", s.root, "files", n)
}
