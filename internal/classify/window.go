package classify

import (
	"time"
)

// saveBurst is the gap below which successive writes to one file count as a
// single save. Editors and copy tools emit several writes per save.
const saveBurst = 2 * time.Second

type stamp struct {
	at   time.Time
	path string
}

// rootState holds the rolling windows of one monitored root.
type rootState struct {
	creates []stamp
	mods    map[string][]time.Time
}

func newRootState() *rootState {
	return &rootState{mods: make(map[string][]time.Time)}
}

// recordCreate adds a creation and returns how many distinct paths were
// created within window ending at at.
func (st *rootState) recordCreate(path string, at time.Time, window time.Duration) int {
	cutoff := at.Add(-window)
	kept := st.creates[:0]
	for _, s := range st.creates {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	st.creates = append(kept, stamp{at: at, path: path})

	distinct := make(map[string]struct{}, len(st.creates))
	for _, s := range st.creates {
		distinct[s.path] = struct{}{}
	}
	return len(distinct)
}

// recordModify adds a modification of path and returns the number of
// modifications of that path within window ending at at. A write less than
// saveBurst after the previous one is folded into it and reported with
// counted == false.
func (st *rootState) recordModify(path string, at time.Time, window time.Duration) (n int, counted bool) {
	cutoff := at.Add(-window)
	kept := st.mods[path][:0]
	for _, t := range st.mods[path] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) > 0 && at.Sub(kept[len(kept)-1]) < saveBurst {
		kept[len(kept)-1] = at
		st.mods[path] = kept
		return len(kept), false
	}
	st.mods[path] = append(kept, at)
	return len(st.mods[path]), true
}

// forget drops per-file history once a file is deleted.
func (st *rootState) forget(path string) {
	delete(st.mods, path)
}
