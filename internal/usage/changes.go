package usage

import (
	"time"

	"github.com/samber/lo"
)

// markDirty records that the store changed on disk. Set by the file
// watcher and by the activity watcher when it observes new rows; the
// flag is cleared only when a pipeline run consumes it.
func (e *Engine) markDirty() {
	e.mu.Lock()
	e.dirty = true
	e.mu.Unlock()
}

// consumeFlags hands the dirty and force-reconciliation flags to a
// pipeline run and clears them. A flag set between consumption and the
// next run is picked up then; it never silently disappears.
func (e *Engine) consumeFlags() (dirty, forced bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dirty, forced = e.dirty, e.forced
	e.dirty = false
	e.forced = false
	return dirty, forced
}

// noteStamp updates the metadata index for one conversation and
// reports whether the last-modified stamp differs from the recorded
// one. The index answers "did this conversation change" without
// touching turn data.
func (e *Engine) noteStamp(id string, stamp time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, ok := e.meta[id]
	e.meta[id] = stamp
	return !ok || !prev.Equal(stamp)
}

// purgeStale drops metadata-index entries for conversations no longer
// present in a full scan (deleted or archived by the editor).
func (e *Engine) purgeStale(seen map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range lo.Keys(e.meta) {
		if _, ok := seen[id]; !ok {
			delete(e.meta, id)
		}
	}
}
