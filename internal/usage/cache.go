package usage

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/usagelens/cursorusage/internal/core"
)

// resultCache is the single-slot whole-result cache. Valid only for an
// identical (limit, since) request within the TTL.
type resultCache struct {
	rows  []core.UsageRow
	limit int
	since time.Time
	at    time.Time
}

func (e *Engine) cachedResult(opts core.ParseOptions) ([]core.UsageRow, bool) {
	if opts.SessionID != "" {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.result
	if len(c.rows) == 0 {
		return nil, false
	}
	if c.limit != opts.Limit || !c.since.Equal(opts.Since) {
		return nil, false
	}
	if e.now().Sub(c.at) >= e.cfg.ResultTTL {
		return nil, false
	}
	return append([]core.UsageRow(nil), c.rows...), true
}

func (e *Engine) storeResult(opts core.ParseOptions, rows []core.UsageRow) {
	if opts.SessionID != "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = resultCache{
		rows:  append([]core.UsageRow(nil), rows...),
		limit: opts.Limit,
		since: opts.Since,
		at:    e.now(),
	}
}

// aggregateEntry caches one conversation's parsed rows, keyed by the
// conversation's last-modified stamp. An entry with zero rows is never
// served; it may have been parsed before the turns were fully written.
type aggregateEntry struct {
	lastModified time.Time
	rows         []core.UsageRow
	lastAccessed time.Time
}

func (e *Engine) cachedRows(id string, stamp time.Time) ([]core.UsageRow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.agg[id]
	if entry == nil || len(entry.rows) == 0 || !entry.lastModified.Equal(stamp) {
		return nil, false
	}
	entry.lastAccessed = e.now()
	return entry.rows, true
}

func (e *Engine) storeRows(id string, stamp time.Time, rows []core.UsageRow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agg[id] = &aggregateEntry{
		lastModified: stamp,
		rows:         rows,
		lastAccessed: e.now(),
	}
}

// evictAggregates restores the cache bound by dropping the least
// recently accessed entries.
func (e *Engine) evictAggregates() {
	e.mu.Lock()
	defer e.mu.Unlock()

	over := len(e.agg) - e.cfg.AggregateCacheMax
	if over <= 0 {
		return
	}
	ids := lo.Keys(e.agg)
	sort.Slice(ids, func(i, j int) bool {
		a, b := e.agg[ids[i]].lastAccessed, e.agg[ids[j]].lastAccessed
		if a.Equal(b) {
			return ids[i] < ids[j]
		}
		return a.Before(b)
	})
	for _, id := range ids[:over] {
		delete(e.agg, id)
	}
}
