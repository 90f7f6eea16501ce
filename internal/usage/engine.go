// Package usage is the ingestion/caching/watching/merge engine. It
// reads conversation records from the editor's embedded KV store,
// normalizes them into per-turn usage rows, keeps that view current as
// the store changes, and overlays authoritative totals from the remote
// export over short-lived local estimates.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/usagelens/cursorusage/internal/core"
	"github.com/usagelens/cursorusage/internal/persist"
	"github.com/usagelens/cursorusage/internal/store"
)

const (
	DefaultResultTTL              = 2 * time.Second
	DefaultAggregateCacheMax      = 10000
	DefaultForceReconcileInterval = 10 * time.Minute
	DefaultDebounce               = 150 * time.Millisecond
	DefaultPollInterval           = time.Second
	DefaultPendingInterval        = 500 * time.Millisecond
	DefaultMatchWindow            = 60 * time.Second
)

// Config carries everything tunable about an engine instance. The zero
// value of every interval/bound field means "use the default".
type Config struct {
	// StorePath is the editor's primary state DB. Required.
	StorePath string `json:"store_path"`

	// DisableEstimation reports only turns carrying authoritative
	// token counts.
	DisableEstimation bool `json:"disable_estimation"`

	ResultTTL              time.Duration `json:"result_ttl,omitempty"`
	AggregateCacheMax      int           `json:"aggregate_cache_max,omitempty"`
	ForceReconcileInterval time.Duration `json:"force_reconcile_interval,omitempty"`
	Debounce               time.Duration `json:"debounce,omitempty"`
	PollInterval           time.Duration `json:"poll_interval,omitempty"`
	PendingInterval        time.Duration `json:"pending_interval,omitempty"`
	MatchWindow            time.Duration `json:"match_window,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.ResultTTL <= 0 {
		c.ResultTTL = DefaultResultTTL
	}
	if c.AggregateCacheMax <= 0 {
		c.AggregateCacheMax = DefaultAggregateCacheMax
	}
	if c.ForceReconcileInterval <= 0 {
		c.ForceReconcileInterval = DefaultForceReconcileInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = DefaultPendingInterval
	}
	if c.MatchWindow <= 0 {
		c.MatchWindow = DefaultMatchWindow
	}
	return c
}

// Feed supplies remote enrichment records. A nil result means the
// cycle runs without enrichment; the engine never sees feed errors.
type Feed interface {
	Records(ctx context.Context) []core.EnrichmentRecord
}

// ProjectResolver maps conversation IDs to their workspace project.
type ProjectResolver interface {
	Projects(ctx context.Context) map[string]core.Project
}

// Deps are the engine's external collaborators. Every field is
// optional; a nil collaborator degrades the related feature instead of
// failing.
type Deps struct {
	Feed     Feed
	KV       persist.KV
	Projects ProjectResolver
}

type pendingKey struct {
	convID string
	turnID string
}

// Engine owns all mutable pipeline state. Instances are independent,
// so tests can run several side by side. Construct with New, release
// with Close.
type Engine struct {
	cfg      Config
	feed     Feed
	kv       persist.KV
	projects ProjectResolver
	now      func() time.Time

	mu       sync.Mutex
	dirty    bool
	forced   bool
	meta     map[string]time.Time // conversation ID -> last-modified stamp
	result   resultCache
	agg      map[string]*aggregateEntry
	enriched map[string][]core.UsageRow

	watchCB     func(core.UsageRow)
	watchInit   bool
	watchSeeded bool
	watchCursor int64
	pending     map[pendingKey]string // (conversation, turn) -> record key

	fw        *fsnotify.Watcher
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New(cfg Config, deps Deps) (*Engine, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.StorePath) == "" {
		return nil, errors.New("usage: store path is required")
	}

	e := &Engine{
		cfg:      cfg,
		feed:     deps.Feed,
		kv:       deps.KV,
		projects: deps.Projects,
		now:      time.Now,
		meta:     make(map[string]time.Time),
		agg:      make(map[string]*aggregateEntry),
		enriched: make(map[string][]core.UsageRow),
		pending:  make(map[pendingKey]string),
		stop:     make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("usage: creating file watcher: %w", err)
	}
	// Watch the directory rather than the file itself: the editor
	// replaces the WAL file, and a watch on a replaced file goes dead.
	if err := fw.Add(filepath.Dir(cfg.StorePath)); err != nil {
		log.Printf("[usage] cannot watch %s: %v", filepath.Dir(cfg.StorePath), err)
	}
	e.fw = fw

	e.wg.Add(1)
	go e.loop()
	return e, nil
}

// Close stops the background loop and releases the file watcher.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
	})
	e.wg.Wait()
	return e.fw.Close()
}

// Parse runs the batch pipeline and returns normalized usage rows,
// most-recently-modified conversation first. Degraded states yield
// fewer or estimated rows, never an error; the only error path is a
// misuse of the engine itself.
func (e *Engine) Parse(ctx context.Context, opts core.ParseOptions) ([]core.UsageRow, error) {
	if rows, ok := e.cachedResult(opts); ok {
		return rows, nil
	}

	dirty, forced := e.consumeFlags()
	if forced {
		log.Printf("[usage] forced full reconciliation")
	}

	st, err := store.Open(e.cfg.StorePath, store.Snapshot)
	if err != nil {
		log.Printf("[usage] store unavailable: %v", err)
		return []core.UsageRow{}, nil
	}
	defer st.Close()

	var projects map[string]core.Project
	if e.projects != nil {
		projects = e.projects.Projects(ctx)
	}

	convs, enumerated := e.enumerate(ctx, st, opts.SessionID)

	// Deterministic processing order: most recently modified first.
	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i].LastModified, convs[j].LastModified
		if a.Equal(b) {
			return convs[i].ID < convs[j].ID
		}
		return a.After(b)
	})

	if !opts.Since.IsZero() {
		filtered := convs[:0]
		for _, c := range convs {
			if !c.LastModified.Before(opts.Since) {
				filtered = append(filtered, c)
			}
		}
		convs = filtered
	}
	if opts.Limit > 0 && len(convs) > opts.Limit {
		convs = convs[:opts.Limit]
	}

	out := make([]core.UsageRow, 0, len(convs))
	for i := range convs {
		conv := &convs[i]
		if p, ok := projects[conv.ID]; ok {
			conv.ProjectPath = p.Path
			conv.ProjectName = p.Name
		}

		needsParse := dirty || forced || e.noteStamp(conv.ID, conv.LastModified)

		var rows []core.UsageRow
		if cached, ok := e.cachedRows(conv.ID, conv.LastModified); ok {
			// Stamp-matched non-empty entries serve both paths; the
			// dirty and force flags never clear a still-valid entry.
			rows = cached
		} else {
			rows = e.parseConversation(ctx, st, *conv)
			e.storeRows(conv.ID, conv.LastModified, rows)
			if !needsParse {
				log.Printf("[usage] re-deriving %s: cache entry missing or empty", conv.ID)
			}
		}
		out = append(out, rows...)
	}

	if opts.SessionID == "" {
		e.purgeStale(enumerated)
	}
	e.evictAggregates()

	out = e.enrich(ctx, out)

	e.storeResult(opts, out)
	return out, nil
}

// enumerate lists the conversations for this run: all of them, or
// exactly one when the caller asked for a specific session. The
// returned set holds every ID observed before filtering, for metadata
// purging.
func (e *Engine) enumerate(ctx context.Context, st *store.Store, sessionID string) ([]core.Conversation, map[string]struct{}) {
	seen := make(map[string]struct{})
	var convs []core.Conversation

	if sessionID != "" {
		if conv, ok := readConversation(ctx, st, sessionID); ok {
			seen[conv.ID] = struct{}{}
			convs = append(convs, conv)
		}
		return convs, seen
	}

	for _, key := range st.ScanKeys(ctx, composerKeyPrefix) {
		id := strings.TrimPrefix(key, composerKeyPrefix)
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
		raw, ok := st.Get(ctx, key)
		if !ok {
			continue
		}
		conv, ok := decodeConversation(id, raw)
		if !ok {
			continue
		}
		convs = append(convs, conv)
	}
	return convs, seen
}
