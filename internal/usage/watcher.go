package usage

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/usagelens/cursorusage/internal/core"
	"github.com/usagelens/cursorusage/internal/store"
)

// StartWatch begins (or resumes) real-time delta detection and
// registers cb for new assistant turns. Calling it again is a no-op
// for the timers and subscriptions but always replaces the callback.
func (e *Engine) StartWatch(cb func(core.UsageRow)) {
	e.mu.Lock()
	e.watchCB = cb
	alreadyInit := e.watchInit
	e.watchInit = true
	e.mu.Unlock()
	if alreadyInit {
		return
	}

	// Seed the cursor at the current maximum row ID so only turns
	// created after watch start are reported; no historical backfill.
	// When the store is not there yet, the first successful scan seeds
	// instead, before anything is emitted.
	st, err := store.Open(e.cfg.StorePath, store.Uncommitted)
	if err != nil {
		log.Printf("[usage] watch init, store unavailable: %v", err)
		return
	}
	defer st.Close()
	cursor := st.MaxRowID(context.Background(), bubbleKeyPrefix)

	e.mu.Lock()
	e.watchCursor = cursor
	e.watchSeeded = true
	e.mu.Unlock()
	log.Printf("[usage] watch started at row %d", cursor)
}

// StopWatch detaches the callback. Timers, subscriptions, and the
// cursor persist, so a following StartWatch neither loses turns
// written during the gap nor re-fires already-delivered ones.
func (e *Engine) StopWatch() {
	e.mu.Lock()
	e.watchCB = nil
	e.mu.Unlock()
}

func (e *Engine) watching() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watchInit && e.watchCB != nil
}

// loop is the engine's only background goroutine. It multiplexes
// file-change notifications, the force-reconciliation timer, and the
// watcher's poll/debounce/pending timers.
func (e *Engine) loop() {
	defer e.wg.Done()

	force := time.NewTicker(e.cfg.ForceReconcileInterval)
	defer force.Stop()
	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	debounce := newStoppedTimer()
	defer debounce.Stop()
	pendingT := newStoppedTimer()
	defer pendingT.Stop()

	storeName := filepath.Base(e.cfg.StorePath)

	for {
		select {
		case <-e.stop:
			return

		case ev := <-e.fw.Events:
			name := filepath.Base(ev.Name)
			if name != storeName && name != storeName+"-wal" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			e.markDirty()
			if e.watching() {
				resetTimer(debounce, e.cfg.Debounce)
			}

		case err := <-e.fw.Errors:
			if err != nil {
				log.Printf("[usage] fs watch error: %v", err)
			}

		case <-force.C:
			e.mu.Lock()
			e.forced = true
			e.mu.Unlock()

		case <-debounce.C:
			e.scanAndReschedule(pendingT)

		case <-poll.C:
			e.scanAndReschedule(pendingT)

		case <-pendingT.C:
			e.scanAndReschedule(pendingT)
		}
	}
}

// scanAndReschedule runs one watch scan and keeps the faster re-check
// timer alive exactly while the pending set is non-empty.
func (e *Engine) scanAndReschedule(pendingT *time.Timer) {
	if e.watchScan(context.Background()) {
		resetTimer(pendingT, e.cfg.PendingInterval)
	} else {
		stopTimer(pendingT)
	}
}

// watchScan reads every turn row past the cursor, emits deltas for
// rows with usable content, parks still-streaming rows in the pending
// set, and re-attempts the pending set. Returns whether entries remain
// pending. While the callback is detached the scan is a no-op, so the
// cursor holds its place for the next StartWatch.
func (e *Engine) watchScan(ctx context.Context) bool {
	e.mu.Lock()
	cb := e.watchCB
	init := e.watchInit
	seeded := e.watchSeeded
	cursor := e.watchCursor
	e.mu.Unlock()
	if !init || cb == nil {
		return false
	}

	st, err := store.Open(e.cfg.StorePath, store.Uncommitted)
	if err != nil {
		return e.hasPending()
	}
	defer st.Close()

	if !seeded {
		// The store appeared after watch start. Rows already in it
		// predate the watch, so they are not deltas.
		cursor = st.MaxRowID(ctx, bubbleKeyPrefix)
		e.mu.Lock()
		if cursor > e.watchCursor {
			e.watchCursor = cursor
		}
		e.watchSeeded = true
		e.mu.Unlock()
		log.Printf("[usage] watch started at row %d", cursor)
		return e.hasPending()
	}

	convCache := make(map[string]core.Conversation)
	emitted := make(map[pendingKey]bool)
	var emits []core.UsageRow

	maxID := cursor
	sawRows := false
	for _, r := range st.ScanSince(ctx, bubbleKeyPrefix, cursor) {
		sawRows = true
		if r.RowID > maxID {
			maxID = r.RowID
		}
		convID, turnID, ok := splitBubbleKey(r.Key)
		if !ok {
			continue
		}
		turn, ok := decodeTurn(turnID, r.Value)
		if !ok || turn.Role != core.RoleAssistant {
			continue
		}
		k := pendingKey{convID, turnID}
		if row, ok := e.watchRow(ctx, st, convCache, convID, turn); ok {
			emits = append(emits, row)
			emitted[k] = true
			// A rewrite of a parked turn shows up as a new row; do not
			// emit it a second time from the pending pass below.
			e.mu.Lock()
			delete(e.pending, k)
			e.mu.Unlock()
		} else {
			e.mu.Lock()
			e.pending[k] = r.Key
			e.mu.Unlock()
		}
	}

	// Re-attempt everything parked on earlier triggers, in a stable
	// order so repeated resolutions emit deterministically.
	e.mu.Lock()
	parked := make([]pendingKey, 0, len(e.pending))
	keys := make(map[pendingKey]string, len(e.pending))
	for k, v := range e.pending {
		parked = append(parked, k)
		keys[k] = v
	}
	e.mu.Unlock()
	sort.Slice(parked, func(i, j int) bool {
		if parked[i].convID != parked[j].convID {
			return parked[i].convID < parked[j].convID
		}
		return parked[i].turnID < parked[j].turnID
	})

	for _, k := range parked {
		if emitted[k] {
			continue
		}
		raw, ok := st.Get(ctx, keys[k])
		if !ok {
			// Record gone, e.g. the conversation was deleted; stop
			// tracking it so the fast re-check timer can wind down.
			e.mu.Lock()
			delete(e.pending, k)
			e.mu.Unlock()
			continue
		}
		turn, ok := decodeTurn(k.turnID, raw)
		if !ok {
			continue
		}
		if turn.Role != core.RoleAssistant {
			// Rewritten into a non-assistant record; stop tracking it.
			e.mu.Lock()
			delete(e.pending, k)
			e.mu.Unlock()
			continue
		}
		if row, ok := e.watchRow(ctx, st, convCache, k.convID, turn); ok {
			emits = append(emits, row)
			e.mu.Lock()
			delete(e.pending, k)
			e.mu.Unlock()
		}
	}

	e.mu.Lock()
	if maxID > e.watchCursor {
		e.watchCursor = maxID
	}
	if sawRows {
		// Share the change with the batch pipeline so it does not have
		// to wait for its own file-change notification.
		e.dirty = true
	}
	hasPending := len(e.pending) > 0
	e.mu.Unlock()

	for _, row := range emits {
		cb(row)
	}
	return hasPending
}

// watchRow normalizes a freshly observed turn into a delta row.
// ok=false means the turn has no usable content yet (still streaming).
func (e *Engine) watchRow(ctx context.Context, st *store.Store, cache map[string]core.Conversation, convID string, turn core.Turn) (core.UsageRow, bool) {
	conv, ok := cache[convID]
	if !ok {
		conv, ok = readConversation(ctx, st, convID)
		if !ok {
			conv = core.Conversation{ID: convID}
		}
		cache[convID] = conv
	}
	return rowFromTurn(turn, conv, e.cfg.DisableEstimation)
}

func (e *Engine) hasPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

func newStoppedTimer() *time.Timer {
	t := time.NewTimer(time.Hour)
	stopTimer(t)
	return t
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
