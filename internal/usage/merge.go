package usage

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"sort"

	"github.com/usagelens/cursorusage/internal/core"
)

// enrich upgrades this run's rows with authoritative remote totals.
// Conversations are matched to remote records by time proximity; a
// matched conversation's rows get the remote totals distributed across
// them and are remembered so a later cycle without feed data can
// replay them instead of regressing to estimates.
func (e *Engine) enrich(ctx context.Context, rows []core.UsageRow) []core.UsageRow {
	if len(rows) == 0 {
		return rows
	}

	var records []core.EnrichmentRecord
	if e.feed != nil {
		records = e.feed.Records(ctx)
		if ctx.Err() != nil {
			// A cancelled fetch degrades to unenriched output.
			records = nil
		}
	}

	// Group row indexes by conversation, preserving the pipeline's
	// conversation order so greedy assignment stays deterministic.
	var order []string
	groups := make(map[string][]int)
	for i, r := range rows {
		if _, ok := groups[r.ConversationID]; !ok {
			order = append(order, r.ConversationID)
		}
		groups[r.ConversationID] = append(groups[r.ConversationID], i)
	}

	recs := append([]core.EnrichmentRecord(nil), records...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	used := make([]bool, len(recs))

	for _, convID := range order {
		idx := groups[convID]

		stamp := rows[idx[0]].LastModified
		for _, i := range idx[1:] {
			if rows[i].LastModified.After(stamp) {
				stamp = rows[i].LastModified
			}
		}

		// First unassigned record within the window, ascending by
		// remote timestamp; each record is consumed at most once.
		match := -1
		for ri := range recs {
			if used[ri] {
				continue
			}
			d := recs[ri].Timestamp.Sub(stamp)
			if d < 0 {
				d = -d
			}
			if d <= e.cfg.MatchWindow {
				match = ri
				break
			}
		}

		if match < 0 {
			e.replayEnriched(ctx, convID, rows, idx)
			continue
		}
		used[match] = true
		distributeRecord(rows, idx, recs[match])

		enrichedRows := make([]core.UsageRow, 0, len(idx))
		for _, i := range idx {
			enrichedRows = append(enrichedRows, rows[i])
		}
		e.mu.Lock()
		e.enriched[convID] = enrichedRows
		e.mu.Unlock()
		e.persistEnriched(ctx, convID, enrichedRows)
	}
	return rows
}

// distributeRecord spreads one remote aggregate across a
// conversation's rows proportionally to each row's share of the
// conversation's estimated output (equal split when that total is
// zero). The last row takes the rounding remainder so every total is
// conserved exactly.
func distributeRecord(rows []core.UsageRow, idx []int, rec core.EnrichmentRecord) {
	var totalOut int64
	for _, i := range idx {
		totalOut += rows[i].Tokens.Output
	}

	cacheWrite := rec.InputWithCacheWrite - rec.InputWithoutCacheWrite
	if cacheWrite < 0 {
		cacheWrite = 0
	}

	var accOut, accIn, accRead, accWrite int64
	var accCost float64
	for k, i := range idx {
		var w float64
		if totalOut > 0 {
			w = float64(rows[i].Tokens.Output) / float64(totalOut)
		} else {
			w = 1 / float64(len(idx))
		}
		last := k == len(idx)-1

		rows[i].Tokens.Output = share(rec.Output, w, last, &accOut)
		rows[i].Tokens.Input = share(rec.InputWithoutCacheWrite, w, last, &accIn)
		rows[i].Tokens.CacheRead = share(rec.CacheRead, w, last, &accRead)
		rows[i].Tokens.CacheWrite = share(cacheWrite, w, last, &accWrite)
		rows[i].CostUSD = costShare(rec.CostUSD, w, last, &accCost)
		if rows[i].Model == core.FallbackModel && rec.Model != "" {
			rows[i].Model = rec.Model
			rows[i].Provider = core.ProviderForModel(rec.Model)
		}
		rows[i].IsEstimated = false
	}
}

func share(total int64, w float64, last bool, acc *int64) int64 {
	if last {
		v := total - *acc
		if v < 0 {
			v = 0
		}
		*acc = total
		return v
	}
	v := int64(math.Round(float64(total) * w))
	*acc += v
	return v
}

func costShare(total, w float64, last bool, acc *float64) float64 {
	if last {
		v := total - *acc
		if v < 0 {
			v = 0
		}
		*acc = total
		return v
	}
	v := total * w
	*acc += v
	return v
}

// replayEnriched re-applies previously established authoritative
// values to a conversation the feed could not match this cycle, so an
// enriched row never silently reverts to an estimate.
func (e *Engine) replayEnriched(ctx context.Context, convID string, rows []core.UsageRow, idx []int) {
	e.mu.Lock()
	saved, ok := e.enriched[convID]
	e.mu.Unlock()

	if !ok && e.kv != nil {
		raw, found := e.kv.Get(ctx, enrichedKey(convID))
		if found {
			var list []core.UsageRow
			if err := json.Unmarshal([]byte(raw), &list); err == nil && len(list) > 0 {
				saved = list
				ok = true
				e.mu.Lock()
				e.enriched[convID] = list
				e.mu.Unlock()
			}
		}
	}
	if !ok || len(saved) == 0 {
		return
	}

	byTurn := make(map[string]core.UsageRow, len(saved))
	byStamp := make(map[int64]core.UsageRow, len(saved))
	for _, s := range saved {
		if s.TurnID != "" {
			byTurn[s.TurnID] = s
		}
		byStamp[s.Timestamp.UnixMilli()] = s
	}

	for _, i := range idx {
		s, found := byTurn[rows[i].TurnID]
		if !found {
			s, found = byStamp[rows[i].Timestamp.UnixMilli()]
		}
		if !found {
			continue
		}
		rows[i].Tokens = s.Tokens
		rows[i].CostUSD = s.CostUSD
		rows[i].Model = s.Model
		rows[i].Provider = s.Provider
		rows[i].IsEstimated = false
	}
}

// persistEnriched mirrors a conversation's enriched rows to the
// durable KV bridge. Fire-and-forget: a persistence failure is logged
// and never fails the pipeline.
func (e *Engine) persistEnriched(ctx context.Context, convID string, rows []core.UsageRow) {
	if e.kv == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := e.kv.Set(ctx, enrichedKey(convID), string(data)); err != nil {
		log.Printf("[usage] persisting enrichment for %s: %v", convID, err)
	}
}

func enrichedKey(convID string) string {
	return "enriched:" + convID
}
