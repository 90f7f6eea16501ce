package usage

import (
	"context"

	"github.com/usagelens/cursorusage/internal/core"
	"github.com/usagelens/cursorusage/internal/store"
)

// rowFromTurn normalizes one turn into a usage row. ok=false means the
// turn is not trackable: wrong role, nothing to count, or estimation
// disabled with no authoritative counts.
func rowFromTurn(turn core.Turn, conv core.Conversation, disableEstimation bool) (core.UsageRow, bool) {
	if turn.Role != core.RoleAssistant {
		return core.UsageRow{}, false
	}

	hasTokens := turn.Input > 0 || turn.Output > 0
	if !hasTokens && len(turn.Text) == 0 {
		return core.UsageRow{}, false
	}

	var tokens core.TokenCounts
	estimated := false
	if hasTokens {
		tokens.Input = turn.Input
		tokens.Output = turn.Output
	} else {
		if disableEstimation {
			return core.UsageRow{}, false
		}
		tokens.Output = core.EstimateOutputTokens(turn.Text)
		estimated = true
	}
	if tokens.Input == 0 && tokens.Output == 0 {
		return core.UsageRow{}, false
	}

	model := core.ResolveModel(turn.Model, conv.Model)
	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = conv.LastModified
	}

	return core.UsageRow{
		ConversationID: conv.ID,
		TurnID:         turn.ID,
		Provider:       core.ProviderForModel(model),
		Model:          model,
		Tokens:         tokens,
		Timestamp:      ts,
		LastModified:   conv.LastModified,
		ProjectPath:    conv.ProjectPath,
		ProjectName:    conv.ProjectName,
		IsEstimated:    estimated,
	}, true
}

// parseConversation reads and normalizes every turn of one
// conversation. Turns are deduplicated by identifier; a later record
// for the same identifier replaces the earlier one in place.
func (e *Engine) parseConversation(ctx context.Context, st *store.Store, conv core.Conversation) []core.UsageRow {
	seen := make(map[string]int, len(conv.TurnIDs))
	var rows []core.UsageRow
	for _, turnID := range conv.TurnIDs {
		raw, ok := st.Get(ctx, bubbleKey(conv.ID, turnID))
		if !ok {
			continue
		}
		turn, ok := decodeTurn(turnID, raw)
		if !ok {
			continue
		}
		row, ok := rowFromTurn(turn, conv, e.cfg.DisableEstimation)
		if !ok {
			continue
		}
		if i, dup := seen[turnID]; dup {
			rows[i] = row
			continue
		}
		seen[turnID] = len(rows)
		rows = append(rows, row)
	}
	return rows
}
