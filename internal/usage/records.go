package usage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/usagelens/cursorusage/internal/core"
	"github.com/usagelens/cursorusage/internal/store"
)

// The editor keeps conversations under two key prefixes in its KV
// table: one record per conversation and one per turn.
const (
	composerKeyPrefix = "composerData:"
	bubbleKeyPrefix   = "bubbleId:"

	bubbleTypeAssistant = 2
)

type composerRecord struct {
	ComposerID    string `json:"composerId"`
	Name          string `json:"name"`
	CreatedAt     int64  `json:"createdAt"`
	LastUpdatedAt int64  `json:"lastUpdatedAt"`
	LatestModel   string `json:"latestModel"`

	FullConversationHeadersOnly []struct {
		BubbleID string `json:"bubbleId"`
		Type     int    `json:"type"`
	} `json:"fullConversationHeadersOnly"`
}

type bubbleRecord struct {
	Type      int             `json:"type"`
	Text      string          `json:"text"`
	ModelType string          `json:"modelType"`
	CreatedAt json.RawMessage `json:"createdAt"`

	TokenCount struct {
		InputTokens  int64 `json:"inputTokens"`
		OutputTokens int64 `json:"outputTokens"`
	} `json:"tokenCount"`
}

func bubbleKey(convID, turnID string) string {
	return bubbleKeyPrefix + convID + ":" + turnID
}

func splitBubbleKey(key string) (convID, turnID string, ok bool) {
	rest, found := strings.CutPrefix(key, bubbleKeyPrefix)
	if !found {
		return "", "", false
	}
	convID, turnID, ok = strings.Cut(rest, ":")
	if !ok || convID == "" || turnID == "" {
		return "", "", false
	}
	return convID, turnID, true
}

func readConversation(ctx context.Context, st *store.Store, id string) (core.Conversation, bool) {
	raw, ok := st.Get(ctx, composerKeyPrefix+id)
	if !ok {
		return core.Conversation{}, false
	}
	return decodeConversation(id, raw)
}

func decodeConversation(id, raw string) (core.Conversation, bool) {
	var rec composerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return core.Conversation{}, false
	}

	conv := core.Conversation{
		ID:           id,
		Name:         rec.Name,
		CreatedAt:    millisTime(rec.CreatedAt),
		LastModified: millisTime(rec.LastUpdatedAt),
		Model:        rec.LatestModel,
	}
	if conv.LastModified.IsZero() {
		conv.LastModified = conv.CreatedAt
	}
	for _, h := range rec.FullConversationHeadersOnly {
		if h.BubbleID != "" {
			conv.TurnIDs = append(conv.TurnIDs, h.BubbleID)
		}
	}
	return conv, true
}

func decodeTurn(id, raw string) (core.Turn, bool) {
	var rec bubbleRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return core.Turn{}, false
	}

	role := core.RoleUser
	if rec.Type == bubbleTypeAssistant {
		role = core.RoleAssistant
	}
	return core.Turn{
		ID:        id,
		Role:      role,
		Input:     rec.TokenCount.InputTokens,
		Output:    rec.TokenCount.OutputTokens,
		Text:      rec.Text,
		Model:     rec.ModelType,
		CreatedAt: rawTimestamp(rec.CreatedAt),
	}, true
}

// rawTimestamp handles both shapes the editor writes: epoch-millis
// numbers and ISO strings.
func rawTimestamp(raw json.RawMessage) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}
	}
	return core.ParseTimestamp(s)
}

func millisTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
