package usage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/usagelens/cursorusage/internal/core"
)

var fixtureBase = time.Date(2026, time.March, 14, 11, 0, 0, 0, time.UTC)

func ms(offset time.Duration) int64 {
	return fixtureBase.Add(offset).UnixMilli()
}

func TestParse_EstimationAndAuthoritative(t *testing.T) {
	path, db := newStateDB(t)
	putComposer(t, db, "c1", "claude-4.5-sonnet", ms(0), ms(time.Minute), "t1", "t2", "t3", "t4")
	putBubble(t, db, "c1", "t1", bubble{Type: 1, Text: "please do the thing"})
	putBubble(t, db, "c1", "t2", bubble{Type: 2, Text: strings.Repeat("a", 400), CreatedAt: ms(10 * time.Second)})
	putBubble(t, db, "c1", "t3", bubble{Type: 2, Input: 12, Output: 50, CreatedAt: ms(20 * time.Second)})
	putBubble(t, db, "c1", "t4", bubble{Type: 2}) // still streaming, nothing to count

	e, _ := newTestEngine(t, path, Deps{}, nil)
	rows, err := e.Parse(context.Background(), core.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2: %+v", len(rows), rows)
	}

	est := rows[0]
	if est.TurnID != "t2" || est.Tokens.Output != 100 || !est.IsEstimated {
		t.Errorf("estimated row = %+v", est)
	}
	auth := rows[1]
	if auth.TurnID != "t3" || auth.Tokens.Input != 12 || auth.Tokens.Output != 50 || auth.IsEstimated {
		t.Errorf("authoritative row = %+v", auth)
	}
	for _, r := range rows {
		if r.Model != "claude-4.5-sonnet" || r.Provider != "anthropic" {
			t.Errorf("row %s model/provider = %q/%q", r.TurnID, r.Model, r.Provider)
		}
	}
}

func TestParse_DuplicateTurnIDYieldsOneRow(t *testing.T) {
	path, db := newStateDB(t)
	putComposer(t, db, "c1", "gpt-5", ms(0), ms(time.Minute), "t1", "t1")
	putBubble(t, db, "c1", "t1", bubble{Type: 2, Input: 5, Output: 30})

	e, _ := newTestEngine(t, path, Deps{}, nil)
	rows, err := e.Parse(context.Background(), core.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 1 || rows[0].TurnID != "t1" {
		t.Fatalf("got %+v, want a single t1 row", rows)
	}
}

func TestParse_DisableEstimation(t *testing.T) {
	path, db := newStateDB(t)
	putComposer(t, db, "c1", "gpt-5", ms(0), ms(time.Minute), "t1", "t2")
	putBubble(t, db, "c1", "t1", bubble{Type: 2, Text: strings.Repeat("x", 80)})
	putBubble(t, db, "c1", "t2", bubble{Type: 2, Input: 5, Output: 30})

	e, _ := newTestEngine(t, path, Deps{}, func(c *Config) { c.DisableEstimation = true })
	rows, err := e.Parse(context.Background(), core.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 1 || rows[0].TurnID != "t2" {
		t.Fatalf("got %+v, want only the authoritative t2 row", rows)
	}
}

func TestParse_PlaceholderModelFallsBack(t *testing.T) {
	path, db := newStateDB(t)
	putComposer(t, db, "c1", core.PlaceholderModel, ms(0), ms(time.Minute), "t1")
	putBubble(t, db, "c1", "t1", bubble{Type: 2, Model: core.PlaceholderModel, Output: 10, Input: 2})

	e, _ := newTestEngine(t, path, Deps{}, nil)
	rows, err := e.Parse(context.Background(), core.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Model != core.FallbackModel || rows[0].Provider != core.FallbackProvider {
		t.Errorf("row model/provider = %q/%q, want fallbacks", rows[0].Model, rows[0].Provider)
	}
}

func TestParse_TimestampFallsBackToConversation(t *testing.T) {
	path, db := newStateDB(t)
	putComposer(t, db, "c1", "gpt-5", ms(0), ms(time.Minute), "t1")
	putBubble(t, db, "c1", "t1", bubble{Type: 2, Output: 10, Input: 1}) // no createdAt

	e, _ := newTestEngine(t, path, Deps{}, nil)
	rows, err := e.Parse(context.Background(), core.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := time.UnixMilli(ms(time.Minute)).UTC()
	if len(rows) != 1 || !rows[0].Timestamp.Equal(want) {
		t.Fatalf("row timestamp = %v, want %v", rows[0].Timestamp, want)
	}
}

func TestParse_ProjectAttribution(t *testing.T) {
	path, db := newStateDB(t)
	putComposer(t, db, "c1", "gpt-5", ms(0), ms(time.Minute), "t1")
	putBubble(t, db, "c1", "t1", bubble{Type: 2, Output: 10, Input: 1})

	projects := fakeProjects{"c1": {Path: "/home/dev/projA", Name: "projA"}}
	e, _ := newTestEngine(t, path, Deps{Projects: projects}, nil)
	rows, err := e.Parse(context.Background(), core.ParseOptions{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 1 || rows[0].ProjectName != "projA" || rows[0].ProjectPath != "/home/dev/projA" {
		t.Fatalf("row project = %+v", rows)
	}
}
