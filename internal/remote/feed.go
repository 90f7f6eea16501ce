// Package remote fetches the authoritative usage-event export and
// parses it into enrichment records. Failures never propagate to the
// pipeline; a bad cycle just yields no records.
package remote

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/usagelens/cursorusage/internal/auth"
	"github.com/usagelens/cursorusage/internal/core"
)

const (
	// DefaultExportURL is the dashboard CSV export endpoint.
	DefaultExportURL = "https://cursor.com/api/dashboard/export-usage-events-csv"

	// DefaultTTL bounds how long a fetched export is reused.
	DefaultTTL = 5 * time.Minute

	exportColumns = 10
)

// Client fetches and caches the remote export. At most one fetch is in
// flight process-wide; concurrent callers wait for it instead of
// issuing duplicates.
type Client struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	headers    auth.HeaderSource
	now        func() time.Time

	mu        sync.Mutex
	cached    []core.EnrichmentRecord
	fetchedAt time.Time
	inflight  chan struct{}
}

func New(headers auth.HeaderSource) *Client {
	return &Client{
		url:        DefaultExportURL,
		ttl:        DefaultTTL,
		httpClient: http.DefaultClient,
		headers:    headers,
		now:        time.Now,
	}
}

// WithURL points the client at a different export endpoint (tests).
func (c *Client) WithURL(url string) *Client {
	c.url = url
	return c
}

// WithTTL overrides the cache TTL.
func (c *Client) WithTTL(ttl time.Duration) *Client {
	if ttl > 0 {
		c.ttl = ttl
	}
	return c
}

// Records returns the current enrichment records, from cache when
// fresh. Returns nil on any failure, including a missing credential.
func (c *Client) Records(ctx context.Context) []core.EnrichmentRecord {
	c.mu.Lock()
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		out := c.cached
		c.mu.Unlock()
		return out
	}
	if c.inflight != nil {
		wait := c.inflight
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil
		}
		// Reuse whatever the winner produced; if it failed, this cycle
		// goes without enrichment rather than piling on a second fetch.
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
			return c.cached
		}
		return nil
	}
	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()

	records, err := c.fetch(ctx)

	c.mu.Lock()
	c.inflight = nil
	close(done)
	if err != nil {
		c.mu.Unlock()
		log.Printf("[remote] export fetch failed: %v", err)
		return nil
	}
	c.cached = records
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return records
}

func (c *Client) fetch(ctx context.Context) ([]core.EnrichmentRecord, error) {
	header := ""
	if c.headers != nil {
		h, ok := c.headers.SessionHeader(ctx)
		if !ok {
			return nil, fmt.Errorf("no session credential available")
		}
		header = h
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	if header != "" {
		req.Header.Set("Cookie", header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseExport(string(body)), nil
}

// ParseExport parses the raw export text: one header line followed by
// quote-wrapped comma-separated rows in a fixed 10-column layout
// (timestamp, kind, model, max-mode, input w/ cache write, input w/o
// cache write, cache read, output, total, cost). Malformed rows and
// rows with non-positive output are discarded.
func ParseExport(text string) []core.EnrichmentRecord {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		out    []core.EnrichmentRecord
		header = true
	)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if header {
			header = false
			continue
		}
		if len(fields) != exportColumns {
			continue
		}
		rec, ok := parseExportRow(fields)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func parseExportRow(fields []string) (core.EnrichmentRecord, bool) {
	ts := core.ParseTimestamp(fields[0])
	if ts.IsZero() {
		return core.EnrichmentRecord{}, false
	}
	output := parseCount(fields[7])
	if output <= 0 {
		return core.EnrichmentRecord{}, false
	}
	return core.EnrichmentRecord{
		Timestamp:              ts,
		Kind:                   strings.TrimSpace(fields[1]),
		Model:                  strings.TrimSpace(fields[2]),
		MaxMode:                strings.EqualFold(strings.TrimSpace(fields[3]), "true"),
		InputWithCacheWrite:    parseCount(fields[4]),
		InputWithoutCacheWrite: parseCount(fields[5]),
		CacheRead:              parseCount(fields[6]),
		Output:                 output,
		Total:                  parseCount(fields[8]),
		CostUSD:                parseCost(fields[9]),
	}, true
}

func parseCount(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseCost(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
