// cursorusage prints and streams per-turn token usage extracted from
// Cursor's local state database, enriched with authoritative totals
// from the dashboard export when a session credential is available.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/usagelens/cursorusage/internal/auth"
	"github.com/usagelens/cursorusage/internal/core"
	"github.com/usagelens/cursorusage/internal/paths"
	"github.com/usagelens/cursorusage/internal/persist"
	"github.com/usagelens/cursorusage/internal/remote"
	"github.com/usagelens/cursorusage/internal/settings"
	"github.com/usagelens/cursorusage/internal/usage"
	"github.com/usagelens/cursorusage/internal/version"
)

func main() {
	if os.Getenv("CURSORUSAGE_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	var (
		storePath string
		cacheDB   string
		noEnrich  bool
	)

	root := cobra.Command{
		Use:     "cursorusage",
		Short:   "Track per-turn token usage from Cursor's local conversation store.",
		Version: version.String(),
	}
	root.PersistentFlags().StringVar(&storePath, "store", "", "path to state.vscdb (default: auto-detect)")
	root.PersistentFlags().StringVar(&cacheDB, "cache-db", "", "path to the enrichment cache DB (default: alongside the user cache dir)")
	root.PersistentFlags().BoolVar(&noEnrich, "no-enrich", false, "skip remote enrichment")

	var (
		sessionID string
		limit     int
		since     string
		asJSON    bool
	)
	parseCmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse conversations into usage rows and print them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(storePath, cacheDB, noEnrich)
			if err != nil {
				return err
			}
			defer eng.Close()

			opts := core.ParseOptions{SessionID: sessionID, Limit: limit}
			if since != "" {
				t := core.ParseTimestamp(since)
				if t.IsZero() {
					return fmt.Errorf("cannot parse --since value %q", since)
				}
				opts.Since = t
			}

			rows, err := eng.Parse(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(rows)
			}
			printRows(rows)
			return nil
		},
	}
	parseCmd.Flags().StringVar(&sessionID, "session", "", "restrict to one conversation ID")
	parseCmd.Flags().IntVar(&limit, "limit", 0, "max conversations, most recent first (0 = all)")
	parseCmd.Flags().StringVar(&since, "since", "", "only conversations modified at or after this instant (RFC3339 or epoch millis)")
	parseCmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream usage deltas for new assistant turns until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(storePath, cacheDB, noEnrich)
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.StartWatch(func(row core.UsageRow) {
				fmt.Printf("%s  %-28s %-10s in=%-8d out=%-8d est=%v\n",
					row.Timestamp.Local().Format(time.TimeOnly),
					row.ConversationID, row.Model,
					row.Tokens.Input, row.Tokens.Output, row.IsEstimated)
			})
			defer eng.StopWatch()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintln(os.Stderr, "watching for new turns, ^C to stop")
			<-ctx.Done()
			return nil
		},
	}

	root.AddCommand(parseCmd, watchCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newEngine(storePath, cacheDB string, noEnrich bool) (*usage.Engine, error) {
	cfg, err := settings.Load()
	if err != nil {
		log.Printf("[main] settings: %v", err)
	}

	// Flags win over the settings file, the settings file wins over
	// auto-detection.
	if storePath == "" {
		storePath = cfg.StorePath
	}
	if cacheDB == "" {
		cacheDB = cfg.CacheDBPath
	}
	noEnrich = noEnrich || cfg.DisableEnrichment

	if storePath == "" {
		storePath, err = paths.GlobalStorePath()
		if err != nil {
			return nil, err
		}
	}

	deps := usage.Deps{}

	if wsDir, werr := paths.WorkspaceStorageDir(); werr == nil {
		deps.Projects = &paths.WorkspaceIndex{Dir: wsDir}
	}

	if !noEnrich {
		deps.Feed = remote.New(&auth.StateDBSource{Path: storePath})
		if cacheDB == "" {
			if dir, cerr := os.UserCacheDir(); cerr == nil {
				cacheDB = filepath.Join(dir, "cursorusage", "enrichment.db")
			}
		}
		if cacheDB != "" {
			kv, kerr := persist.OpenSQLite(cacheDB)
			if kerr != nil {
				log.Printf("[main] enrichment cache unavailable: %v", kerr)
			} else {
				deps.KV = kv
			}
		}
	}

	return usage.New(usage.Config{
		StorePath:         storePath,
		DisableEstimation: cfg.DisableEstimation,
	}, deps)
}

func printRows(rows []core.UsageRow) {
	if len(rows) == 0 {
		fmt.Println("no usage rows")
		return
	}
	fmt.Printf("%-19s  %-36s %-10s %-24s %9s %9s %9s %9s  %9s  %s\n",
		"TIME", "CONVERSATION", "PROVIDER", "MODEL", "INPUT", "OUTPUT", "CACHE-R", "CACHE-W", "COST", "EST")
	var in, out int64
	for _, r := range rows {
		est := ""
		if r.IsEstimated {
			est = "~"
		}
		fmt.Printf("%-19s  %-36s %-10s %-24s %9d %9d %9d %9d  %9.4f  %s\n",
			r.Timestamp.Local().Format(time.DateTime),
			r.ConversationID, r.Provider, r.Model,
			r.Tokens.Input, r.Tokens.Output, r.Tokens.CacheRead, r.Tokens.CacheWrite,
			r.CostUSD, est)
		in += r.Tokens.Input
		out += r.Tokens.Output
	}
	fmt.Printf("\n%d rows, %d input / %d output tokens\n", len(rows), in, out)
}
