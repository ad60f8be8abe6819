package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/cahoots/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func initSchemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create database tables and indexes if they do not exist",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.EnsureSchema(context.Background()); err != nil {
				return fmt.Errorf("failed to ensure schema: %w", err)
			}

			fmt.Fprintln(os.Stderr, "Schema is up to date")
			return nil
		},
	}
}

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:    "wallets",
		Usage:   "List all tracked wallets and their sync cursors",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			wallets, err := store.ListWallets(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallets)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tNEWEST SIGNATURE\tNEWEST TS\tFIRST TS\tLAST FETCH")
			for _, wallet := range wallets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					wallet.Address,
					formatOptionalString(wallet.NewestProcessedSignature),
					formatOptionalUnix(wallet.NewestProcessedTimestamp),
					formatOptionalUnix(wallet.FirstProcessedTimestamp),
					formatOptionalTime(wallet.LastSuccessfulFetch),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func listSwapsCommand() *cli.Command {
	return &cli.Command{
		Name:  "swaps",
		Usage: "List stored swap records for a wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Wallet address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "since",
				Usage: "Only swaps at or after this time (RFC3339 or unix seconds)",
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Only swaps at or before this time (RFC3339 or unix seconds)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			tr, err := timeRangeFromFlags(c)
			if err != nil {
				return err
			}

			swaps, err := store.GetSwapsByWallet(context.Background(), c.String("wallet"), tr)
			if err != nil {
				return fmt.Errorf("failed to get swaps: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(swaps)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tDIRECTION\tMINT\tAMOUNT\tSOL\tSIGNATURE")
			for _, s := range swaps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.6f\t%.6f\t%s\n",
					time.Unix(s.Timestamp, 0).UTC().Format(time.RFC3339),
					s.Direction,
					s.Mint,
					s.Amount,
					s.AssociatedSolValue,
					s.Signature,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d swaps\n", len(swaps))
			return nil
		},
	}
}

func cacheStatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache-stats",
		Usage: "Show signature cache statistics",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			count, err := store.CountCachedSignatures(context.Background())
			if err != nil {
				return fmt.Errorf("failed to count cached signatures: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]int64{"cached_signatures": count})
			}

			fmt.Printf("Cached signatures: %d\n", count)
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// timeRangeFromFlags parses the --since/--until flags. Both accept RFC3339
// timestamps or raw unix seconds.
func timeRangeFromFlags(c *cli.Context) (db.TimeRange, error) {
	var tr db.TimeRange
	if s := c.String("since"); s != "" {
		ts, err := parseTimeArg(s)
		if err != nil {
			return tr, fmt.Errorf("invalid --since: %w", err)
		}
		tr.From = &ts
	}
	if s := c.String("until"); s != "" {
		ts, err := parseTimeArg(s)
		if err != nil {
			return tr, fmt.Errorf("invalid --until: %w", err)
		}
		tr.To = &ts
	}
	return tr, nil
}

func parseTimeArg(s string) (int64, error) {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ts, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("expected RFC3339 or unix seconds: %w", err)
	}
	return t.Unix(), nil
}

func formatOptionalString(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}

func formatOptionalUnix(ts *int64) string {
	if ts == nil || *ts == 0 {
		return "-"
	}
	return time.Unix(*ts, 0).UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
