package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/cahoots/service/analysis"
	"github.com/brojonat/cahoots/service/db"
)

func correlateCommand() *cli.Command {
	return &cli.Command{
		Name:      "correlate",
		Usage:     "Find correlated wallet pairs and clusters",
		ArgsUsage: "<address> <address> [<address> ...]",
		Description: `Run correlation analysis over the stored swap history of the given
wallets. The report contains scored pairs (shared non-obvious tokens plus
synchronized trades), clusters of three or more wallets, and global token
statistics.

Output is JSON. Use --jq to post-process the report, e.g.:

  cahoots analyze correlate W1 W2 W3 --jq '.pairs[] | select(.score > 5)'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "since",
				Usage: "Only swaps at or after this time (RFC3339 or unix seconds)",
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Only swaps at or before this time (RFC3339 or unix seconds)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude-mint",
				Usage: "Mint to exclude from analysis (can be given multiple times)",
			},
			&cli.IntFlag{
				Name:  "max-daily-tokens",
				Usage: "Bot filter: exclude wallets buying more distinct tokens per day",
				Value: 50,
			},
			&cli.IntFlag{
				Name:  "sync-window",
				Usage: "Synchronized-trade window in seconds",
				Value: 300,
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the report before printing",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("requires at least two wallet addresses")
			}
			wallets := c.Args().Slice()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			tr, err := timeRangeFromFlags(c)
			if err != nil {
				return err
			}

			txsByWallet, err := store.GetSwapsByWallets(
				context.Background(), wallets, c.StringSlice("exclude-mint"), tr)
			if err != nil {
				return fmt.Errorf("failed to load swaps: %w", err)
			}

			cfg := analysis.DefaultAnalyzerConfig()
			cfg.MaxDailyTokens = c.Int("max-daily-tokens")
			cfg.SyncTimeWindowSeconds = int64(c.Int("sync-window"))
			cfg.ExcludedMints = c.StringSlice("exclude-mint")

			analyzer := analysis.NewAnalyzer(cfg, getLogger(c))
			report, err := analyzer.Analyze(txsByWallet)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			return outputWithJQ(report, c.String("jq"))
		},
	}
}

func pnlCommand() *cli.Command {
	return &cli.Command{
		Name:      "pnl",
		Usage:     "Compute realized SOL PnL for a wallet",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint",
				Usage: "Restrict to a single mint",
			},
			&cli.StringFlag{
				Name:  "since",
				Usage: "Only swaps at or after this time (RFC3339 or unix seconds)",
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Only swaps at or before this time (RFC3339 or unix seconds)",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq expression applied to the result before printing",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			address := c.Args().First()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			tr, err := timeRangeFromFlags(c)
			if err != nil {
				return err
			}

			swaps, err := store.GetSwapsByWallet(context.Background(), address, tr)
			if err != nil {
				return fmt.Errorf("failed to load swaps: %w", err)
			}

			txs := swapsToTransactionData(swaps)

			if mint := c.String("mint"); mint != "" {
				pnl := analysis.PnLForMint(txs, mint)
				return outputWithJQ(map[string]interface{}{
					"wallet": address,
					"mint":   mint,
					"pnl":    pnl,
				}, c.String("jq"))
			}

			result := analysis.ComputePnL(map[string][]db.TransactionData{address: txs})
			return outputWithJQ(map[string]interface{}{
				"wallet": address,
				"pnl":    result[address],
			}, c.String("jq"))
		},
	}
}

// outputWithJQ prints v as indented JSON, optionally transformed by a jq
// expression first. Each jq result is printed on its own line.
func outputWithJQ(v interface{}, jqExpr string) error {
	if jqExpr == "" {
		return outputJSON(v)
	}

	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return fmt.Errorf("failed to parse jq expression %q: %w", jqExpr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq expression %q: %w", jqExpr, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq evaluation failed: %w", err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}
