package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/cahoots/service/buyers"
	"github.com/brojonat/cahoots/service/ingest"
	syncsvc "github.com/brojonat/cahoots/service/sync"
)

func firstBuyersCommand() *cli.Command {
	return &cli.Command{
		Name:      "first",
		Usage:     "Rank the earliest buyers of a token",
		ArgsUsage: "<mint>",
		Description: `Walk the token's transaction history from oldest to newest and report
the first distinct wallets that received it in a swap.

Example:
  cahoots buyers first So11111111111111111111111111111111111111112 --format csv --out buyers.csv`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Page this address instead of the mint (bonding curve or pool)",
			},
			&cli.IntFlag{
				Name:  "max-buyers",
				Usage: "Number of buyers to report",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "max-signatures",
				Usage: "How much history to walk",
				Value: 1000,
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json, csv, or md",
				Value: "json",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write output to this file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: token mint")
			}
			mint := c.Args().First()

			svc, closer, err := getBuyersService(c)
			if err != nil {
				return err
			}
			defer closer()

			target := mint
			if source := c.String("source"); source != "" {
				target = source
			}

			result, err := svc.FirstBuyers(context.Background(), target, buyers.Options{
				MaxBuyers:     c.Int("max-buyers"),
				MaxSignatures: c.Int("max-signatures"),
			})
			if err != nil {
				return fmt.Errorf("failed to find first buyers: %w", err)
			}

			out, outCloser, err := openOutput(c.String("out"))
			if err != nil {
				return err
			}
			defer outCloser()

			switch c.String("format") {
			case "json":
				return buyers.WriteFirstBuyersJSON(out, result)
			case "csv":
				return buyers.WriteFirstBuyersCSV(out, result)
			case "md":
				return buyers.WriteFirstBuyersMarkdown(out, result)
			default:
				return fmt.Errorf("unknown format %q (want json, csv, or md)", c.String("format"))
			}
		},
	}
}

func topTradersCommand() *cli.Command {
	return &cli.Command{
		Name:      "top",
		Usage:     "Rank the earliest buyers of a token by performance",
		ArgsUsage: "<mint>",
		Description: `Find the first buyers of a token, backfill any missing swap history,
and rank them by accumulated token amount or realized SOL PnL.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Page this address instead of the mint (bonding curve or pool)",
			},
			&cli.IntFlag{
				Name:  "max-buyers",
				Usage: "Number of first buyers to consider",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "max-signatures",
				Usage: "How much history to walk",
				Value: 1000,
			},
			&cli.IntFlag{
				Name:  "top-n",
				Usage: "Number of traders to report",
				Value: 10,
			},
			&cli.StringFlag{
				Name:  "order-by",
				Usage: "Ranking: token_amount or realized_pnl",
				Value: string(buyers.OrderByTokenAmount),
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: json or md",
				Value: "json",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Write output to this file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: token mint")
			}
			mint := c.Args().First()

			svc, closer, err := getBuyersService(c)
			if err != nil {
				return err
			}
			defer closer()

			target := mint
			if source := c.String("source"); source != "" {
				target = source
			}

			firstBuyers, err := svc.FirstBuyers(context.Background(), target, buyers.Options{
				MaxBuyers:     c.Int("max-buyers"),
				MaxSignatures: c.Int("max-signatures"),
			})
			if err != nil {
				return fmt.Errorf("failed to find first buyers: %w", err)
			}

			traders, err := svc.TopTraders(context.Background(), mint, firstBuyers,
				c.Int("top-n"), buyers.Order(c.String("order-by")))
			if err != nil {
				return fmt.Errorf("failed to rank traders: %w", err)
			}

			out, outCloser, err := openOutput(c.String("out"))
			if err != nil {
				return err
			}
			defer outCloser()

			switch c.String("format") {
			case "json":
				return buyers.WriteTopTradersJSON(out, traders)
			case "md":
				return buyers.WriteTopTradersMarkdown(out, traders)
			default:
				return fmt.Errorf("unknown format %q (want json or md)", c.String("format"))
			}
		},
	}
}

// getBuyersService wires the Solana client, store, and sync service into a
// buyers service. All three share one database pool.
func getBuyersService(c *cli.Context) (*buyers.Service, func(), error) {
	store, storeCloser, err := getStore(c)
	if err != nil {
		return nil, nil, err
	}

	client, err := getSolanaClient(c)
	if err != nil {
		storeCloser()
		return nil, nil, err
	}

	logger := getLogger(c)
	engine := ingest.NewEngine(client, store, nil, logger)
	syncService := syncsvc.NewService(store, engine, nil, nil, logger)

	svc := buyers.NewService(client, store, syncService, logger)
	return svc, storeCloser, nil
}

// openOutput returns stdout or an opened file plus a closer.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}
