package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/cahoots/service/db"
	"github.com/brojonat/cahoots/service/ingest"
	"github.com/brojonat/cahoots/service/metrics"
	natspkg "github.com/brojonat/cahoots/service/nats"
	"github.com/brojonat/cahoots/service/solana"
	syncsvc "github.com/brojonat/cahoots/service/sync"
)

func walletSyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Sync a wallet's swap history into the database",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "target",
				Aliases: []string{"n"},
				Usage:   "Target transaction count for a full fetch",
				Value:   200,
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Force a full fetch even when a cursor exists",
			},
			&cli.BoolFlag{
				Name:  "process-cached",
				Usage: "Re-fetch cache hits so their swaps are re-derived",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish saved swaps to NATS",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			address := c.Args().First()

			svc, closer, err := getSyncService(c)
			if err != nil {
				return err
			}
			defer closer()

			result, err := svc.SyncWallet(context.Background(), address, syncOptions(c))
			if err != nil {
				return fmt.Errorf("failed to sync wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(result)
			}

			printSyncResult(result)
			return nil
		},
	}
}

func walletSyncBatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync-batch",
		Usage:     "Sync several wallets with bounded concurrency",
		ArgsUsage: "<address> [<address> ...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "target",
				Aliases: []string{"n"},
				Usage:   "Target transaction count for a full fetch",
				Value:   200,
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Force a full fetch even when a cursor exists",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish saved swaps to NATS",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Number of wallets to sync in parallel",
				Value: 3,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("requires at least one wallet address")
			}
			addresses := c.Args().Slice()

			svc, closer, err := getSyncService(c)
			if err != nil {
				return err
			}
			defer closer()

			results, err := svc.SyncWallets(context.Background(), addresses, syncOptions(c), c.Int("concurrency"))

			if c.Bool("json") {
				if jsonErr := outputJSON(results); jsonErr != nil {
					return jsonErr
				}
				return err
			}

			for _, address := range addresses {
				if result, ok := results[address]; ok {
					printSyncResult(result)
				} else {
					fmt.Fprintf(os.Stderr, "%s: sync failed\n", address)
				}
			}
			return err
		},
	}
}

func walletListCommand() *cli.Command {
	cmd := listWalletsCommand()
	cmd.Name = "list"
	return cmd
}

func walletShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a wallet's cursor state and swap count",
		ArgsUsage: "<address>",
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

			wallet, err := store.GetWallet(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			count, err := store.CountSwapsByWallet(context.Background(), address)
			if err != nil {
				return fmt.Errorf("failed to count swaps: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"wallet":     wallet,
					"swap_count": count,
				})
			}

			fmt.Printf("Address:          %s\n", wallet.Address)
			fmt.Printf("Newest Signature: %s\n", formatOptionalString(wallet.NewestProcessedSignature))
			fmt.Printf("Newest Timestamp: %s\n", formatOptionalUnix(wallet.NewestProcessedTimestamp))
			fmt.Printf("First Timestamp:  %s\n", formatOptionalUnix(wallet.FirstProcessedTimestamp))
			fmt.Printf("Last Fetch:       %s\n", formatOptionalTime(wallet.LastSuccessfulFetch))
			fmt.Printf("Stored Swaps:     %d\n", count)
			return nil
		},
	}
}

func syncOptions(c *cli.Context) syncsvc.Options {
	return syncsvc.Options{
		TargetTxCount:           c.Int("target"),
		SmartFetch:              !c.Bool("full"),
		ProcessCachedSignatures: c.Bool("process-cached"),
	}
}

func printSyncResult(result *syncsvc.Result) {
	mode := "full"
	if result.Incremental {
		mode = "incremental"
	}
	fmt.Printf("%s: parsed=%d saved=%d duplicates=%d mode=%s\n",
		result.Address, result.Parsed, result.Saved, result.Duplicates, mode)
	if result.NewestSignature != "" {
		fmt.Printf("  cursor: %s @ %s\n",
			result.NewestSignature,
			time.Unix(result.NewestTimestamp, 0).UTC().Format(time.RFC3339))
	}
}

// getLogger builds a stderr logger so stdout stays clean for JSON output.
func getLogger(c *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// getSolanaClient builds the rate-limited Solana client from the global
// flags. A fresh registry keeps repeated CLI runs from fighting over
// collector registration.
func getSolanaClient(c *cli.Context) (*solana.Client, error) {
	rpcURL := c.String("rpc-url")
	apiKey := c.String("helius-api-key")
	if rpcURL == "" && apiKey != "" {
		rpcURL = fmt.Sprintf("https://mainnet.helius-rpc.com/?api-key=%s", apiKey)
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc-url is required (set SOLANA_RPC_URL or HELIUS_API_KEY)")
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	return solana.NewClient(
		solana.NewRPCClient(rpcURL),
		solana.ClientConfig{
			APIKey: apiKey,
			RPS:    c.Int("rps"),
		},
		m,
		getLogger(c),
	), nil
}

// getSyncService wires the store, ingestion engine, and (optionally) a NATS
// publisher into a sync service. The returned closer releases all of them.
func getSyncService(c *cli.Context) (*syncsvc.Service, func(), error) {
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

	var publisher natspkg.Publisher
	if c.Bool("publish") {
		p, err := natspkg.NewPublisher(c.String("nats-url"), logger)
		if err != nil {
			storeCloser()
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		publisher = p
	}

	engine := ingest.NewEngine(client, store, nil, logger)
	svc := syncsvc.NewService(store, engine, publisher, nil, logger)

	closer := func() {
		if publisher != nil {
			publisher.Close()
		}
		storeCloser()
	}
	return svc, closer, nil
}

// swapsToTransactionData projects stored swap rows into the shape the
// analysis package consumes.
func swapsToTransactionData(swaps []db.SwapAnalysisInput) []db.TransactionData {
	out := make([]db.TransactionData, 0, len(swaps))
	for _, s := range swaps {
		out = append(out, db.TransactionData{
			Mint:               s.Mint,
			Timestamp:          s.Timestamp,
			Direction:          s.Direction,
			Amount:             s.Amount,
			AssociatedSolValue: s.AssociatedSolValue,
		})
	}
	return out
}
