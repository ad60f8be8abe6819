package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "cahoots",
		Usage: "Solana wallet swap analysis CLI",
		Description: `A command-line tool for ingesting wallet swap history and finding
wallets that trade in cahoots.

Use this CLI to sync wallet swap history into the database, run correlation
and cluster analysis, rank token buyers, and manage Temporal sync schedules.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					initSchemaCommand(),
					listWalletsCommand(),
					listSwapsCommand(),
					cacheStatsCommand(),
				},
			},
			// Wallet sync and inspection commands
			{
				Name:  "wallet",
				Usage: "Wallet sync and inspection commands",
				Subcommands: []*cli.Command{
					walletSyncCommand(),
					walletSyncBatchCommand(),
					walletListCommand(),
					walletShowCommand(),
				},
			},
			// Correlation and PnL analysis commands
			{
				Name:  "analyze",
				Usage: "Correlation and PnL analysis commands",
				Subcommands: []*cli.Command{
					correlateCommand(),
					pnlCommand(),
				},
			},
			// First-buyer and top-trader ranking commands
			{
				Name:  "buyers",
				Usage: "Token buyer ranking commands",
				Subcommands: []*cli.Command{
					firstBuyersCommand(),
					topTradersCommand(),
				},
			},
			// Launch participant scanning commands
			{
				Name:  "participants",
				Usage: "Launch participant scanning commands",
				Subcommands: []*cli.Command{
					participantsScanCommand(),
				},
			},
			// NATS swap streaming commands
			{
				Name:  "nats",
				Usage: "NATS swap streaming commands",
				Subcommands: []*cli.Command{
					tailCommand(),
					inspectStreamCommand(),
				},
			},
			// Temporal schedule management commands
			{
				Name:  "temporal",
				Usage: "Temporal schedule management commands",
				Subcommands: []*cli.Command{
					createScheduleCommand(),
					listSchedulesCommand(),
					deleteScheduleCommand(),
				},
			},
			{
				Name:  "version",
				Usage: "Print version information",
				Action: func(c *cli.Context) error {
					fmt.Printf("cahoots %s (commit: %s, built: %s)\n", version, commit, date)
					return nil
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_ADDRESS"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "cahoots-sync",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC URL",
				EnvVars: []string{"SOLANA_RPC_URL"},
			},
			&cli.StringFlag{
				Name:    "helius-api-key",
				Usage:   "Helius API key",
				EnvVars: []string{"HELIUS_API_KEY"},
			},
			&cli.IntFlag{
				Name:    "rps",
				Usage:   "Outbound RPC rate limit (requests per second)",
				EnvVars: []string{"RPC_RATE_LIMIT_RPS"},
				Value:   10,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging to stderr",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
