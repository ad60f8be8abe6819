package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/cahoots/service/config"
	"github.com/brojonat/cahoots/service/participants"
)

func participantsScanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Find wallets that bought a token just before a cutoff",
		ArgsUsage: "<mint>",
		Description: `Scan a token's (or pool's) transaction history for wallets that first
received the token inside a window before the cutoff, enrich each with
wallet stats, and append the rows to a JSONL or CSV file.

Rows are deduplicated across runs via a sidecar manifest next to the
output file.

Example:
  cahoots participants scan <mint> --cutoff 2024-06-01T12:00:00Z --output csv --outfile participants.csv`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "cutoff",
				Usage:    "Upper bound of the buy window (RFC3339 or unix seconds)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Page this address instead of the mint (bonding curve or pool)",
			},
			&cli.Int64Flag{
				Name:  "window",
				Usage: "Buy window length in seconds before the cutoff",
				Value: 900,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of buyers to report",
				Value: 50,
			},
			&cli.IntFlag{
				Name:  "tx-count-limit",
				Usage: "Cap on transactions scanned per wallet during enrichment",
				Value: 300,
			},
			&cli.IntFlag{
				Name:  "candidate-window",
				Usage: "Cap on candidate signatures collected before the cutoff",
				Value: 3000,
			},
			&cli.StringFlag{
				Name:  "creation-scan",
				Usage: "Wallet creation scan mode: none or full",
				Value: "none",
			},
			&cli.IntFlag{
				Name:  "creation-skip-over",
				Usage: "Skip creation scan for wallets with more token accounts than this",
				Value: 1000,
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Output format: jsonl, csv, or none (print to stdout)",
				Value: "jsonl",
			},
			&cli.StringFlag{
				Name:  "outfile",
				Usage: "Output file path",
				Value: "participants.jsonl",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: token mint")
			}
			mint := c.Args().First()

			cutoff, err := parseTimeArg(c.String("cutoff"))
			if err != nil {
				return fmt.Errorf("invalid --cutoff: %w", err)
			}

			client, err := getSolanaClient(c)
			if err != nil {
				return err
			}

			cfg := config.ParticipantsConfig{
				WindowSeconds:                   c.Int64("window"),
				LimitBuyers:                     c.Int("limit"),
				TxCountLimit:                    c.Int("tx-count-limit"),
				CandidateWindow:                 c.Int("candidate-window"),
				CreationScan:                    c.String("creation-scan"),
				CreationSkipIfTokenAccountsOver: c.Int("creation-skip-over"),
			}

			svc := participants.NewService(client, cfg, getLogger(c))
			rows, err := svc.Scan(context.Background(), participants.Params{
				Mint:     mint,
				Source:   c.String("source"),
				CutoffTs: cutoff,
			})
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			format := c.String("output")
			if format == "none" {
				return outputJSON(rows)
			}

			writer, err := participants.NewWriter(format, c.String("outfile"))
			if err != nil {
				return err
			}
			written, err := writer.Append(rows)
			if err != nil {
				return fmt.Errorf("failed to write participants: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Found %d participants, appended %d new rows to %s\n",
				len(rows), written, c.String("outfile"))
			return nil
		},
	}
}
