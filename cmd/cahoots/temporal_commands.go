package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/cahoots/service/temporal"
)

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create-schedule",
		Usage:     "Create a periodic sync schedule for a wallet",
		Aliases:   []string{"create"},
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Usage:   "How often to sync the wallet",
				Value:   15 * time.Minute,
			},
			&cli.BoolFlag{
				Name:  "upsert",
				Usage: "Update the interval if the schedule already exists",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			address := c.Args().First()

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			interval := c.Duration("interval")
			if c.Bool("upsert") {
				err = tc.UpsertWalletSchedule(context.Background(), address, interval)
			} else {
				err = tc.CreateWalletSchedule(context.Background(), address, interval)
			}
			if err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Schedule created for %s (every %s)\n", address, interval)
			return nil
		},
	}
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-schedules",
		Usage:   "List wallet sync schedules",
		Aliases: []string{"list"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ids, err := tc.ListWalletSchedules(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(ids)
			}

			for _, id := range ids {
				fmt.Println(id)
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d schedules\n", len(ids))
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-schedule",
		Usage:     "Delete a wallet's sync schedule",
		Aliases:   []string{"delete"},
		ArgsUsage: "<address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			address := c.Args().First()

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteWalletSchedule(context.Background(), address); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Schedule deleted for %s\n", address)
			return nil
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		getLogger(c),
	)
}
