package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/cahoots/service/nats"
)

// tailCommand streams swap events from the JetStream stream.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Stream swap events for a wallet (or all wallets)",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to swap events published to NATS JetStream.

Without an address this tails every wallet's swaps (swaps.>). With an
address it tails only that wallet's subject.

jq filters can narrow the stream; all filters must evaluate to true:

  cahoots nats tail --jq '.direction == "in"' --jq '.associated_sol_value > 1'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "sync-events",
				Usage: "Tail sync summaries (swaps.sync.*) instead of swaps",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
				Aliases: []string{"jq"},
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")
			jqFilters := c.StringSlice("must-jq")

			subject := "swaps.>"
			if c.Bool("sync-events") {
				subject = "swaps.sync.>"
				if c.NArg() == 1 {
					subject = fmt.Sprintf("swaps.sync.%s", c.Args().First())
				}
			} else if c.NArg() == 1 {
				subject = fmt.Sprintf("swaps.%s", c.Args().First())
			}

			// Compile jq filters up front so bad expressions fail fast.
			compiledJQFilters := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiledJQFilters[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			})
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Subscribed to %s on %s\n", subject, natsURL)
				fmt.Fprintf(os.Stderr, "Waiting for events... (Ctrl-C to exit)\n\n")
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			msgChan := make(chan jetstream.Msg, 10)
			go func() {
				_, _ = cons.Consume(func(msg jetstream.Msg) {
					msgChan <- msg
				})
			}()

			count := 0
			for {
				select {
				case msg := <-msgChan:
					// Decode into a plain map so jq filters work on any
					// event shape carried by the stream.
					var event map[string]interface{}
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
						msg.Ack()
						continue
					}

					if !matchesFilters(event, compiledJQFilters) {
						msg.Ack()
						continue
					}

					count++
					if jsonOutput {
						data, _ := json.Marshal(event)
						fmt.Println(string(data))
					} else {
						printEvent(msg.Subject(), event, count)
					}
					msg.Ack()

				case <-sigChan:
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\nReceived %d events\n", count)
					}
					return nil
				}
			}
		},
	}
}

// matchesFilters runs every compiled jq filter against the event. All must
// produce a truthy first result.
func matchesFilters(event map[string]interface{}, filters []*gojq.Code) bool {
	for _, code := range filters {
		iter := code.Run(event)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func printEvent(subject string, event map[string]interface{}, count int) {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	fmt.Printf("Event #%d (%s)\n", count, subject)

	if strings.HasPrefix(subject, "swaps.sync.") {
		fmt.Printf("Wallet:     %v\n", event["wallet_address"])
		fmt.Printf("Saved:      %v\n", event["saved"])
		fmt.Printf("Duplicates: %v\n", event["duplicates"])
		fmt.Printf("Mode:       %s\n", syncMode(event))
	} else {
		fmt.Printf("Wallet:     %v\n", event["wallet_address"])
		fmt.Printf("Signature:  %v\n", event["signature"])
		fmt.Printf("Mint:       %v\n", event["mint"])
		fmt.Printf("Direction:  %v\n", event["direction"])
		fmt.Printf("Amount:     %v\n", event["amount"])
		fmt.Printf("SOL Value:  %v\n", event["associated_sol_value"])
	}
	fmt.Printf("Published:  %v\n\n", event["published_at"])
}

func syncMode(event map[string]interface{}) string {
	if inc, ok := event["incremental"].(bool); ok && inc {
		return "incremental"
	}
	return "full"
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the SWAPS JetStream stream",
		Description: `Show information about the JetStream stream including message count,
consumers, storage usage, and stream configuration.`,
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
