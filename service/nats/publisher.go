package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing swap events to NATS.
type Publisher interface {
	// PublishSwap publishes a single swap event to JetStream.
	// The event is published to the subject "swaps.{wallet_address}".
	PublishSwap(ctx context.Context, event *SwapEvent) error

	// PublishSwapBatch publishes multiple swap events.
	// This is more efficient than calling PublishSwap multiple times.
	PublishSwapBatch(ctx context.Context, events []*SwapEvent) error

	// PublishSyncResult publishes a wallet sync summary to the subject
	// "swaps.sync.{wallet_address}".
	PublishSyncResult(ctx context.Context, event *SyncEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes swap events to NATS JetStream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for swaps.
	StreamName = "SWAPS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "swaps.>"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("cahoots-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Swap events from synced Solana wallets",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishSwap publishes a single swap event.
func (p *JetStreamPublisher) PublishSwap(ctx context.Context, event *SwapEvent) error {
	subject := fmt.Sprintf("swaps.%s", event.WalletAddress)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal swap event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish swap: %w", err)
	}

	p.logger.Debug("published swap event",
		"subject", subject,
		"signature", event.Signature,
		"wallet", event.WalletAddress,
		"mint", event.Mint,
	)

	return nil
}

// PublishSwapBatch publishes multiple swap events efficiently.
func (p *JetStreamPublisher) PublishSwapBatch(ctx context.Context, events []*SwapEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Publish each event (JetStream handles batching internally)
	for _, event := range events {
		if err := p.PublishSwap(ctx, event); err != nil {
			// Log error but continue with other events
			p.logger.Error("failed to publish swap in batch",
				"signature", event.Signature,
				"wallet", event.WalletAddress,
				"error", err,
			)
			continue
		}
	}

	p.logger.Debug("published swap batch",
		"count", len(events),
	)

	return nil
}

// PublishSyncResult publishes a wallet sync summary.
func (p *JetStreamPublisher) PublishSyncResult(ctx context.Context, event *SyncEvent) error {
	subject := fmt.Sprintf("swaps.sync.%s", event.WalletAddress)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish sync result: %w", err)
	}

	p.logger.Debug("published sync result",
		"subject", subject,
		"wallet", event.WalletAddress,
		"saved", event.Saved,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
