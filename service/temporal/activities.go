package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/cahoots/service/metrics"
	natspkg "github.com/brojonat/cahoots/service/nats"
	syncsvc "github.com/brojonat/cahoots/service/sync"
)

// SyncWalletInput contains the input parameters for syncing a wallet.
type SyncWalletInput struct {
	Address                 string `json:"address"`
	TargetTxCount           int    `json:"target_tx_count,omitempty"`
	SmartFetch              bool   `json:"smart_fetch"`
	ProcessCachedSignatures bool   `json:"process_cached_signatures,omitempty"`
}

// SyncWalletResult contains the result of syncing a wallet.
type SyncWalletResult struct {
	Address         string    `json:"address"`
	Parsed          int       `json:"parsed"`
	Saved           int       `json:"saved"`
	Duplicates      int       `json:"duplicates"`
	NewestSignature string    `json:"newest_signature,omitempty"`
	Incremental     bool      `json:"incremental"`
	SyncTime        time.Time `json:"sync_time"`
}

// PublishSyncResultInput contains parameters for the PublishSyncResult activity.
type PublishSyncResultInput struct {
	Result SyncWalletResult `json:"result"`
}

// WalletSyncer defines the sync operation needed by activities.
// This allows for easy mocking in tests.
type WalletSyncer interface {
	SyncWallet(ctx context.Context, address string, opts syncsvc.Options) (*syncsvc.Result, error)
}

// ResultPublisher defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type ResultPublisher interface {
	PublishSyncResult(ctx context.Context, event *natspkg.SyncEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	syncer    WalletSyncer
	publisher ResultPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If m is nil, no metrics will be recorded; if publisher is nil, sync
// summaries are not published.
func NewActivities(syncer WalletSyncer, publisher ResultPublisher, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		syncer:    syncer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// SyncWallet runs one wallet sync. Retryable by Temporal: the ingestion
// cache and the swap uniqueness key make repeated runs idempotent.
func (a *Activities) SyncWallet(ctx context.Context, input SyncWalletInput) (*SyncWalletResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("SyncWallet", time.Since(start).Seconds())
		}
	}()

	a.logger.DebugContext(ctx, "syncing wallet",
		"address", input.Address,
		"smart_fetch", input.SmartFetch,
	)

	res, err := a.syncer.SyncWallet(ctx, input.Address, syncsvc.Options{
		TargetTxCount:           input.TargetTxCount,
		SmartFetch:              input.SmartFetch,
		ProcessCachedSignatures: input.ProcessCachedSignatures,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "wallet sync failed",
			"address", input.Address,
			"error", err,
		)
		return nil, fmt.Errorf("sync wallet %s: %w", input.Address, err)
	}

	a.logger.InfoContext(ctx, "wallet sync activity complete",
		"address", input.Address,
		"parsed", res.Parsed,
		"saved", res.Saved,
		"duplicates", res.Duplicates,
	)

	return &SyncWalletResult{
		Address:         res.Address,
		Parsed:          res.Parsed,
		Saved:           res.Saved,
		Duplicates:      res.Duplicates,
		NewestSignature: res.NewestSignature,
		Incremental:     res.Incremental,
		SyncTime:        time.Now().UTC(),
	}, nil
}

// PublishSyncResult publishes a sync summary to NATS. Best effort: the
// workflow invokes it with a single attempt and ignores failure.
func (a *Activities) PublishSyncResult(ctx context.Context, input PublishSyncResultInput) error {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration("PublishSyncResult", time.Since(start).Seconds())
		}
	}()

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping sync result publish",
			"address", input.Result.Address)
		return nil
	}

	event := &natspkg.SyncEvent{
		WalletAddress: input.Result.Address,
		Signatures:    input.Result.Parsed,
		Saved:         input.Result.Saved,
		Duplicates:    input.Result.Duplicates,
		Incremental:   input.Result.Incremental,
		PublishedAt:   time.Now().UTC(),
	}
	if err := a.publisher.PublishSyncResult(ctx, event); err != nil {
		return fmt.Errorf("publish sync result for %s: %w", input.Result.Address, err)
	}

	a.logger.DebugContext(ctx, "published sync result",
		"address", input.Result.Address,
		"saved", input.Result.Saved,
	)
	return nil
}
