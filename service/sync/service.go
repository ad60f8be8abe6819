// Package sync orchestrates wallet synchronization: it drives the ingestion
// engine, maps parsed transactions into swap records, persists them, and
// advances the wallet cursor so the next run can fetch incrementally.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brojonat/cahoots/service/db"
	"github.com/brojonat/cahoots/service/ingest"
	"github.com/brojonat/cahoots/service/metrics"
	"github.com/brojonat/cahoots/service/nats"
	"github.com/brojonat/cahoots/service/solana"
)

// WalletStore is the persistence surface the sync service needs.
type WalletStore interface {
	GetOrCreateWallet(ctx context.Context, address string) (*db.Wallet, error)
	UpdateWalletCursor(ctx context.Context, params db.UpdateWalletCursorParams) (*db.Wallet, error)
	TouchWalletFetchTime(ctx context.Context, address string, fetchedAt time.Time) error
	SaveSwaps(ctx context.Context, records []db.SwapAnalysisInput) (db.SaveSwapsResult, error)
}

// Ingester runs the transaction ingestion pipeline for one address.
type Ingester interface {
	Ingest(ctx context.Context, address string, cfg ingest.Config, onBatch ingest.OnBatch, onProgress ingest.OnProgress) ([]solana.ParsedTransaction, error)
}

// Options controls one sync run.
type Options struct {
	// TargetTxCount sizes the full-fetch signature cap (default 200). The
	// cap is max(ceil(target*1.5), 300) to leave room for failed and
	// irrelevant transactions.
	TargetTxCount int
	// SmartFetch enables incremental fetching from the stored cursor.
	SmartFetch bool
	// ProcessCachedSignatures re-fetches cache hits so their swaps are
	// re-derived and re-saved (idempotent on the uniqueness key).
	ProcessCachedSignatures bool
	// Ingest overrides for the underlying engine (concurrency, diagnostics).
	Ingest ingest.Config
}

// Result summarizes one wallet's sync run.
type Result struct {
	Address         string `json:"address"`
	Signatures      int    `json:"signatures"`
	Parsed          int    `json:"parsed"`
	Saved           int    `json:"saved"`
	Duplicates      int    `json:"duplicates"`
	NewestSignature string `json:"newest_signature,omitempty"`
	NewestTimestamp int64  `json:"newest_timestamp,omitempty"`
	Incremental     bool   `json:"incremental"`

	earliestTs int64
}

// Service syncs wallets' swap history into the store.
type Service struct {
	store     WalletStore
	engine    Ingester
	publisher nats.Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewService creates a sync service. publisher and m may be nil.
func NewService(store WalletStore, engine Ingester, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		engine:    engine,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
	}
}

// SyncWallet ingests one wallet's transactions, derives and saves swap
// records, and advances the cursor. Swap publishing is best effort.
func (s *Service) SyncWallet(ctx context.Context, address string, opts Options) (*Result, error) {
	start := time.Now()
	wallet, err := s.store.GetOrCreateWallet(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("load wallet %s: %w", address, err)
	}

	cfg := opts.Ingest
	cfg.ProcessCachedSignatures = opts.ProcessCachedSignatures

	incremental := opts.SmartFetch &&
		wallet.NewestProcessedSignature != nil && *wallet.NewestProcessedSignature != ""
	if incremental {
		cfg.StopAtSignature = *wallet.NewestProcessedSignature
		cfg.MaxSignatures = 0
	} else {
		target := opts.TargetTxCount
		if target <= 0 {
			target = 200
		}
		limit := int(math.Ceil(float64(target) * 1.5))
		if limit < 300 {
			limit = 300
		}
		cfg.MaxSignatures = limit
	}

	res := &Result{Address: address, Incremental: incremental}
	var mu sync.Mutex

	onBatch := func(ctx context.Context, txs []solana.ParsedTransaction) error {
		records := solana.MapToSwapInputs(address, txs)

		mu.Lock()
		res.Parsed += len(txs)
		for _, tx := range txs {
			if tx.Timestamp > res.NewestTimestamp {
				res.NewestTimestamp = tx.Timestamp
				res.NewestSignature = tx.Signature
			}
			if res.earliestTs == 0 || tx.Timestamp < res.earliestTs {
				res.earliestTs = tx.Timestamp
			}
		}
		mu.Unlock()

		if len(records) == 0 {
			return nil
		}
		saveRes, err := s.store.SaveSwaps(ctx, records)
		if err != nil {
			return fmt.Errorf("save swaps for %s: %w", address, err)
		}
		mu.Lock()
		res.Saved += saveRes.Saved
		res.Duplicates += saveRes.Duplicates
		mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordSwapsSaved(saveRes.Saved, saveRes.Duplicates)
		}

		s.publishSwaps(ctx, records)
		return nil
	}

	if _, err := s.engine.Ingest(ctx, address, cfg, onBatch, nil); err != nil {
		if s.metrics != nil {
			s.metrics.RecordSyncRun("error", time.Since(start).Seconds())
		}
		return nil, fmt.Errorf("ingest %s: %w", address, err)
	}

	now := time.Now().UTC()
	if res.NewestSignature != "" {
		params := db.UpdateWalletCursorParams{
			Address:                  address,
			NewestProcessedSignature: res.NewestSignature,
			NewestProcessedTimestamp: res.NewestTimestamp,
			LastSuccessfulFetch:      now,
		}
		if wallet.FirstProcessedTimestamp == nil && res.earliestTs != 0 {
			first := res.earliestTs
			params.FirstProcessedTimestamp = &first
		}
		if _, err := s.store.UpdateWalletCursor(ctx, params); err != nil {
			return nil, fmt.Errorf("update cursor for %s: %w", address, err)
		}
	} else if err := s.store.TouchWalletFetchTime(ctx, address, now); err != nil {
		return nil, fmt.Errorf("touch wallet %s: %w", address, err)
	}

	res.Signatures = res.Parsed
	if s.metrics != nil {
		s.metrics.RecordSyncRun("ok", time.Since(start).Seconds())
	}
	s.logger.InfoContext(ctx, "wallet sync complete",
		"address", address,
		"parsed", res.Parsed,
		"saved", res.Saved,
		"duplicates", res.Duplicates,
		"incremental", incremental,
		"duration", time.Since(start).String(),
	)
	return res, nil
}

// publishSwaps forwards saved records to NATS. Failures are logged, never
// fatal; the records are already persisted.
func (s *Service) publishSwaps(ctx context.Context, records []db.SwapAnalysisInput) {
	if s.publisher == nil {
		return
	}
	events := make([]*nats.SwapEvent, 0, len(records))
	for i := range records {
		events = append(events, nats.FromSwapInput(records[i]))
	}
	if err := s.publisher.PublishSwapBatch(ctx, events); err != nil {
		s.logger.WarnContext(ctx, "failed to publish swap batch", "error", err)
	}
}

// SyncWallets syncs several wallets with bounded concurrency (default 3).
// Every wallet is attempted; the first error is returned alongside the
// per-wallet results that succeeded.
func (s *Service) SyncWallets(ctx context.Context, addresses []string, opts Options, concurrency int) (map[string]*Result, error) {
	if concurrency <= 0 {
		concurrency = 3
	}
	var (
		mu      sync.Mutex
		results = make(map[string]*Result, len(addresses))
	)
	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	for _, address := range addresses {
		g.Go(func() error {
			res, err := s.SyncWallet(ctx, address, opts)
			if err != nil {
				s.logger.ErrorContext(ctx, "wallet sync failed",
					"address", address,
					"error", err,
				)
				return err
			}
			mu.Lock()
			results[address] = res
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
