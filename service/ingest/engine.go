// Package ingest implements the transaction ingestion engine: signature
// discovery over JSON-RPC, a cache diff, parallel detail fetches against the
// indexer, shortfall classification with a retry pass, and a final
// reconciliation that verifies the cache covers every non-failed signature.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brojonat/cahoots/service/db"
	"github.com/brojonat/cahoots/service/metrics"
	"github.com/brojonat/cahoots/service/solana"
	"golang.org/x/sync/errgroup"
)

// RPCClient is the outbound API surface the engine needs.
type RPCClient interface {
	GetSignaturesPage(ctx context.Context, address string, limit int, before string) ([]solana.SignatureInfo, error)
	GetTransactionsBatch(ctx context.Context, signatures []string) ([]solana.ParsedTransaction, error)
}

// CacheStore is the signature cache the engine reads and writes.
type CacheStore interface {
	GetCachedSignatures(ctx context.Context, signatures []string) (map[string]db.CacheEntry, error)
	PutCachedSignatures(ctx context.Context, entries []db.CacheEntry) error
}

// OnBatch receives parsed transactions as soon as a batch resolves. An error
// aborts the whole ingestion.
type OnBatch func(ctx context.Context, txs []solana.ParsedTransaction) error

// OnProgress receives coarse completion percentages (0-100).
type OnProgress func(percent int)

// Config controls one ingestion run. Zero values mean defaults.
type Config struct {
	// ParseBatchLimit is the size of each detail-fetch batch (default and
	// max 100).
	ParseBatchLimit int
	// MaxSignatures caps the total signatures considered, applied in RPC
	// order (newest first). Zero means unlimited.
	MaxSignatures int
	// StopAtSignature stops signature discovery when seen (incremental sync
	// cursor). The signature itself is excluded.
	StopAtSignature string
	// NewestProcessedTimestamp is a strict lower bound on buffered results.
	// Ignored when StopAtSignature is set.
	NewestProcessedTimestamp int64
	// UntilTimestamp is an inclusive upper bound on buffered results.
	UntilTimestamp int64
	// InnerConcurrency is the number of parallel detail-fetch calls per
	// chunk (default 4, clamped to 1..8).
	InnerConcurrency int
	// ProcessCachedSignatures re-fetches cache hits too, so downstream
	// consumers can reprocess them.
	ProcessCachedSignatures bool
	// DisableLegitMissingRetry skips the grace-period retry of signatures
	// the indexer did not return despite RPC reporting them successful.
	DisableLegitMissingRetry bool
	// DisableReconcile skips the final cache-coverage verification.
	DisableReconcile bool
	// IndexingWait is the grace period before retrying legit-missing
	// signatures (default 1500ms).
	IndexingWait time.Duration
	// MicroBatchSize is the batch size for rescue fetches (default 10).
	MicroBatchSize int
	// SignaturePageLimit is the page size for signature discovery (default
	// and max 1000).
	SignaturePageLimit int
	// DebugCapCompare writes diagnostics contrasting the RPC-order cap with
	// a blockTime-sorted cap. RPC order remains the contract either way.
	DebugCapCompare bool
	// DiagnosticsDir is where diagnostics files land (default "diagnostics").
	DiagnosticsDir string
}

func (c *Config) normalize() {
	if c.ParseBatchLimit <= 0 || c.ParseBatchLimit > solana.MaxTransactionsBatch {
		c.ParseBatchLimit = solana.MaxTransactionsBatch
	}
	if c.InnerConcurrency <= 0 {
		c.InnerConcurrency = 4
	}
	if c.InnerConcurrency > 8 {
		c.InnerConcurrency = 8
	}
	if c.IndexingWait <= 0 {
		c.IndexingWait = 1500 * time.Millisecond
	}
	if c.MicroBatchSize <= 0 {
		c.MicroBatchSize = 10
	}
	if c.SignaturePageLimit <= 0 || c.SignaturePageLimit > solana.MaxSignaturePageLimit {
		c.SignaturePageLimit = solana.MaxSignaturePageLimit
	}
	if c.DiagnosticsDir == "" {
		c.DiagnosticsDir = "diagnostics"
	}
}

// Engine orchestrates one wallet's transaction ingestion.
type Engine struct {
	rpc     RPCClient
	cache   CacheStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine creates an ingestion engine. If m is nil, no metrics are
// recorded.
func NewEngine(rpc RPCClient, cache CacheStore, m *metrics.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rpc:     rpc,
		cache:   cache,
		logger:  logger,
		metrics: m,
	}
}

// Ingest runs the full pipeline for one address. When onBatch is non-nil the
// engine streams every resolved batch through it and returns a nil slice;
// otherwise it buffers, filters, and sorts the results.
//
// Cancelling ctx stops dispatch of further batches; inflight batches run to
// completion and their persistence stands.
func (e *Engine) Ingest(
	ctx context.Context,
	address string,
	cfg Config,
	onBatch OnBatch,
	onProgress OnProgress,
) ([]solana.ParsedTransaction, error) {
	cfg.normalize()

	r := &run{
		engine:       e,
		address:      address,
		cfg:          cfg,
		onBatch:      onBatch,
		onProgress:   onProgress,
		streaming:    onBatch != nil,
		failedSigs:   make(map[string]bool),
		legitMissing: make(map[string]bool),
	}

	// Phase 1: signature discovery.
	sigs, err := e.discoverSignatures(ctx, address, cfg)
	if err != nil {
		if solana.IsNonRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("signature discovery for %s: %w", address, err)
		}
		// Retryable exhaustion: no partial progress, empty result.
		e.logger.WarnContext(ctx, "signature discovery exhausted retries, returning empty",
			"address", address,
			"error", err,
		)
		return nil, nil
	}
	if e.metrics != nil {
		e.metrics.RecordSignaturesDiscovered(len(sigs))
	}
	if len(sigs) == 0 {
		e.logger.InfoContext(ctx, "no signatures found", "address", address)
		r.reportProgress(100)
		return nil, nil
	}

	// Cap application, in RPC order (newest first). BlockTime can be null
	// for some entries, so RPC order is the only cap that always works; the
	// cap-compare diagnostic exists to audit the difference.
	if cfg.DebugCapCompare {
		r.writeCapCompare(sigs)
	}
	if cfg.MaxSignatures > 0 && len(sigs) > cfg.MaxSignatures {
		e.logger.InfoContext(ctx, "capping signatures",
			"address", address,
			"discovered", len(sigs),
			"cap", cfg.MaxSignatures,
		)
		sigs = sigs[:cfg.MaxSignatures]
	}

	for _, s := range sigs {
		if s.Failed() {
			r.failedSigs[s.Signature] = true
		}
	}
	r.allSigs = sigs

	// Cache diff. Failed signatures are never fetched.
	var candidates []string
	for _, s := range sigs {
		if !s.Failed() {
			candidates = append(candidates, s.Signature)
		}
	}
	cached, err := e.cache.GetCachedSignatures(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("cache lookup for %s: %w", address, err)
	}
	var toFetch, cachedSigs []string
	for _, sig := range candidates {
		if _, ok := cached[sig]; ok {
			cachedSigs = append(cachedSigs, sig)
		} else {
			toFetch = append(toFetch, sig)
		}
	}
	if e.metrics != nil {
		e.metrics.RecordCacheLookup(len(cachedSigs), len(toFetch))
	}
	e.logger.InfoContext(ctx, "cache diff",
		"address", address,
		"total", len(sigs),
		"failed", len(r.failedSigs),
		"cached", len(cachedSigs),
		"to_fetch", len(toFetch),
	)

	r.totalWork = len(toFetch)
	if cfg.ProcessCachedSignatures {
		r.totalWork += len(cachedSigs)
	}
	if r.totalWork == 0 {
		r.reportProgress(100)
		return nil, nil
	}

	// Phase 2: parallel detail fetch of cache misses.
	if err := r.fetchInChunks(ctx, toFetch, cfg.ParseBatchLimit); err != nil {
		return nil, err
	}

	// Phase 2b: optional reprocessing of cache hits.
	if cfg.ProcessCachedSignatures && len(cachedSigs) > 0 {
		if err := r.fetchInChunks(ctx, cachedSigs, cfg.ParseBatchLimit); err != nil {
			return nil, err
		}
	}

	// Phase 2c: retry legit-missing after the indexing grace period.
	if !cfg.DisableLegitMissingRetry && len(r.legitMissing) > 0 && ctx.Err() == nil {
		if err := r.retryLegitMissing(ctx); err != nil {
			return nil, err
		}
	}

	// Phase 3: reconciliation.
	if !cfg.DisableReconcile && ctx.Err() == nil {
		if err := r.reconcile(ctx); err != nil {
			return nil, err
		}
	}

	r.reportProgress(100)

	if r.streaming {
		return nil, nil
	}
	return r.finalize(), nil
}

// discoverSignatures pages getSignaturesForAddress newest-first until a short
// page, the stop cursor, or the signature cap.
func (e *Engine) discoverSignatures(ctx context.Context, address string, cfg Config) ([]solana.SignatureInfo, error) {
	var all []solana.SignatureInfo
	before := ""
	for {
		page, err := e.rpc.GetSignaturesPage(ctx, address, cfg.SignaturePageLimit, before)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		stop := false
		for _, s := range page {
			if cfg.StopAtSignature != "" && s.Signature == cfg.StopAtSignature {
				stop = true
				break
			}
			all = append(all, s)
			if cfg.MaxSignatures > 0 && len(all) >= cfg.MaxSignatures {
				stop = true
				break
			}
		}
		e.logger.DebugContext(ctx, "signature page",
			"address", address,
			"page_size", len(page),
			"collected", len(all),
		)
		if stop || len(page) < cfg.SignaturePageLimit {
			break
		}
		before = page[len(page)-1].Signature
	}
	return all, nil
}

// run carries the mutable state of a single ingestion.
type run struct {
	engine     *Engine
	address    string
	cfg        Config
	onBatch    OnBatch
	onProgress OnProgress
	streaming  bool

	allSigs    []solana.SignatureInfo
	failedSigs map[string]bool

	mu            sync.Mutex
	results       []solana.ParsedTransaction
	legitMissing  map[string]bool
	failedMissing int

	processed    atomic.Int64
	totalWork    int
	lastQuarter  atomic.Int64
	abortRequest atomic.Bool
}

// fetchInChunks processes signatures in outer chunks of
// ParseBatchLimit x InnerConcurrency, with up to InnerConcurrency concurrent
// batch fetches inside each chunk. Batch fetch failures are settled, not
// propagated; only onBatch errors abort.
func (r *run) fetchInChunks(ctx context.Context, sigs []string, batchSize int) error {
	chunkSize := batchSize * r.cfg.InnerConcurrency
	for start := 0; start < len(sigs); start += chunkSize {
		// Cancellation stops dispatch between chunks; inflight batches of
		// the previous chunk have already completed.
		if ctx.Err() != nil {
			r.engine.logger.InfoContext(ctx, "ingestion cancelled, stopping dispatch",
				"address", r.address,
				"dispatched", start,
				"remaining", len(sigs)-start,
			)
			return nil
		}
		if r.abortRequest.Load() {
			return nil
		}

		end := min(start+chunkSize, len(sigs))
		chunk := sigs[start:end]

		g := new(errgroup.Group)
		g.SetLimit(r.cfg.InnerConcurrency)
		for bs := 0; bs < len(chunk); bs += batchSize {
			be := min(bs+batchSize, len(chunk))
			batch := chunk[bs:be]
			g.Go(func() error {
				return r.processBatch(ctx, batch)
			})
		}
		if err := g.Wait(); err != nil {
			r.abortRequest.Store(true)
			return err
		}
	}
	return nil
}

// processBatch fetches one batch of parsed transactions, streams it, persists
// the cache entries, and classifies the shortfall. The fetch and its
// side-effects run on a non-cancellable context so work already admitted
// completes even when the caller cancels.
func (r *run) processBatch(ctx context.Context, sigs []string) error {
	e := r.engine
	defer r.advanceProgress(len(sigs))

	fetchCtx := context.WithoutCancel(ctx)
	txs, err := e.rpc.GetTransactionsBatch(fetchCtx, sigs)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordIngestBatch("failed")
		}
		e.logger.WarnContext(ctx, "batch fetch failed, signatures abandoned for this pass",
			"address", r.address,
			"batch_size", len(sigs),
			"error", err,
		)
		r.mu.Lock()
		r.failedMissing += len(sigs)
		r.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RecordMissingSignatures("failed", len(sigs))
		}
		return nil
	}
	if e.metrics != nil {
		e.metrics.RecordIngestBatch("ok")
	}

	if len(txs) > 0 {
		// Stream first, then persist, so a consumer failure never leaves
		// the cache claiming work the consumer did not see.
		if r.onBatch != nil {
			if err := r.onBatch(fetchCtx, txs); err != nil {
				return fmt.Errorf("batch consumer: %w", err)
			}
		}
		now := time.Now().UTC()
		entries := make([]db.CacheEntry, 0, len(txs))
		for i := range txs {
			ts := txs[i].Timestamp
			entries = append(entries, db.CacheEntry{
				Signature: txs[i].Signature,
				Timestamp: &ts,
				FetchedAt: now,
			})
		}
		if err := e.cache.PutCachedSignatures(fetchCtx, entries); err != nil {
			// Reconciliation re-puts on its rescue pass.
			e.logger.WarnContext(ctx, "cache put failed",
				"address", r.address,
				"count", len(entries),
				"error", err,
			)
		} else if e.metrics != nil {
			e.metrics.RecordCacheEntriesUpserted(len(entries))
		}

		if !r.streaming {
			r.mu.Lock()
			r.results = append(r.results, txs...)
			r.mu.Unlock()
		}
	}

	// Classify the shortfall: the indexer may return fewer transactions
	// than requested. RPC already told us which signatures failed on chain;
	// everything else is legitimately missing and a rescue candidate.
	received := make(map[string]bool, len(txs))
	for i := range txs {
		received[txs[i].Signature] = true
	}
	var legit, failed int
	r.mu.Lock()
	for _, sig := range sigs {
		if received[sig] {
			delete(r.legitMissing, sig)
			continue
		}
		if r.failedSigs[sig] {
			failed++
			r.failedMissing++
		} else {
			legit++
			r.legitMissing[sig] = true
		}
	}
	r.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordMissingSignatures("legit", legit)
		e.metrics.RecordMissingSignatures("failed", failed)
	}
	if legit > 0 {
		e.logger.DebugContext(ctx, "indexer shortfall",
			"address", r.address,
			"legit_missing", legit,
			"failed_missing", failed,
		)
	}
	return nil
}

// retryLegitMissing waits out the indexer's eventual consistency, then
// re-requests legit-missing signatures in micro-batches.
func (r *run) retryLegitMissing(ctx context.Context) error {
	e := r.engine
	missing := r.snapshotLegitMissing()
	e.logger.InfoContext(ctx, "retrying legit-missing signatures",
		"address", r.address,
		"count", len(missing),
		"wait", r.cfg.IndexingWait,
	)

	select {
	case <-time.After(r.cfg.IndexingWait):
	case <-ctx.Done():
		return nil
	}

	return r.fetchInChunks(ctx, missing, r.cfg.MicroBatchSize)
}

// reconcile verifies the cache now covers every non-failed RPC signature,
// runs one final rescue pass on any gap, and writes persistent residue to
// the diagnostics directory. Reconciliation failures are never fatal.
func (r *run) reconcile(ctx context.Context) error {
	e := r.engine

	var nonFailed []string
	for _, s := range r.allSigs {
		if !s.Failed() {
			nonFailed = append(nonFailed, s.Signature)
		}
	}
	if len(nonFailed) == 0 {
		return nil
	}

	cached, err := e.cache.GetCachedSignatures(ctx, nonFailed)
	if err != nil {
		e.logger.WarnContext(ctx, "reconcile cache lookup failed",
			"address", r.address,
			"error", err,
		)
		return nil
	}
	var gaps []string
	for _, sig := range nonFailed {
		if _, ok := cached[sig]; !ok {
			gaps = append(gaps, sig)
		}
	}
	if len(gaps) > 0 {
		e.logger.WarnContext(ctx, "reconciliation found cache gaps, rescuing",
			"address", r.address,
			"gaps", len(gaps),
		)
		if err := r.fetchInChunks(ctx, gaps, r.cfg.MicroBatchSize); err != nil {
			return err
		}

		cached, err = e.cache.GetCachedSignatures(ctx, gaps)
		if err == nil {
			var residue []string
			for _, sig := range gaps {
				if _, ok := cached[sig]; !ok {
					residue = append(residue, sig)
				}
			}
			if len(residue) > 0 {
				r.writeReconcileResidue(residue)
			}
		}
	}

	if missing := r.snapshotLegitMissing(); len(missing) > 0 {
		r.writeLegitMissing(missing)
	}
	return nil
}

// finalize applies the buffered-mode filters and returns the sorted results:
// cursor lower bound (unless a stop signature drove discovery), inclusive
// upper bound, address relevance, then ascending timestamp order.
func (r *run) finalize() []solana.ParsedTransaction {
	out := make([]solana.ParsedTransaction, 0, len(r.results))
	for i := range r.results {
		tx := &r.results[i]
		if r.cfg.StopAtSignature == "" && r.cfg.NewestProcessedTimestamp > 0 &&
			tx.Timestamp <= r.cfg.NewestProcessedTimestamp {
			continue
		}
		if r.cfg.UntilTimestamp > 0 && tx.Timestamp > r.cfg.UntilTimestamp {
			continue
		}
		if !tx.Touches(r.address) {
			continue
		}
		out = append(out, *tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

func (r *run) snapshotLegitMissing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.legitMissing))
	for sig := range r.legitMissing {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

// advanceProgress reports completion at quarter granularity, counting
// signatures dispatched rather than successful fetches.
func (r *run) advanceProgress(n int) {
	if r.onProgress == nil || r.totalWork == 0 {
		return
	}
	done := r.processed.Add(int64(n))
	quarter := done * 4 / int64(r.totalWork)
	if quarter > 4 {
		quarter = 4
	}
	for {
		last := r.lastQuarter.Load()
		if quarter <= last {
			return
		}
		if r.lastQuarter.CompareAndSwap(last, quarter) {
			r.onProgress(int(quarter * 25))
			return
		}
	}
}

func (r *run) reportProgress(percent int) {
	if r.onProgress == nil {
		return
	}
	if r.lastQuarter.Load() < 4 {
		r.lastQuarter.Store(4)
		r.onProgress(percent)
	}
}
