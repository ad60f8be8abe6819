package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/cahoots/service/db"
	"github.com/brojonat/cahoots/service/solana"
	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addr = "WalletUnderTest11111111111111111111111111111"

// fakeRPC serves signature pages and parsed transactions from fixtures.
type fakeRPC struct {
	mu sync.Mutex

	// signature discovery
	pages   [][]solana.SignatureInfo
	pageErr error

	// detail fetches: signature -> tx. Missing keys are simply not returned,
	// mirroring the indexer's short-response behavior.
	txs      map[string]solana.ParsedTransaction
	batchErr map[string]error // per-signature poison: any batch containing it fails

	// appearAfter simulates indexer eventual consistency: the signature is
	// only served once appearAfter calls have been made.
	appearAfter map[string]int

	batchCalls [][]string
}

func (f *fakeRPC) GetSignaturesPage(ctx context.Context, address string, limit int, before string) ([]solana.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return nil, f.pageErr
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeRPC) GetTransactionsBatch(ctx context.Context, signatures []string) ([]solana.ParsedTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, append([]string(nil), signatures...))
	for _, sig := range signatures {
		if err := f.batchErr[sig]; err != nil {
			return nil, err
		}
	}
	var out []solana.ParsedTransaction
	for _, sig := range signatures {
		if n, ok := f.appearAfter[sig]; ok && len(f.batchCalls) <= n {
			continue
		}
		if tx, ok := f.txs[sig]; ok {
			out = append(out, tx)
		}
	}
	return out, nil
}

// fakeCache is an in-memory CacheStore.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]db.CacheEntry
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]db.CacheEntry)}
}

func (c *fakeCache) GetCachedSignatures(ctx context.Context, signatures []string) (map[string]db.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := make(map[string]db.CacheEntry)
	for _, sig := range signatures {
		if e, ok := c.entries[sig]; ok {
			out[sig] = e
		}
	}
	return out, nil
}

func (c *fakeCache) PutCachedSignatures(ctx context.Context, entries []db.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if prev, ok := c.entries[e.Signature]; ok {
			e.Timestamp = prev.Timestamp
		}
		c.entries[e.Signature] = e
	}
	return nil
}

func (c *fakeCache) has(sig string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[sig]
	return ok
}

func sigInfo(sig string, blockTime int64) solana.SignatureInfo {
	return solana.SignatureInfo{Signature: sig, BlockTime: &blockTime}
}

func failedSigInfo(sig string, blockTime int64) solana.SignatureInfo {
	s := sigInfo(sig, blockTime)
	s.Err = map[string]any{"InstructionError": []any{}}
	return s
}

func parsedTx(sig string, ts int64) solana.ParsedTransaction {
	return solana.ParsedTransaction{
		Signature: sig,
		Timestamp: ts,
		FeePayer:  addr,
	}
}

func testEngine(rpc *fakeRPC, cache *fakeCache) *Engine {
	return NewEngine(rpc, cache, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastCfg(t *testing.T) Config {
	return Config{
		IndexingWait:   time.Millisecond,
		DiagnosticsDir: t.TempDir(),
	}
}

func TestIngest_CacheHitMissMix(t *testing.T) {
	// Cache contains s1 and s2; RPC returns [s1, s2, s3]. Only s3 is
	// fetched, and the streaming callback sees it.
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s1", 300), sigInfo("s2", 200), sigInfo("s3", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s1": parsedTx("s1", 300),
			"s2": parsedTx("s2", 200),
			"s3": parsedTx("s3", 100),
		},
	}
	cache := newFakeCache()
	now := time.Now()
	require.NoError(t, cache.PutCachedSignatures(context.Background(), []db.CacheEntry{
		{Signature: "s1", FetchedAt: now},
		{Signature: "s2", FetchedAt: now},
	}))

	var streamed []string
	onBatch := func(ctx context.Context, txs []solana.ParsedTransaction) error {
		for _, tx := range txs {
			streamed = append(streamed, tx.Signature)
		}
		return nil
	}

	_, err := testEngine(rpc, cache).Ingest(context.Background(), addr, fastCfg(t), onBatch, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"s3"}, streamed)
	assert.True(t, cache.has("s3"))
	for _, call := range rpc.batchCalls {
		assert.NotContains(t, call, "s1")
		assert.NotContains(t, call, "s2")
	}
}

func TestIngest_LegitMissingRetry(t *testing.T) {
	// The indexer omits s3 on the first pass even though RPC reports it
	// successful. The grace-period retry rescues it; the cache ends up
	// covering all three.
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s1", 300), sigInfo("s2", 200), sigInfo("s3", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s1": parsedTx("s1", 300),
			"s2": parsedTx("s2", 200),
			"s3": parsedTx("s3", 100),
		},
		appearAfter: map[string]int{"s3": 1},
	}
	cache := newFakeCache()

	var mu sync.Mutex
	var streamed []string
	onBatch := func(ctx context.Context, txs []solana.ParsedTransaction) error {
		mu.Lock()
		defer mu.Unlock()
		for _, tx := range txs {
			streamed = append(streamed, tx.Signature)
		}
		return nil
	}

	_, err := testEngine(rpc, cache).Ingest(context.Background(), addr, fastCfg(t), onBatch, nil)

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, streamed)
	assert.True(t, cache.has("s1"))
	assert.True(t, cache.has("s2"))
	assert.True(t, cache.has("s3"))
}

func TestIngest_FailedSignaturesNeverFetched(t *testing.T) {
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("ok1", 300), failedSigInfo("bad1", 200), sigInfo("ok2", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"ok1": parsedTx("ok1", 300),
			"ok2": parsedTx("ok2", 100),
		},
	}
	cache := newFakeCache()

	txs, err := testEngine(rpc, cache).Ingest(context.Background(), addr, fastCfg(t), nil, nil)

	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, call := range rpc.batchCalls {
		assert.NotContains(t, call, "bad1")
	}
	assert.False(t, cache.has("bad1"))
}

func TestIngest_BufferedModeFiltersAndSorts(t *testing.T) {
	stranger := solana.ParsedTransaction{
		Signature: "s-other",
		Timestamp: 150,
		FeePayer:  "SomebodyElse",
	}
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s3", 300), sigInfo("s-other", 150), sigInfo("s2", 120), sigInfo("s1", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s3":      parsedTx("s3", 300),
			"s-other": stranger,
			"s2":      parsedTx("s2", 120),
			"s1":      parsedTx("s1", 100),
		},
	}

	cfg := fastCfg(t)
	cfg.NewestProcessedTimestamp = 100 // strict lower bound: s1 excluded
	cfg.UntilTimestamp = 250           // inclusive upper bound: s3 excluded

	txs, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, cfg, nil, nil)

	require.NoError(t, err)
	// s-other is dropped by address relevance, leaving s2 only.
	require.Len(t, txs, 1)
	assert.Equal(t, "s2", txs[0].Signature)
}

func TestIngest_BufferedModeSortedAscending(t *testing.T) {
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s3", 300), sigInfo("s2", 200), sigInfo("s1", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s3": parsedTx("s3", 300),
			"s2": parsedTx("s2", 200),
			"s1": parsedTx("s1", 100),
		},
	}

	txs, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, fastCfg(t), nil, nil)

	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"},
		[]string{txs[0].Signature, txs[1].Signature, txs[2].Signature})
}

func TestIngest_StopAtSignature(t *testing.T) {
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s4", 400), sigInfo("s3", 300), sigInfo("s2", 200), sigInfo("s1", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s4": parsedTx("s4", 400),
			"s3": parsedTx("s3", 300),
		},
	}

	cfg := fastCfg(t)
	cfg.StopAtSignature = "s2"

	txs, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, cfg, nil, nil)

	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, call := range rpc.batchCalls {
		assert.NotContains(t, call, "s2")
		assert.NotContains(t, call, "s1")
	}
}

func TestIngest_MaxSignaturesCapInRPCOrder(t *testing.T) {
	// Newest-first RPC order is preserved by the cap, even though s2 has a
	// null blockTime.
	noBlockTime := solana.SignatureInfo{Signature: "s2"}
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s3", 300), noBlockTime, sigInfo("s1", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s3": parsedTx("s3", 300),
			"s2": parsedTx("s2", 200),
			"s1": parsedTx("s1", 100),
		},
	}

	cfg := fastCfg(t)
	cfg.MaxSignatures = 2

	txs, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, cfg, nil, nil)

	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.ElementsMatch(t, []string{"s2", "s3"},
		[]string{txs[0].Signature, txs[1].Signature})
}

func TestIngest_Phase1NonRetryableAborts(t *testing.T) {
	rpc := &fakeRPC{
		pageErr: backoff.Permanent(&solana.ClientError{Err: errors.New("invalid param")}),
	}

	_, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, fastCfg(t), nil, nil)

	require.Error(t, err)
}

func TestIngest_Phase1RetryableExhaustionReturnsEmpty(t *testing.T) {
	rpc := &fakeRPC{pageErr: errors.New("connection reset by peer")}

	txs, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, fastCfg(t), nil, nil)

	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestIngest_SingleBatchFailureDoesNotAbort(t *testing.T) {
	// With a micro batch size of 1 in the rescue passes disabled, a poisoned
	// batch only abandons its own signatures.
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s1", 300), sigInfo("s2", 200)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s1": parsedTx("s1", 300),
			"s2": parsedTx("s2", 200),
		},
		batchErr: map[string]error{"s2": errors.New("boom")},
	}

	cfg := fastCfg(t)
	cfg.ParseBatchLimit = 1
	cfg.InnerConcurrency = 1
	cfg.DisableLegitMissingRetry = true
	cfg.DisableReconcile = true

	txs, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, cfg, nil, nil)

	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "s1", txs[0].Signature)
}

func TestIngest_OnBatchErrorAborts(t *testing.T) {
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s1", 300)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s1": parsedTx("s1", 300),
		},
	}

	wantErr := errors.New("downstream full")
	onBatch := func(ctx context.Context, txs []solana.ParsedTransaction) error {
		return wantErr
	}

	_, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, fastCfg(t), onBatch, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestIngest_ReconcileRescuesCacheGaps(t *testing.T) {
	// A transaction is fetched but its cache write is lost (simulated by an
	// indexer that only serves s2 from the second call onward while the
	// retry pass is disabled). Reconciliation runs the rescue fetch.
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s1", 300), sigInfo("s2", 200)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s1": parsedTx("s1", 300),
			"s2": parsedTx("s2", 200),
		},
		appearAfter: map[string]int{"s2": 1},
	}
	cache := newFakeCache()

	cfg := fastCfg(t)
	cfg.DisableLegitMissingRetry = true

	_, err := testEngine(rpc, cache).Ingest(context.Background(), addr, cfg, nil, nil)

	require.NoError(t, err)
	assert.True(t, cache.has("s1"))
	assert.True(t, cache.has("s2"), "reconciliation must close the cache gap")
}

func TestIngest_CoverageInvariant(t *testing.T) {
	// cache-after ∩ non-failed + legit-missing == non-failed, even when one
	// signature never materializes from the indexer.
	rpc := &fakeRPC{
		pages: [][]solana.SignatureInfo{
			{sigInfo("s1", 300), sigInfo("s2", 200), failedSigInfo("bad", 150), sigInfo("ghost", 100)},
		},
		txs: map[string]solana.ParsedTransaction{
			"s1": parsedTx("s1", 300),
			"s2": parsedTx("s2", 200),
			// "ghost" is never served.
		},
	}
	cache := newFakeCache()
	e := testEngine(rpc, cache)

	diagDir := t.TempDir()
	cfg := fastCfg(t)
	cfg.DiagnosticsDir = diagDir

	_, err := e.Ingest(context.Background(), addr, cfg, nil, nil)
	require.NoError(t, err)

	nonFailed := []string{"s1", "s2", "ghost"}
	covered := 0
	for _, sig := range nonFailed {
		if cache.has(sig) {
			covered++
		}
	}
	assert.Equal(t, 2, covered)
	assert.False(t, cache.has("bad"))

	// The uncovered residue is reported via diagnostics.
	entries, err := os.ReadDir(diagDir)
	require.NoError(t, err)
	var names []string
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	assert.NotEmpty(t, names)
}

func TestIngest_ProgressReaches100(t *testing.T) {
	sigs := make([]solana.SignatureInfo, 0, 8)
	txs := make(map[string]solana.ParsedTransaction, 8)
	for i := 0; i < 8; i++ {
		sig := fmt.Sprintf("s%d", i)
		sigs = append(sigs, sigInfo(sig, int64(1000-i)))
		txs[sig] = parsedTx(sig, int64(1000-i))
	}
	rpc := &fakeRPC{pages: [][]solana.SignatureInfo{sigs}, txs: txs}

	var mu sync.Mutex
	var reports []int
	onProgress := func(percent int) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, percent)
	}

	cfg := fastCfg(t)
	cfg.ParseBatchLimit = 2
	cfg.InnerConcurrency = 1

	_, err := testEngine(rpc, newFakeCache()).Ingest(context.Background(), addr, cfg, nil, onProgress)

	require.NoError(t, err)
	require.NotEmpty(t, reports)
	assert.Equal(t, 100, reports[len(reports)-1])
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1], "progress must be monotonic")
	}
}

func TestIngest_CancellationStopsDispatch(t *testing.T) {
	sigs := make([]solana.SignatureInfo, 0, 20)
	txs := make(map[string]solana.ParsedTransaction, 20)
	for i := 0; i < 20; i++ {
		sig := fmt.Sprintf("s%02d", i)
		sigs = append(sigs, sigInfo(sig, int64(1000-i)))
		txs[sig] = parsedTx(sig, int64(1000-i))
	}
	rpc := &fakeRPC{pages: [][]solana.SignatureInfo{sigs}, txs: txs}
	cache := newFakeCache()

	ctx, cancel := context.WithCancel(context.Background())
	sawBatch := false
	onBatch := func(ctx context.Context, batch []solana.ParsedTransaction) error {
		// Cancel after the first chunk has streamed.
		sawBatch = true
		cancel()
		return nil
	}

	cfg := fastCfg(t)
	cfg.ParseBatchLimit = 1
	cfg.InnerConcurrency = 1
	cfg.DisableLegitMissingRetry = true
	cfg.DisableReconcile = true

	_, err := testEngine(rpc, cache).Ingest(ctx, addr, cfg, onBatch, nil)

	require.NoError(t, err, "cancellation is not an error")
	assert.True(t, sawBatch)
	// Completed work stays durable, pending work was never dispatched.
	assert.True(t, cache.has("s00"))
	assert.Less(t, len(rpc.batchCalls), 20)
}
