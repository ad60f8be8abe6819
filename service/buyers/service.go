// Package buyers answers "who bought this mint first" and "who traded it
// best": it walks a mint's transaction history chronologically to find the
// earliest distinct receivers, then ranks them by position size or realized
// PnL over their synced swap history.
package buyers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/brojonat/cahoots/service/analysis"
	"github.com/brojonat/cahoots/service/db"
	"github.com/brojonat/cahoots/service/solana"
	syncsvc "github.com/brojonat/cahoots/service/sync"
)

// RPCClient is the outbound API surface this service needs.
type RPCClient interface {
	GetSignaturesPage(ctx context.Context, address string, limit int, before string) ([]solana.SignatureInfo, error)
	GetTransactionsBatch(ctx context.Context, signatures []string) ([]solana.ParsedTransaction, error)
}

// SwapStore reads persisted swap history.
type SwapStore interface {
	GetSwapsByWallet(ctx context.Context, wallet string, tr db.TimeRange) ([]db.SwapAnalysisInput, error)
	CountSwapsByWallet(ctx context.Context, wallet string) (int64, error)
}

// WalletSyncer backfills a wallet's swap history on demand.
type WalletSyncer interface {
	SyncWallet(ctx context.Context, address string, opts syncsvc.Options) (*syncsvc.Result, error)
}

// Options controls a first-buyers scan.
type Options struct {
	// MaxBuyers caps the result (default 20).
	MaxBuyers int
	// MaxSignatures caps how much history is walked (default 1000).
	MaxSignatures int
	// BatchSize is the detail-fetch batch size (default and max 100).
	BatchSize int
}

func (o *Options) normalize() {
	if o.MaxBuyers <= 0 {
		o.MaxBuyers = 20
	}
	if o.MaxSignatures <= 0 {
		o.MaxSignatures = 1000
	}
	if o.BatchSize <= 0 || o.BatchSize > solana.MaxTransactionsBatch {
		o.BatchSize = solana.MaxTransactionsBatch
	}
}

// FirstBuyer is one wallet's earliest receipt of the target mint.
type FirstBuyer struct {
	Rank              int     `json:"rank"`
	WalletAddress     string  `json:"walletAddress"`
	FirstBuyTimestamp int64   `json:"firstBuyTimestamp"`
	FirstBuyDate      string  `json:"firstBuyDate"`
	FirstBuySignature string  `json:"firstBuySignature"`
	TokenAmount       float64 `json:"tokenAmount"`
}

// TopTrader ranks one first buyer by their trading result on the mint.
type TopTrader struct {
	Rank           int     `json:"rank"`
	WalletAddress  string  `json:"walletAddress"`
	TokenAmount    float64 `json:"tokenAmount"`
	RealizedPnLSol float64 `json:"realizedPnlSol"`
	VolumeSol      float64 `json:"volumeSol"`
}

// Order selects the top-traders ranking key.
type Order string

const (
	OrderByTokenAmount Order = "token_amount"
	OrderByRealizedPnL Order = "realized_pnl"
)

// Service finds a mint's first buyers and ranks their performance.
type Service struct {
	rpc    RPCClient
	store  SwapStore
	sync   WalletSyncer
	logger *slog.Logger
}

// NewService creates a buyers service. sync may be nil, in which case
// TopTraders only uses history already in the store.
func NewService(rpc RPCClient, store SwapStore, sync WalletSyncer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rpc: rpc, store: store, sync: sync, logger: logger}
}

// FirstBuyers walks the target's history oldest-first and returns the first
// distinct wallets that received the mint. target is the mint address, or a
// bonding-curve address whose transfers carry the mint.
func (s *Service) FirstBuyers(ctx context.Context, target string, opts Options) ([]FirstBuyer, error) {
	opts.normalize()

	sigs, err := s.collectSignatures(ctx, target, opts.MaxSignatures)
	if err != nil {
		return nil, fmt.Errorf("collect signatures for %s: %w", target, err)
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	// RPC pages newest-first; reverse for chronological processing so the
	// earliest receivers win.
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}

	var buyers []FirstBuyer
	seen := make(map[string]bool)

	for start := 0; start < len(sigs) && len(buyers) < opts.MaxBuyers; start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(sigs) {
			end = len(sigs)
		}
		txs, err := s.rpc.GetTransactionsBatch(ctx, sigs[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch transactions for %s: %w", target, err)
		}
		// Batch results are not ordered; restore chronological order.
		sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp < txs[j].Timestamp })

		for _, tx := range txs {
			if tx.Failed() {
				continue
			}
			for _, tt := range tx.TokenTransfers {
				if tt.Mint != target || tt.TokenAmount <= 0 {
					continue
				}
				buyer := tt.ToUserAccount
				if buyer == "" || buyer == target || seen[buyer] {
					continue
				}
				seen[buyer] = true
				buyers = append(buyers, FirstBuyer{
					Rank:              len(buyers) + 1,
					WalletAddress:     buyer,
					FirstBuyTimestamp: tx.Timestamp,
					FirstBuyDate:      time.Unix(tx.Timestamp, 0).UTC().Format(time.RFC3339),
					FirstBuySignature: tx.Signature,
					TokenAmount:       tt.TokenAmount,
				})
				if len(buyers) >= opts.MaxBuyers {
					break
				}
			}
			if len(buyers) >= opts.MaxBuyers {
				break
			}
		}
	}

	s.logger.InfoContext(ctx, "first buyers scan complete",
		"target", target,
		"signatures", len(sigs),
		"buyers", len(buyers),
	)
	return buyers, nil
}

// collectSignatures pages successful signatures for the target, newest
// first, up to the cap.
func (s *Service) collectSignatures(ctx context.Context, target string, maxSignatures int) ([]string, error) {
	var out []string
	before := ""
	for len(out) < maxSignatures {
		limit := solana.MaxSignaturePageLimit
		page, err := s.rpc.GetSignaturesPage(ctx, target, limit, before)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, si := range page {
			if si.Failed() {
				continue
			}
			out = append(out, si.Signature)
			if len(out) >= maxSignatures {
				break
			}
		}
		if len(page) < limit {
			break
		}
		before = page[len(page)-1].Signature
	}
	return out, nil
}

// TopTraders ranks first buyers by their trading result on the mint. Wallets
// with no stored swap history are synced first when a syncer is available.
func (s *Service) TopTraders(ctx context.Context, mint string, buyers []FirstBuyer, topN int, orderBy Order) ([]TopTrader, error) {
	if topN <= 0 {
		topN = len(buyers)
	}
	switch orderBy {
	case OrderByTokenAmount, OrderByRealizedPnL:
	case "":
		orderBy = OrderByTokenAmount
	default:
		return nil, fmt.Errorf("unknown ordering %q", orderBy)
	}

	traders := make([]TopTrader, 0, len(buyers))
	for _, buyer := range buyers {
		if err := s.ensureHistory(ctx, buyer.WalletAddress); err != nil {
			s.logger.WarnContext(ctx, "cannot backfill wallet history",
				"wallet", buyer.WalletAddress,
				"error", err,
			)
		}
		swaps, err := s.store.GetSwapsByWallet(ctx, buyer.WalletAddress, db.TimeRange{})
		if err != nil {
			return nil, fmt.Errorf("load swaps for %s: %w", buyer.WalletAddress, err)
		}
		pnl := analysis.PnLForMint(toTransactionData(swaps), mint)
		traders = append(traders, TopTrader{
			WalletAddress:  buyer.WalletAddress,
			TokenAmount:    buyer.TokenAmount,
			RealizedPnLSol: pnl.RealizedSol,
			VolumeSol:      pnl.TotalVolumeSol,
		})
	}

	sort.SliceStable(traders, func(i, j int) bool {
		if orderBy == OrderByRealizedPnL {
			return traders[i].RealizedPnLSol > traders[j].RealizedPnLSol
		}
		return traders[i].TokenAmount > traders[j].TokenAmount
	})
	if len(traders) > topN {
		traders = traders[:topN]
	}
	for i := range traders {
		traders[i].Rank = i + 1
	}
	return traders, nil
}

func (s *Service) ensureHistory(ctx context.Context, wallet string) error {
	if s.sync == nil {
		return nil
	}
	n, err := s.store.CountSwapsByWallet(ctx, wallet)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.sync.SyncWallet(ctx, wallet, syncsvc.Options{SmartFetch: true})
	return err
}

func toTransactionData(swaps []db.SwapAnalysisInput) []db.TransactionData {
	out := make([]db.TransactionData, 0, len(swaps))
	for _, r := range swaps {
		out = append(out, db.TransactionData{
			Mint:               r.Mint,
			Timestamp:          r.Timestamp,
			Direction:          r.Direction,
			Amount:             r.Amount,
			AssociatedSolValue: r.AssociatedSolValue,
		})
	}
	return out
}
