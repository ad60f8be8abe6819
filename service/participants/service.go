// Package participants finds the wallets that bought a mint in the window
// leading up to a cutoff time and enriches each with cheap on-chain
// heuristics (token account count, scanned transaction count, account age,
// SOL staked on the buy). It feeds manual review of suspected insider or
// sniper activity around token launches.
package participants

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/cahoots/service/config"
	"github.com/brojonat/cahoots/service/solana"
)

// RPCClient is the outbound API surface the scan needs.
type RPCClient interface {
	GetSignaturesPage(ctx context.Context, address string, limit int, before string) ([]solana.SignatureInfo, error)
	GetTransactionsBatch(ctx context.Context, signatures []string) ([]solana.ParsedTransaction, error)
	GetTokenAccountsByOwner(ctx context.Context, owner string, filter solana.TokenAccountsFilter) (*rpc.GetTokenAccountsResult, error)
}

// Params selects what one scan covers.
type Params struct {
	// Mint is the token whose buyers are of interest.
	Mint string
	// Source optionally overrides the address whose history is paged
	// (a bonding curve or pool instead of the mint itself).
	Source string
	// CutoffTs is the upper bound of the buy window (unix seconds).
	CutoffTs int64
	// WindowSeconds is the length of the buy window before the cutoff.
	// Zero uses the configured default.
	WindowSeconds int64
}

// Participant is one wallet that bought the mint inside the window,
// plus its enrichment columns.
type Participant struct {
	Wallet             string  `json:"wallet"`
	Mint               string  `json:"mint"`
	CutoffTs           int64   `json:"cutoffTs"`
	BuyTs              int64   `json:"buyTs"`
	BuyIso             string  `json:"buyIso"`
	Signature          string  `json:"signature"`
	TokenAmount        float64 `json:"tokenAmount"`
	StakeSol           float64 `json:"stakeSol"`
	TokenAccountsCount int     `json:"tokenAccountsCount"`
	TxCountScanned     int     `json:"txCountScanned"`
	WalletCreatedAtTs  int64   `json:"walletCreatedAtTs,omitempty"`
	WalletCreatedAtIso string  `json:"walletCreatedAtIso,omitempty"`
	AccountAgeDays     float64 `json:"accountAgeDays,omitempty"`
	CreationScanMode   string  `json:"creationScanMode"`
	CreationScanPages  int     `json:"creationScanPages"`
	RunScannedAtIso    string  `json:"runScannedAtIso"`
	RunSource          string  `json:"runSource"`
}

// Service runs mint-participant scans.
type Service struct {
	rpc    RPCClient
	cfg    config.ParticipantsConfig
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a participants service.
func NewService(rpc RPCClient, cfg config.ParticipantsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 900
	}
	if cfg.LimitBuyers <= 0 {
		cfg.LimitBuyers = 50
	}
	if cfg.TxCountLimit <= 0 {
		cfg.TxCountLimit = 300
	}
	if cfg.CandidateWindow <= 0 {
		cfg.CandidateWindow = 3000
	}
	if cfg.CreationScan == "" {
		cfg.CreationScan = "none"
	}
	if cfg.CreationSkipIfTokenAccountsOver <= 0 {
		cfg.CreationSkipIfTokenAccountsOver = 1000
	}
	return &Service{rpc: rpc, cfg: cfg, logger: logger, now: time.Now}
}

// Scan finds and enriches the wallets that received the mint within
// [cutoff-window, cutoff].
func (s *Service) Scan(ctx context.Context, params Params) ([]Participant, error) {
	if params.Mint == "" {
		return nil, fmt.Errorf("mint is required")
	}
	if params.CutoffTs <= 0 {
		return nil, fmt.Errorf("cutoff timestamp is required")
	}
	window := params.WindowSeconds
	if window <= 0 {
		window = s.cfg.WindowSeconds
	}
	windowStart := params.CutoffTs - window

	source := params.Source
	runSource := "mint"
	if source == "" {
		source = params.Mint
	} else {
		runSource = "source"
	}

	candidates, err := s.collectCandidates(ctx, source, params.CutoffTs)
	if err != nil {
		return nil, fmt.Errorf("collect candidates for %s: %w", source, err)
	}
	s.logger.InfoContext(ctx, "participants candidate scan",
		"mint", params.Mint,
		"source", source,
		"candidates", len(candidates),
		"window_start", windowStart,
		"cutoff", params.CutoffTs,
	)
	if len(candidates) == 0 {
		return nil, nil
	}

	buys, err := s.findBuys(ctx, params.Mint, candidates, windowStart, params.CutoffTs)
	if err != nil {
		return nil, err
	}

	scannedAt := s.now().UTC().Format(time.RFC3339)
	out := make([]Participant, 0, len(buys))
	for _, b := range buys {
		p := Participant{
			Wallet:           b.wallet,
			Mint:             params.Mint,
			CutoffTs:         params.CutoffTs,
			BuyTs:            b.tx.Timestamp,
			BuyIso:           time.Unix(b.tx.Timestamp, 0).UTC().Format(time.RFC3339),
			Signature:        b.tx.Signature,
			TokenAmount:      b.amount,
			StakeSol:         stakeSol(b.wallet, params.Mint, b.tx),
			CreationScanMode: s.cfg.CreationScan,
			RunScannedAtIso:  scannedAt,
			RunSource:        runSource,
		}
		s.enrich(ctx, &p)
		out = append(out, p)
	}
	return out, nil
}

// collectCandidates pages the source's signatures newest-first and keeps
// those at or before the cutoff, bounded by the candidate window.
func (s *Service) collectCandidates(ctx context.Context, source string, cutoff int64) ([]string, error) {
	var out []string
	before := ""
	for len(out) < s.cfg.CandidateWindow {
		page, err := s.rpc.GetSignaturesPage(ctx, source, solana.MaxSignaturePageLimit, before)
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
			if si.BlockTime != nil && *si.BlockTime > cutoff {
				continue
			}
			out = append(out, si.Signature)
			if len(out) >= s.cfg.CandidateWindow {
				break
			}
		}
		if len(page) < solana.MaxSignaturePageLimit {
			break
		}
		before = page[len(page)-1].Signature
	}
	return out, nil
}

type buy struct {
	wallet string
	amount float64
	tx     solana.ParsedTransaction
}

// findBuys fetches candidate transactions and keeps the first in-window buy
// per wallet, oldest first, capped at LimitBuyers.
func (s *Service) findBuys(ctx context.Context, mint string, candidates []string, windowStart, cutoff int64) ([]buy, error) {
	var txs []solana.ParsedTransaction
	for start := 0; start < len(candidates); start += solana.MaxTransactionsBatch {
		end := start + solana.MaxTransactionsBatch
		if end > len(candidates) {
			end = len(candidates)
		}
		batch, err := s.rpc.GetTransactionsBatch(ctx, candidates[start:end])
		if err != nil {
			return nil, fmt.Errorf("fetch candidate transactions: %w", err)
		}
		txs = append(txs, batch...)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Timestamp < txs[j].Timestamp })

	var buys []buy
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.Failed() || tx.Timestamp < windowStart || tx.Timestamp > cutoff {
			continue
		}
		for _, tt := range tx.TokenTransfers {
			if tt.Mint != mint || tt.TokenAmount <= 0 {
				continue
			}
			wallet := tt.ToUserAccount
			if wallet == "" || wallet == mint || seen[wallet] {
				continue
			}
			seen[wallet] = true
			buys = append(buys, buy{wallet: wallet, amount: tt.TokenAmount, tx: tx})
			if len(buys) >= s.cfg.LimitBuyers {
				return buys, nil
			}
		}
	}
	return buys, nil
}

// stakeSol derives the SOL side of the buy from the swap mapping of the
// first-buy transaction.
func stakeSol(wallet, mint string, tx solana.ParsedTransaction) float64 {
	for _, rec := range solana.MapToSwapInputs(wallet, []solana.ParsedTransaction{tx}) {
		if rec.Mint == mint {
			return rec.AssociatedSolValue
		}
	}
	return 0
}

// enrich fills the heuristic columns. Enrichment failures degrade to zero
// values with a warning; the participant row is still emitted.
func (s *Service) enrich(ctx context.Context, p *Participant) {
	accounts, err := s.rpc.GetTokenAccountsByOwner(ctx, p.Wallet, solana.TokenAccountsFilter{})
	if err != nil {
		s.logger.WarnContext(ctx, "token accounts lookup failed",
			"wallet", p.Wallet, "error", err)
	} else if accounts != nil {
		p.TokenAccountsCount = len(accounts.Value)
	}

	p.TxCountScanned = s.countTransactions(ctx, p.Wallet)

	if s.cfg.CreationScan != "full" {
		return
	}
	if p.TokenAccountsCount > s.cfg.CreationSkipIfTokenAccountsOver {
		s.logger.DebugContext(ctx, "skipping creation scan, too many token accounts",
			"wallet", p.Wallet, "token_accounts", p.TokenAccountsCount)
		return
	}
	createdAt, pages := s.findFirstSeen(ctx, p.Wallet)
	p.CreationScanPages = pages
	if createdAt > 0 {
		p.WalletCreatedAtTs = createdAt
		p.WalletCreatedAtIso = time.Unix(createdAt, 0).UTC().Format(time.RFC3339)
		p.AccountAgeDays = s.now().UTC().Sub(time.Unix(createdAt, 0)).Hours() / 24
	}
}

// countTransactions pages the wallet's signatures up to TxCountLimit.
func (s *Service) countTransactions(ctx context.Context, wallet string) int {
	count := 0
	before := ""
	for count < s.cfg.TxCountLimit {
		limit := s.cfg.TxCountLimit - count
		if limit > solana.MaxSignaturePageLimit {
			limit = solana.MaxSignaturePageLimit
		}
		page, err := s.rpc.GetSignaturesPage(ctx, wallet, limit, before)
		if err != nil {
			s.logger.WarnContext(ctx, "tx count scan failed",
				"wallet", wallet, "error", err)
			break
		}
		count += len(page)
		if len(page) < limit {
			break
		}
		before = page[len(page)-1].Signature
	}
	return count
}

// findFirstSeen walks the wallet's history to its oldest signature and
// returns its blockTime plus the number of pages fetched.
func (s *Service) findFirstSeen(ctx context.Context, wallet string) (int64, int) {
	var oldest *int64
	before := ""
	pages := 0
	for {
		page, err := s.rpc.GetSignaturesPage(ctx, wallet, solana.MaxSignaturePageLimit, before)
		if err != nil {
			s.logger.WarnContext(ctx, "creation scan failed",
				"wallet", wallet, "error", err)
			break
		}
		if len(page) == 0 {
			break
		}
		pages++
		last := page[len(page)-1]
		if last.BlockTime != nil {
			oldest = last.BlockTime
		}
		if len(page) < solana.MaxSignaturePageLimit {
			break
		}
		before = last.Signature
	}
	if oldest == nil {
		return 0, pages
	}
	return *oldest, pages
}
