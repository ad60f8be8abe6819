package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Trade directions as stored in swap_analysis_input.direction.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// SwapAnalysisInput is one persisted swap leg: a wallet gained or lost some
// amount of a mint within one transaction. Rows are immutable; the composite
// key (signature, mint, direction, amount) is unique.
type SwapAnalysisInput struct {
	WalletAddress      string
	Signature          string
	Mint               string
	Direction          string
	Amount             float64
	AssociatedSolValue float64
	Timestamp          int64
	FeesPaidInSol      *float64
}

// TransactionData is the projection analytics run on.
type TransactionData struct {
	Mint               string
	Timestamp          int64
	Direction          string
	Amount             float64
	AssociatedSolValue float64
}

// TimeRange bounds a query on the swap timestamp column. Nil endpoints are
// unbounded. From is inclusive, To is inclusive.
type TimeRange struct {
	From *int64
	To   *int64
}

// SaveSwapsResult reports how a SaveSwaps call went.
type SaveSwapsResult struct {
	Saved      int
	Duplicates int
}

const insertSwapSQL = `
	INSERT INTO swap_analysis_input
		(wallet_address, signature, mint, direction, amount, associated_sol_value, ts, fees_paid_in_sol)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// SaveSwaps persists swap records idempotently. It first attempts one batch
// insert; if the batch trips the uniqueness key (float-equal amounts collide
// across retries and re-ingests), it falls back to row-at-a-time inserts
// that swallow unique violations and counts them as duplicates.
func (s *Store) SaveSwaps(ctx context.Context, records []SwapAnalysisInput) (SaveSwapsResult, error) {
	if len(records) == 0 {
		return SaveSwapsResult{}, nil
	}

	err := s.saveSwapsBatch(ctx, records)
	if err == nil {
		return SaveSwapsResult{Saved: len(records)}, nil
	}
	if !isUniqueViolation(err) {
		return SaveSwapsResult{}, fmt.Errorf("save swaps: %w", err)
	}

	// At least one duplicate in the batch; retry individually.
	var res SaveSwapsResult
	for i := range records {
		if err := s.insertSwap(ctx, &records[i]); err != nil {
			if isUniqueViolation(err) {
				res.Duplicates++
				continue
			}
			return res, fmt.Errorf("save swap %s/%s: %w", records[i].Signature, records[i].Mint, err)
		}
		res.Saved++
	}
	return res, nil
}

// saveSwapsBatch inserts all records in a single transaction; any failure
// rolls the whole batch back.
func (s *Store) saveSwapsBatch(ctx context.Context, records []SwapAnalysisInput) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range records {
		r := &records[i]
		batch.Queue(insertSwapSQL,
			r.WalletAddress, r.Signature, r.Mint, r.Direction,
			r.Amount, r.AssociatedSolValue, r.Timestamp,
			pgfloat8FromFloat64Ptr(r.FeesPaidInSol))
	}
	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) insertSwap(ctx context.Context, r *SwapAnalysisInput) error {
	_, err := s.pool.Exec(ctx, insertSwapSQL,
		r.WalletAddress, r.Signature, r.Mint, r.Direction,
		r.Amount, r.AssociatedSolValue, r.Timestamp,
		pgfloat8FromFloat64Ptr(r.FeesPaidInSol))
	return err
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const swapColumns = `wallet_address, signature, mint, direction, amount, associated_sol_value, ts, fees_paid_in_sol`

// GetSwapsByWallet retrieves a wallet's swap records ordered by timestamp
// ascending, optionally bounded by a time range.
func (s *Store) GetSwapsByWallet(ctx context.Context, wallet string, tr TimeRange) ([]SwapAnalysisInput, error) {
	query := `SELECT ` + swapColumns + ` FROM swap_analysis_input WHERE wallet_address = $1`
	args := []any{wallet}
	if tr.From != nil {
		args = append(args, *tr.From)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if tr.To != nil {
		args = append(args, *tr.To)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	query += " ORDER BY ts ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get swaps for %s: %w", wallet, err)
	}
	defer rows.Close()

	var swaps []SwapAnalysisInput
	for rows.Next() {
		var (
			r    SwapAnalysisInput
			fees pgtype.Float8
		)
		if err := rows.Scan(&r.WalletAddress, &r.Signature, &r.Mint, &r.Direction,
			&r.Amount, &r.AssociatedSolValue, &r.Timestamp, &fees); err != nil {
			return nil, fmt.Errorf("get swaps for %s: %w", wallet, err)
		}
		r.FeesPaidInSol = float64PtrFromPgfloat8(fees)
		swaps = append(swaps, r)
	}
	return swaps, rows.Err()
}

// GetSwapsByWallets retrieves the analytics projection for a set of wallets,
// excluding the given mints, each wallet's slice ordered by timestamp
// ascending.
func (s *Store) GetSwapsByWallets(ctx context.Context, wallets []string, excludeMints []string, tr TimeRange) (map[string][]TransactionData, error) {
	if len(wallets) == 0 {
		return map[string][]TransactionData{}, nil
	}
	query := `SELECT wallet_address, mint, ts, direction, amount, associated_sol_value
		FROM swap_analysis_input WHERE wallet_address = ANY($1)`
	args := []any{wallets}
	if len(excludeMints) > 0 {
		args = append(args, excludeMints)
		query += fmt.Sprintf(" AND NOT (mint = ANY($%d))", len(args))
	}
	if tr.From != nil {
		args = append(args, *tr.From)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if tr.To != nil {
		args = append(args, *tr.To)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	query += " ORDER BY wallet_address, ts ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get swaps by wallets: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]TransactionData, len(wallets))
	for rows.Next() {
		var (
			wallet string
			td     TransactionData
		)
		if err := rows.Scan(&wallet, &td.Mint, &td.Timestamp, &td.Direction, &td.Amount, &td.AssociatedSolValue); err != nil {
			return nil, fmt.Errorf("get swaps by wallets: %w", err)
		}
		out[wallet] = append(out[wallet], td)
	}
	return out, rows.Err()
}

// CountSwapsByWallet counts persisted swap records for a wallet.
func (s *Store) CountSwapsByWallet(ctx context.Context, wallet string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM swap_analysis_input WHERE wallet_address = $1`, wallet).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count swaps for %s: %w", wallet, err)
	}
	return n, nil
}
