package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service: wallet cursor state,
// persisted swap records, and the signature cache.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying connection pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Wallet represents a tracked wallet and its ingestion cursor. A wallet row
// is created on first sync and never destroyed; the cursor fields advance as
// syncs complete.
type Wallet struct {
	Address                  string
	FirstProcessedTimestamp  *int64
	NewestProcessedSignature *string
	NewestProcessedTimestamp *int64
	LastSuccessfulFetch      *time.Time
}

const walletColumns = `address, first_processed_ts, newest_processed_signature, newest_processed_ts, last_successful_fetch_ts`

// GetWallet retrieves a wallet by address. Returns pgx.ErrNoRows (wrapped)
// when the wallet is not registered.
func (s *Store) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallet WHERE address = $1`, address)
	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", address, err)
	}
	return w, nil
}

// GetOrCreateWallet retrieves a wallet, registering it with empty cursor
// state if it does not exist yet.
func (s *Store) GetOrCreateWallet(ctx context.Context, address string) (*Wallet, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallet (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, address)
	if err != nil {
		return nil, fmt.Errorf("create wallet %s: %w", address, err)
	}
	return s.GetWallet(ctx, address)
}

// ListWallets retrieves all registered wallets ordered by address.
func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletColumns+` FROM wallet ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("list wallets: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// UpdateWalletCursorParams contains the cursor fields written after a
// successful sync.
type UpdateWalletCursorParams struct {
	Address                  string
	FirstProcessedTimestamp  *int64 // applied only when the wallet has none yet
	NewestProcessedSignature string
	NewestProcessedTimestamp int64
	LastSuccessfulFetch      time.Time
}

// UpdateWalletCursor advances a wallet's cursor. FirstProcessedTimestamp is
// only set when the column is still null, so the earliest observation wins.
func (s *Store) UpdateWalletCursor(ctx context.Context, params UpdateWalletCursorParams) (*Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE wallet SET
			first_processed_ts = COALESCE(first_processed_ts, $2),
			newest_processed_signature = $3,
			newest_processed_ts = $4,
			last_successful_fetch_ts = $5
		WHERE address = $1
		RETURNING `+walletColumns,
		params.Address,
		pgint8FromInt64Ptr(params.FirstProcessedTimestamp),
		params.NewestProcessedSignature,
		params.NewestProcessedTimestamp,
		pgtype.Timestamptz{Time: params.LastSuccessfulFetch, Valid: true},
	)
	w, err := scanWallet(row)
	if err != nil {
		return nil, fmt.Errorf("update wallet cursor %s: %w", params.Address, err)
	}
	return w, nil
}

// TouchWalletFetchTime records a successful fetch that produced no new
// transactions, so the incremental cursor stays as-is.
func (s *Store) TouchWalletFetchTime(ctx context.Context, address string, fetchedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE wallet SET last_successful_fetch_ts = $2 WHERE address = $1`,
		address, pgtype.Timestamptz{Time: fetchedAt, Valid: true})
	if err != nil {
		return fmt.Errorf("touch wallet %s: %w", address, err)
	}
	return nil
}

// scanWallet reads one wallet row from a pgx row scanner.
func scanWallet(row pgx.Row) (*Wallet, error) {
	var (
		w         Wallet
		firstTs   pgtype.Int8
		newestSig pgtype.Text
		newestTs  pgtype.Int8
		fetchedAt pgtype.Timestamptz
	)
	if err := row.Scan(&w.Address, &firstTs, &newestSig, &newestTs, &fetchedAt); err != nil {
		return nil, err
	}
	w.FirstProcessedTimestamp = int64PtrFromPgint8(firstTs)
	w.NewestProcessedSignature = stringPtrFromPgtext(newestSig)
	w.NewestProcessedTimestamp = int64PtrFromPgint8(newestTs)
	w.LastSuccessfulFetch = timePtrFromPgTimestamptz(fetchedAt)
	return &w, nil
}

// Helper functions to convert between pgtype values and domain types

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func int64PtrFromPgint8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func pgfloat8FromFloat64Ptr(v *float64) pgtype.Float8 {
	if v == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Float64: *v, Valid: true}
}

func float64PtrFromPgfloat8(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
