package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// CacheEntry marks a signature as already handled: its parsed transaction has
// been persisted, or the signature was ruled out. Timestamp is the block time
// of the transaction (nullable, some nodes omit it); FetchedAt is when we
// last confirmed the signature.
type CacheEntry struct {
	Signature string
	Timestamp *int64
	FetchedAt time.Time
}

// GetCachedSignatures looks up a set of signatures in the cache. The result
// map contains only the signatures that were found.
func (s *Store) GetCachedSignatures(ctx context.Context, signatures []string) (map[string]CacheEntry, error) {
	if len(signatures) == 0 {
		return map[string]CacheEntry{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT signature, ts, fetched_at FROM helius_transaction_cache WHERE signature = ANY($1)`,
		signatures)
	if err != nil {
		return nil, fmt.Errorf("get cached signatures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CacheEntry)
	for rows.Next() {
		var (
			entry     CacheEntry
			ts        pgtype.Int8
			fetchedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&entry.Signature, &ts, &fetchedAt); err != nil {
			return nil, fmt.Errorf("get cached signatures: %w", err)
		}
		entry.Timestamp = int64PtrFromPgint8(ts)
		entry.FetchedAt = fetchedAt.Time
		out[entry.Signature] = entry
	}
	return out, rows.Err()
}

// PutCachedSignatures upserts cache entries. A conflict on signature refreshes
// fetched_at but preserves the originally recorded timestamp.
func (s *Store) PutCachedSignatures(ctx context.Context, entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range entries {
		e := &entries[i]
		batch.Queue(`
			INSERT INTO helius_transaction_cache (signature, ts, fetched_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (signature) DO UPDATE SET fetched_at = EXCLUDED.fetched_at`,
			e.Signature,
			pgint8FromInt64Ptr(e.Timestamp),
			pgtype.Timestamptz{Time: e.FetchedAt, Valid: true})
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("put cached signatures: %w", err)
		}
	}
	return nil
}

// CountCachedSignatures returns the total number of cache entries.
func (s *Store) CountCachedSignatures(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM helius_transaction_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached signatures: %w", err)
	}
	return n, nil
}
