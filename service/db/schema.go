package db

import (
	"context"
	"fmt"
)

// schemaDDL creates the three tables this service owns. Statements are
// idempotent so EnsureSchema can run on every startup.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS wallet (
    address TEXT PRIMARY KEY,
    first_processed_ts BIGINT,
    newest_processed_signature TEXT,
    newest_processed_ts BIGINT,
    last_successful_fetch_ts TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS swap_analysis_input (
    id BIGSERIAL PRIMARY KEY,
    wallet_address TEXT NOT NULL,
    signature TEXT NOT NULL,
    mint TEXT NOT NULL,
    direction TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    associated_sol_value DOUBLE PRECISION NOT NULL,
    ts BIGINT NOT NULL,
    fees_paid_in_sol DOUBLE PRECISION,
    UNIQUE (signature, mint, direction, amount)
);

CREATE INDEX IF NOT EXISTS swap_analysis_input_wallet_ts_idx
    ON swap_analysis_input (wallet_address, ts);

CREATE INDEX IF NOT EXISTS swap_analysis_input_mint_idx
    ON swap_analysis_input (mint);

CREATE TABLE IF NOT EXISTS helius_transaction_cache (
    signature TEXT PRIMARY KEY,
    ts BIGINT,
    fetched_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the owned tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
