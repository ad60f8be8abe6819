// Package analysis runs the offline analytics over persisted swap records:
// realized PnL, cross-wallet correlation scoring, and cluster extraction.
package analysis

import (
	"github.com/brojonat/cahoots/service/db"
)

// PnL is a wallet's realized SOL result and traded volume.
type PnL struct {
	RealizedSol    float64 `json:"realized_sol"`
	TotalVolumeSol float64 `json:"total_volume_sol"`
}

// ComputePnL computes realized SOL PnL and volume per wallet. Realized PnL is
// the SOL received from sells minus the SOL spent on buys; entries with no
// SOL leg carry no price information and are excluded. Volume is the sum of
// absolute SOL values.
func ComputePnL(txsByWallet map[string][]db.TransactionData) map[string]PnL {
	out := make(map[string]PnL, len(txsByWallet))
	for wallet, txs := range txsByWallet {
		out[wallet] = pnlOf(txs, "")
	}
	return out
}

// PnLForMint computes a wallet's PnL scoped to a single mint.
func PnLForMint(txs []db.TransactionData, mint string) PnL {
	return pnlOf(txs, mint)
}

func pnlOf(txs []db.TransactionData, mint string) PnL {
	var p PnL
	for _, tx := range txs {
		if mint != "" && tx.Mint != mint {
			continue
		}
		if tx.AssociatedSolValue == 0 {
			continue
		}
		sol := tx.AssociatedSolValue
		if sol < 0 {
			sol = -sol
		}
		p.TotalVolumeSol += sol
		switch tx.Direction {
		case db.DirectionOut:
			p.RealizedSol += sol
		case db.DirectionIn:
			p.RealizedSol -= sol
		}
	}
	return p
}
