package solana

import (
	"sort"

	"github.com/brojonat/cahoots/service/db"
)

// MapToSwapInputs converts parsed transactions into swap analysis records for
// one wallet. It is pure and deterministic: the same input always produces
// the same output, in the same order.
//
// Per transaction, token transfers involving the wallet are netted per mint,
// native transfers are netted into a single SOL delta, and one record is
// emitted per non-zero (mint, direction). WSOL transfers are folded into the
// SOL leg rather than emitted as a token position. Transactions that failed
// execution are skipped entirely.
func MapToSwapInputs(wallet string, txs []ParsedTransaction) []db.SwapAnalysisInput {
	var out []db.SwapAnalysisInput
	for i := range txs {
		out = append(out, mapTransaction(wallet, &txs[i])...)
	}
	return out
}

func mapTransaction(wallet string, tx *ParsedTransaction) []db.SwapAnalysisInput {
	if tx.Failed() {
		return nil
	}

	// Net token delta per mint. Positive means the wallet received.
	tokenDeltas := make(map[string]float64)
	solDelta := 0.0

	for _, tt := range tx.TokenTransfers {
		if tt.TokenAmount == 0 {
			continue
		}
		var delta float64
		switch {
		case tt.ToUserAccount == wallet && tt.FromUserAccount == wallet:
			// Self-transfer nets to zero.
			continue
		case tt.ToUserAccount == wallet:
			delta = tt.TokenAmount
		case tt.FromUserAccount == wallet:
			delta = -tt.TokenAmount
		default:
			continue
		}
		if tt.Mint == WSOLMint {
			// Wrapped SOL is SOL.
			solDelta += delta
			continue
		}
		tokenDeltas[tt.Mint] += delta
	}

	for _, nt := range tx.NativeTransfers {
		if nt.Amount == 0 {
			continue
		}
		lamports := float64(nt.Amount) / LamportsPerSol
		if nt.ToUserAccount == wallet && nt.FromUserAccount == wallet {
			continue
		}
		if nt.ToUserAccount == wallet {
			solDelta += lamports
		} else if nt.FromUserAccount == wallet {
			solDelta -= lamports
		}
	}

	if len(tokenDeltas) == 0 {
		return nil
	}

	associatedSol := solDelta
	if associatedSol < 0 {
		associatedSol = -associatedSol
	}

	var fees *float64
	if tx.FeePayer == wallet && tx.Fee > 0 {
		f := float64(tx.Fee) / LamportsPerSol
		fees = &f
	}

	// Stable output order: mints sorted lexicographically.
	mints := make([]string, 0, len(tokenDeltas))
	for mint := range tokenDeltas {
		mints = append(mints, mint)
	}
	sort.Strings(mints)

	records := make([]db.SwapAnalysisInput, 0, len(mints))
	for _, mint := range mints {
		delta := tokenDeltas[mint]
		if delta == 0 {
			continue
		}
		direction := db.DirectionIn
		amount := delta
		if delta < 0 {
			direction = db.DirectionOut
			amount = -delta
		}
		records = append(records, db.SwapAnalysisInput{
			WalletAddress:      wallet,
			Signature:          tx.Signature,
			Mint:               mint,
			Direction:          direction,
			Amount:             amount,
			AssociatedSolValue: associatedSol,
			Timestamp:          tx.Timestamp,
			FeesPaidInSol:      fees,
		})
	}
	return records
}
