package nats

import (
	"time"

	"github.com/brojonat/cahoots/service/db"
)

// SwapEvent is one saved swap record published to "swaps.{wallet_address}".
type SwapEvent struct {
	WalletAddress      string  `json:"wallet_address"`
	Signature          string  `json:"signature"`
	Mint               string  `json:"mint"`
	Direction          string  `json:"direction"`
	Amount             float64 `json:"amount"`
	AssociatedSolValue float64 `json:"associated_sol_value"`
	Timestamp          int64   `json:"timestamp"`

	PublishedAt time.Time `json:"published_at"`
}

// SyncEvent is a wallet sync summary published to "swaps.sync.{wallet_address}".
type SyncEvent struct {
	WalletAddress string `json:"wallet_address"`
	Signatures    int    `json:"signatures"`
	Saved         int    `json:"saved"`
	Duplicates    int    `json:"duplicates"`
	Incremental   bool   `json:"incremental"`

	PublishedAt time.Time `json:"published_at"`
}

// FromSwapInput converts a persisted swap record to its publishable event.
func FromSwapInput(rec db.SwapAnalysisInput) *SwapEvent {
	return &SwapEvent{
		WalletAddress:      rec.WalletAddress,
		Signature:          rec.Signature,
		Mint:               rec.Mint,
		Direction:          rec.Direction,
		Amount:             rec.Amount,
		AssociatedSolValue: rec.AssociatedSolValue,
		Timestamp:          rec.Timestamp,
		PublishedAt:        time.Now().UTC(),
	}
}
