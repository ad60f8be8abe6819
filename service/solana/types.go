package solana

import (
	"bytes"
	"encoding/json"
)

// WSOLMint is the wrapped-SOL mint. Transfers of this mint are accounted as
// SOL, never as a token position.
const WSOLMint = "So11111111111111111111111111111111111111112"

// LamportsPerSol converts native transfer amounts to SOL.
const LamportsPerSol = 1_000_000_000

// SignatureInfo is the transient result of signature discovery. Err non-nil
// means the transaction failed execution on chain and must be excluded from
// all analyses.
type SignatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime,omitempty"`
	Err       any    `json:"err,omitempty"`
}

// Failed reports whether the on-chain execution of this signature failed.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}

// ParsedTransaction is the enhanced transaction shape returned by the
// indexer's batch endpoint. It is never mutated after decoding.
type ParsedTransaction struct {
	Signature        string           `json:"signature"`
	Timestamp        int64            `json:"timestamp"`
	Slot             uint64           `json:"slot,omitempty"`
	Type             string           `json:"type,omitempty"`
	Source           string           `json:"source,omitempty"`
	Description      string           `json:"description,omitempty"`
	Fee              int64            `json:"fee"`
	FeePayer         string           `json:"feePayer"`
	TransactionError json.RawMessage  `json:"transactionError,omitempty"`
	TokenTransfers   []TokenTransfer  `json:"tokenTransfers"`
	NativeTransfers  []NativeTransfer `json:"nativeTransfers"`
	AccountData      []AccountData    `json:"accountData"`
	Events           Events           `json:"events"`
}

// Failed reports whether the indexer recorded an execution error.
func (t *ParsedTransaction) Failed() bool {
	return len(t.TransactionError) > 0 && !bytes.Equal(t.TransactionError, []byte("null"))
}

// TokenTransfer is a single SPL token movement within a transaction.
type TokenTransfer struct {
	Mint            string  `json:"mint"`
	FromUserAccount string  `json:"fromUserAccount"`
	ToUserAccount   string  `json:"toUserAccount"`
	TokenAmount     float64 `json:"tokenAmount"`
}

// NativeTransfer is a single lamport movement within a transaction.
type NativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

// AccountData carries per-account balance deltas for a transaction.
type AccountData struct {
	Account             string               `json:"account"`
	NativeBalanceChange int64                `json:"nativeBalanceChange"`
	TokenBalanceChanges []TokenBalanceChange `json:"tokenBalanceChanges"`
}

// TokenBalanceChange is a token-account level balance delta.
type TokenBalanceChange struct {
	Mint           string         `json:"mint"`
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount is the indexer's fixed-point token amount representation.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// Events holds the optional typed event payloads of a transaction.
type Events struct {
	Swap *SwapEvent `json:"swap,omitempty"`
}

// SwapEvent is the indexer's decoded swap, when it recognized one.
type SwapEvent struct {
	NativeInput  *NativeSwapLeg `json:"nativeInput,omitempty"`
	NativeOutput *NativeSwapLeg `json:"nativeOutput,omitempty"`
	TokenInputs  []TokenSwapLeg `json:"tokenInputs,omitempty"`
	TokenOutputs []TokenSwapLeg `json:"tokenOutputs,omitempty"`
}

// NativeSwapLeg is the SOL side of a swap. Amount is lamports encoded as a
// decimal string.
type NativeSwapLeg struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// TokenSwapLeg is a token side of a swap.
type TokenSwapLeg struct {
	Mint           string         `json:"mint"`
	UserAccount    string         `json:"userAccount"`
	TokenAccount   string         `json:"tokenAccount"`
	RawTokenAmount RawTokenAmount `json:"rawTokenAmount"`
}

// Touches reports whether the given address participates in the transaction:
// as fee payer, in any token or native transfer, in an account-data entry
// with a non-zero balance delta, or in a swap event leg.
func (t *ParsedTransaction) Touches(address string) bool {
	if t.FeePayer == address {
		return true
	}
	for _, tt := range t.TokenTransfers {
		if tt.FromUserAccount == address || tt.ToUserAccount == address {
			return true
		}
	}
	for _, nt := range t.NativeTransfers {
		if nt.FromUserAccount == address || nt.ToUserAccount == address {
			return true
		}
	}
	for _, ad := range t.AccountData {
		if ad.Account == address && ad.NativeBalanceChange != 0 {
			return true
		}
		for _, tbc := range ad.TokenBalanceChanges {
			if tbc.UserAccount == address {
				return true
			}
		}
	}
	if sw := t.Events.Swap; sw != nil {
		if sw.NativeInput != nil && sw.NativeInput.Account == address {
			return true
		}
		if sw.NativeOutput != nil && sw.NativeOutput.Account == address {
			return true
		}
		for _, leg := range sw.TokenInputs {
			if leg.UserAccount == address {
				return true
			}
		}
		for _, leg := range sw.TokenOutputs {
			if leg.UserAccount == address {
				return true
			}
		}
	}
	return false
}
