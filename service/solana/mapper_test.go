package solana

import (
	"encoding/json"
	"testing"

	"github.com/brojonat/cahoots/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet = "WaLLetAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	otherParty = "CounterpartyBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	mintX      = "MintXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	mintY      = "MintYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYYY"
)

func TestMapToSwapInputs_Buy(t *testing.T) {
	// Wallet receives 1000 tokens and pays 2.5 SOL.
	txs := []ParsedTransaction{
		{
			Signature: "sig1",
			Timestamp: 1700000000,
			FeePayer:  testWallet,
			Fee:       5000,
			TokenTransfers: []TokenTransfer{
				{Mint: mintX, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 1000},
			},
			NativeTransfers: []NativeTransfer{
				{FromUserAccount: testWallet, ToUserAccount: otherParty, Amount: 2_500_000_000},
			},
		},
	}

	records := MapToSwapInputs(testWallet, txs)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, testWallet, r.WalletAddress)
	assert.Equal(t, "sig1", r.Signature)
	assert.Equal(t, mintX, r.Mint)
	assert.Equal(t, db.DirectionIn, r.Direction)
	assert.Equal(t, 1000.0, r.Amount)
	assert.Equal(t, 2.5, r.AssociatedSolValue)
	assert.Equal(t, int64(1700000000), r.Timestamp)
	require.NotNil(t, r.FeesPaidInSol)
	assert.InDelta(t, 0.000005, *r.FeesPaidInSol, 1e-12)
}

func TestMapToSwapInputs_Sell(t *testing.T) {
	// Wallet sends 500 tokens and receives 1.2 SOL as wrapped SOL.
	txs := []ParsedTransaction{
		{
			Signature: "sig2",
			Timestamp: 1700000100,
			FeePayer:  otherParty,
			TokenTransfers: []TokenTransfer{
				{Mint: mintX, FromUserAccount: testWallet, ToUserAccount: otherParty, TokenAmount: 500},
				{Mint: WSOLMint, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 1.2},
			},
		},
	}

	records := MapToSwapInputs(testWallet, txs)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, db.DirectionOut, r.Direction)
	assert.Equal(t, 500.0, r.Amount)
	assert.Equal(t, 1.2, r.AssociatedSolValue)
	assert.Nil(t, r.FeesPaidInSol, "fees only recorded when the wallet paid them")
}

func TestMapToSwapInputs_CollapsesPerMintAndDirection(t *testing.T) {
	// Two partial fills of the same mint collapse to one net record.
	txs := []ParsedTransaction{
		{
			Signature: "sig3",
			Timestamp: 1700000200,
			TokenTransfers: []TokenTransfer{
				{Mint: mintX, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 300},
				{Mint: mintX, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 700},
				{Mint: mintY, FromUserAccount: testWallet, ToUserAccount: otherParty, TokenAmount: 50},
			},
			NativeTransfers: []NativeTransfer{
				{FromUserAccount: testWallet, ToUserAccount: otherParty, Amount: 1_000_000_000},
			},
		},
	}

	records := MapToSwapInputs(testWallet, txs)

	require.Len(t, records, 2)
	// Output is sorted by mint.
	assert.Equal(t, mintX, records[0].Mint)
	assert.Equal(t, db.DirectionIn, records[0].Direction)
	assert.Equal(t, 1000.0, records[0].Amount)
	assert.Equal(t, mintY, records[1].Mint)
	assert.Equal(t, db.DirectionOut, records[1].Direction)
	assert.Equal(t, 50.0, records[1].Amount)
	// Both legs of the same transaction share the SOL value.
	assert.Equal(t, 1.0, records[0].AssociatedSolValue)
	assert.Equal(t, 1.0, records[1].AssociatedSolValue)
}

func TestMapToSwapInputs_SkipsIrrelevantAndFailed(t *testing.T) {
	tests := []struct {
		name string
		tx   ParsedTransaction
	}{
		{
			name: "transaction not involving the wallet",
			tx: ParsedTransaction{
				Signature: "sig4",
				TokenTransfers: []TokenTransfer{
					{Mint: mintX, FromUserAccount: otherParty, ToUserAccount: "someone-else", TokenAmount: 10},
				},
			},
		},
		{
			name: "failed transaction",
			tx: ParsedTransaction{
				Signature:        "sig5",
				TransactionError: json.RawMessage(`{"InstructionError":[2,{"Custom":6001}]}`),
				TokenTransfers: []TokenTransfer{
					{Mint: mintX, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 10},
				},
			},
		},
		{
			name: "self transfer nets to zero",
			tx: ParsedTransaction{
				Signature: "sig6",
				TokenTransfers: []TokenTransfer{
					{Mint: mintX, FromUserAccount: testWallet, ToUserAccount: testWallet, TokenAmount: 10},
				},
			},
		},
		{
			name: "only WSOL moves, no token position",
			tx: ParsedTransaction{
				Signature: "sig7",
				TokenTransfers: []TokenTransfer{
					{Mint: WSOLMint, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 3},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := MapToSwapInputs(testWallet, []ParsedTransaction{tt.tx})
			assert.Empty(t, records)
		})
	}
}

func TestMapToSwapInputs_Deterministic(t *testing.T) {
	txs := []ParsedTransaction{
		{
			Signature: "sig8",
			Timestamp: 1700000300,
			TokenTransfers: []TokenTransfer{
				{Mint: mintY, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 5},
				{Mint: mintX, FromUserAccount: otherParty, ToUserAccount: testWallet, TokenAmount: 7},
			},
			NativeTransfers: []NativeTransfer{
				{FromUserAccount: testWallet, ToUserAccount: otherParty, Amount: 500_000_000},
			},
		},
	}

	first := MapToSwapInputs(testWallet, txs)
	second := MapToSwapInputs(testWallet, txs)

	assert.Equal(t, first, second)
}

func TestTouches(t *testing.T) {
	tests := []struct {
		name string
		tx   ParsedTransaction
		want bool
	}{
		{
			name: "fee payer",
			tx:   ParsedTransaction{FeePayer: testWallet},
			want: true,
		},
		{
			name: "token transfer recipient",
			tx: ParsedTransaction{
				TokenTransfers: []TokenTransfer{{Mint: mintX, ToUserAccount: testWallet}},
			},
			want: true,
		},
		{
			name: "native transfer sender",
			tx: ParsedTransaction{
				NativeTransfers: []NativeTransfer{{FromUserAccount: testWallet, Amount: 1}},
			},
			want: true,
		},
		{
			name: "account data with zero delta does not count",
			tx: ParsedTransaction{
				AccountData: []AccountData{{Account: testWallet, NativeBalanceChange: 0}},
			},
			want: false,
		},
		{
			name: "account data with non-zero delta",
			tx: ParsedTransaction{
				AccountData: []AccountData{{Account: testWallet, NativeBalanceChange: -5000}},
			},
			want: true,
		},
		{
			name: "swap event token leg",
			tx: ParsedTransaction{
				Events: Events{Swap: &SwapEvent{
					TokenInputs: []TokenSwapLeg{{Mint: mintX, UserAccount: testWallet}},
				}},
			},
			want: true,
		},
		{
			name: "unrelated transaction",
			tx: ParsedTransaction{
				FeePayer:        otherParty,
				TokenTransfers:  []TokenTransfer{{Mint: mintX, ToUserAccount: otherParty}},
				NativeTransfers: []NativeTransfer{{FromUserAccount: otherParty, Amount: 1}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tx.Touches(testWallet))
		})
	}
}
