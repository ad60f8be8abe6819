package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"

// mockRPCClient implements RPCClient for testing. Behavior-focused: we set
// what it should return, not verify call sequences.
type mockRPCClient struct {
	signatures []*rpc.TransactionSignature
	sigErr     error

	tokenAccounts    *rpc.GetTokenAccountsResult
	multipleAccounts *rpc.GetMultipleAccountsResult

	sigCalls int
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solanago.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.sigCalls++
	if m.sigErr != nil {
		return nil, m.sigErr
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTokenAccountsByOwner(
	ctx context.Context,
	owner solanago.PublicKey,
	conf *rpc.GetTokenAccountsConfig,
	opts *rpc.GetTokenAccountsOpts,
) (*rpc.GetTokenAccountsResult, error) {
	return m.tokenAccounts, nil
}

func (m *mockRPCClient) GetMultipleAccounts(
	ctx context.Context,
	accounts ...solanago.PublicKey,
) (*rpc.GetMultipleAccountsResult, error) {
	return m.multipleAccounts, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, mock *mockRPCClient, apiBase string) *Client {
	t.Helper()
	return NewClient(mock, ClientConfig{
		APIKey:  "secret-key",
		APIBase: apiBase,
		Limiter: nil, // default limiter, no rate registered, admits immediately
	}, nil, testLogger())
}

func TestGetSignaturesPage(t *testing.T) {
	sig := solanago.Signature{1, 2, 3}
	blockTime := solanago.UnixTimeSeconds(1700000000)
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: sig, Slot: 42, BlockTime: &blockTime},
			{Signature: solanago.Signature{4}, Slot: 41, Err: map[string]any{"InstructionError": []any{}}},
		},
	}
	client := newTestClient(t, mock, "")

	infos, err := client.GetSignaturesPage(context.Background(), testAddress, 1000, "")

	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, sig.String(), infos[0].Signature)
	assert.Equal(t, uint64(42), infos[0].Slot)
	require.NotNil(t, infos[0].BlockTime)
	assert.Equal(t, int64(1700000000), *infos[0].BlockTime)
	assert.False(t, infos[0].Failed())
	assert.True(t, infos[1].Failed())
}

func TestGetSignaturesPage_InvalidAddress(t *testing.T) {
	client := newTestClient(t, &mockRPCClient{}, "")

	_, err := client.GetSignaturesPage(context.Background(), "not-a-pubkey", 1000, "")

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
}

func TestGetSignaturesPage_InvalidParamNotRetried(t *testing.T) {
	mock := &mockRPCClient{sigErr: errors.New("rpc error: invalid param: WrongSize")}
	client := newTestClient(t, mock, "")

	_, err := client.GetSignaturesPage(context.Background(), testAddress, 1000, "")

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, mock.sigCalls, "permanent errors must not be retried")
}

func TestGetTransactionsBatch(t *testing.T) {
	var gotBody map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/transactions", r.URL.Path)
		assert.Equal(t, "secret-key", r.URL.Query().Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		// Response is intentionally shorter than the request.
		json.NewEncoder(w).Encode([]ParsedTransaction{
			{Signature: "s1", Timestamp: 100},
		})
	}))
	defer server.Close()

	client := newTestClient(t, &mockRPCClient{}, server.URL)

	txs, err := client.GetTransactionsBatch(context.Background(), []string{"s1", "s2"})

	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, gotBody["transactions"])
	require.Len(t, txs, 1)
	assert.Equal(t, "s1", txs[0].Signature)
}

func TestGetTransactionsBatch_EmptyAndOversized(t *testing.T) {
	client := newTestClient(t, &mockRPCClient{}, "http://unused.invalid")

	txs, err := client.GetTransactionsBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, txs)

	oversized := make([]string, MaxTransactionsBatch+1)
	_, err = client.GetTransactionsBatch(context.Background(), oversized)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestGetTransactionsBatch_4xxNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, &mockRPCClient{}, server.URL)

	_, err := client.GetTransactionsBatch(context.Background(), []string{"s1"})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestClassify(t *testing.T) {
	client := newTestClient(t, &mockRPCClient{}, "")

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "429 is retryable", err: &apiError{status: 429, body: "slow down"}, retryable: true},
		{name: "500 is retryable", err: &apiError{status: 500, body: "boom"}, retryable: true},
		{name: "503 is retryable", err: &apiError{status: 503, body: "unavailable"}, retryable: true},
		{name: "400 is permanent", err: &apiError{status: 400, body: "bad"}, retryable: false},
		{name: "404 is permanent", err: &apiError{status: 404, body: "nope"}, retryable: false},
		{name: "invalid param is permanent", err: errors.New("Invalid param: foo"), retryable: false},
		{name: "wrongsize is permanent", err: errors.New("base58 decode: WrongSize"), retryable: false},
		{name: "connection error is retryable", err: errors.New("connection refused"), retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := client.classify(tt.err)
			assert.Equal(t, !tt.retryable, IsNonRetryable(got))
		})
	}
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "redacts api key",
			in:   `Post "https://api.helius.xyz/v0/transactions?api-key=abc123": timeout`,
			want: `Post "https://api.helius.xyz/v0/transactions?api-key=REDACTED": timeout`,
		},
		{
			name: "drops everything past the first line",
			in:   "request failed\ngoroutine 1 [running]:\nmain.main()",
			want: "request failed",
		},
		{
			name: "plain message untouched",
			in:   "connection refused",
			want: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeMessage(tt.in))
		})
	}
}
