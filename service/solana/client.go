package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/brojonat/cahoots/service/metrics"
	"github.com/brojonat/cahoots/service/ratelimit"
	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		conf *rpc.GetTokenAccountsConfig,
		opts *rpc.GetTokenAccountsOpts,
	) (*rpc.GetTokenAccountsResult, error)

	GetMultipleAccounts(
		ctx context.Context,
		accounts ...solana.PublicKey,
	) (*rpc.GetMultipleAccountsResult, error)
}

const (
	// MaxSignaturePageLimit is the RPC ceiling for getSignaturesForAddress.
	MaxSignaturePageLimit = 1000
	// MaxTransactionsBatch is the indexer ceiling for one parsed-transactions request.
	MaxTransactionsBatch = 100

	defaultAPIBase = "https://api.helius.xyz"
	httpTimeout    = 30 * time.Second

	// Retry schedule: initial attempt plus three retries at 1s, 2s, 4s.
	retryInitialInterval = time.Second
	retryMaxTries        = 4
)

// Client provides the outbound API surface: signature pagination and account
// lookups over JSON-RPC, and parsed transaction details over the indexer's
// REST endpoint. Every call passes through the shared rate limiter before it
// leaves the process.
type Client struct {
	rpc        RPCClient
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	metrics    *metrics.Metrics
	apiKey     string
	apiBase    string
	endpoint   string // metrics label, e.g. "mainnet" or the RPC hostname
}

// ClientConfig carries the knobs for NewClient. Zero values fall back to
// sane defaults; Limiter defaults to the process-wide one.
type ClientConfig struct {
	APIKey     string
	APIBase    string
	Endpoint   string
	RPS        int
	Limiter    *ratelimit.Limiter
	HTTPClient *http.Client
}

// NewClient creates a new outbound API client. If m is nil, no metrics are
// recorded. The configured RPS is registered on the limiter; the limiter
// only ever ratchets tighter, so multiple clients converge on the strictest
// rate any of them requested.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.Default()
	}
	if cfg.RPS > 0 {
		limiter.EnsureRPS(cfg.RPS)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
		if m != nil {
			httpClient.Transport = m.InstrumentTransport(nil)
		}
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "mainnet"
	}
	if m != nil {
		limiter.SetWaitObserver(func(d time.Duration) {
			m.RecordRateLimitWait(d.Seconds())
		})
	}
	return &Client{
		rpc:        rpcClient,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		metrics:    m,
		apiKey:     cfg.APIKey,
		apiBase:    apiBase,
		endpoint:   endpoint,
	}
}

// GetSignaturesPage fetches one page of signature metadata for an address,
// newest first. An empty before starts from the tip; otherwise paging
// continues backwards from (excluding) the given signature.
func (c *Client) GetSignaturesPage(ctx context.Context, address string, limit int, before string) ([]SignatureInfo, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, &ClientError{Err: fmt.Errorf("invalid address %q: %w", address, err)}
	}
	if limit <= 0 || limit > MaxSignaturePageLimit {
		limit = MaxSignaturePageLimit
	}
	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	}
	if before != "" {
		sig, err := solana.SignatureFromBase58(before)
		if err != nil {
			return nil, &ClientError{Err: fmt.Errorf("invalid before signature %q: %w", before, err)}
		}
		opts.Before = sig
	}

	op := func() ([]SignatureInfo, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		start := time.Now()
		out, err := c.rpc.GetSignaturesForAddress(ctx, pubkey, opts)
		c.record("getSignaturesForAddress", err, start)
		if err != nil {
			return nil, c.classify(err)
		}
		infos := make([]SignatureInfo, 0, len(out))
		for _, sig := range out {
			infos = append(infos, signatureToDomain(sig))
		}
		return infos, nil
	}
	return withRetry(ctx, c, "getSignaturesForAddress", op)
}

// GetTransactionsBatch fetches parsed transaction details for up to 100
// signatures. The response may be shorter than the request when the indexer
// has not (yet) parsed some of them; callers diff against their request list.
func (c *Client) GetTransactionsBatch(ctx context.Context, signatures []string) ([]ParsedTransaction, error) {
	if len(signatures) == 0 {
		return nil, nil
	}
	if len(signatures) > MaxTransactionsBatch {
		return nil, fmt.Errorf("batch of %d signatures exceeds limit %d", len(signatures), MaxTransactionsBatch)
	}

	reqBody, err := json.Marshal(map[string][]string{"transactions": signatures})
	if err != nil {
		return nil, fmt.Errorf("encode transactions request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v0/transactions?api-key=%s", c.apiBase, url.QueryEscape(c.apiKey))

	op := func() ([]ParsedTransaction, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, backoff.Permanent(sanitizeError(err))
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		c.record("getTransactionsBatch", err, start)
		if err != nil {
			// Connection-level failures are transient.
			return nil, sanitizeError(err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, sanitizeError(err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, c.classify(&apiError{status: resp.StatusCode, body: string(body)})
		}
		var txs []ParsedTransaction
		if err := json.Unmarshal(body, &txs); err != nil {
			return nil, fmt.Errorf("decode transactions response: %w", err)
		}
		return txs, nil
	}
	return withRetry(ctx, c, "getTransactionsBatch", op)
}

// TokenAccountsFilter selects token accounts by mint or by owning program.
// Exactly one of the two should be set.
type TokenAccountsFilter struct {
	Mint      string
	ProgramID string
}

// GetTokenAccountsByOwner returns the owner's token accounts matching the
// filter.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner string, filter TokenAccountsFilter) (*rpc.GetTokenAccountsResult, error) {
	pubkey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("invalid owner %q: %w", owner, err)
	}
	conf := &rpc.GetTokenAccountsConfig{}
	switch {
	case filter.Mint != "":
		mint, err := solana.PublicKeyFromBase58(filter.Mint)
		if err != nil {
			return nil, fmt.Errorf("invalid mint %q: %w", filter.Mint, err)
		}
		conf.Mint = &mint
	case filter.ProgramID != "":
		program, err := solana.PublicKeyFromBase58(filter.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("invalid program id %q: %w", filter.ProgramID, err)
		}
		conf.ProgramId = &program
	default:
		program := solana.TokenProgramID
		conf.ProgramId = &program
	}
	opts := &rpc.GetTokenAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
		Encoding:   solana.EncodingJSONParsed,
	}

	op := func() (*rpc.GetTokenAccountsResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		start := time.Now()
		out, err := c.rpc.GetTokenAccountsByOwner(ctx, pubkey, conf, opts)
		c.record("getTokenAccountsByOwner", err, start)
		if err != nil {
			return nil, c.classify(err)
		}
		return out, nil
	}
	return withRetry(ctx, c, "getTokenAccountsByOwner", op)
}

// GetMultipleAccounts fetches up to 100 accounts in one call.
func (c *Client) GetMultipleAccounts(ctx context.Context, addresses []string) (*rpc.GetMultipleAccountsResult, error) {
	if len(addresses) == 0 {
		return &rpc.GetMultipleAccountsResult{}, nil
	}
	if len(addresses) > 100 {
		return nil, fmt.Errorf("batch of %d accounts exceeds limit 100", len(addresses))
	}
	pubkeys := make([]solana.PublicKey, 0, len(addresses))
	for _, addr := range addresses {
		pk, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid account %q: %w", addr, err)
		}
		pubkeys = append(pubkeys, pk)
	}

	op := func() (*rpc.GetMultipleAccountsResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		start := time.Now()
		out, err := c.rpc.GetMultipleAccounts(ctx, pubkeys...)
		c.record("getMultipleAccounts", err, start)
		if err != nil {
			return nil, c.classify(err)
		}
		return out, nil
	}
	return withRetry(ctx, c, "getMultipleAccounts", op)
}

// record emits per-call metrics. Safe to call with a nil metrics sink.
func (c *Client) record(method string, err error, start time.Time) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// withRetry runs op with the standard backoff schedule. Operations mark
// non-retryable failures with backoff.Permanent; everything else is retried
// up to three times.
func withRetry[T any](ctx context.Context, c *Client, method string, op backoff.Operation[T]) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.RandomizationFactor = 0
	policy.Multiplier = 2

	notify := func(err error, d time.Duration) {
		c.logger.WarnContext(ctx, "retrying "+method,
			"backoff", d,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordRPCRetry(method)
		}
	}

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(retryMaxTries),
		backoff.WithNotify(notify))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// apiError is an HTTP-level failure from the indexer REST endpoint.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("indexer returned status %d: %s", e.status, sanitizeMessage(e.body))
}

// ClientError marks a non-retryable failure: a malformed request or a 4xx
// response other than 429. The retry loop stops immediately and callers can
// distinguish it from retryable exhaustion.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string { return e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// IsNonRetryable reports whether err was classified as a permanent
// client-side failure.
func IsNonRetryable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return true
	}
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// classify decides whether err is retryable. 429, 5xx, connection errors and
// RPC envelope errors are transient; other 4xx and malformed-parameter
// responses are permanent. The returned error is always sanitized.
func (c *Client) classify(err error) error {
	sanitized := sanitizeError(err)
	var ae *apiError
	if errors.As(err, &ae) {
		if ae.status == http.StatusTooManyRequests || ae.status >= 500 {
			return sanitized
		}
		return backoff.Permanent(&ClientError{Err: sanitized})
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid param") || strings.Contains(msg, "wrongsize") {
		return backoff.Permanent(&ClientError{Err: sanitized})
	}
	return sanitized
}

var apiKeyPattern = regexp.MustCompile(`api-key=[^&\s"']+`)

// sanitizeMessage scrubs credentials from an error or response message and
// drops everything past the first line so stack traces and HTML error pages
// never reach the logs.
func sanitizeMessage(msg string) string {
	msg = apiKeyPattern.ReplaceAllString(msg, "api-key=REDACTED")
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = strings.TrimSpace(msg[:i])
	}
	return msg
}

// sanitizeError rebuilds err with a sanitized message. The original error
// chain is intentionally dropped; it may embed the credential.
func sanitizeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(sanitizeMessage(err.Error()))
}
