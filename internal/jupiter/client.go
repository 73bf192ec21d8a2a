// Package jupiter is the client for the Jupiter v6 swap aggregator:
// quoting a route and requesting the unsigned swap transaction.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"solana-wallet-service/internal/domain"
)

// DefaultBaseURL is the public Jupiter v6 API.
const DefaultBaseURL = "https://quote-api.jup.ag/v6"

// MaxAccounts caps route complexity so the transaction stays under the
// account limit.
const MaxAccounts = 64

// Client talks to the aggregator.
type Client struct {
	baseURL string
	client  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the aggregator base URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates an aggregator client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// QuoteRequest asks for a priced route. Amount is raw base units of
// the input mint. SlippageBps of 0 enables the aggregator's dynamic
// slippage instead of a fixed tolerance.
type QuoteRequest struct {
	InputMint     string
	OutputMint    string
	Amount        uint64
	SlippageBps   int
	UserPublicKey string
}

// quoteResponse is the aggregator's quote body. The raw body is kept
// for the follow-up swap request.
type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
	Error                string `json:"error"`
	ErrorCode            string `json:"errorCode"`
}

// Quote fetches a route for the request.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*domain.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("maxAccounts", strconv.Itoa(MaxAccounts))
	if req.SlippageBps > 0 {
		params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	} else {
		params.Set("dynamicSlippage", "true")
	}
	if req.UserPublicKey != "" {
		params.Set("userPublicKey", req.UserPublicKey)
	}

	body, err := c.get(ctx, "/quote?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("aggregator: %s", resp.Error)
	}
	if resp.OutAmount == "" {
		return nil, fmt.Errorf("aggregator returned no route")
	}

	inAmount, err := strconv.ParseUint(resp.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount %q: %w", resp.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(resp.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount %q: %w", resp.OutAmount, err)
	}
	var threshold uint64
	if resp.OtherAmountThreshold != "" {
		threshold, _ = strconv.ParseUint(resp.OtherAmountThreshold, 10, 64)
	}
	var impact float64
	if resp.PriceImpactPct != "" {
		impact, err = strconv.ParseFloat(resp.PriceImpactPct, 64)
		if err != nil {
			return nil, fmt.Errorf("parse priceImpactPct %q: %w", resp.PriceImpactPct, err)
		}
	}

	return &domain.Quote{
		InputMint:            resp.InputMint,
		OutputMint:           resp.OutputMint,
		InAmountRaw:          inAmount,
		OutAmountRaw:         outAmount,
		OtherAmountThreshold: threshold,
		PriceImpactPct:       impact,
		SlippageBps:          resp.SlippageBps,
		Raw:                  body,
	}, nil
}

// swapRequest is the /swap payload. QuoteResponse forwards the quote
// body verbatim.
type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	DynamicSlippage           bool            `json:"dynamicSlippage"`
	PrioritizationFeeLamports struct {
		PriorityLevelWithMaxLamports priorityLevel `json:"priorityLevelWithMaxLamports"`
	} `json:"prioritizationFeeLamports"`
}

type priorityLevel struct {
	MaxLamports   uint64 `json:"maxLamports"`
	PriorityLevel string `json:"priorityLevel"`
}

// SwapResult is the unsigned transaction returned by the aggregator.
type SwapResult struct {
	TransactionBase64    string
	LastValidBlockHeight uint64
}

// SwapTransaction requests the unsigned transaction for a quote.
// dynamicSlippage is enabled only when the quote did not fix a
// tolerance.
func (c *Client) SwapTransaction(ctx context.Context, quote *domain.Quote, userPublicKey string, tier domain.PriorityTier) (*SwapResult, error) {
	if tier == "" {
		tier = domain.PriorityVeryHigh
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown priority tier %q", tier)
	}

	req := swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           userPublicKey,
		DynamicComputeUnitLimit: true,
		DynamicSlippage:         quote.SlippageBps == 0,
	}
	req.PrioritizationFeeLamports.PriorityLevelWithMaxLamports = priorityLevel{
		MaxLamports:   domain.PriorityMaxLamports[tier],
		PriorityLevel: string(tier),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var resp struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		Error                string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal swap response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("aggregator: %s", resp.Error)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("aggregator returned no transaction")
	}

	return &SwapResult{
		TransactionBase64:    resp.SwapTransaction,
		LastValidBlockHeight: resp.LastValidBlockHeight,
	}, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
