package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is the HTTP client for the solrelay API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new relay client. token is the bearer session token
// sent with every /api request.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Transfers wait for confirmation server side.
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// APIError is a failed API call. Kind and Signature mirror the server's
// error body. A non-empty Signature means a transaction was signed and may
// have landed: check its status before trying again.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Signature  string `json:"signature,omitempty"`
	Status     string `json:"status,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("request failed with status %d", e.StatusCode)
	if e.Kind != "" {
		msg += " (" + e.Kind + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Signature != "" {
		msg += " [signature " + e.Signature + "]"
	}
	return msg
}

// Balance is the balance of an account.
type Balance struct {
	Address  string  `json:"address"`
	Balance  float64 `json:"balance"`
	Lamports uint64  `json:"lamports"`
	Slot     uint64  `json:"slot,omitempty"`
}

// TransferRequest is the body of a transfer. SenderPrivateKey is the base58
// encoded 64 byte secret key of the sender.
type TransferRequest struct {
	SenderAddress    string `json:"senderAddress"`
	SenderPrivateKey string `json:"senderPrivateKey"`
	RecipientAddress string `json:"recipientAddress"`
	Amount           string `json:"amount"`
}

// TransferResult is a completed transfer.
type TransferResult struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Lamports  uint64 `json:"lamports"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	Slot      uint64 `json:"slot,omitempty"`
}

// Transaction is a transfer recorded by the relay.
type Transaction struct {
	ID                   string    `json:"id"`
	Signature            string    `json:"signature"`
	Subject              string    `json:"subject"`
	Sender               string    `json:"sender"`
	Recipient            string    `json:"recipient"`
	Lamports             int64     `json:"lamports"`
	Status               string    `json:"status"`
	ErrorKind            *string   `json:"error_kind,omitempty"`
	ErrorMessage         *string   `json:"error_message,omitempty"`
	Blockhash            string    `json:"blockhash"`
	LastValidBlockHeight int64     `json:"last_valid_block_height"`
	Slot                 *int64    `json:"slot,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TransactionList is one page of transaction history.
type TransactionList struct {
	Transactions []*Transaction `json:"transactions"`
	Count        int            `json:"count"`
	Total        int64          `json:"total"`
	Limit        int            `json:"limit"`
	Offset       int            `json:"offset"`
}

// Dashboard is the greeting returned for the authenticated subject.
type Dashboard struct {
	Success bool   `json:"success"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// TransferEvent is a transfer status change delivered over the event stream.
type TransferEvent struct {
	Signature   string    `json:"signature"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Lamports    int64     `json:"lamports"`
	Status      string    `json:"status"`
	Slot        *int64    `json:"slot,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Balance fetches the balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var bal Balance
	if err := c.do(ctx, http.MethodGet, "/api/v1/balance/"+url.PathEscape(address), nil, nil, &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// Transfer submits a transfer and waits for the server to confirm it. When
// idempotencyKey is non-empty it is sent so a retried call cannot move funds
// twice.
func (c *Client) Transfer(ctx context.Context, req TransferRequest, idempotencyKey string) (*TransferResult, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}

	var result TransferResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers", req, headers, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("transfer completed", "signature", result.Signature, "status", result.Status)
	return &result, nil
}

// ListTransactions returns relay-recorded transfers involving address.
// Zero limit or offset uses the server default.
func (c *Client) ListTransactions(ctx context.Context, address string, limit, offset int) (*TransactionList, error) {
	q := url.Values{}
	q.Set("address", address)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var list TransactionList
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions?"+q.Encode(), nil, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Dashboard fetches the dashboard greeting for the token's subject.
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/v1/dashboard", nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Health checks that the server is up. It does not need a token.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// StreamTransfers calls fn for every transfer event sent from address until
// ctx is cancelled, the server closes the stream, or fn returns an error.
func (c *Client) StreamTransfers(ctx context.Context, address string, fn func(*TransferEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/transfers/"+url.PathEscape(address), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	// The stream outlives any request timeout.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "transfer":
			var te TransferEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &te); err != nil {
				c.logger.Warn("failed to decode transfer event", "error", err)
				continue
			}
			if err := fn(&te); err != nil {
				return err
			}
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// do sends a JSON request and decodes a 200 response into out.
func (c *Client) do(ctx context.Context, method, path string, in interface{}, headers http.Header, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse turns a non-200 response into an *APIError.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
