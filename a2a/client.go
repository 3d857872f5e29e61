package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"goa.design/orchestra/resilience"
)

// Client is a JSON-RPC 2.0 client over HTTP for the A2A protocol. Every
// call is wrapped by an endpoint-keyed resilience.Call, satisfying the
// "both operations must be wrapped by C1" requirement from §4.2.
type Client struct {
	http     *http.Client
	endpoint string
	headers  http.Header
	call     *resilience.Call
	nextID   uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithHeader adds a static header sent with every request.
func WithHeader(name, value string) ClientOption {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// NewClient constructs a Client for the given endpoint URL, guarded by the
// given resilient call (breaker + retry) for every RPC it issues.
func NewClient(endpoint string, call *resilience.Call, opts ...ClientOption) *Client {
	cl := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		endpoint: endpoint,
		headers:  make(http.Header),
		call:     call,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// GetAgentCard calls get_agent_card on the remote endpoint.
func (c *Client) GetAgentCard(ctx context.Context) (*AgentCard, error) {
	var card AgentCard
	err := c.invoke(ctx, MethodGetAgentCard, nil, &card)
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// CallAgent calls process_task with the given task and returns its result.
func (c *Client) CallAgent(ctx context.Context, task *Task) (*TaskResult, error) {
	var result TaskResult
	err := c.invoke(ctx, MethodProcessTask, processTaskParams{Task: task}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// invoke performs one resilient JSON-RPC round trip.
func (c *Client) invoke(ctx context.Context, method string, params any, out any) error {
	return c.call.Do(ctx, func(ctx context.Context) error {
		raw, err := c.roundTrip(ctx, method, params)
		if err != nil {
			return err
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, out)
	})
}

func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.requestID(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding a2a request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building a2a request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range c.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("a2a request to %s: %w", c.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Message: "backend saturated"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPStatusError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decoding a2a response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// requestID returns a client-chosen correlation identifier. A per-client
// monotonic counter is combined with a uuid so ids are unique even across
// client instances sharing a connection pool entry.
func (c *Client) requestID() string {
	n := atomic.AddUint64(&c.nextID, 1)
	return fmt.Sprintf("%s-%d", uuid.New().String(), n)
}
