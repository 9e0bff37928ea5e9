package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a JSON-RPC ledger reader.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	cluster    Address
}

// ClientConfig holds RPC client configuration.
type ClientConfig struct {
	RPCURL string
	// ClusterAccount is the address of the MPC cluster record to query for
	// the cluster public key.
	ClusterAccount Address
	Timeout        time.Duration
}

// NewClient creates a ledger RPC client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cluster: cfg.ClusterAccount,
	}, nil
}

// RPCRequest is the JSON-RPC request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
	ID      int           `json:"id"`
}

// RPCResponse is the JSON-RPC response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// accountInfo is the account envelope returned by getAccountInfo: the raw
// account data base64-encoded, or null if the account does not exist.
type accountInfo struct {
	Data  string `json:"data"`
	Owner string `json:"owner"`
}

// Call makes a raw RPC call to the ledger node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// accountData fetches and decodes the raw data of one account.
func (c *Client) accountData(ctx context.Context, addr Address) ([]byte, error) {
	result, err := c.Call(ctx, "getAccountInfo", []interface{}{addr.String()})
	if err != nil {
		return nil, err
	}

	if string(result) == "null" {
		return nil, ErrRecordNotFound
	}

	var info accountInfo
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("unmarshal account info: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: account data: %v", ErrInvalidRecord, err)
	}
	return data, nil
}

// ClusterPublicKey reads the cluster record and returns its published X25519
// key. An existing record with an all-zero key means key generation is still
// in progress; that is returned as-is, not as an error.
func (c *Client) ClusterPublicKey(ctx context.Context) ([32]byte, error) {
	var key [32]byte

	data, err := c.accountData(ctx, c.cluster)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Cluster not provisioned yet: treated as key-not-published.
			return key, nil
		}
		return key, err
	}
	if len(data) < 32 {
		return key, fmt.Errorf("%w: cluster record too short (%d bytes)", ErrInvalidRecord, len(data))
	}

	copy(key[:], data[:32])
	return key, nil
}

// Obligation fetches and parses a user obligation record.
func (c *Client) Obligation(ctx context.Context, addr Address) (*ObligationRecord, error) {
	data, err := c.accountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return ObligationRecordFromBytes(data)
}

// Pool fetches and parses a lending pool record.
func (c *Client) Pool(ctx context.Context, addr Address) (*PoolRecord, error) {
	data, err := c.accountData(ctx, addr)
	if err != nil {
		return nil, err
	}
	return PoolRecordFromBytes(data)
}
