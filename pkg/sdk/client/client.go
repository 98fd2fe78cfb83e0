// Package client is a small Go SDK for the gateway's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odoogate/odoogate/pkg/types"
)

// Client talks to a running gateway instance.
type Client struct {
	baseURL    string
	token      string
	tenant     url.Values
	httpClient *http.Client
}

// New returns a client for the gateway at baseURL. token is the OAuth
// bearer token; leave it empty when the gateway runs without auth.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithTenant returns a copy of the client that routes every request to the
// given Odoo endpoint and API key instead of the gateway's default backend.
func (c *Client) WithTenant(endpoint, credential string) *Client {
	clone := *c
	clone.tenant = url.Values{"endpoint": {endpoint}, "credential": {credential}}
	return &clone
}

// Execute runs a single ORM operation.
func (c *Client) Execute(ctx context.Context, req types.ExecuteRequest) (*types.ExecuteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/execute"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp types.ExecuteResponse
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports gateway and upstream connection health.
func (c *Client) Status(ctx context.Context) (*types.StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/v1/status"), http.NoBody)
	if err != nil {
		return nil, err
	}
	var resp types.StatusResponse
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchRead searches model with domain and returns the requested fields.
func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, limit int) (*types.ExecuteResponse, error) {
	return c.Execute(ctx, types.ExecuteRequest{
		Model:  model,
		Method: "search_read",
		Domain: domain,
		Fields: fields,
		Limit:  limit,
	})
}

// Create inserts a record; the new id comes back in Result.
func (c *Client) Create(ctx context.Context, model string, values map[string]any) (*types.ExecuteResponse, error) {
	return c.Execute(ctx, types.ExecuteRequest{Model: model, Method: "create", Values: values})
}

// Write updates the given record ids.
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]any) (*types.ExecuteResponse, error) {
	return c.Execute(ctx, types.ExecuteRequest{Model: model, Method: "write", IDs: ids, Values: values})
}

// Unlink deletes the given record ids.
func (c *Client) Unlink(ctx context.Context, model string, ids []int64) (*types.ExecuteResponse, error) {
	return c.Execute(ctx, types.ExecuteRequest{Model: model, Method: "unlink", IDs: ids})
}

func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if len(c.tenant) > 0 {
		u += "?" + c.tenant.Encode()
	}
	return u
}

func (c *Client) doJSON(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("api error %s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
