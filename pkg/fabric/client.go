// Package fabric provides a minimal REST client for the analytics service's
// workspace and item API surface. It covers the operations the deployer
// consumes: list/create workspaces, list/create items, and update an item's
// definition, including polling of long-running operations.
package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jvreagan/fabric-deploy/pkg/credentials"
	"github.com/jvreagan/fabric-deploy/pkg/logging"
)

// DefaultEndpoint is the API base URL used when the plan does not set one.
const DefaultEndpoint = "https://api.fabric.microsoft.com/v1"

// Workspace is a deployment target as reported by the service.
type Workspace struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
}

// Item is a deployed artifact as reported by the service.
type Item struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
}

// DefinitionPart is one file of an artifact definition, base64-inlined.
type DefinitionPart struct {
	Path        string `json:"path"`
	Payload     string `json:"payload"`
	PayloadType string `json:"payloadType"`
}

// Definition is the full content of an artifact.
type Definition struct {
	Parts []DefinitionPart `json:"parts"`
}

// ItemRequest is the payload for creating or overwriting an item.
type ItemRequest struct {
	DisplayName string            `json:"displayName"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Definition  *Definition       `json:"definition,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// API is the service surface the deployer consumes. The concrete Client
// implements it; tests substitute fakes.
type API interface {
	// ListWorkspaces returns every workspace visible to the credential.
	ListWorkspaces(ctx context.Context) ([]Workspace, error)

	// CreateWorkspace creates a workspace. A name collision returns a
	// conflict-classified error.
	CreateWorkspace(ctx context.Context, name, description string) (Workspace, error)

	// ListItems returns the items in a workspace.
	ListItems(ctx context.Context, workspaceID string) ([]Item, error)

	// CreateItem creates a new item, waiting out a long-running operation
	// if the service accepts asynchronously.
	CreateItem(ctx context.Context, workspaceID string, req ItemRequest) (Item, error)

	// UpdateItemDefinition overwrites an existing item's definition.
	UpdateItemDefinition(ctx context.Context, workspaceID, itemID string, req ItemRequest) error
}

// Options configures a Client.
type Options struct {
	// HTTPClient overrides the transport (default: http.DefaultClient)
	HTTPClient *http.Client

	// RequestTimeout bounds every individual API call (default: 2m)
	RequestTimeout time.Duration

	// PollInterval between long-running-operation status checks when the
	// service does not mandate one (default: 5s)
	PollInterval time.Duration

	// OperationTimeout bounds a whole long-running operation (default: 10m)
	OperationTimeout time.Duration
}

// Client is the concrete API implementation over HTTP.
type Client struct {
	endpoint string
	creds    credentials.Provider
	http     *http.Client

	requestTimeout   time.Duration
	pollInterval     time.Duration
	operationTimeout time.Duration
}

// NewClient creates a service client. The credential provider is consulted
// on every request so a refreshed token is picked up mid-run.
func NewClient(endpoint string, creds credentials.Provider, opts *Options) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint:         strings.TrimRight(endpoint, "/"),
		creds:            creds,
		http:             http.DefaultClient,
		requestTimeout:   2 * time.Minute,
		pollInterval:     5 * time.Second,
		operationTimeout: 10 * time.Minute,
	}
	if opts != nil {
		if opts.HTTPClient != nil {
			c.http = opts.HTTPClient
		}
		if opts.RequestTimeout > 0 {
			c.requestTimeout = opts.RequestTimeout
		}
		if opts.PollInterval > 0 {
			c.pollInterval = opts.PollInterval
		}
		if opts.OperationTimeout > 0 {
			c.operationTimeout = opts.OperationTimeout
		}
	}
	return c
}

// ListWorkspaces returns every workspace visible to the credential.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var out struct {
		Value []Workspace `json:"value"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/workspaces", nil, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// CreateWorkspace creates a workspace with the given display name.
func (c *Client) CreateWorkspace(ctx context.Context, name, description string) (Workspace, error) {
	body := map[string]string{"displayName": name}
	if description != "" {
		body["description"] = description
	}
	var ws Workspace
	if _, err := c.do(ctx, http.MethodPost, "/workspaces", body, &ws); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// ListItems returns the items in a workspace.
func (c *Client) ListItems(ctx context.Context, workspaceID string) ([]Item, error) {
	var out struct {
		Value []Item `json:"value"`
	}
	path := fmt.Sprintf("/workspaces/%s/items", workspaceID)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// CreateItem creates a new item in the workspace. Definition uploads are
// typically accepted asynchronously; the call blocks until the operation
// reaches a terminal state.
func (c *Client) CreateItem(ctx context.Context, workspaceID string, req ItemRequest) (Item, error) {
	var item Item
	path := fmt.Sprintf("/workspaces/%s/items", workspaceID)
	resp, err := c.do(ctx, http.MethodPost, path, req, &item)
	if err != nil {
		return Item{}, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return item, nil
	}

	// Accepted: poll the operation and fetch its result.
	location := resp.Header.Get("Location")
	if location == "" {
		return Item{}, &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "accepted response carried no operation location"}
	}
	if err := c.awaitOperation(ctx, location, retryAfterHeader(resp)); err != nil {
		return Item{}, err
	}
	var result Item
	if _, err := c.doURL(ctx, http.MethodGet, location+"/result", nil, &result); err != nil {
		return Item{}, err
	}
	return result, nil
}

// UpdateItemDefinition overwrites the definition of an existing item.
// Re-running with identical content is safe; the service treats it as an
// overwrite, not a duplicate create.
func (c *Client) UpdateItemDefinition(ctx context.Context, workspaceID, itemID string, req ItemRequest) error {
	path := fmt.Sprintf("/workspaces/%s/items/%s/updateDefinition", workspaceID, itemID)
	resp, err := c.do(ctx, http.MethodPost, path, req, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "accepted response carried no operation location"}
	}
	return c.awaitOperation(ctx, location, retryAfterHeader(resp))
}

// operationState is the long-running operation status document.
type operationState struct {
	Status string `json:"status"`
	Error  *struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"error,omitempty"`
}

// awaitOperation polls an operation URL until it reaches a terminal state,
// honoring Retry-After when the service mandates a delay.
func (c *Client) awaitOperation(ctx context.Context, location string, initialDelay time.Duration) error {
	deadline := time.After(c.operationTimeout)
	delay := initialDelay
	if delay <= 0 {
		delay = c.pollInterval
	}

	for {
		select {
		case <-ctx.Done():
			return &APIError{Kind: KindPermanent, Message: fmt.Sprintf("run cancelled while waiting for operation: %v", ctx.Err())}
		case <-deadline:
			return &APIError{Kind: KindTransient, Message: "timeout waiting for operation to complete"}
		case <-time.After(delay):
			var state operationState
			resp, err := c.doURL(ctx, http.MethodGet, location, nil, &state)
			if err != nil {
				return err
			}

			logging.Debug("operation status", "status", state.Status, "location", location)

			switch state.Status {
			case "Succeeded":
				return nil
			case "Failed":
				msg := "operation failed"
				if state.Error != nil {
					msg = fmt.Sprintf("%s: %s", state.Error.ErrorCode, state.Error.Message)
				}
				return &APIError{Kind: KindInvalidContent, Message: msg}
			}

			delay = retryAfterHeader(resp)
			if delay <= 0 {
				delay = c.pollInterval
			}
		}
	}
}

// do issues a request against a path under the configured endpoint.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (*http.Response, error) {
	return c.doURL(ctx, method, c.endpoint+path, body, out)
}

// doURL issues one authenticated request with the per-request timeout and
// decodes a JSON response into out (when out is non-nil and the response has
// a body). Non-2xx responses and transport failures return an APIError.
func (c *Client) doURL(ctx context.Context, method, url string, body, out interface{}) (*http.Response, error) {
	// Refuse to start a new request once the run is cancelled; a request
	// already in flight runs to completion or times out (the request
	// context below is detached from cancellation) so a partial
	// server-side write is never abandoned silently.
	if err := ctx.Err(); err != nil {
		return nil, &APIError{Kind: KindPermanent, Message: fmt.Sprintf("run cancelled: %v", err)}
	}

	cred, err := c.creds.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and network-level failures are retryable.
		return nil, &APIError{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindTransient, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Kind:       classify(resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfterHeader(resp),
			Message:    serviceMessage(data, resp.StatusCode),
		}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, &APIError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to decode response: %v", err)}
		}
	}
	return resp, nil
}

// serviceMessage extracts the error message from a service error document.
func serviceMessage(data []byte, status int) string {
	var doc struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(data, &doc); err == nil && doc.Message != "" {
		if doc.ErrorCode != "" {
			return fmt.Sprintf("%s: %s", doc.ErrorCode, doc.Message)
		}
		return doc.Message
	}
	return http.StatusText(status)
}

// retryAfterHeader parses a Retry-After header in seconds.
func retryAfterHeader(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
