// Package client is a typed client for the management API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/logging"
	"github.com/canvasadmin/canvasadmin/internal/models"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("management api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("management api returned %d: %s", e.StatusCode, e.Detail)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to one management API base URL.
type Client struct {
	baseURL    string
	token      string
	tokens     TokenSource
	httpClient *http.Client
}

// TokenSource returns the bearer token for the next request.
type TokenSource func(ctx context.Context) (string, error)

// Option customises a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTokenSource asks ts for a token before every request. It takes
// precedence over WithToken.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListIndexingStatus fetches the status of every connector-credential pair.
func (c *Client) ListIndexingStatus(ctx context.Context) ([]models.ConnectorIndexingStatus, error) {
	var out []models.ConnectorIndexingStatus
	err := c.do(ctx, http.MethodGet, "/api/manage/admin/connector/indexing-status", nil, &out)
	return out, err
}

// ListCredentials fetches credentials. Secrets are masked unless reveal is set.
func (c *Client) ListCredentials(ctx context.Context, reveal bool) ([]models.Credential, error) {
	path := "/api/manage/credential"
	if reveal {
		path += "?" + url.Values{"reveal": {"true"}}.Encode()
	}
	var out []models.Credential
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateCredential stores a new credential.
func (c *Client) CreateCredential(ctx context.Context, req models.CredentialRequest) (models.Credential, error) {
	var out models.Credential
	err := c.do(ctx, http.MethodPost, "/api/manage/credential", req, &out)
	return out, err
}

// AdminDeleteCredential deletes a credential. The server answers 409 while it is linked.
func (c *Client) AdminDeleteCredential(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/manage/admin/credential/"+strconv.FormatInt(id, 10), nil, nil)
}

// ListConnectors fetches connectors. An empty source lists all of them.
func (c *Client) ListConnectors(ctx context.Context, source models.DocumentSource) ([]models.Connector, error) {
	path := "/api/manage/admin/connector"
	if source != "" {
		path += "?" + url.Values{"source": {string(source)}}.Encode()
	}
	var out []models.Connector
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// SetConnectorDisabled pauses or resumes a connector.
func (c *Client) SetConnectorDisabled(ctx context.Context, id int64, disabled bool) (models.Connector, error) {
	var out models.Connector
	err := c.do(ctx, http.MethodPatch, "/api/manage/admin/connector/"+strconv.FormatInt(id, 10),
		models.ConnectorUpdateRequest{Disabled: &disabled}, &out)
	return out, err
}

// CreateConnector stores a new connector.
func (c *Client) CreateConnector(ctx context.Context, req models.ConnectorRequest) (models.Connector, error) {
	var out models.Connector
	err := c.do(ctx, http.MethodPost, "/api/manage/admin/connector", req, &out)
	return out, err
}

// DeleteConnector removes a connector with its links and attempts.
func (c *Client) DeleteConnector(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/manage/admin/connector/"+strconv.FormatInt(id, 10), nil, nil)
}

// LinkCredential pairs a connector with a credential.
func (c *Client) LinkCredential(ctx context.Context, connectorID, credentialID int64, name string) (models.ConnectorCredentialPair, error) {
	var out models.ConnectorCredentialPair
	err := c.do(ctx, http.MethodPut, pairPath(connectorID, credentialID), models.LinkRequest{Name: name}, &out)
	return out, err
}

// UnlinkCredential removes a connector-credential pair.
func (c *Client) UnlinkCredential(ctx context.Context, connectorID, credentialID int64) error {
	return c.do(ctx, http.MethodDelete, pairPath(connectorID, credentialID), nil, nil)
}

// RunOnce asks the server to index a connector now.
func (c *Client) RunOnce(ctx context.Context, req models.RunOnceRequest) (int, error) {
	var out struct {
		Queued int `json:"queued"`
	}
	err := c.do(ctx, http.MethodPost, "/api/manage/admin/connector/run-once", req, &out)
	return out.Queued, err
}

// Login exchanges the admin password for a token.
func (c *Client) Login(ctx context.Context, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{"password": password}, &out)
	return out.Token, err
}

func pairPath(connectorID, credentialID int64) string {
	return fmt.Sprintf("/api/manage/connector/%d/credential/%d", connectorID, credentialID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := c.token
	if c.tokens != nil {
		if token, err = c.tokens(ctx); err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Detail = payload.Detail
		if apiErr.Detail == "" {
			apiErr.Detail = payload.Error
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}
