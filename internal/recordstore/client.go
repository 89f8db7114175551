// Package recordstore is a thin HTTP client for the marketplace backend's
// record API. Users, products and orders live behind it; this service only
// creates and reads records, it never owns the data.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	errors "github.com/samitochi04/cameroon-marketplace-sub000/internal"
	"github.com/samitochi04/cameroon-marketplace-sub000/internal/auth"
)

type Client struct {
	httpClient  *http.Client
	baseURL     string
	credentials auth.CredentialProvider
	logger      *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, credentials auth.CredentialProvider, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		credentials: credentials,
		logger:      logger,
	}
}

// Create POSTs a record to /api/<resource> and decodes the response data
// envelope into out.
func (c *Client) Create(ctx context.Context, resource string, body interface{}, out interface{}) *errors.AppError {
	return c.do(ctx, http.MethodPost, c.endpoint(resource, ""), body, out)
}

// Get reads a single record by id.
func (c *Client) Get(ctx context.Context, resource, id string, out interface{}) *errors.AppError {
	return c.do(ctx, http.MethodGet, c.endpoint(resource, id), nil, out)
}

// Update PATCHes a record by id.
func (c *Client) Update(ctx context.Context, resource, id string, body interface{}, out interface{}) *errors.AppError {
	return c.do(ctx, http.MethodPatch, c.endpoint(resource, id), body, out)
}

// Query lists records matching params.
func (c *Client) Query(ctx context.Context, resource string, params url.Values, out interface{}) *errors.AppError {
	endpoint := c.endpoint(resource, "")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) endpoint(resource, id string) string {
	if id == "" {
		return fmt.Sprintf("%s/api/%s", c.baseURL, resource)
	}
	return fmt.Sprintf("%s/api/%s/%s", c.baseURL, resource, id)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) *errors.AppError {
	token, authErr := c.credentials.Token(ctx)
	if authErr != nil {
		return authErr
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to encode record payload", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return errors.NewInternalError("failed to build record store request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("record store request failed", "method", method, "endpoint", endpoint, "error", err)
		return errors.NewNetworkError("record store unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewNetworkError("failed to read record store response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.NewUnauthenticatedError("record store rejected the credential", errors.ErrCodeUnauthenticated)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		c.logger.Error("malformed record store response", "endpoint", endpoint, "body", string(respBody))
		return errors.NewNetworkError("malformed record store response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		message := env.Message
		if message == "" {
			message = fmt.Sprintf("record store returned status %d", resp.StatusCode)
		}
		c.logger.Error("record store refused operation",
			"method", method,
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"message", message)
		return errors.NewInternalError(message, nil)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.NewNetworkError("malformed record store data", err)
		}
	}

	return nil
}
