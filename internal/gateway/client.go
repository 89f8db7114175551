// Package gateway is the HTTP client for the mobile money payment gateway.
// The gateway is a black box: it accepts an initiation and returns a
// reference, and answers status queries with one of a fixed set of statuses.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
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

// Initiate submits one payment request. The bearer credential is fetched at
// call time; a missing or expired credential fails before any network I/O.
func (c *Client) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, *errors.AppError) {
	token, authErr := c.credentials.Token(ctx)
	if authErr != nil {
		return nil, authErr
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		c.logger.Error("failed to marshal initiation request", "error", err)
		return nil, errors.NewInternalError("failed to encode payment request", err)
	}

	url := fmt.Sprintf("%s/api/payments/initialize", c.baseURL)
	c.logger.Info("initiating payment",
		"url", url,
		"order_id", req.Metadata.OrderID,
		"operator", req.Metadata.Operator,
		"amount", req.Amount)

	var env envelope[initiateData]
	if appErr := c.do(ctx, http.MethodPost, url, token, bytes.NewReader(reqBody), &env); appErr != nil {
		return nil, appErr
	}

	if !env.Success || env.Data.Reference == "" {
		c.logger.Error("gateway rejected payment initiation",
			"order_id", req.Metadata.OrderID,
			"message", env.Message)
		return nil, errors.NewGatewayRejectedError(rejectionMessage(env.Message))
	}

	c.logger.Info("payment initiated",
		"reference", env.Data.Reference,
		"order_id", req.Metadata.OrderID,
		"has_ussd_code", env.Data.USSDCode != "")

	return &InitiateResult{
		Reference: env.Data.Reference,
		USSDCode:  env.Data.USSDCode,
	}, nil
}

// QueryStatus asks the gateway for the current status of one reference. Safe
// to call repeatedly; deduplication of concurrent queries is the session's
// responsibility, not this client's.
func (c *Client) QueryStatus(ctx context.Context, reference string) (Status, *errors.AppError) {
	token, authErr := c.credentials.Token(ctx)
	if authErr != nil {
		return "", authErr
	}

	url := fmt.Sprintf("%s/api/payments/status/%s", c.baseURL, reference)

	var env envelope[statusData]
	if appErr := c.do(ctx, http.MethodGet, url, token, nil, &env); appErr != nil {
		return "", appErr
	}

	if !env.Success {
		c.logger.Error("gateway rejected status query", "reference", reference, "message", env.Message)
		return "", errors.NewGatewayRejectedError(rejectionMessage(env.Message))
	}

	c.logger.Debug("payment status queried", "reference", reference, "status", env.Data.Status)
	return env.Data.Status, nil
}

func (c *Client) do(ctx context.Context, method, url, token string, body io.Reader, out interface{}) *errors.AppError {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.NewInternalError("failed to build gateway request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway request failed", "method", method, "url", url, "error", err)
		return errors.NewNetworkError("payment gateway unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewNetworkError("failed to read gateway response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.NewUnauthenticatedError("gateway rejected the credential", errors.ErrCodeUnauthenticated)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// surface whatever message the gateway sent, verbatim
		var env envelope[json.RawMessage]
		if json.Unmarshal(respBody, &env) == nil && env.Message != "" {
			return errors.NewGatewayRejectedError(env.Message)
		}
		return errors.NewGatewayRejectedError(fmt.Sprintf("gateway returned status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		c.logger.Error("failed to decode gateway response", "error", err, "body", string(respBody))
		return errors.NewNetworkError("malformed gateway response", err)
	}

	return nil
}

func rejectionMessage(msg string) string {
	if msg == "" {
		return "payment request was rejected by the gateway"
	}
	return msg
}
