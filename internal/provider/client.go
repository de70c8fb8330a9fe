// internal/provider/client.go
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"paywall-service/internal/domain/payment"
	xerrors "paywall-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Client talks to the external payment processor's session API. It is a
// remote call with a timeout; the caller owns rollback of any local state
// written before the call.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateSession requests a hosted payment page for the given checkout,
// passing our reference as the correlation token the provider echoes back
// in webhook events.
func (c *Client) CreateSession(ctx context.Context, req *payment.SessionRequest) (*payment.Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrUpstreamUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("provider session creation failed",
			zap.Int("status", resp.StatusCode),
			zap.String("reference", req.Reference),
			zap.ByteString("body", respBody),
		)
		return nil, xerrors.Wrap(xerrors.ErrUpstreamUnavailable, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var session payment.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, xerrors.Wrap(xerrors.ErrUpstreamUnavailable, "failed to decode provider response")
	}
	if session.RedirectURL == "" {
		return nil, xerrors.Wrap(xerrors.ErrUpstreamUnavailable, "provider response missing redirect_url")
	}
	if session.Reference == "" {
		session.Reference = req.Reference
	}
	return &session, nil
}
