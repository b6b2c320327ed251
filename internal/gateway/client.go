// internal/gateway/client.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
)

// Gateway is the messaging-provider contract. accountRef selects the sending
// identity; identity is a provider-resolvable profile reference; the returned
// provider id keys all later follow-ups and reconciliation events.
type Gateway interface {
	SendConnectionRequest(ctx context.Context, accountRef, identity, text string) (string, error)
	SendFollowUp(ctx context.Context, accountRef, providerUserID, text string) error
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type inviteRequest struct {
	AccountID  string `json:"account_id"`
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
}

type inviteResponse struct {
	ProviderID string `json:"provider_id"`
}

type messageRequest struct {
	AccountID  string `json:"account_id"`
	ProviderID string `json:"provider_id"`
	Text       string `json:"text"`
}

func (c *Client) SendConnectionRequest(ctx context.Context, accountRef, identity, text string) (string, error) {
	payload := inviteRequest{AccountID: accountRef, Identifier: identity, Message: text}

	respBody, err := c.post(ctx, "/users/invite", payload)
	if err != nil {
		return "", err
	}

	var resp inviteResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", appErrors.NewProviderError(appErrors.CategoryTransient, 0, "malformed provider response: "+err.Error())
	}
	return resp.ProviderID, nil
}

func (c *Client) SendFollowUp(ctx context.Context, accountRef, providerUserID, text string) error {
	payload := messageRequest{AccountID: accountRef, ProviderID: providerUserID, Text: text}
	_, err := c.post(ctx, "/messages", payload)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection resets are retry-worthy.
		return nil, appErrors.NewProviderError(appErrors.CategoryTransient, 0, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.NewProviderError(appErrors.CategoryTransient, resp.StatusCode, err.Error())
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	return nil, categorize(resp.StatusCode, string(respBody))
}

// categorize maps provider HTTP statuses onto the machine-readable error
// taxonomy so the state machine can pick the right retry policy. The raw
// payload travels along verbatim for operator diagnosis.
func categorize(status int, payload string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return appErrors.NewProviderError(appErrors.CategoryRateLimited, status, payload)
	case status == http.StatusForbidden || status == http.StatusUnprocessableEntity:
		return appErrors.NewProviderError(appErrors.CategoryPolicyRejected, status, payload)
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return appErrors.NewProviderError(appErrors.CategoryInvalidIdentity, status, payload)
	case status >= 500:
		return appErrors.NewProviderError(appErrors.CategoryTransient, status, payload)
	default:
		return appErrors.NewProviderError(appErrors.CategoryPolicyRejected, status,
			fmt.Sprintf("unexpected provider status %d: %s", status, payload))
	}
}

var _ Gateway = (*Client)(nil)
