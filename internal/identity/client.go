// Package identity wraps the external identity provider's REST API. It is a
// thin capability: create account, update account, delete account, set role
// claim. Provider responses are mapped to sentinel errors so the saga can
// branch on cause without knowing wire details.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"registrar/internal/model"
)

var (
	ErrUnavailable     = errors.New("identity provider unavailable")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrAccountNotFound = errors.New("identity account not found")
	ErrRejected        = errors.New("identity provider rejected request")
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	// limiter keeps us inside the provider's request budget; every call
	// waits for a token before going out.
	limiter *rate.Limiter
}

func NewClient(baseURL, apiKey string, timeout time.Duration, requestsPerSecond float64, burst int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

type accountPayload struct {
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

type accountResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateAccount(ctx context.Context, account model.NewAccount) (string, error) {
	payload := accountPayload{
		Username:   account.Username,
		Credential: account.Credential,
		GivenName:  account.GivenName,
		FamilyName: account.FamilyName,
	}
	var resp accountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: empty account id", ErrRejected)
	}
	return resp.ID, nil
}

func (c *Client) SetRoleClaim(ctx context.Context, accountID string, role model.Role) error {
	payload := map[string]string{"role": string(role)}
	return c.do(ctx, http.MethodPut, "/v1/accounts/"+accountID+"/role", payload, nil)
}

func (c *Client) UpdateAccount(ctx context.Context, accountID string, update model.AccountUpdate) error {
	payload := accountPayload{
		Username:   update.Username,
		Credential: update.Credential,
		GivenName:  update.GivenName,
		FamilyName: update.FamilyName,
	}
	return c.do(ctx, http.MethodPatch, "/v1/accounts/"+accountID, payload, nil)
}

func (c *Client) DeleteAccount(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/accounts/"+accountID, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%w: decode response: %v", ErrRejected, err)
			}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrAccountNotFound
	case resp.StatusCode == http.StatusConflict:
		return ErrUsernameTaken
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
}
