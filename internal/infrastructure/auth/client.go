package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/entiendetuderecho/analysis-service/internal/core/domain"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client validates bearer tokens against a Supabase-compatible auth
// endpoint and resolves them to a stable user id.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, "authenticate", fmt.Errorf("empty token"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return "", fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "authenticate", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", domain.WrapError(domain.ErrUnauthorized, "authenticate", fmt.Errorf("status %s", resp.Status))
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", domain.WrapError(domain.ErrTemporary, "authenticate", fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	default:
		return "", domain.WrapError(domain.ErrUnauthorized, "authenticate", fmt.Errorf("status %s", resp.Status))
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode user response: %w", err)
	}
	if strings.TrimSpace(payload.ID) == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, "authenticate", fmt.Errorf("user id missing in response"))
	}
	return payload.ID, nil
}
