package openairt

import (
	"context"
	"fmt"
	"time"

	"vizlive/app/config"

	"github.com/go-resty/resty/v2"
	"github.com/samber/do"
)

// Client mints ephemeral realtime session credentials for browsers. The
// server-side API key never leaves the process; clients only ever see the
// short-lived secret.
type Client struct {
	cfg  *config.Config
	http *resty.Client
}

type ClientSecret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type sessionResponse struct {
	ID           string       `json:"id"`
	ClientSecret ClientSecret `json:"client_secret"`
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	httpClient := resty.New().
		SetBaseURL(cfg.OpenAI.BaseURL).
		SetAuthToken(cfg.OpenAI.Token).
		SetTimeout(30 * time.Second)

	return &Client{
		cfg:  cfg,
		http: httpClient,
	}, nil
}

func (c *Client) CreateSession(ctx context.Context) (*ClientSecret, error) {
	var result sessionResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model": c.cfg.OpenAI.RealtimeModel,
			"voice": c.cfg.OpenAI.Voice,
		}).
		SetResult(&result).
		Post("/realtime/sessions")
	if err != nil {
		return nil, fmt.Errorf("failed to create realtime session: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("realtime session request failed: %s", resp.Status())
	}

	if result.ClientSecret.Value == "" {
		return nil, fmt.Errorf("realtime session response has no client secret")
	}

	return &result.ClientSecret, nil
}
