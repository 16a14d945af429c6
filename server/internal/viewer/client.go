package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stagecast/server/internal/model"
)

// Source 是权威内容来源：首屏读取和轮询都以它为准。
type Source interface {
	Current(ctx context.Context) (*model.VersionedContent, error)
	Poll(ctx context.Context, lastVersion string) (model.PollResult, error)
}

// Client 通过 HTTP 访问服务端的读接口。
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Current(ctx context.Context) (*model.VersionedContent, error) {
	var out model.VersionedContent
	if err := c.getJSON(ctx, "/content/current", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Poll 带上最后看到的版本；服务端只在版本不同时返回内容。
func (c *Client) Poll(ctx context.Context, lastVersion string) (model.PollResult, error) {
	path := "/poll"
	if lastVersion != "" {
		path += "?lastVersion=" + url.QueryEscape(lastVersion)
	}
	var out model.PollResult
	err := c.getJSON(ctx, path, &out)
	return out, err
}

func (c *Client) ViewerSettings(ctx context.Context) (model.ViewerSettings, error) {
	var out model.ViewerSettings
	err := c.getJSON(ctx, "/config/viewer", &out)
	return out, err
}

// StreamURL 和 WebSocketURL 给出推送接口的地址。
func (c *Client) StreamURL() string { return c.BaseURL + "/stream" }

func (c *Client) WebSocketURL() string {
	u := c.BaseURL + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, body.Error)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
