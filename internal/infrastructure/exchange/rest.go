package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// RESTConfig 公共行情 REST 客户端配置
type RESTConfig struct {
	Name       string
	BaseURL    string
	RPS        float64 // 每秒请求数，<=0 不限流
	Burst      int
	HTTPClient *http.Client
}

// RESTClient 带限流的只读 REST 客户端
type RESTClient struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewRESTClient(cfg RESTConfig) *RESTClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &RESTClient{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: limiter,
	}
}

// GetJSON GET path?params 并解码 JSON 响应
func (c *RESTClient) GetJSON(ctx context.Context, path string, params url.Values, v interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s api error: %d %s", c.name, resp.StatusCode, truncate(body, 256))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%s %s: json unmarshal: %w", c.name, path, err)
	}
	return nil
}

func (c *RESTClient) Close() {
	c.client.CloseIdleConnections()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
