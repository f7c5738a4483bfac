package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

const demoBaseURL = "https://api-demo.bybit.com"

// Config selects credentials, environment and product category.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
	// Category is "linear" (USDT perpetuals) or "spot".
	Category string
}

// Client wraps the Bybit v5 HTTP client.
type Client struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	demo       bool
}

func NewClient(config Config) *Client {
	baseURL := bybit_api.MAINNET
	switch {
	case config.Demo:
		baseURL = demoBaseURL
	case config.Testnet:
		baseURL = bybit_api.TESTNET
	}

	category := config.Category
	if category == "" {
		category = "linear"
	}

	return &Client{
		httpClient: bybit_api.NewBybitHttpClient(config.APIKey, config.APISecret, bybit_api.WithBaseURL(baseURL)),
		category:   category,
		testnet:    config.Testnet,
		demo:       config.Demo,
	}
}

// Environment names the endpoint in use.
func (c *Client) Environment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}

func (c *Client) Category() string {
	return c.category
}
