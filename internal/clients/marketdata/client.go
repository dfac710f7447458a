// Package marketdata provides a client for historical quotes, identifier
// mapping and FX rates
package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/models"
)

const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultLookupURL = "https://api.openfigi.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// exchangeSuffixes maps lookup exchange codes to vendor ticker suffixes.
var exchangeSuffixes = map[string]string{
	"GY": ".DE", // Xetra
	"GF": ".F",  // Frankfurt
	"LN": ".L",  // London
	"SW": ".SW", // Swiss
	"JP": ".T",  // Tokyo
	"HK": ".HK", // Hong Kong
	"DC": ".CO", // Copenhagen
	"US": "",    // US listings need no suffix
}

// Client implements the MarketDataClient interface
type Client struct {
	baseURL    string
	lookupURL  string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the quote base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLookupURL sets the identifier mapping base URL
func WithLookupURL(lookupURL string) ClientOption {
	return func(c *Client) {
		c.lookupURL = lookupURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new market data client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		lookupURL: DefaultLookupURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// do performs a rate-limited request and decodes the JSON response
func (c *Client) do(ctx context.Context, req *http.Request, endpoint string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	c.logger.Debug().Str("url", req.URL.String()).Msg("Market data API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &common.APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   endpoint,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// historyResponse represents the daily quote endpoint
type historyResponse struct {
	Currency string `json:"currency"`
	Quotes   []struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	} `json:"quotes"`
}

// GetEOD retrieves daily closing prices for a symbol
func (c *Client) GetEOD(ctx context.Context, symbol string, opts ...interfaces.EODOption) ([]models.PricePoint, error) {
	params := &interfaces.EODParams{}
	for _, opt := range opts {
		opt(params)
	}

	urlParams := url.Values{}
	urlParams.Set("interval", "1d")
	if !params.From.IsZero() {
		urlParams.Set("from", params.From.Format("2006-01-02"))
	}
	if !params.To.IsZero() {
		urlParams.Set("to", params.To.Format("2006-01-02"))
	}

	endpoint := fmt.Sprintf("/v8/history/%s", url.PathEscape(symbol))
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, urlParams.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp historyResponse
	if err := c.do(ctx, req, endpoint, &resp); err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		date, err := time.Parse("2006-01-02", q.Date)
		if err != nil || q.Close <= 0 {
			continue
		}
		points = append(points, models.PricePoint{
			Date:     date,
			Close:    q.Close,
			Currency: resp.Currency,
		})
	}

	return points, nil
}

// mappingJob is one identifier lookup request
type mappingJob struct {
	IDType  string `json:"idType"`
	IDValue string `json:"idValue"`
}

// mappingResponse represents the identifier mapping endpoint
type mappingResponse []struct {
	Data []struct {
		Ticker       string `json:"ticker"`
		ExchangeCode string `json:"exchCode"`
		Currency     string `json:"currency"`
	} `json:"data"`
	Error string `json:"error"`
}

// LookupSymbol resolves an ISIN to a vendor symbol via the mapping endpoint.
// A response without usable listings returns a LookupError; callers cache
// that permanently.
func (c *Client) LookupSymbol(ctx context.Context, securityID string) (*models.SymbolResolution, error) {
	jobs := []mappingJob{{IDType: "ID_ISIN", IDValue: securityID}}
	body, err := json.Marshal(jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mapping jobs: %w", err)
	}

	endpoint := "/v3/mapping"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.lookupURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}

	var resp mappingResponse
	if err := c.do(ctx, req, endpoint, &resp); err != nil {
		return nil, err
	}

	if len(resp) == 0 || resp[0].Error != "" || len(resp[0].Data) == 0 {
		reason := "no listings"
		if len(resp) > 0 && resp[0].Error != "" {
			reason = resp[0].Error
		}
		return nil, &common.LookupError{SecurityID: securityID, Reason: reason}
	}

	// Prefer a listing on an exchange with a known suffix mapping.
	for _, d := range resp[0].Data {
		suffix, ok := exchangeSuffixes[d.ExchangeCode]
		if !ok || d.Ticker == "" {
			continue
		}
		return &models.SymbolResolution{
			SecurityID: securityID,
			Symbol:     d.Ticker + suffix,
			Currency:   d.Currency,
			ResolvedAt: time.Now(),
		}, nil
	}

	return nil, &common.LookupError{SecurityID: securityID, Reason: "no listing on a supported exchange"}
}

// fxResponse represents the FX rate endpoint
type fxResponse struct {
	Rates []struct {
		Date string  `json:"date"`
		Rate float64 `json:"rate"`
	} `json:"rates"`
}

// GetFXRates retrieves daily conversion rates for a currency pair
func (c *Client) GetFXRates(ctx context.Context, pair string, from, to time.Time) (map[string]float64, error) {
	urlParams := url.Values{}
	if !from.IsZero() {
		urlParams.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		urlParams.Set("to", to.Format("2006-01-02"))
	}

	endpoint := fmt.Sprintf("/v8/fx/%s", url.PathEscape(pair))
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, urlParams.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var resp fxResponse
	if err := c.do(ctx, req, endpoint, &resp); err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(resp.Rates))
	for _, r := range resp.Rates {
		if r.Rate > 0 {
			rates[r.Date] = r.Rate
		}
	}

	return rates, nil
}

// Ensure Client implements MarketDataClient
var _ interfaces.MarketDataClient = (*Client)(nil)
