// Package brokerage provides a client for the broker REST API
package brokerage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbruckner/depotsync/internal/common"
	"github.com/mbruckner/depotsync/internal/interfaces"
	"github.com/mbruckner/depotsync/internal/models"
)

const (
	DefaultBaseURL   = "https://api.traderepublic.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// flexFloat64 handles JSON values that may be either a number or a string.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "N/A" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// Client implements the BrokerageClient interface
type Client struct {
	baseURL    string
	session    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
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

// NewClient creates a new brokerage client with the given session token
func NewClient(session string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		session: session,
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

// LoadSession reads a session token from a file, falling back to the
// BROKERAGE_SESSION environment variable.
func LoadSession(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			token := strings.TrimSpace(string(data))
			if token != "" {
				return token, nil
			}
		}
	}
	if token := os.Getenv("BROKERAGE_SESSION"); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("no session token found (file: %q)", path)
}

// get performs a rate-limited authenticated GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.session)

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Brokerage API request")

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
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// timelineResponse represents one page of the timeline endpoint
type timelineResponse struct {
	Items []struct {
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Title     string `json:"title"`
		Subtitle  string `json:"subtitle"`
		EventType string `json:"eventType"`
		Status    string `json:"status"`
		Amount    struct {
			Value    flexFloat64 `json:"value"`
			Currency string      `json:"currency"`
		} `json:"amount"`
		InstrumentID string      `json:"instrumentId"`
		Shares       flexFloat64 `json:"shares"`
		AvgPrice     flexFloat64 `json:"averagePrice"`
	} `json:"items"`
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
}

// GetTimelinePage retrieves one page of timeline events, newest first
func (c *Client) GetTimelinePage(ctx context.Context, after string) (*interfaces.TimelinePage, error) {
	params := url.Values{}
	if after != "" {
		params.Set("after", after)
	}

	var resp timelineResponse
	if err := c.get(ctx, "/api/v1/timeline/transactions", params, &resp); err != nil {
		return nil, err
	}

	page := &interfaces.TimelinePage{
		Transactions: make([]models.Transaction, 0, len(resp.Items)),
		After:        resp.Cursors.After,
	}

	for _, item := range resp.Items {
		if item.ID == "" {
			return nil, &common.StructuralError{
				Source: "timeline",
				Detail: "event without id",
			}
		}
		ts, err := parseTimestamp(item.Timestamp)
		if err != nil {
			return nil, &common.StructuralError{
				Source: "timeline",
				Detail: fmt.Sprintf("event %s: bad timestamp %q", item.ID, item.Timestamp),
			}
		}
		page.Transactions = append(page.Transactions, models.Transaction{
			ID:         item.ID,
			Timestamp:  ts,
			Title:      item.Title,
			Subtitle:   item.Subtitle,
			EventType:  item.EventType,
			Status:     item.Status,
			Amount:     float64(item.Amount.Value),
			SecurityID: item.InstrumentID,
			Shares:     float64(item.Shares),
			AvgPrice:   float64(item.AvgPrice),
		})
	}

	return page, nil
}

// parseTimestamp parses the broker's timestamp variants.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// positionsResponse represents the position snapshot endpoint
type positionsResponse struct {
	Positions []struct {
		InstrumentID string      `json:"instrumentId"`
		Name         string      `json:"name"`
		NetSize      flexFloat64 `json:"netSize"`
		AverageBuyIn flexFloat64 `json:"averageBuyIn"`
	} `json:"positions"`
}

// GetPositions retrieves the current position snapshot
func (c *Client) GetPositions(ctx context.Context) ([]models.Position, error) {
	var resp positionsResponse
	if err := c.get(ctx, "/api/v1/portfolio/positions", nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		if p.InstrumentID == "" {
			continue
		}
		positions = append(positions, models.Position{
			SecurityID: p.InstrumentID,
			Name:       p.Name,
			Shares:     float64(p.NetSize),
			AvgPrice:   float64(p.AverageBuyIn),
		})
	}

	return positions, nil
}

// aggregateResponse represents the portfolio history endpoint
type aggregateResponse struct {
	Values []struct {
		Time     int64       `json:"time"` // unix milliseconds
		Value    flexFloat64 `json:"value"`
		Invested flexFloat64 `json:"invested"`
	} `json:"values"`
}

// GetAggregateHistory retrieves the broker's own portfolio value series.
// Timeframe is the broker's range selector, e.g. "max" or "1y".
func (c *Client) GetAggregateHistory(ctx context.Context, timeframe string) (*models.AggregateHistory, error) {
	params := url.Values{}
	if timeframe == "" {
		timeframe = "max"
	}
	params.Set("timeframe", timeframe)

	var resp aggregateResponse
	if err := c.get(ctx, "/api/v1/portfolio/history", params, &resp); err != nil {
		return nil, err
	}

	history := &models.AggregateHistory{
		Points:    make([]models.SeriesPoint, 0, len(resp.Values)),
		FetchedAt: time.Now(),
	}
	for _, v := range resp.Values {
		history.Points = append(history.Points, models.SeriesPoint{
			Date:     time.UnixMilli(v.Time).UTC().Truncate(24 * time.Hour),
			Value:    float64(v.Value),
			Invested: float64(v.Invested),
		})
	}

	return history, nil
}

// Ensure Client implements BrokerageClient
var _ interfaces.BrokerageClient = (*Client)(nil)
