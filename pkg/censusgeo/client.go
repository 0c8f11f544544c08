// Package censusgeo geocodes free-form street descriptions against the US
// Census Geocoder's one-line endpoint.
package censusgeo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	oneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	benchmark  = "Public_AR_Current"
)

// AddressInput is a single address to resolve.
type AddressInput struct {
	Street string
	City   string
	State  string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Matched   bool
	MatchedTo string
}

// Client resolves addresses against the Census Geocoder.
type Client interface {
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// WithBaseURL overrides the one-line endpoint URL.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

type client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// NewClient creates a Client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(50, 50), // Census default: 50 req/s
		baseURL:    oneLineURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type oneLineResponse struct {
	Result struct {
		AddressMatches []struct {
			Coordinates struct {
				X float64 `json:"x"` // longitude
				Y float64 `json:"y"` // latitude
			} `json:"coordinates"`
			MatchedAddress string `json:"matchedAddress"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// Geocode resolves a single address. An unmatched address is not an error.
func (c *client) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "censusgeo: rate limit")
	}

	params := url.Values{
		"address":   {formatOneLine(addr)},
		"benchmark": {benchmark},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "censusgeo: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "censusgeo: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("censusgeo: returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "censusgeo: read body")
	}

	var parsed oneLineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "censusgeo: parse response")
	}

	if len(parsed.Result.AddressMatches) == 0 {
		return &Result{Matched: false}, nil
	}

	match := parsed.Result.AddressMatches[0]
	return &Result{
		Latitude:  match.Coordinates.Y,
		Longitude: match.Coordinates.X,
		Matched:   true,
		MatchedTo: match.MatchedAddress,
	}, nil
}

// formatOneLine joins the non-empty address parts for the one-line API.
func formatOneLine(addr AddressInput) string {
	parts := []string{addr.Street, addr.City, addr.State}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
