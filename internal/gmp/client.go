package gmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	tokenPath     = "/api/v2/applications/token"
	usagePathFmt  = "/api/v2/usage/%s/%s"
	queryLayout   = "2006-01-02T15:04:05Z"
	localLayout   = "2006-01-02T15:04:05"
	clientTimeout = 30 * time.Second
)

// Precision is the granularity of usage data requested from the API
type Precision string

const (
	PrecisionHourly  Precision = "hourly"
	PrecisionDaily   Precision = "daily"
	PrecisionMonthly Precision = "monthly"
)

// Usage is one usage record returned by the API
type Usage struct {
	StartTime   time.Time
	ConsumedKWh float64
}

// AuthError represents an authentication failure
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Client queries the Green Mountain Power usage API
type Client struct {
	baseURL       string
	accountNumber string
	httpClient    *http.Client
}

// NewClient creates a client that logs in with the resource-owner password grant.
// The token is fetched on first use and refreshed when it expires.
func NewClient(baseURL, accountNumber, username, password, clientID string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	plain := &http.Client{Timeout: clientTimeout}

	src := &passwordTokenSource{
		ctx: context.WithValue(context.Background(), oauth2.HTTPClient, plain),
		cfg: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username: username,
		password: password,
	}

	return &Client{
		baseURL:       baseURL,
		accountNumber: accountNumber,
		httpClient: &http.Client{
			Timeout: clientTimeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, src),
				Base:   http.DefaultTransport,
			},
		},
	}
}

type passwordTokenSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	slog.Debug("Requesting GMP access token", "url", s.cfg.Endpoint.TokenURL)
	tok, err := s.cfg.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, &AuthError{
				StatusCode: re.Response.StatusCode,
				Message:    fmt.Sprintf("login failed (status %d): %s", re.Response.StatusCode, strings.TrimSpace(string(re.Body))),
			}
		}
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	return tok, nil
}

type usageResponse struct {
	Intervals []struct {
		Type   string `json:"type"`
		Values []struct {
			Date     string  `json:"date"`
			Consumed float64 `json:"consumed"`
		} `json:"values"`
	} `json:"intervals"`
}

// GetUsage returns usage records for [start, end) in API order
func (c *Client) GetUsage(ctx context.Context, start, end time.Time, precision Precision) ([]Usage, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("invalid usage window: start %s is not before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	params := url.Values{}
	params.Set("startDate", start.UTC().Format(queryLayout))
	params.Set("endDate", end.UTC().Format(queryLayout))
	params.Set("temp", "t")

	reqURL := fmt.Sprintf("%s"+usagePathFmt+"?%s", c.baseURL, url.PathEscape(c.accountNumber), precision, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	slog.Debug("Making API request", "url", reqURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(resp.Body)
		return nil, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("authentication failed (status %d): %s", resp.StatusCode, string(body)),
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding usage response: %w", err)
	}

	var usages []Usage
	for _, interval := range payload.Intervals {
		for _, v := range interval.Values {
			ts, err := parseTimestamp(v.Date)
			if err != nil {
				return nil, fmt.Errorf("parsing usage timestamp %q: %w", v.Date, err)
			}
			usages = append(usages, Usage{StartTime: ts, ConsumedKWh: v.Consumed})
		}
	}

	return usages, nil
}

// parseTimestamp accepts RFC 3339 timestamps and falls back to offset-less local time
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(localLayout, s, time.Local)
}
