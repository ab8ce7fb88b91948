// Package tokenapi talks to the external endpoint that issues account tokens.
package tokenapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/overmindtech/tokengen/accounts"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultURL       = "https://jetdeco.vercel.app/token"
	DefaultUserAgent = "Dalvik/2.1.0 (Linux; U; Android 13; CPH2095 Build/RKQ1.211119.001)"
	DefaultTimeout   = 30 * time.Second

	// how much of a failed response body ends up in the log line
	bodyPreviewLimit = 60
)

// Config for the token endpoint
type Config struct {
	// URL of the endpoint, `uid` and `password` are added as query params
	URL string
	// UserAgent is sent with every request. The endpoint misbehaves without
	// one so it is required
	UserAgent string
	// Timeout for a single request
	Timeout time.Duration
}

// DefaultConfig returns the settings the endpoint has always been used with
func DefaultConfig() Config {
	return Config{
		URL:       DefaultURL,
		UserAgent: DefaultUserAgent,
		Timeout:   DefaultTimeout,
	}
}

// Validate checks that the config can be used to build a client
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("token endpoint URL must be set")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid token endpoint URL %q: %w", c.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("token endpoint URL %q must be http or https", c.URL)
	}
	if c.UserAgent == "" {
		return errors.New("user agent must be set, the token endpoint rejects requests without one")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", c.Timeout)
	}
	return nil
}

// Response is the body the endpoint returns on success
type Response struct {
	Token string `json:"token"`
	// NotiRegion is the region the token is valid for
	NotiRegion string `json:"notiRegion"`
}

// Client issues token requests. It is safe for concurrent use, all requests
// share one underlying http.Client
type Client struct {
	config Config
	http   *http.Client
}

// NewClient validates config and returns a Client
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		config: config,
		http: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Fetch requests a token for account. A nil response means there is no token:
// non-200 statuses, transport errors and undecodable bodies are logged here
// and never returned
func (c *Client) Fetch(ctx context.Context, account accounts.Account) *Response {
	resp, err := c.fetch(ctx, account)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithField("uid", account.UID).Warn("Error fetching token")
		return nil
	}
	return resp
}

func (c *Client) fetch(ctx context.Context, account accounts.Account) (*Response, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint URL: %w", err)
	}
	q := u.Query()
	q.Set("uid", account.UID)
	q.Set("password", account.Password)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		// the URL in a *url.Error carries the password, strip it
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(res.Body, bodyPreviewLimit))
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(preview)}
	}

	var body Response
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}

	return &body, nil
}

// StatusError describes a non-200 response from the endpoint
type StatusError struct {
	StatusCode int
	// Body holds the start of the response body
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.StatusCode, e.Body)
}
