package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/meridianhq/partner-sync/internal/config"
	"github.com/meridianhq/partner-sync/internal/models"
)

// Account is a CRM account (partner company). ParentID links a child account
// into the partner-family hierarchy.
type Account struct {
	ExternalID string    `json:"id"`
	Name       string    `json:"name"`
	ParentID   string    `json:"parent_id"`
	OwnerID    string    `json:"owner_id"`
	Tier       string    `json:"tier"`
	Country    string    `json:"country"`
	UpdatedAt  time.Time `json:"modified_at"`
}

// Contact is a CRM contact attached to an account.
type Contact struct {
	ExternalID string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      string    `json:"phone"`
	UpdatedAt  time.Time `json:"modified_at"`
}

// Lead is a CRM lead record.
type Lead struct {
	ExternalID string    `json:"id"`
	Email      string    `json:"email"`
	Company    string    `json:"company"`
	Status     string    `json:"status"`
	Source     string    `json:"lead_source"`
	UpdatedAt  time.Time `json:"modified_at"`
}

// Client is a paginated, rate-limit-aware client for the CRM API. The CRM
// returns flat JSON collections under a "records" key, unlike the LMS
// envelope format.
type Client struct {
	client  *http.Client
	baseURL string
	logger  *logrus.Logger

	maxRetries   int
	retryBackoff time.Duration

	sleep func(time.Duration)
}

// ClientOption allows configuring the CRM client
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithRetryConfig configures rate-limit retry behavior
func WithRetryConfig(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBackoff = backoff
	}
}

// NewClient creates a new CRM client from configuration
func NewClient(cfg *config.CRMConfig, logger *logrus.Logger, opts ...ClientOption) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 120 * time.Second

	client := &Client{
		client:       httpClient,
		baseURL:      cfg.BaseURL,
		logger:       logger,
		maxRetries:   cfg.RateLimit.MaxRetries,
		retryBackoff: cfg.RateLimit.RetryBackoff,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) getRecords(ctx context.Context, reqURL string, stats *models.RunCounters, out interface{}) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if stats != nil {
			stats.APICallsMade++
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("CRM request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if attempt >= c.maxRetries {
				return fmt.Errorf("CRM rate limit exceeded after %v backoff", c.retryBackoff)
			}
			c.logger.Warnf("CRM rate limit hit, retrying page after %v", c.retryBackoff)
			c.sleep(c.retryBackoff)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read CRM response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("CRM API error (status %d): %s", resp.StatusCode, string(body))
		}

		var wrapper struct {
			Records json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return fmt.Errorf("failed to decode CRM response: %w", err)
		}
		if err := json.Unmarshal(wrapper.Records, out); err != nil {
			return fmt.Errorf("failed to decode CRM records: %w", err)
		}
		return nil
	}
}

func fetchPaged[T any](ctx context.Context, c *Client, path string, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]T) error) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	query := url.Values{}
	if since != nil && !since.IsZero() {
		query.Set("modified_since", since.Format(time.RFC3339))
	}
	query.Set("per_page", strconv.Itoa(pageSize))

	logger := c.logger.WithField("path", path)

	page := 1
	for {
		query.Set("page", strconv.Itoa(page))
		reqURL := c.baseURL + path + "?" + query.Encode()

		var records []T
		if err := c.getRecords(ctx, reqURL, stats, &records); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if stats != nil {
				stats.PagesFailed++
			}
			logger.WithError(err).WithField("page", page).Warn("Page fetch failed, treating as empty page")
			break
		}

		if len(records) == 0 {
			if page == 1 && since != nil && !since.IsZero() && stats != nil {
				stats.APICallsSaved++
			}
			break
		}

		if err := fn(records); err != nil {
			return fmt.Errorf("failed to process page %d: %w", page, err)
		}
		page++
	}
	return nil
}

// FetchAccounts walks the account collection page by page.
func (c *Client) FetchAccounts(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]Account) error) error {
	return fetchPaged(ctx, c, "/accounts", since, pageSize, stats, fn)
}

// FetchContacts walks the contact collection page by page.
func (c *Client) FetchContacts(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]Contact) error) error {
	return fetchPaged(ctx, c, "/contacts", since, pageSize, stats, fn)
}

// FetchLeads walks the lead collection page by page.
func (c *Client) FetchLeads(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn func([]Lead) error) error {
	return fetchPaged(ctx, c, "/leads", since, pageSize, stats, fn)
}
