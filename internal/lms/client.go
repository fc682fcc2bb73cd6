package lms

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

// PageFunc consumes one fetched page. Returning an error aborts the sequence.
type PageFunc[T any] func(records []T) error

// Client is a paginated, rate-limit-aware client for the LMS API.
type Client struct {
	client  *http.Client
	baseURL string
	logger  *logrus.Logger

	maxRetries   int
	retryBackoff time.Duration
	recordDelay  time.Duration

	// sleep is swapped out in tests
	sleep func(time.Duration)
}

// ClientOption allows configuring the LMS client
type ClientOption func(*Client)

// WithRetryConfig configures rate-limit retry behavior
func WithRetryConfig(maxRetries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryBackoff = backoff
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// NewClient creates a new LMS client from configuration
func NewClient(cfg *config.LMSConfig, logger *logrus.Logger, opts ...ClientOption) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = 120 * time.Second

	client := &Client{
		client:       httpClient,
		baseURL:      cfg.BaseURL,
		logger:       logger,
		maxRetries:   cfg.RateLimit.MaxRetries,
		retryBackoff: cfg.RateLimit.RetryBackoff,
		recordDelay:  cfg.RateLimit.RecordDelay,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// RecordDelay returns the configured inter-record throttle.
func (c *Client) RecordDelay() time.Duration {
	return c.recordDelay
}

// getCollection performs one page request. An HTTP 429 triggers a bounded
// fixed-backoff retry of the same page; the provider documents no Retry-After
// guarantee.
func (c *Client) getCollection(ctx context.Context, reqURL string, stats *models.RunCounters) ([]envelope, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		if stats != nil {
			stats.APICallsMade++
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, NewAPIError(0, "request failed", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if attempt >= c.maxRetries {
				return nil, &RateLimitError{RetriedAfter: c.retryBackoff}
			}
			c.logger.Warnf("LMS rate limit hit, retrying page after %v", c.retryBackoff)
			c.sleep(c.retryBackoff)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, NewAPIError(resp.StatusCode, "failed to read response body", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, NewAPIError(resp.StatusCode, string(body), nil)
		}

		var coll collection
		if err := json.Unmarshal(body, &coll); err != nil {
			return nil, NewAPIError(resp.StatusCode, "failed to decode response", err)
		}
		return coll.Data, nil
	}
}

// fetchPaged walks a paginated collection until an empty page. Transport and
// exhausted-rate-limit failures on a page are absorbed: the caller observes a
// short sequence instead of a hard failure, trading completeness for run
// continuity. Callback errors still propagate.
func fetchPaged[T any](ctx context.Context, c *Client, path string, query url.Values, since *time.Time, pageSize int, stats *models.RunCounters, decode func(envelope) (T, error), fn PageFunc[T]) error {
	if pageSize <= 0 {
		pageSize = 100
	}
	if query == nil {
		query = url.Values{}
	}
	if since != nil && !since.IsZero() {
		query.Set("modified_since", since.Format(time.RFC3339))
	}
	query.Set("per_page", strconv.Itoa(pageSize))

	logger := c.logger.WithFields(logrus.Fields{
		"path":      path,
		"page_size": pageSize,
	})

	page := 1
	total := 0
	for {
		query.Set("page", strconv.Itoa(page))
		reqURL := c.baseURL + path + "?" + query.Encode()

		envelopes, err := c.getCollection(ctx, reqURL, stats)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if stats != nil {
				stats.PagesFailed++
			}
			logger.WithError(err).WithField("page", page).Warn("Page fetch failed, treating as empty page")
			break
		}

		if len(envelopes) == 0 {
			if page == 1 && since != nil && !since.IsZero() && stats != nil {
				stats.APICallsSaved++
			}
			break
		}

		records := make([]T, 0, len(envelopes))
		for _, env := range envelopes {
			rec, err := decode(env)
			if err != nil {
				logger.WithError(err).Warn("Skipping undecodable record")
				continue
			}
			records = append(records, rec)
		}

		if err := fn(records); err != nil {
			return fmt.Errorf("failed to process page %d: %w", page, err)
		}

		total += len(records)
		page++
	}

	logger.WithFields(logrus.Fields{
		"pages":   page - 1,
		"records": total,
	}).Debug("Completed paginated fetch")
	return nil
}

// FetchUsers walks the user collection page by page.
func (c *Client) FetchUsers(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn PageFunc[User]) error {
	return fetchPaged(ctx, c, "/users", nil, since, pageSize, stats, func(env envelope) (User, error) {
		var u User
		if err := decodeEnvelope(env, &u); err != nil {
			return u, err
		}
		u.ExternalID = env.ID.String()
		return u, nil
	}, fn)
}

// FetchGroups walks the group collection page by page.
func (c *Client) FetchGroups(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn PageFunc[Group]) error {
	return fetchPaged(ctx, c, "/groups", nil, since, pageSize, stats, func(env envelope) (Group, error) {
		var g Group
		if err := decodeEnvelope(env, &g); err != nil {
			return g, err
		}
		g.ExternalID = env.ID.String()
		return g, nil
	}, fn)
}

// FetchGroupMembers walks the member sub-resource of one group.
func (c *Client) FetchGroupMembers(ctx context.Context, groupID string, pageSize int, stats *models.RunCounters, fn PageFunc[GroupMember]) error {
	if groupID == "" {
		return NewValidationError("groupID", "cannot be empty")
	}
	path := fmt.Sprintf("/groups/%s/users", url.PathEscape(groupID))
	return fetchPaged(ctx, c, path, nil, nil, pageSize, stats, func(env envelope) (GroupMember, error) {
		var m GroupMember
		if len(env.Attributes) > 0 {
			if err := decodeEnvelope(env, &m); err != nil {
				return m, err
			}
		}
		m.ExternalID = env.ID.String()
		return m, nil
	}, fn)
}

// FetchCourses walks the course collection page by page.
func (c *Client) FetchCourses(ctx context.Context, since *time.Time, pageSize int, stats *models.RunCounters, fn PageFunc[Course]) error {
	return fetchPaged(ctx, c, "/courses", nil, since, pageSize, stats, func(env envelope) (Course, error) {
		var course Course
		if err := decodeEnvelope(env, &course); err != nil {
			return course, err
		}
		course.ExternalID = env.ID.String()
		return course, nil
	}, fn)
}

// GetUserTranscripts fetches the transcript sub-resource for one user. One
// request per user; callers insert the configured record delay between users
// to stay under provider rate limits.
func (c *Client) GetUserTranscripts(ctx context.Context, userID string, stats *models.RunCounters) ([]Transcript, error) {
	if userID == "" {
		return nil, NewValidationError("userID", "cannot be empty")
	}

	reqURL := fmt.Sprintf("%s/users/%s/transcripts", c.baseURL, url.PathEscape(userID))
	envelopes, err := c.getCollection(ctx, reqURL, stats)
	if err != nil {
		return nil, err
	}

	transcripts := make([]Transcript, 0, len(envelopes))
	for _, env := range envelopes {
		var tr Transcript
		if err := decodeEnvelope(env, &tr); err != nil {
			c.logger.WithError(err).WithField("user_id", userID).Warn("Skipping undecodable transcript entry")
			continue
		}
		tr.UserExternalID = userID
		transcripts = append(transcripts, tr)
	}
	return transcripts, nil
}
