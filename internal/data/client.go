package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
)

// FeedClient fetches feed documents and offer lists from a remote feed
// service.
type FeedClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client

	// Cache is optional; nil disables caching.
	Cache *ResponseCache

	log logrus.FieldLogger
}

// NewFeedClient creates a new feed client.
func NewFeedClient(apiKey, baseURL string, log logrus.FieldLogger) *FeedClient {
	return &FeedClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: logging.OrDiscard(log).WithField("component", "feed-client"),
	}
}

// FeedQuery selects a dataset and an inclusive date range.
type FeedQuery struct {
	Dataset string
	Start   model.Date
	End     model.Date
}

// FeedError represents an error returned by the feed service.
type FeedError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter string // For rate limit errors
}

func (e *FeedError) Error() string {
	return e.Message
}

// FetchDocument downloads the feed document for q.
func (c *FeedClient) FetchDocument(ctx context.Context, q FeedQuery) (*FeedDocument, error) {
	if err := c.validateAPIKey(); err != nil {
		return nil, err
	}
	if q.Dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}
	if q.End.Before(q.Start) {
		return nil, fmt.Errorf("start must not be after end")
	}

	key := GenerateCacheKey(q)
	if doc, ok := c.Cache.Get(key); ok {
		c.log.WithFields(logrus.Fields{
			"dataset": q.Dataset,
			"start":   q.Start.String(),
			"end":     q.End.String(),
		}).Debug("cache hit")
		return doc, nil
	}

	params := url.Values{}
	params.Set("start", q.Start.String())
	params.Set("end", q.End.String())

	var doc FeedDocument
	if err := c.get(ctx, fmt.Sprintf("/v1/feeds/%s", url.PathEscape(q.Dataset)), params, &doc); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"dataset": q.Dataset,
		"offers":  len(doc.Offers),
		"demand":  len(doc.Demand),
		"quotes":  len(doc.Quotes),
	}).Info("feed document received")

	c.Cache.Set(key, &doc)
	return &doc, nil
}

// FetchOffers lists the offers the feed service knows for dataset.
func (c *FeedClient) FetchOffers(ctx context.Context, dataset string) ([]OfferRecord, error) {
	if err := c.validateAPIKey(); err != nil {
		return nil, err
	}
	if dataset == "" {
		return nil, fmt.Errorf("dataset is required")
	}
	var out struct {
		Offers []OfferRecord `json:"offers"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v1/feeds/%s/offers", url.PathEscape(dataset)), nil, &out); err != nil {
		return nil, err
	}
	return out.Offers, nil
}

func (c *FeedClient) get(ctx context.Context, path string, params url.Values, dst any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.Client.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.log.WithError(err).WithField("duration", duration).Warn("request failed")
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"path":     u.Path,
		"status":   resp.StatusCode,
		"duration": duration,
	}).Debug("response")

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return &FeedError{
			StatusCode: resp.StatusCode,
			Code:       "INVALID_API_KEY",
			Message:    "Invalid API key or insufficient permissions",
		}
	case http.StatusUnauthorized:
		return &FeedError{
			StatusCode: resp.StatusCode,
			Code:       "UNAUTHORIZED",
			Message:    "Unauthorized: Invalid API key",
		}
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return &FeedError{
			StatusCode: resp.StatusCode,
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    fmt.Sprintf("Rate limit exceeded. Retry after: %s", retryAfter),
			RetryAfter: retryAfter,
		}
	default:
		return &FeedError{
			StatusCode: resp.StatusCode,
			Code:       "API_ERROR",
			Message:    fmt.Sprintf("API returned status %d: %s", resp.StatusCode, resp.Status),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *FeedClient) validateAPIKey() error {
	if c.APIKey == "" {
		return &FeedError{
			Code:    "MISSING_API_KEY",
			Message: "API key is required",
		}
	}
	return nil
}
