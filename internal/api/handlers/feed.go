package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"offer-allocation/internal/api/models"
	"offer-allocation/internal/config"
	"offer-allocation/internal/data"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// errNoFeedService is returned when a request names a remote source but the
// server has no feed URL configured.
var errNoFeedService = errors.New("no feed service configured on this server")

// feedLoader resolves the feed of one request.
type feedLoader struct {
	cfg    *config.Config
	client *data.FeedClient // server default; nil without feed.url
	log    logrus.FieldLogger
}

// load picks an inline document, then a remote source, then the server's
// configured feed.
func (f *feedLoader) load(ctx context.Context, apiKey string, doc *data.FeedDocument, src *models.SourceConfig) (*data.MemoryFeed, error) {
	if doc != nil {
		feed, err := doc.Feed(f.log)
		if err != nil {
			return nil, &invalidFeedError{err: err}
		}
		return feed, nil
	}

	source := f.cfg.FeedSource()
	client := f.client
	if src != nil {
		if f.cfg.Feed.URL == "" {
			return nil, errNoFeedService
		}
		source.File = ""
		source.Dataset = src.DatasetID
		source.Start = src.StartDate
		source.End = src.EndDate
	}
	if apiKey != "" && f.cfg.Feed.URL != "" {
		if err := validateAPIKey(apiKey); err != nil {
			return nil, &data.FeedError{Code: "INVALID_API_KEY", Message: err.Error()}
		}
		// Request keys get their own client but share the response cache.
		keyed := data.NewFeedClient(apiKey, f.cfg.Feed.URL, f.log)
		if f.client != nil {
			keyed.Cache = f.client.Cache
		}
		client = keyed
	}
	return data.Open(ctx, source, client, f.log)
}

// validateAPIKey performs basic validation on a request API key
func validateAPIKey(apiKey string) error {
	if len(strings.TrimSpace(apiKey)) == 0 {
		return fmt.Errorf("API key cannot be empty or whitespace")
	}
	if len(apiKey) < 10 {
		return fmt.Errorf("API key appears to be invalid (too short)")
	}
	return nil
}

type invalidFeedError struct{ err error }

func (e *invalidFeedError) Error() string { return e.err.Error() }
func (e *invalidFeedError) Unwrap() error { return e.err }

// writeFeedError maps feed loading failures to error bodies.
func writeFeedError(c *gin.Context, err error) {
	var feedErr *data.FeedError
	var invalid *invalidFeedError
	switch {
	case errors.As(err, &feedErr):
		statusCode := http.StatusBadRequest
		switch feedErr.StatusCode {
		case http.StatusForbidden, http.StatusUnauthorized:
			statusCode = http.StatusUnauthorized
		case http.StatusTooManyRequests:
			statusCode = http.StatusTooManyRequests
		case 0:
		default:
			if feedErr.StatusCode >= 500 {
				statusCode = http.StatusBadGateway
			}
		}
		c.JSON(statusCode, models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    feedErr.Code,
				Message: feedErr.Message,
				Details: map[string]interface{}{
					"status_code": feedErr.StatusCode,
					"retry_after": feedErr.RetryAfter,
				},
			},
		})
	case errors.As(err, &invalid):
		writeError(c, http.StatusBadRequest, "INVALID_FEED", err.Error(), nil)
	case errors.Is(err, errNoFeedService):
		writeError(c, http.StatusBadRequest, "FEED_NOT_CONFIGURED", err.Error(), nil)
	default:
		writeError(c, http.StatusBadRequest, "DATA_FETCH_ERROR", err.Error(), nil)
	}
}

func writeError(c *gin.Context, status int, code, msg string, details map[string]interface{}) {
	c.JSON(status, models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    code,
			Message: msg,
			Details: details,
		},
	})
}
