package data

import (
	"context"
	"errors"
	"fmt"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
)

// Source says where a run's feed comes from: a local document or the remote
// feed service, optionally with an offer catalog overriding priorities.
type Source struct {
	File        string
	CatalogFile string

	Dataset string
	Start   string // YYYY-MM-DD
	End     string // YYYY-MM-DD
}

// Open loads the feed described by src. client is only used when src.File is
// empty.
func Open(ctx context.Context, src Source, client *FeedClient, log logrus.FieldLogger) (*MemoryFeed, error) {
	log = logging.OrDiscard(log)

	var (
		doc *FeedDocument
		err error
	)
	switch {
	case src.File != "":
		doc, err = LoadFeedFile(src.File)
	case client != nil:
		var q FeedQuery
		q, err = src.query()
		if err == nil {
			doc, err = client.FetchDocument(ctx, q)
		}
	default:
		err = errors.New("no feed file or feed service configured")
	}
	if err != nil {
		return nil, err
	}

	feed, err := doc.Feed(log)
	if err != nil {
		return nil, fmt.Errorf("invalid feed: %w", err)
	}

	if src.CatalogFile != "" {
		cat, err := LoadCatalog(src.CatalogFile)
		if err != nil {
			return nil, err
		}
		if missing := feed.ApplyCatalog(cat); len(missing) > 0 {
			log.WithField("offers", missing).Warn("offers missing from catalog keep their feed priority")
		}
	}
	return feed, nil
}

func (src Source) query() (FeedQuery, error) {
	start, err := model.ParseDate(src.Start)
	if err != nil {
		return FeedQuery{}, fmt.Errorf("feed start: %w", err)
	}
	end, err := model.ParseDate(src.End)
	if err != nil {
		return FeedQuery{}, fmt.Errorf("feed end: %w", err)
	}
	return FeedQuery{Dataset: src.Dataset, Start: start, End: end}, nil
}
