package data

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"offer-allocation/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `{
  "offers": [
    {"id": "GEN-B", "priority": 2},
    {"id": "GEN-A", "name": "Plant A", "priority": 1}
  ],
  "demand": [
    {"date": "2025-01-01", "hour": 1, "quantity": 100},
    {"date": "2025-01-01", "hour": 2, "quantity": 50}
  ],
  "quotes": [
    {"offer_id": "GEN-A", "date": "2025-01-01", "hour": 1, "price": 10, "capacity": 60, "base_price": 9.5},
    {"offer_id": "GEN-B", "date": "2025-01-01", "hour": 1, "price": 12, "capacity": 60},
    {"offer_id": "GEN-Z", "date": "2025-01-01", "hour": 1, "price": 1, "capacity": 60},
    {"offer_id": "GEN-A", "date": "2025-01-02", "hour": 1, "price": 1, "capacity": 60}
  ]
}`

func parseDoc(t *testing.T, raw string) *FeedDocument {
	t.Helper()
	var doc FeedDocument
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return &doc
}

func jan(day, hour int) model.TimeSlot {
	return model.TimeSlot{Date: model.NewDate(2025, time.January, day), Hour: hour}
}

func TestFeedDocument_Feed(t *testing.T) {
	feed, err := parseDoc(t, sampleFeed).Feed(nil)
	require.NoError(t, err)

	offers := feed.ListOffers()
	require.Len(t, offers, 2)
	assert.Equal(t, "Plant A", offers[1].Name)

	assert.Equal(t, []model.TimeSlot{jan(1, 1), jan(1, 2)}, feed.ListSlots())
	assert.Equal(t, 100.0, feed.Demand(jan(1, 1)))

	q, ok := feed.Quote("GEN-A", jan(1, 1))
	require.True(t, ok)
	assert.Equal(t, 10.0, q.Price)
	assert.True(t, q.HasBasePrice)
	assert.Equal(t, 9.5, q.BasePrice)

	_, ok = feed.Quote("GEN-Z", jan(1, 1))
	assert.False(t, ok, "unknown offer is skipped")
	_, ok = feed.Quote("GEN-A", jan(2, 1))
	assert.False(t, ok, "quote outside demand slots is skipped")
}

func TestFeedDocument_FeedErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "duplicate offer",
			raw:  `{"offers": [{"id": "A"}, {"id": "A"}]}`,
		},
		{
			name: "empty offer id",
			raw:  `{"offers": [{"id": ""}]}`,
		},
		{
			name: "duplicate demand",
			raw: `{"demand": [
				{"date": "2025-01-01", "hour": 1, "quantity": 1},
				{"date": "2025-01-01", "hour": 1, "quantity": 2}]}`,
		},
		{
			name: "hour out of range",
			raw:  `{"demand": [{"date": "2025-01-01", "hour": 0, "quantity": 1}]}`,
		},
		{
			name: "duplicate quote",
			raw: `{"offers": [{"id": "A"}],
				"demand": [{"date": "2025-01-01", "hour": 1, "quantity": 1}],
				"quotes": [
					{"offer_id": "A", "date": "2025-01-01", "hour": 1, "price": 1, "capacity": 1},
					{"offer_id": "A", "date": "2025-01-01", "hour": 1, "price": 2, "capacity": 1}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDoc(t, tt.raw).Feed(nil)
			assert.Error(t, err)
		})
	}
}

func TestMemoryFeed_ApplyCatalog(t *testing.T) {
	feed, err := parseDoc(t, sampleFeed).Feed(nil)
	require.NoError(t, err)

	missing := feed.ApplyCatalog(&OfferCatalog{Offers: []CatalogEntry{
		{ID: "GEN-A", Name: "Renamed", Priority: 7},
		{ID: "GEN-X", Priority: 1},
	}})
	assert.Equal(t, []string{"GEN-B"}, missing)

	offers := feed.ListOffers()
	assert.Equal(t, 2, offers[0].Priority)
	assert.Equal(t, 7, offers[1].Priority)
	assert.Equal(t, "Renamed", offers[1].Name)

	assert.Nil(t, feed.ApplyCatalog(nil))
}

func TestOpen_FileWithCatalog(t *testing.T) {
	dir := t.TempDir()
	feedPath := filepath.Join(dir, "feed.json")
	catPath := filepath.Join(dir, "offers.json")

	require.NoError(t, SaveFeedFile(parseDoc(t, sampleFeed), feedPath))
	require.NoError(t, SaveCatalog(&OfferCatalog{
		Dataset: "test",
		Offers:  []CatalogEntry{{ID: "GEN-B", Priority: 0}},
	}, catPath))

	feed, err := Open(context.Background(), Source{File: feedPath, CatalogFile: catPath}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, feed.ListOffers()[0].Priority)

	_, err = Open(context.Background(), Source{}, nil, nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), Source{File: filepath.Join(dir, "missing.json")}, nil, nil)
	assert.Error(t, err)
}
