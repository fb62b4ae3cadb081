package model

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quoteKey struct {
	offer string
	slot  TimeSlot
}

type fakeFeed struct {
	offers []Offer
	slots  []TimeSlot
	demand map[TimeSlot]float64
	quotes map[quoteKey]OfferQuote
}

func newFakeFeed(offers ...Offer) *fakeFeed {
	return &fakeFeed{
		offers: offers,
		demand: map[TimeSlot]float64{},
		quotes: map[quoteKey]OfferQuote{},
	}
}

func (f *fakeFeed) slot(s TimeSlot, demand float64) *fakeFeed {
	f.slots = append(f.slots, s)
	f.demand[s] = demand
	return f
}

func (f *fakeFeed) quote(offer string, s TimeSlot, price, capacity float64) *fakeFeed {
	f.quotes[quoteKey{offer, s}] = OfferQuote{Price: price, Capacity: capacity}
	return f
}

func (f *fakeFeed) ListOffers() []Offer { return f.offers }
func (f *fakeFeed) ListSlots() []TimeSlot { return f.slots }
func (f *fakeFeed) Demand(s TimeSlot) float64 { return f.demand[s] }
func (f *fakeFeed) Quote(o string, s TimeSlot) (OfferQuote, bool) {
	q, ok := f.quotes[quoteKey{o, s}]
	return q, ok
}

func ts(day, hour int) TimeSlot {
	return TimeSlot{Date: NewDate(2025, time.January, day), Hour: hour}
}

func TestNewSnapshot_SortsOffersAndSlots(t *testing.T) {
	feed := newFakeFeed(Offer{ID: "B", Priority: 2}, Offer{ID: "A", Priority: 1}).
		slot(ts(2, 1), 10).
		slot(ts(1, 5), 20).
		slot(ts(1, 2), 30).
		quote("A", ts(1, 2), 10, 5).
		quote("B", ts(1, 2), 11, 5)

	s, err := NewSnapshot(feed, nil)
	require.NoError(t, err)

	require.Len(t, s.Offers, 2)
	assert.Equal(t, "A", s.Offers[0].ID)
	assert.Equal(t, "B", s.Offers[1].ID)

	require.Len(t, s.Slots, 3)
	assert.Equal(t, ts(1, 2), s.Slots[0].Slot)
	assert.Equal(t, ts(1, 5), s.Slots[1].Slot)
	assert.Equal(t, ts(2, 1), s.Slots[2].Slot)

	si, ok := s.SlotIndex(ts(1, 2))
	require.True(t, ok)
	q, ok := s.QuoteFor(si, 1)
	require.True(t, ok)
	assert.Equal(t, 11.0, q.Price)

	_, ok = s.QuoteFor(2, 0)
	assert.False(t, ok, "no quote means not a candidate")

	assert.Equal(t, 60.0, s.TotalDemand())
	assert.Equal(t, 11.0, s.MaxPrice())
	assert.Equal(t, 2, s.MaxAbsPriority())
}

func TestNewSnapshot_DataQuality(t *testing.T) {
	feed := newFakeFeed(Offer{ID: "A"}, Offer{ID: "B"}, Offer{ID: "C"}).
		slot(ts(1, 1), -5).
		slot(ts(1, 2), math.NaN()).
		slot(ts(1, 3), 10).
		slot(ts(1, 3), 10).
		quote("A", ts(1, 3), math.NaN(), 5).
		quote("B", ts(1, 3), -1, 5).
		quote("C", ts(1, 3), 4, -3)

	s, err := NewSnapshot(feed, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Issues.ClampedDemand)
	assert.Equal(t, 2, s.Issues.DroppedQuotes)
	assert.Equal(t, 1, s.Issues.ClampedCapacity)
	assert.Equal(t, 1, s.Issues.DuplicateSlots)

	require.Len(t, s.Slots, 3)
	assert.Zero(t, s.Slots[0].Demand)
	assert.Zero(t, s.Slots[1].Demand)
	require.Len(t, s.Slots[2].Quotes, 1)
	assert.Zero(t, s.Slots[2].Quotes[0].Capacity)
}

func TestNewSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		feed PriceFeed
	}{
		{"nil feed", nil},
		{"duplicate offer", newFakeFeed(Offer{ID: "A"}, Offer{ID: "A"})},
		{"empty offer id", newFakeFeed(Offer{ID: ""})},
		{"hour out of range", newFakeFeed(Offer{ID: "A"}).slot(ts(1, 25), 1)},
		{"hour zero", newFakeFeed(Offer{ID: "A"}).slot(ts(1, 0), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSnapshot(tt.feed, nil)
			assert.Error(t, err)
		})
	}
}

func TestMinPriceGap(t *testing.T) {
	feed := newFakeFeed(Offer{ID: "A"}, Offer{ID: "B"}, Offer{ID: "C"}).
		slot(ts(1, 1), 10).
		slot(ts(1, 2), 10).
		quote("A", ts(1, 1), 10, 5).
		quote("B", ts(1, 1), 10.5, 5).
		quote("C", ts(1, 1), 10.25, 0). // no capacity, not competing
		quote("A", ts(1, 2), 3, 5)

	s, err := NewSnapshot(feed, nil)
	require.NoError(t, err)
	gap, ok := s.MinPriceGap()
	require.True(t, ok)
	assert.InDelta(t, 0.5, gap, 1e-12)

	single := newFakeFeed(Offer{ID: "A"}).slot(ts(1, 1), 1).quote("A", ts(1, 1), 1, 1)
	s, err = NewSnapshot(single, nil)
	require.NoError(t, err)
	_, ok = s.MinPriceGap()
	assert.False(t, ok)
}

func TestTimeSlot(t *testing.T) {
	d, err := ParseDate("2025-03-09")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", d.String())

	_, err = ParseDate("2025-13-01")
	assert.Error(t, err)

	a := TimeSlot{Date: d, Hour: 24}
	b := TimeSlot{Date: NewDate(2025, time.March, 10), Hour: 1}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, "2025-03-09 H24", a.String())
	assert.Equal(t, MonthKey{2025, time.March}, a.Month())
	assert.Equal(t, "2025-03", a.Month().String())

	_, err = NewTimeSlot(d, 25)
	assert.Error(t, err)

	var parsed Date
	require.NoError(t, parsed.UnmarshalText([]byte("2024-02-29")))
	assert.Equal(t, NewDate(2024, time.February, 29), parsed)
}
