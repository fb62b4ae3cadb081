package analysis

import (
	"testing"
	"time"

	"offer-allocation/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(month time.Month, day, hour int) model.TimeSlot {
	return model.TimeSlot{Date: model.NewDate(2025, month, day), Hour: hour}
}

// sampleResult spans two months: a fully covered slot, an unassigned one and
// a partial one.
func sampleResult() *model.Result {
	return &model.Result{
		Method: model.MethodIterative,
		Allocations: []model.Allocation{
			{OfferID: "A", Slot: at(time.January, 1, 1), Round: 1, Quantity: 60, Price: 10, BasePrice: 9, HasBasePrice: true},
			{OfferID: "B", Slot: at(time.January, 1, 1), Round: 1, Quantity: 40, Price: 12},
			{OfferID: "A", Slot: at(time.February, 1, 2), Round: 2, Quantity: 10, Price: 20},
		},
		Deficits: []model.DeficitRecord{
			{Slot: at(time.February, 1, 2), Demand: 30, Unmet: 20},
			{Slot: at(time.January, 1, 1), Demand: 100, Unmet: 0},
			{Slot: at(time.January, 1, 2), Demand: 50, Unmet: 50},
		},
		Rounds: []model.RoundSummary{
			{Round: 1, Assigned: 100, Leftover: []model.LeftoverEntry{
				{OfferID: "B", Slot: at(time.January, 1, 1), Remaining: 20},
				{OfferID: "A", Slot: at(time.February, 1, 2), Remaining: 10},
			}},
			{Round: 2, Assigned: 10},
		},
		Termination: model.TerminationNoProgress,
	}
}

func TestWeightedAverageAndCoverage(t *testing.T) {
	assert.Equal(t, 12.5, WeightedAverage(250, 20))
	assert.Zero(t, WeightedAverage(250, 0))
	assert.Zero(t, WeightedAverage(0, -1))

	assert.Equal(t, 50.0, Coverage(5, 10))
	assert.Zero(t, Coverage(5, 0))
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResult())

	assert.Equal(t, []OfferRoundSummary{
		{OfferID: "A", Round: 1, Assigned: 60, Cost: 600, AvgPrice: 10},
		{OfferID: "A", Round: 2, Assigned: 10, Cost: 200, AvgPrice: 20},
		{OfferID: "B", Round: 1, Assigned: 40, Cost: 480, AvgPrice: 12},
	}, s.ByOfferRound)

	require.Len(t, s.ByOffer, 2)
	assert.Equal(t, "A", s.ByOffer[0].OfferID)
	assert.Equal(t, 70.0, s.ByOffer[0].Assigned)
	assert.InDelta(t, 800.0/70, s.ByOffer[0].AvgPrice, 1e-12)
	assert.Equal(t, 2, s.ByOffer[0].Slots)

	require.Len(t, s.Slots, 3)
	assert.Equal(t, at(time.January, 1, 1), s.Slots[0].Slot)
	assert.Equal(t, 2, s.Slots[0].Offers)
	assert.Equal(t, 100.0, s.Slots[0].Coverage)
	assert.True(t, s.Slots[1].Unassigned)
	assert.False(t, s.Slots[2].Unassigned)
	assert.InDelta(t, 100.0/3, s.Slots[2].Coverage, 1e-9)

	require.Len(t, s.Monthly, 2)
	jan := s.Monthly[0]
	assert.Equal(t, "2025-01", jan.Label)
	assert.Equal(t, 150.0, jan.Demand)
	assert.Equal(t, 100.0, jan.Assigned)
	assert.Equal(t, 50.0, jan.Deficit)
	require.Len(t, jan.Offers, 2)
	assert.True(t, jan.Offers[0].HasBasePrice)
	assert.Equal(t, 9.0, jan.Offers[0].AvgBasePrice)
	assert.False(t, jan.Offers[1].HasBasePrice)

	feb := s.Monthly[1]
	assert.Equal(t, "2025-02", feb.Label)
	require.Len(t, feb.Offers, 1)
	assert.False(t, feb.Offers[0].HasBasePrice)

	tot := s.Totals
	assert.Equal(t, 180.0, tot.Demand)
	assert.Equal(t, 110.0, tot.Assigned)
	assert.Equal(t, 1280.0, tot.Cost)
	assert.Equal(t, 70.0, tot.Deficit)
	assert.InDelta(t, 1280.0/110, tot.AvgPrice, 1e-12)
	assert.InDelta(t, 7000.0/180, tot.DeficitShare, 1e-9)
	assert.InDelta(t, 11000.0/180, tot.Coverage, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Empty(t, s.ByOffer)
	assert.Zero(t, s.Totals.AvgPrice)

	s = Summarize(&model.Result{Deficits: []model.DeficitRecord{{Slot: at(time.March, 1, 1)}}})
	require.Len(t, s.Slots, 1)
	assert.False(t, s.Slots[0].Unassigned, "zero demand is not unassigned")
	assert.Zero(t, s.Totals.Coverage)
}

func TestTables(t *testing.T) {
	r := sampleResult()

	tables := AllocationTables(r)
	require.Len(t, tables, 3)
	assert.Equal(t, "A", tables[0].OfferID)
	assert.Equal(t, 1, tables[0].Round)
	assert.Equal(t, 2, tables[1].Round)
	assert.Equal(t, "B", tables[2].OfferID)

	left := LeftoverTables(r)
	require.Len(t, left, 2)
	assert.Equal(t, "A", left[0].OfferID)
	assert.Equal(t, 10.0, left[0].Quantities[at(time.February, 1, 2)])

	dates := ResultDates(r)
	assert.Equal(t, []model.Date{model.NewDate(2025, time.January, 1), model.NewDate(2025, time.February, 1)}, dates)

	p := PivotByDate(DeficitTable(r), dates)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, 50.0, p.Rows[0][1])
	assert.Equal(t, 50.0, p.RowTotal(0))
	assert.Equal(t, 20.0, p.RowTotal(1))

	own := PivotByDate(tables[2].Quantities, nil)
	assert.Equal(t, []model.Date{model.NewDate(2025, time.January, 1)}, own.Dates)
	assert.Equal(t, 40.0, own.Rows[0][0])
}
