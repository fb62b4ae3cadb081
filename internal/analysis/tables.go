package analysis

import (
	"sort"

	"offer-allocation/internal/model"
)

// OfferRoundTable is the export view of one (offer, round): slot -> quantity.
type OfferRoundTable struct {
	OfferID    string                     `json:"offer_id"`
	Round      int                        `json:"round"`
	Quantities map[model.TimeSlot]float64 `json:"-"`
}

// AllocationTables groups a result's allocations by (offer, round), ordered
// by offer id then round.
func AllocationTables(r *model.Result) []OfferRoundTable {
	idx := map[orKey]int{}
	var out []OfferRoundTable
	for _, a := range r.Allocations {
		k := orKey{a.OfferID, a.Round}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, OfferRoundTable{OfferID: a.OfferID, Round: a.Round, Quantities: map[model.TimeSlot]float64{}})
		}
		out[i].Quantities[a.Slot] += a.Quantity
	}
	sortTables(out)
	return out
}

// LeftoverTables exposes each round's remaining capacity per offer, the
// "unassigned" audit view of the iterative allocator.
func LeftoverTables(r *model.Result) []OfferRoundTable {
	var out []OfferRoundTable
	for _, rs := range r.Rounds {
		idx := map[string]int{}
		for _, e := range rs.Leftover {
			i, ok := idx[e.OfferID]
			if !ok {
				i = len(out)
				idx[e.OfferID] = i
				out = append(out, OfferRoundTable{OfferID: e.OfferID, Round: rs.Round, Quantities: map[model.TimeSlot]float64{}})
			}
			out[i].Quantities[e.Slot] = e.Remaining
		}
	}
	sortTables(out)
	return out
}

func sortTables(t []OfferRoundTable) {
	sort.Slice(t, func(i, j int) bool {
		if t[i].OfferID != t[j].OfferID {
			return t[i].OfferID < t[j].OfferID
		}
		return t[i].Round < t[j].Round
	})
}

// DeficitTable maps every slot to its unmet quantity.
func DeficitTable(r *model.Result) map[model.TimeSlot]float64 {
	out := make(map[model.TimeSlot]float64, len(r.Deficits))
	for _, d := range r.Deficits {
		out[d.Slot] += d.Unmet
	}
	return out
}

// Pivot lays slot values out as one row per date and one column per hour.
type Pivot struct {
	Dates []model.Date
	Rows  [][24]float64
}

func (p Pivot) RowTotal(i int) float64 {
	total := 0.0
	for _, v := range p.Rows[i] {
		total += v
	}
	return total
}

// PivotByDate builds a Pivot over the given dates, or over the dates present
// in values when dates is nil.
func PivotByDate(values map[model.TimeSlot]float64, dates []model.Date) Pivot {
	if dates == nil {
		seen := map[model.Date]struct{}{}
		for slot := range values {
			if _, ok := seen[slot.Date]; !ok {
				seen[slot.Date] = struct{}{}
				dates = append(dates, slot.Date)
			}
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	}
	p := Pivot{Dates: dates, Rows: make([][24]float64, len(dates))}
	row := make(map[model.Date]int, len(dates))
	for i, d := range dates {
		row[d] = i
	}
	for slot, v := range values {
		if i, ok := row[slot.Date]; ok {
			p.Rows[i][slot.Hour-1] += v
		}
	}
	return p
}

// ResultDates lists the distinct dates of a result's slots, in order.
func ResultDates(r *model.Result) []model.Date {
	var out []model.Date
	seen := map[model.Date]struct{}{}
	for _, d := range r.Deficits {
		if _, ok := seen[d.Slot.Date]; !ok {
			seen[d.Slot.Date] = struct{}{}
			out = append(out, d.Slot.Date)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
