package analysis

import (
	"sort"

	"offer-allocation/internal/model"
)

// OfferRoundSummary is the total an offer delivered in one round.
type OfferRoundSummary struct {
	OfferID  string  `json:"offer_id"`
	Round    int     `json:"round"`
	Assigned float64 `json:"assigned"`
	Cost     float64 `json:"cost"`
	AvgPrice float64 `json:"avg_price"`
}

// OfferSummary is an offer's total over all rounds and slots.
type OfferSummary struct {
	OfferID  string  `json:"offer_id"`
	Assigned float64 `json:"assigned"`
	Cost     float64 `json:"cost"`
	AvgPrice float64 `json:"avg_price"`
	Slots    int     `json:"slots"`
}

// MonthlyOffer is one offer inside a month.
// AvgBasePrice is only meaningful when HasBasePrice is set: it averages the
// un-indexed price over the allocations that carry one.
type MonthlyOffer struct {
	OfferID      string  `json:"offer_id"`
	Assigned     float64 `json:"assigned"`
	Cost         float64 `json:"cost"`
	AvgPrice     float64 `json:"avg_price"`
	AvgBasePrice float64 `json:"avg_base_price,omitempty"`
	HasBasePrice bool    `json:"has_base_price,omitempty"`
}

type MonthlySummary struct {
	Month    model.MonthKey `json:"-"`
	Label    string         `json:"month"`
	Demand   float64        `json:"demand"`
	Assigned float64        `json:"assigned"`
	Deficit  float64        `json:"deficit"`
	Coverage float64        `json:"coverage_pct"`
	Offers   []MonthlyOffer `json:"offers"`
}

// SlotSummary is one slot of the coverage report. Unassigned marks a slot
// with demand that received nothing.
type SlotSummary struct {
	Slot       model.TimeSlot `json:"slot"`
	Demand     float64        `json:"demand"`
	Assigned   float64        `json:"assigned"`
	Deficit    float64        `json:"deficit"`
	Coverage   float64        `json:"coverage_pct"`
	AvgPrice   float64        `json:"avg_price"`
	Offers     int            `json:"offers"`
	Unassigned bool           `json:"unassigned,omitempty"`
}

type Totals struct {
	Demand       float64 `json:"demand"`
	Assigned     float64 `json:"assigned"`
	Cost         float64 `json:"cost"`
	AvgPrice     float64 `json:"avg_price"`
	Deficit      float64 `json:"deficit"`
	DeficitShare float64 `json:"deficit_share_pct"`
	Coverage     float64 `json:"coverage_pct"`
}

// Summary is every rollup of one result.
type Summary struct {
	ByOfferRound []OfferRoundSummary `json:"by_offer_round"`
	ByOffer      []OfferSummary      `json:"by_offer"`
	Monthly      []MonthlySummary    `json:"monthly"`
	Slots        []SlotSummary       `json:"slots"`
	Totals       Totals              `json:"totals"`
}

// WeightedAverage is cost/quantity, or 0 when nothing was delivered.
func WeightedAverage(cost, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	return cost / qty
}

// Coverage is assigned/demand in percent, or 0 when there is no demand.
func Coverage(assigned, demand float64) float64 {
	if demand <= 0 {
		return 0
	}
	return assigned / demand * 100
}

type orKey struct {
	offer string
	round int
}

type monthOfferKey struct {
	month model.MonthKey
	offer string
}

type acc struct {
	qty, cost         float64
	baseQty, baseCost float64
	slots             map[model.TimeSlot]struct{}
}

func (a *acc) add(al model.Allocation) {
	a.qty += al.Quantity
	a.cost += al.Price * al.Quantity
	if al.HasBasePrice {
		a.baseQty += al.Quantity
		a.baseCost += al.BasePrice * al.Quantity
	}
}

// Summarize folds a result into its rollups. It only reads r.
func Summarize(r *model.Result) *Summary {
	s := &Summary{}
	if r == nil {
		return s
	}

	byOR := map[orKey]*acc{}
	byOffer := map[string]*acc{}
	byMonthOffer := map[monthOfferKey]*acc{}
	bySlot := map[model.TimeSlot]*acc{}

	get := func(m map[string]*acc, k string) *acc {
		a, ok := m[k]
		if !ok {
			a = &acc{slots: map[model.TimeSlot]struct{}{}}
			m[k] = a
		}
		return a
	}

	for _, al := range r.Allocations {
		k := orKey{al.OfferID, al.Round}
		if byOR[k] == nil {
			byOR[k] = &acc{}
		}
		byOR[k].add(al)

		o := get(byOffer, al.OfferID)
		o.add(al)
		o.slots[al.Slot] = struct{}{}

		mk := monthOfferKey{al.Slot.Month(), al.OfferID}
		if byMonthOffer[mk] == nil {
			byMonthOffer[mk] = &acc{}
		}
		byMonthOffer[mk].add(al)

		if bySlot[al.Slot] == nil {
			bySlot[al.Slot] = &acc{slots: map[model.TimeSlot]struct{}{}}
		}
		bySlot[al.Slot].add(al)
	}

	for k, a := range byOR {
		s.ByOfferRound = append(s.ByOfferRound, OfferRoundSummary{
			OfferID:  k.offer,
			Round:    k.round,
			Assigned: a.qty,
			Cost:     a.cost,
			AvgPrice: WeightedAverage(a.cost, a.qty),
		})
	}
	sort.Slice(s.ByOfferRound, func(i, j int) bool {
		if s.ByOfferRound[i].OfferID != s.ByOfferRound[j].OfferID {
			return s.ByOfferRound[i].OfferID < s.ByOfferRound[j].OfferID
		}
		return s.ByOfferRound[i].Round < s.ByOfferRound[j].Round
	})

	for id, a := range byOffer {
		s.ByOffer = append(s.ByOffer, OfferSummary{
			OfferID:  id,
			Assigned: a.qty,
			Cost:     a.cost,
			AvgPrice: WeightedAverage(a.cost, a.qty),
			Slots:    len(a.slots),
		})
	}
	sort.Slice(s.ByOffer, func(i, j int) bool { return s.ByOffer[i].OfferID < s.ByOffer[j].OfferID })

	// Slots and months are driven by the deficit records, which list every
	// slot with its demand.
	months := map[model.MonthKey]*MonthlySummary{}
	offersPerSlot := map[model.TimeSlot]map[string]struct{}{}
	for _, al := range r.Allocations {
		if offersPerSlot[al.Slot] == nil {
			offersPerSlot[al.Slot] = map[string]struct{}{}
		}
		offersPerSlot[al.Slot][al.OfferID] = struct{}{}
	}

	for _, d := range r.Deficits {
		assigned, cost := 0.0, 0.0
		if a := bySlot[d.Slot]; a != nil {
			assigned, cost = a.qty, a.cost
		}
		s.Slots = append(s.Slots, SlotSummary{
			Slot:       d.Slot,
			Demand:     d.Demand,
			Assigned:   assigned,
			Deficit:    d.Unmet,
			Coverage:   Coverage(assigned, d.Demand),
			AvgPrice:   WeightedAverage(cost, assigned),
			Offers:     len(offersPerSlot[d.Slot]),
			Unassigned: d.Demand > model.Epsilon && assigned <= model.Epsilon,
		})

		mk := d.Slot.Month()
		ms := months[mk]
		if ms == nil {
			ms = &MonthlySummary{Month: mk, Label: mk.String()}
			months[mk] = ms
		}
		ms.Demand += d.Demand
		ms.Assigned += assigned
		ms.Deficit += d.Unmet

		s.Totals.Demand += d.Demand
		s.Totals.Deficit += d.Unmet
	}
	sort.Slice(s.Slots, func(i, j int) bool { return s.Slots[i].Slot.Less(s.Slots[j].Slot) })

	for k, a := range byMonthOffer {
		ms := months[k.month]
		if ms == nil {
			// Allocation in a slot without a deficit record.
			ms = &MonthlySummary{Month: k.month, Label: k.month.String()}
			months[k.month] = ms
		}
		mo := MonthlyOffer{
			OfferID:  k.offer,
			Assigned: a.qty,
			Cost:     a.cost,
			AvgPrice: WeightedAverage(a.cost, a.qty),
		}
		if a.baseQty > 0 {
			mo.HasBasePrice = true
			mo.AvgBasePrice = WeightedAverage(a.baseCost, a.baseQty)
		}
		ms.Offers = append(ms.Offers, mo)
	}
	for _, ms := range months {
		sort.Slice(ms.Offers, func(i, j int) bool { return ms.Offers[i].OfferID < ms.Offers[j].OfferID })
		ms.Coverage = Coverage(ms.Assigned, ms.Demand)
		s.Monthly = append(s.Monthly, *ms)
	}
	sort.Slice(s.Monthly, func(i, j int) bool { return s.Monthly[i].Month.Less(s.Monthly[j].Month) })

	for _, a := range byOffer {
		s.Totals.Assigned += a.qty
		s.Totals.Cost += a.cost
	}
	s.Totals.AvgPrice = WeightedAverage(s.Totals.Cost, s.Totals.Assigned)
	s.Totals.Coverage = Coverage(s.Totals.Assigned, s.Totals.Demand)
	s.Totals.DeficitShare = Coverage(s.Totals.Deficit, s.Totals.Demand)
	return s
}
