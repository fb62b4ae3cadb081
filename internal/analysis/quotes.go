package analysis

import (
	"math"
	"sort"

	"offer-allocation/internal/model"
)

// QuoteStats summarises the prices and capacity one offer quoted across a
// snapshot. It does not depend on any allocation, so it can be used to
// screen offers before a run.
type QuoteStats struct {
	OfferID  string `json:"offer_id"`
	Priority int    `json:"priority"`

	Count int `json:"count"`

	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	MeanPrice float64 `json:"mean_price"`
	P05Price  float64 `json:"p05_price"`
	P95Price  float64 `json:"p95_price"`

	SpreadP95P05 float64 `json:"spread_p95_p05"`

	TotalCapacity float64 `json:"total_capacity"`
	// CapacityWeightedPrice is Σ price·capacity / Σ capacity.
	CapacityWeightedPrice float64 `json:"capacity_weighted_price"`
}

// ComputeQuoteStats returns one entry per offer, in snapshot order. Offers
// without quotes get a zero entry with Count 0.
func ComputeQuoteStats(s *model.Snapshot) []QuoteStats {
	prices := make([][]float64, len(s.Offers))
	capSum := make([]float64, len(s.Offers))
	capCost := make([]float64, len(s.Offers))
	for _, sd := range s.Slots {
		for _, q := range sd.Quotes {
			prices[q.Offer] = append(prices[q.Offer], q.Price)
			capSum[q.Offer] += q.Capacity
			capCost[q.Offer] += q.Capacity * q.Price
		}
	}

	out := make([]QuoteStats, len(s.Offers))
	for i, o := range s.Offers {
		st := QuoteStats{OfferID: o.ID, Priority: o.Priority, Count: len(prices[i])}
		if st.Count == 0 {
			out[i] = st
			continue
		}
		vals := prices[i]
		sum := 0.0
		minv := math.Inf(1)
		maxv := math.Inf(-1)
		for _, v := range vals {
			sum += v
			minv = math.Min(minv, v)
			maxv = math.Max(maxv, v)
		}
		sort.Float64s(vals)
		st.MinPrice = minv
		st.MaxPrice = maxv
		st.MeanPrice = sum / float64(len(vals))
		st.P05Price = percentileSorted(vals, 0.05)
		st.P95Price = percentileSorted(vals, 0.95)
		st.SpreadP95P05 = st.P95Price - st.P05Price
		st.TotalCapacity = capSum[i]
		st.CapacityWeightedPrice = WeightedAverage(capCost[i], capSum[i])
		out[i] = st
	}
	return out
}

func percentileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	// Linear interpolation between order stats.
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
