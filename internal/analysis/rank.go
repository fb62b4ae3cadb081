package analysis

import (
	"sort"

	"offer-allocation/internal/model"
)

type RankedOffer struct {
	Rank int `json:"rank"`
	QuoteStats
}

// RankByMeritOrder orders quoting offers by mean quoted price, then
// priority, then id: the order the allocators would draw on them if every
// slot were priced at its mean. Offers that never quoted are left out.
func RankByMeritOrder(s *model.Snapshot) []RankedOffer {
	stats := ComputeQuoteStats(s)
	out := make([]RankedOffer, 0, len(stats))
	for _, st := range stats {
		if st.Count == 0 {
			continue
		}
		out = append(out, RankedOffer{QuoteStats: st})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MeanPrice != out[j].MeanPrice {
			return out[i].MeanPrice < out[j].MeanPrice
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].OfferID < out[j].OfferID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
