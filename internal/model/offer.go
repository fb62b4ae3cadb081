package model

// Offer is a priced, capacity-limited supply source. Lower priority wins
// price ties.
type Offer struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Name     string `json:"name,omitempty"`
}

// OfferQuote is one offer's price and capacity for one slot.
//
// BasePrice is the un-indexed price when the feed supplies one; it is only
// used for reporting a second weighted average.
type OfferQuote struct {
	Price        float64
	Capacity     float64
	BasePrice    float64
	HasBasePrice bool
}

// PriceFeed supplies the inputs of a run. Quote returns false when the offer
// made no quote for the slot, which is different from a zero quote.
type PriceFeed interface {
	ListOffers() []Offer
	ListSlots() []TimeSlot
	Demand(slot TimeSlot) float64
	Quote(offerID string, slot TimeSlot) (OfferQuote, bool)
}
