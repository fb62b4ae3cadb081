package data

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
)

// FeedDocument is the on-disk and on-the-wire shape of a price feed.
//
// Example:
//
//	{
//	  "offers": [{"id": "GEN-A", "priority": 1}],
//	  "demand": [{"date": "2025-01-01", "hour": 1, "quantity": 120}],
//	  "quotes": [{"offer_id": "GEN-A", "date": "2025-01-01", "hour": 1, "price": 210.5, "capacity": 80}]
//	}
type FeedDocument struct {
	Offers []OfferRecord  `json:"offers"`
	Demand []DemandRecord `json:"demand"`
	Quotes []QuoteRecord  `json:"quotes"`
}

type OfferRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Priority int    `json:"priority"`
}

type DemandRecord struct {
	Date     model.Date `json:"date"`
	Hour     int        `json:"hour"`
	Quantity float64    `json:"quantity"`
}

type QuoteRecord struct {
	OfferID  string     `json:"offer_id"`
	Date     model.Date `json:"date"`
	Hour     int        `json:"hour"`
	Price    float64    `json:"price"`
	Capacity float64    `json:"capacity"`
	// BasePrice is the un-indexed price, if known.
	BasePrice *float64 `json:"base_price,omitempty"`
}

// LoadFeedFile reads a FeedDocument from a JSON file.
func LoadFeedFile(path string) (*FeedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file: %w", err)
	}
	var doc FeedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse feed file: %w", err)
	}
	return &doc, nil
}

// SaveFeedFile writes doc as indented JSON.
func SaveFeedFile(doc *FeedDocument, path string) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal feed: %w", err)
	}
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write feed file: %w", err)
	}
	return nil
}

// Feed validates the document and turns it into a MemoryFeed.
// Quotes for unknown offers or for slots without a demand row are skipped and
// logged; duplicate rows are errors.
func (d *FeedDocument) Feed(log logrus.FieldLogger) (*MemoryFeed, error) {
	log = logging.OrDiscard(log).WithField("component", "feed")
	f := NewMemoryFeed()

	for _, o := range d.Offers {
		if err := f.AddOffer(model.Offer{ID: o.ID, Priority: o.Priority, Name: o.Name}); err != nil {
			return nil, err
		}
	}
	for _, r := range d.Demand {
		slot, err := model.NewTimeSlot(r.Date, r.Hour)
		if err != nil {
			return nil, err
		}
		if _, dup := f.demand[slot]; dup {
			return nil, fmt.Errorf("duplicate demand row for %s", slot)
		}
		f.SetDemand(slot, r.Quantity)
	}

	skipped := 0
	for _, q := range d.Quotes {
		slot, err := model.NewTimeSlot(q.Date, q.Hour)
		if err != nil {
			return nil, err
		}
		if _, ok := f.offerIdx[q.OfferID]; !ok {
			log.WithFields(logrus.Fields{"offer": q.OfferID, "slot": slot.String()}).Warn("quote for unknown offer ignored")
			skipped++
			continue
		}
		if _, ok := f.demand[slot]; !ok {
			skipped++
			continue
		}
		key := quoteKey{offer: q.OfferID, slot: slot}
		if _, dup := f.quotes[key]; dup {
			return nil, fmt.Errorf("duplicate quote for %s at %s", q.OfferID, slot)
		}
		oq := model.OfferQuote{Price: q.Price, Capacity: q.Capacity}
		if q.BasePrice != nil {
			oq.BasePrice = *q.BasePrice
			oq.HasBasePrice = true
		}
		f.quotes[key] = oq
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Info("quotes outside the feed's offers or demand slots were skipped")
	}
	return f, nil
}

type quoteKey struct {
	offer string
	slot  model.TimeSlot
}

// MemoryFeed is an in-memory model.PriceFeed.
type MemoryFeed struct {
	offers   []model.Offer
	offerIdx map[string]int
	slots    []model.TimeSlot
	demand   map[model.TimeSlot]float64
	quotes   map[quoteKey]model.OfferQuote
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		offerIdx: make(map[string]int),
		demand:   make(map[model.TimeSlot]float64),
		quotes:   make(map[quoteKey]model.OfferQuote),
	}
}

func (f *MemoryFeed) AddOffer(o model.Offer) error {
	if o.ID == "" {
		return fmt.Errorf("offer id is required")
	}
	if _, dup := f.offerIdx[o.ID]; dup {
		return fmt.Errorf("duplicate offer id %q", o.ID)
	}
	f.offerIdx[o.ID] = len(f.offers)
	f.offers = append(f.offers, o)
	return nil
}

// SetDemand sets the demand of slot, registering the slot if it is new.
func (f *MemoryFeed) SetDemand(slot model.TimeSlot, qty float64) {
	if _, ok := f.demand[slot]; !ok {
		f.slots = append(f.slots, slot)
	}
	f.demand[slot] = qty
}

func (f *MemoryFeed) SetQuote(offerID string, slot model.TimeSlot, q model.OfferQuote) {
	f.quotes[quoteKey{offer: offerID, slot: slot}] = q
}

// ApplyCatalog overrides offer priorities and names with catalog entries.
// It returns the ids of feed offers the catalog does not list.
func (f *MemoryFeed) ApplyCatalog(c *OfferCatalog) []string {
	if c == nil {
		return nil
	}
	byID := make(map[string]CatalogEntry, len(c.Offers))
	for _, e := range c.Offers {
		byID[e.ID] = e
	}
	var missing []string
	for i, o := range f.offers {
		e, ok := byID[o.ID]
		if !ok {
			missing = append(missing, o.ID)
			continue
		}
		f.offers[i].Priority = e.Priority
		if e.Name != "" {
			f.offers[i].Name = e.Name
		}
	}
	sort.Strings(missing)
	return missing
}

func (f *MemoryFeed) ListOffers() []model.Offer {
	return append([]model.Offer(nil), f.offers...)
}

func (f *MemoryFeed) ListSlots() []model.TimeSlot {
	return append([]model.TimeSlot(nil), f.slots...)
}

func (f *MemoryFeed) Demand(slot model.TimeSlot) float64 {
	return f.demand[slot]
}

func (f *MemoryFeed) Quote(offerID string, slot model.TimeSlot) (model.OfferQuote, bool) {
	q, ok := f.quotes[quoteKey{offer: offerID, slot: slot}]
	return q, ok
}
