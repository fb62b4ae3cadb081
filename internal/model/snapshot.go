package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"offer-allocation/internal/logging"

	"github.com/sirupsen/logrus"
)

// Epsilon absorbs floating drift in every zero comparison of the allocation
// core.
const Epsilon = 1e-6

// Quote is a resolved quote inside a Snapshot. Offer indexes Snapshot.Offers.
type Quote struct {
	Offer        int
	Price        float64
	Capacity     float64
	BasePrice    float64
	HasBasePrice bool
}

// SlotData holds everything the allocators need for one slot.
// Quotes are ordered by offer index.
type SlotData struct {
	Slot   TimeSlot
	Demand float64
	Quotes []Quote
}

// DataIssues counts the data-quality corrections applied while building a
// snapshot.
type DataIssues struct {
	DroppedQuotes   int `json:"dropped_quotes"`
	ClampedCapacity int `json:"clamped_capacity"`
	ClampedDemand   int `json:"clamped_demand"`
	DuplicateSlots  int `json:"duplicate_slots"`
}

// Snapshot is the read-only view of a PriceFeed for one run. It is safe to
// share between concurrent allocators; nothing mutates it after NewSnapshot.
type Snapshot struct {
	Offers []Offer
	Slots  []SlotData
	Issues DataIssues

	offerIdx map[string]int
	slotIdx  map[TimeSlot]int
}

// NewSnapshot reads every offer, slot, demand and quote from feed exactly
// once. Offers are sorted by id and slots by date then hour.
func NewSnapshot(feed PriceFeed, log logrus.FieldLogger) (*Snapshot, error) {
	if feed == nil {
		return nil, errors.New("price feed is nil")
	}
	log = logging.OrDiscard(log).WithField("component", "snapshot")

	offers := append([]Offer(nil), feed.ListOffers()...)
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })
	offerIdx := make(map[string]int, len(offers))
	for i, o := range offers {
		if o.ID == "" {
			return nil, errors.New("offer with empty id")
		}
		if _, dup := offerIdx[o.ID]; dup {
			return nil, fmt.Errorf("duplicate offer id %q", o.ID)
		}
		offerIdx[o.ID] = i
	}

	s := &Snapshot{
		Offers:   offers,
		offerIdx: offerIdx,
		slotIdx:  make(map[TimeSlot]int),
	}

	slots := append([]TimeSlot(nil), feed.ListSlots()...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].Less(slots[j]) })

	for _, slot := range slots {
		if err := slot.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.slotIdx[slot]; dup {
			s.Issues.DuplicateSlots++
			continue
		}

		demand := feed.Demand(slot)
		if math.IsNaN(demand) || demand < 0 {
			log.WithFields(logrus.Fields{"slot": slot.String(), "demand": demand}).
				Warn("invalid demand clamped to zero")
			s.Issues.ClampedDemand++
			demand = 0
		}

		sd := SlotData{Slot: slot, Demand: demand}
		for i, o := range offers {
			q, ok := feed.Quote(o.ID, slot)
			if !ok {
				continue
			}
			if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price < 0 || math.IsNaN(q.Capacity) {
				log.WithFields(logrus.Fields{"slot": slot.String(), "offer": o.ID, "price": q.Price}).
					Warn("quote dropped: unusable price or capacity")
				s.Issues.DroppedQuotes++
				continue
			}
			capacity := q.Capacity
			if capacity < 0 {
				log.WithFields(logrus.Fields{"slot": slot.String(), "offer": o.ID, "capacity": capacity}).
					Warn("negative capacity clamped to zero")
				s.Issues.ClampedCapacity++
				capacity = 0
			}
			sd.Quotes = append(sd.Quotes, Quote{
				Offer:        i,
				Price:        q.Price,
				Capacity:     capacity,
				BasePrice:    q.BasePrice,
				HasBasePrice: q.HasBasePrice,
			})
		}

		s.slotIdx[slot] = len(s.Slots)
		s.Slots = append(s.Slots, sd)
	}

	log.WithFields(logrus.Fields{
		"offers": len(s.Offers),
		"slots":  len(s.Slots),
	}).Debug("snapshot built")
	return s, nil
}

// OfferIndex returns the index of id in Offers.
func (s *Snapshot) OfferIndex(id string) (int, bool) {
	i, ok := s.offerIdx[id]
	return i, ok
}

// SlotIndex returns the index of slot in Slots.
func (s *Snapshot) SlotIndex(slot TimeSlot) (int, bool) {
	i, ok := s.slotIdx[slot]
	return i, ok
}

// QuoteFor looks up the quote of offer at slot index si.
func (s *Snapshot) QuoteFor(si, offer int) (Quote, bool) {
	qs := s.Slots[si].Quotes
	k := sort.Search(len(qs), func(i int) bool { return qs[i].Offer >= offer })
	if k < len(qs) && qs[k].Offer == offer {
		return qs[k], true
	}
	return Quote{}, false
}

func (s *Snapshot) TotalDemand() float64 {
	total := 0.0
	for _, sd := range s.Slots {
		total += sd.Demand
	}
	return total
}

func (s *Snapshot) MaxPrice() float64 {
	maxv := 0.0
	for _, sd := range s.Slots {
		for _, q := range sd.Quotes {
			if q.Price > maxv {
				maxv = q.Price
			}
		}
	}
	return maxv
}

// MaxAbsPriority is the largest |priority| over all offers.
func (s *Snapshot) MaxAbsPriority() int {
	maxv := 0
	for _, o := range s.Offers {
		p := o.Priority
		if p < 0 {
			p = -p
		}
		if p > maxv {
			maxv = p
		}
	}
	return maxv
}

// MinPriceGap is the smallest positive price difference between two offers
// quoting the same slot with usable capacity. ok is false when no slot has two
// distinct competing prices.
func (s *Snapshot) MinPriceGap() (gap float64, ok bool) {
	gap = math.Inf(1)
	prices := make([]float64, 0, 8)
	for _, sd := range s.Slots {
		prices = prices[:0]
		for _, q := range sd.Quotes {
			if q.Capacity > Epsilon {
				prices = append(prices, q.Price)
			}
		}
		if len(prices) < 2 {
			continue
		}
		sort.Float64s(prices)
		for i := 1; i < len(prices); i++ {
			d := prices[i] - prices[i-1]
			if d > 0 && d < gap {
				gap = d
				ok = true
			}
		}
	}
	if !ok {
		return 0, false
	}
	return gap, true
}
