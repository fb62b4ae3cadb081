package strategy

import (
	"context"
	"errors"
	"sort"

	"offer-allocation/internal/logging"
	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
)

// IterativeParams tunes the round-based allocator.
type IterativeParams struct {
	// Epsilon is the zero threshold for demand and capacity. Default model.Epsilon.
	Epsilon float64
	// MaxRounds caps the number of rounds. Default #offers + 1.
	MaxRounds int
}

// IterativeAllocator fills every slot from the cheapest quote upward, round
// after round, carrying each quote's unused capacity into the next round.
// Ties on price go to the lower priority, then to the lower offer id.
type IterativeAllocator struct {
	Params IterativeParams
	log    logrus.FieldLogger
}

func NewIterativeAllocator(p IterativeParams, log logrus.FieldLogger) *IterativeAllocator {
	return &IterativeAllocator{
		Params: p,
		log:    logging.OrDiscard(log).WithField("component", "iterative"),
	}
}

func (a *IterativeAllocator) Name() string { return "iterative" }

type candidate struct {
	quote    int
	price    float64
	priority int
	offerID  string
}

// Allocate runs rounds until demand is met, a round assigns nothing, or the
// round bound is reached. The context is checked before each round; a
// cancelled run returns the context error and no result.
func (a *IterativeAllocator) Allocate(ctx context.Context, s *model.Snapshot) (*model.Result, error) {
	if s == nil {
		return nil, errors.New("snapshot is nil")
	}
	eps := a.Params.Epsilon
	if eps <= 0 {
		eps = model.Epsilon
	}
	maxRounds := a.Params.MaxRounds
	if maxRounds <= 0 {
		maxRounds = len(s.Offers) + 1
	}

	remDemand := make([]float64, len(s.Slots))
	remCap := make([][]float64, len(s.Slots))
	for si, sd := range s.Slots {
		remDemand[si] = sd.Demand
		remCap[si] = make([]float64, len(sd.Quotes))
		for qi, q := range sd.Quotes {
			remCap[si][qi] = q.Capacity
		}
	}

	res := &model.Result{Method: model.MethodIterative}
	cands := make([]candidate, 0, len(s.Offers))

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sum(remDemand) <= eps {
			res.Termination = model.TerminationDemandMet
			break
		}
		if round > maxRounds {
			a.log.WithFields(logrus.Fields{
				"rounds":           maxRounds,
				"remaining_demand": sum(remDemand),
			}).Warn("round bound reached, remaining demand reported as deficit")
			res.Termination = model.TerminationRoundBound
			break
		}

		assigned := 0.0
		for si, sd := range s.Slots {
			if remDemand[si] <= eps {
				continue
			}

			cands = cands[:0]
			for qi, q := range sd.Quotes {
				if remCap[si][qi] > eps {
					o := s.Offers[q.Offer]
					cands = append(cands, candidate{quote: qi, price: q.Price, priority: o.Priority, offerID: o.ID})
				}
			}
			sort.Slice(cands, func(i, j int) bool {
				if cands[i].price != cands[j].price {
					return cands[i].price < cands[j].price
				}
				if cands[i].priority != cands[j].priority {
					return cands[i].priority < cands[j].priority
				}
				return cands[i].offerID < cands[j].offerID
			})

			for _, c := range cands {
				if remDemand[si] <= eps {
					break
				}
				qty := min(remDemand[si], remCap[si][c.quote])
				if qty <= 0 {
					continue
				}
				q := sd.Quotes[c.quote]
				res.Allocations = append(res.Allocations, model.Allocation{
					OfferID:      c.offerID,
					Slot:         sd.Slot,
					Round:        round,
					Quantity:     qty,
					Price:        q.Price,
					BasePrice:    q.BasePrice,
					HasBasePrice: q.HasBasePrice,
				})
				remDemand[si] -= qty
				remCap[si][c.quote] = a.settle(remCap[si][c.quote]-qty, eps, c.offerID, sd.Slot)
				assigned += qty
			}
			if remDemand[si] < 0 {
				remDemand[si] = 0
			}
		}

		res.Rounds = append(res.Rounds, model.RoundSummary{
			Round:    round,
			Assigned: assigned,
			Leftover: leftover(s, remCap, eps),
		})
		a.log.WithFields(logrus.Fields{"round": round, "assigned": assigned}).Debug("round finished")

		if assigned <= eps {
			res.Termination = model.TerminationNoProgress
			break
		}
	}

	res.Deficits = make([]model.DeficitRecord, len(s.Slots))
	for si, sd := range s.Slots {
		res.Deficits[si] = model.DeficitRecord{Slot: sd.Slot, Demand: sd.Demand, Unmet: remDemand[si]}
	}

	a.log.WithFields(logrus.Fields{
		"rounds":      len(res.Rounds),
		"termination": res.Termination,
		"allocations": len(res.Allocations),
	}).Info("iterative allocation finished")
	return res, nil
}

// settle clamps a remaining capacity at zero. Drift beyond eps means the
// bookkeeping is wrong and is logged.
func (a *IterativeAllocator) settle(v, eps float64, offerID string, slot model.TimeSlot) float64 {
	if v >= 0 {
		return v
	}
	if v < -eps {
		a.log.WithFields(logrus.Fields{
			"offer":     offerID,
			"slot":      slot.String(),
			"remaining": v,
		}).Warn("remaining capacity negative, clamped to zero")
	}
	return 0
}

func leftover(s *model.Snapshot, remCap [][]float64, eps float64) []model.LeftoverEntry {
	var out []model.LeftoverEntry
	for si, sd := range s.Slots {
		for qi, q := range sd.Quotes {
			if remCap[si][qi] > eps {
				out = append(out, model.LeftoverEntry{
					OfferID:   s.Offers[q.Offer].ID,
					Slot:      sd.Slot,
					Remaining: remCap[si][qi],
				})
			}
		}
	}
	return out
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}
