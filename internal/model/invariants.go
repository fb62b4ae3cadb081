package model

import (
	"errors"
	"fmt"
	"strings"
)

// InvariantError lists every balance or capacity violation found in a result.
type InvariantError struct {
	Violations []string
}

func (e *InvariantError) Error() string {
	if len(e.Violations) == 1 {
		return "allocation invariant violated: " + e.Violations[0]
	}
	return fmt.Sprintf("%d allocation invariants violated: %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

type offerSlot struct {
	offer string
	slot  TimeSlot
}

// CheckInvariants verifies balance, capacity and non-negative deficit of r
// against the snapshot it was computed from.
func CheckInvariants(s *Snapshot, r *Result, tol float64) error {
	if s == nil || r == nil {
		return errors.New("snapshot and result are required")
	}
	if tol <= 0 {
		tol = Epsilon
	}

	var violations []string
	assignedBySlot := make(map[TimeSlot]float64, len(s.Slots))
	assignedByQuote := make(map[offerSlot]float64)

	for _, a := range r.Allocations {
		if a.Quantity < -tol {
			violations = append(violations, fmt.Sprintf("negative allocation %g for %s at %s", a.Quantity, a.OfferID, a.Slot))
		}
		assignedBySlot[a.Slot] += a.Quantity
		assignedByQuote[offerSlot{a.OfferID, a.Slot}] += a.Quantity
	}

	for key, qty := range assignedByQuote {
		oi, ok := s.OfferIndex(key.offer)
		si, okSlot := s.SlotIndex(key.slot)
		if !ok || !okSlot {
			violations = append(violations, fmt.Sprintf("allocation for unknown offer/slot %s at %s", key.offer, key.slot))
			continue
		}
		q, ok := s.QuoteFor(si, oi)
		if !ok {
			violations = append(violations, fmt.Sprintf("allocation without quote for %s at %s", key.offer, key.slot))
			continue
		}
		if qty > q.Capacity+tol {
			violations = append(violations, fmt.Sprintf("capacity exceeded for %s at %s: %g > %g", key.offer, key.slot, qty, q.Capacity))
		}
	}

	unmet := make(map[TimeSlot]float64, len(r.Deficits))
	for _, d := range r.Deficits {
		if d.Unmet < -tol {
			violations = append(violations, fmt.Sprintf("negative deficit %g at %s", d.Unmet, d.Slot))
		}
		unmet[d.Slot] += d.Unmet
	}
	for _, sd := range s.Slots {
		got := assignedBySlot[sd.Slot] + unmet[sd.Slot]
		if diff := got - sd.Demand; diff > tol || diff < -tol {
			violations = append(violations, fmt.Sprintf("balance broken at %s: assigned+deficit=%g demand=%g", sd.Slot, got, sd.Demand))
		}
	}

	if len(violations) > 0 {
		return &InvariantError{Violations: violations}
	}
	return nil
}
