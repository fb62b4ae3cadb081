package optimize

import (
	"context"
	"errors"
	"math"
	"sort"

	"offer-allocation/internal/model"

	"github.com/sirupsen/logrus"
)

// branchAndBound solves one block under the all-or-nothing linkage. It
// starts from a greedy integral incumbent and explores depth first, taking
// the "accept" branch before the "reject" one. exact is false when the node
// limit or the deadline cut the search short; the incumbent is still valid.
func (s *SimplexSolver) branchAndBound(ctx context.Context, m *Model, blk *Block, p SolveParams) (blockResult, bool, error) {
	inc := greedyIncumbent(m, blk)
	if len(blk.Vars) == 0 {
		return inc, true, nil
	}

	nodes := 0
	exact := true
	stack := []nodeFix{make(nodeFix, len(blk.Vars))}

	for len(stack) > 0 {
		if ctx.Err() != nil || (p.MaxNodes > 0 && nodes >= p.MaxNodes) {
			exact = false
			break
		}
		fix := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		rel, err := s.solveRelaxation(m, blk, fix)
		nodes++
		if errors.Is(err, errNodeInfeasible) {
			continue
		}
		if err != nil {
			return blockResult{}, false, err
		}
		if rel.objective >= inc.objective-pruneTolerance(inc.objective, p.RelativeGap) {
			continue
		}

		branch := -1
		for i, v := range blk.Vars {
			if fix[i] != 0 {
				continue
			}
			a := rel.assigned[i]
			if a > model.Epsilon && a < v.Capacity-model.Epsilon {
				branch = i
				break
			}
		}
		if branch < 0 {
			inc = snapIntegral(m, blk, rel)
			continue
		}

		reject := append(nodeFix(nil), fix...)
		reject[branch] = -1
		accept := append(nodeFix(nil), fix...)
		accept[branch] = 1
		stack = append(stack, reject, accept)
	}

	if !exact {
		s.log.WithFields(logrus.Fields{
			"slot":  m.Snapshot.Slots[blk.Slot].Slot.String(),
			"nodes": nodes,
			"open":  len(stack),
		}).Warn("branch and bound stopped early, keeping incumbent")
	}
	inc.nodes = nodes
	return inc, exact, nil
}

func pruneTolerance(incumbent, gap float64) float64 {
	return math.Max(1e-9, gap*math.Abs(incumbent))
}

// greedyIncumbent accepts whole quotes in cost order while they fit the
// remaining demand.
func greedyIncumbent(m *Model, blk *Block) blockResult {
	order := make([]int, len(blk.Vars))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := blk.Vars[order[a]], blk.Vars[order[b]]
		if va.Cost != vb.Cost {
			return va.Cost < vb.Cost
		}
		return va.Offer < vb.Offer
	})

	res := blockResult{assigned: make([]float64, len(blk.Vars))}
	rem := blk.Demand
	for _, i := range order {
		c := blk.Vars[i].Capacity
		if c <= rem+model.Epsilon {
			res.assigned[i] = c
			rem -= c
		}
	}
	return finish(m, blk, res)
}

// snapIntegral rounds near-integral relaxation values onto 0 or capacity.
func snapIntegral(m *Model, blk *Block, rel blockResult) blockResult {
	out := blockResult{assigned: make([]float64, len(blk.Vars))}
	for i, v := range blk.Vars {
		if rel.assigned[i] >= v.Capacity-model.Epsilon {
			out.assigned[i] = v.Capacity
		}
	}
	return finish(m, blk, out)
}

func finish(m *Model, blk *Block, res blockResult) blockResult {
	covered := 0.0
	res.objective = 0
	for i, v := range blk.Vars {
		covered += res.assigned[i]
		res.objective += v.Cost * res.assigned[i]
	}
	res.deficit = math.Max(blk.Demand-covered, 0)
	res.objective += m.BigM * res.deficit
	return res
}
