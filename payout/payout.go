// Package payout holds the pure settlement arithmetic of a round: the bucket
// split of the pot, winner-group sizing and the per-rank prize plan.
package payout

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolarena/fixedpoint"
)

// Split and group percentages.
const (
	BucketPct   = 5
	WinnersPct  = 33
	Group2Pct   = 15
	Top1Share   = 50
	Group2Share = 35
	Group3Share = 15
)

var ErrInvalidRank = errors.New("invalid rank")

// Buckets is the split of a finalized pot. Revenue+BuybackA+BuybackB+PrizePool
// always equals the pot.
type Buckets struct {
	Revenue   uint64 `json:"revenue"`
	BuybackA  uint64 `json:"buyback_a"`
	BuybackB  uint64 `json:"buyback_b"`
	PrizePool uint64 `json:"prize_pool"`
}

// SplitPot takes BucketPct of the pot for each of the three earmarked buckets
// and leaves the exact rest as the prize pool, so no rounding dust is lost.
func SplitPot(pot uint64) (Buckets, error) {
	each, err := fixedpoint.Percent(pot, BucketPct)
	if err != nil {
		return Buckets{}, err
	}
	out, err := fixedpoint.Add64(each, each)
	if err == nil {
		out, err = fixedpoint.Add64(out, each)
	}
	if err != nil {
		return Buckets{}, err
	}
	prize, err := fixedpoint.Sub64(pot, out)
	if err != nil {
		return Buckets{}, err
	}
	return Buckets{Revenue: each, BuybackA: each, BuybackB: each, PrizePool: prize}, nil
}

// Sizing is the winner-group layout derived from a round's ticket count.
// Rank 1 is alone; Group2 ranks follow; Group3 takes the rest.
type Sizing struct {
	Winners uint32 `json:"winners"`
	Group2  uint32 `json:"group2"`
	Group3  uint32 `json:"group3"`
}

// SizeGroups computes the layout for ticketCount entries. A count of zero is
// treated as one.
func SizeGroups(ticketCount uint32) (Sizing, error) {
	n := uint64(max(ticketCount, 1))
	winners, err := fixedpoint.CeilPercent(n, WinnersPct)
	if err != nil {
		return Sizing{}, err
	}
	g2, err := fixedpoint.CeilPercent(n, Group2Pct)
	if err != nil {
		return Sizing{}, err
	}
	g2 = fixedpoint.SaturatingSub64(g2, 1)
	g2 = min(g2, winners-1)
	return Sizing{
		Winners: uint32(winners),
		Group2:  uint32(g2),
		Group3:  uint32(winners - 1 - g2),
	}, nil
}

// Plan is the per-rank amount table for a finalized prize pool.
type Plan struct {
	PrizePool  uint64
	Sizing     Sizing
	Top1       uint64
	Group2Each uint64
	Group3Each uint64
	// Remainder is the rounding dust paid on top of Top1.
	Remainder uint64
}

func NewPlan(prize uint64, s Sizing) (Plan, error) {
	p := Plan{PrizePool: prize, Sizing: s}
	var err error
	if p.Top1, err = fixedpoint.Percent(prize, Top1Share); err != nil {
		return Plan{}, err
	}
	if s.Group2 > 0 {
		total, err := fixedpoint.Percent(prize, Group2Share)
		if err != nil {
			return Plan{}, err
		}
		p.Group2Each = total / uint64(s.Group2)
	}
	if s.Group3 > 0 {
		total, err := fixedpoint.Percent(prize, Group3Share)
		if err != nil {
			return Plan{}, err
		}
		p.Group3Each = total / uint64(s.Group3)
	}

	// Each product is bounded by its share of the prize, so none can overflow.
	used := p.Top1 + p.Group2Each*uint64(s.Group2) + p.Group3Each*uint64(s.Group3)
	p.Remainder = fixedpoint.SaturatingSub64(prize, used)
	return p, nil
}

// RankAmount returns what the winner at a 1-based rank is owed. Ranks in an
// empty group are owed zero.
func (p Plan) RankAmount(rank uint32) (uint64, error) {
	if rank < 1 || rank > p.Sizing.Winners {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidRank, rank, p.Sizing.Winners)
	}
	switch {
	case rank == 1:
		return fixedpoint.Add64(p.Top1, p.Remainder)
	case rank <= 1+p.Sizing.Group2 && p.Sizing.Group2 > 0:
		return p.Group2Each, nil
	case p.Sizing.Group3 > 0:
		return p.Group3Each, nil
	}
	return 0, nil
}

// Total sums RankAmount over every rank.
func (p Plan) Total() (uint64, error) {
	top, err := fixedpoint.Add64(p.Top1, p.Remainder)
	if err != nil {
		return 0, err
	}
	total := top + p.Group2Each*uint64(p.Sizing.Group2)
	return fixedpoint.Add64(total, p.Group3Each*uint64(p.Sizing.Group3))
}
