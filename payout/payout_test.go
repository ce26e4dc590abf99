package payout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkedExample(t *testing.T) {
	b, err := SplitPot(1_000_000)
	require.NoError(t, err)
	assert.Equal(t, Buckets{Revenue: 50_000, BuybackA: 50_000, BuybackB: 50_000, PrizePool: 850_000}, b)

	s, err := SizeGroups(10)
	require.NoError(t, err)
	assert.Equal(t, Sizing{Winners: 4, Group2: 1, Group3: 2}, s)

	p, err := NewPlan(b.PrizePool, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(425_000), p.Top1)
	assert.Equal(t, uint64(297_500), p.Group2Each)
	assert.Equal(t, uint64(63_750), p.Group3Each)
	assert.Equal(t, uint64(0), p.Remainder)

	want := []uint64{425_000, 297_500, 63_750, 63_750}
	for i, w := range want {
		got, err := p.RankAmount(uint32(i + 1))
		require.NoError(t, err)
		assert.Equal(t, w, got, "rank %d", i+1)
	}
}

func TestSplitPotConserves(t *testing.T) {
	for _, pot := range []uint64{1, 2, 19, 20, 21, 99, 101, 1_234_567, math.MaxUint64} {
		b, err := SplitPot(pot)
		require.NoError(t, err)
		assert.Equal(t, pot, b.Revenue+b.BuybackA+b.BuybackB+b.PrizePool, "pot %d", pot)
	}
}

func TestSizeGroupsBounds(t *testing.T) {
	for n := uint32(0); n <= 2000; n++ {
		s, err := SizeGroups(n)
		require.NoError(t, err)
		require.GreaterOrEqual(t, s.Winners, uint32(1))
		require.LessOrEqual(t, s.Group2, s.Winners-1)
		require.Equal(t, s.Winners-1-s.Group2, s.Group3)
	}

	s, err := SizeGroups(0)
	require.NoError(t, err)
	assert.Equal(t, Sizing{Winners: 1}, s)

	s, err = SizeGroups(math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(1417339208), s.Winners)
}

func TestPlanSumsToPrize(t *testing.T) {
	pots := []uint64{1, 7, 997, 1_000_003, 123_456_789_012}
	for _, prize := range pots {
		for n := uint32(1); n <= 300; n++ {
			s, err := SizeGroups(n)
			require.NoError(t, err)
			p, err := NewPlan(prize, s)
			require.NoError(t, err)

			var sum uint64
			for r := uint32(1); r <= s.Winners; r++ {
				amt, err := p.RankAmount(r)
				require.NoError(t, err)
				sum += amt
			}
			require.Equal(t, prize, sum, "prize %d tickets %d", prize, n)

			total, err := p.Total()
			require.NoError(t, err)
			require.Equal(t, prize, total)
		}
	}
}

func TestRankAmountInvalid(t *testing.T) {
	s, err := SizeGroups(3)
	require.NoError(t, err)
	p, err := NewPlan(100, s)
	require.NoError(t, err)

	_, err = p.RankAmount(0)
	require.ErrorIs(t, err, ErrInvalidRank)
	_, err = p.RankAmount(s.Winners + 1)
	require.ErrorIs(t, err, ErrInvalidRank)
}

func TestSingleWinnerTakesAll(t *testing.T) {
	s, err := SizeGroups(1)
	require.NoError(t, err)
	p, err := NewPlan(95, s)
	require.NoError(t, err)

	amt, err := p.RankAmount(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(95), amt)
	assert.Equal(t, uint64(47), p.Top1)
	assert.Equal(t, uint64(48), p.Remainder)
}
