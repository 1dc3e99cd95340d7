package fees

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

func testSchedule() Schedule {
	return Schedule{
		Base: map[domain.Product]uint32{
			domain.ProductDCA:   100,
			domain.ProductVault: 200,
		},
		NonSubscriber: map[domain.Product]uint32{
			domain.ProductDCA:   50,
			domain.ProductVault: 50,
		},
		StrategistBP:    3_000,
		HotStrategistBP: 5_000,
		ReferrerBP:      2_500,
	}
}

func TestDiscountAndCharge(t *testing.T) {
	cases := []struct {
		amount   int64
		bp       uint32
		charge   int64
		discount int64
	}{
		{1_000, 0, 0, 1_000},
		{1_000, 60, 6, 994},
		{999, 1, 0, 999},
		{10_000, 10_000, 10_000, 0},
		{0, 500, 0, 0},
	}
	for _, tc := range cases {
		amt := big.NewInt(tc.amount)
		assertAmount(t, tc.charge, Charge(amt, tc.bp))
		assertAmount(t, tc.discount, Discount(amt, tc.bp))
	}
}

func TestStrategyFeeSplitSubscribedHot(t *testing.T) {
	split := testSchedule().StrategyFeeSplit(big.NewInt(1_000), Inputs{
		InvestorSubscribed:   true,
		StrategistSubscribed: true,
		Hot:                  true,
		HasReferrer:          true,
		Weights: map[domain.Product]uint32{
			domain.ProductDCA:   5_000,
			domain.ProductVault: 5_000,
		},
	})

	// 1000 * (100*5000 + 200*5000) / 1e8 = 15 total, 7 strategist (50% floor).
	assertAmount(t, 7, split.Strategist)
	assertAmount(t, 2, split.Referrer)
	assertAmount(t, 6, split.Protocol)
	assertAmount(t, 15, split.Total())
}

func TestStrategyFeeSplitNonSubscriberSurcharge(t *testing.T) {
	split := testSchedule().StrategyFeeSplit(big.NewInt(1_000_000), Inputs{
		StrategistSubscribed: true,
		Weights: map[domain.Product]uint32{
			domain.ProductDCA:   5_000,
			domain.ProductVault: 5_000,
		},
	})

	// Strategist share comes from the base fee only: 15000 * 30%.
	assertAmount(t, 4_500, split.Strategist)
	assertAmount(t, 15_500, split.Protocol)
	assert.Zero(t, split.Referrer.Sign())
}

func TestStrategyFeeSplitUnsubscribedStrategistGetsNothing(t *testing.T) {
	split := testSchedule().StrategyFeeSplit(big.NewInt(1_000_000), Inputs{
		InvestorSubscribed: true,
		Hot:                true,
		Weights:            map[domain.Product]uint32{domain.ProductDCA: 10_000},
	})
	assert.Zero(t, split.Strategist.Sign())
	assertAmount(t, 10_000, split.Protocol)
}

func TestStrategyFeeSplitScalesOnce(t *testing.T) {
	s := Schedule{Base: map[domain.Product]uint32{
		domain.ProductDCA:       1,
		domain.ProductVault:     1,
		domain.ProductLiquidity: 1,
		domain.ProductBuy:       1,
	}}
	weights := map[domain.Product]uint32{
		domain.ProductDCA:       2_500,
		domain.ProductVault:     2_500,
		domain.ProductLiquidity: 2_500,
		domain.ProductBuy:       2_500,
	}
	// Per-product scaling would floor each 2.5 to 2 and take 8.
	split := s.StrategyFeeSplit(big.NewInt(100_000), Inputs{InvestorSubscribed: true, Weights: weights})
	assertAmount(t, 10, split.Total())
}

func TestStrategyFeeSplitConservation(t *testing.T) {
	s := Schedule{
		Base:            map[domain.Product]uint32{domain.ProductDCA: 2_500, domain.ProductVault: 2_500, domain.ProductLiquidity: 1_234, domain.ProductBuy: 7},
		NonSubscriber:   map[domain.Product]uint32{domain.ProductDCA: 2_500, domain.ProductVault: 999, domain.ProductLiquidity: 1, domain.ProductBuy: 2_500},
		StrategistBP:    10_000,
		HotStrategistBP: 10_000,
		ReferrerBP:      10_000,
	}
	weights := []map[domain.Product]uint32{
		{domain.ProductDCA: 10_000},
		{domain.ProductVault: 3_333, domain.ProductBuy: 6_667},
		{domain.ProductDCA: 1, domain.ProductVault: 1, domain.ProductLiquidity: 1, domain.ProductBuy: 9_997},
	}
	amounts := []int64{1, 7, 999, 1_000_000_007}

	for _, w := range weights {
		for _, a := range amounts {
			for mask := 0; mask < 16; mask++ {
				in := Inputs{
					InvestorSubscribed:   mask&1 != 0,
					StrategistSubscribed: mask&2 != 0,
					Hot:                  mask&4 != 0,
					HasReferrer:          mask&8 != 0,
					Weights:              w,
				}
				split := s.StrategyFeeSplit(big.NewInt(a), in)
				require.True(t, split.Protocol.Sign() >= 0)
				require.True(t, split.Strategist.Sign() >= 0)
				require.True(t, split.Referrer.Sign() >= 0)
				require.True(t, split.Total().Cmp(big.NewInt(a)) <= 0, "fees exceed amount %d", a)
			}
		}
	}
}

func TestScheduleValidate(t *testing.T) {
	require.NoError(t, testSchedule().Validate(DefaultMaxFeeBP))

	s := testSchedule()
	s.Base[domain.ProductBuy] = 2_501
	assert.ErrorIs(t, s.Validate(DefaultMaxFeeBP), domain.ErrFeeTooHigh)

	s = testSchedule()
	s.ReferrerBP = 10_001
	assert.ErrorIs(t, s.Validate(DefaultMaxFeeBP), domain.ErrFeeTooHigh)

	s = testSchedule()
	s.NonSubscriber["bond"] = 1
	assert.ErrorIs(t, s.Validate(DefaultMaxFeeBP), domain.ErrInvalidProduct)
}

func assertAmount(t *testing.T, want int64, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, big.NewInt(want).String(), got.String())
}
