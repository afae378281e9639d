package streamswap

import (
	"testing"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/weavetest/assert"
)

func TestNextDistribution(t *testing.T) {
	one := &weave.Fraction{Numerator: 1, Denominator: 1}

	cases := map[string]struct {
		market      Market
		costPerCall int64
		rate        *weave.Fraction
		want        weave.UnixTime
	}{
		"a call is due once the accrued value covers the cost": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 10000,
			rate:        one,
			want:        510,
		},
		"waiting time is rounded up": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 10001,
			rate:        one,
			want:        511,
		},
		"the exchange rate converts input into output value": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 10000,
			rate:        &weave.Fraction{Numerator: 1, Denominator: 2},
			want:        520,
		},
		"a free call is due immediately": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 0,
			rate:        one,
			want:        500,
		},
		"a market in recovery is never settled": {
			market: Market{
				State:              MarketRecovery,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 10000,
			rate:        one,
			want:        neverDistribute,
		},
		"a market without streams never accrues": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          0,
				LastDistributionAt: 500,
			},
			costPerCall: 10000,
			rate:        one,
			want:        neverDistribute,
		},
		"a missing exchange rate cannot be priced": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 10000,
			rate:        nil,
			want:        neverDistribute,
		},
		"a zero exchange rate cannot be priced": {
			market: Market{
				State:              MarketRunning,
				TotalRate:          1000,
				LastDistributionAt: 500,
			},
			costPerCall: 10000,
			rate:        &weave.Fraction{Numerator: 0, Denominator: 1},
			want:        neverDistribute,
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			got := nextDistribution(&tc.market, tc.costPerCall, tc.rate)
			assert.Equal(t, tc.want, got)
		})
	}
}
