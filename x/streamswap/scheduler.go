package streamswap

import (
	"encoding/binary"
	"math"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/orm"
)

var _ weave.QueryHandler = (*NextDistributionQuery)(nil)

// NextDistributionQuery computes the earliest point in time at which
// triggering a settlement earns the caller at least the provided cost of
// the call. Automation tooling polls this instead of settling blindly.
type NextDistributionQuery struct {
	markets orm.ModelBucket
}

func NewNextDistributionQuery() *NextDistributionQuery {
	return &NextDistributionQuery{markets: NewMarketBucket()}
}

// neverDistribute marks a market that never accrues enough value to cover
// the cost of a settlement call.
const neverDistribute = weave.UnixTime(math.MaxInt64)

func (q *NextDistributionQuery) Query(db weave.ReadOnlyKVStore, mod string, data []byte) ([]weave.Model, error) {
	var req SchedulerQuery
	if err := req.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "unmarshal query")
	}
	var market Market
	if err := q.markets.One(db, req.MarketID, &market); err != nil {
		return nil, errors.Wrap(err, "get market")
	}
	next := nextDistribution(&market, req.CostPerCall, req.ExchangeRate)
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(next))
	return []weave.Model{weave.Pair([]byte(""), raw)}, nil
}

// nextDistribution returns when the output value accrued since the last
// settlement first covers the cost of a call. The exchange rate converts
// input fractional units into output fractional units.
func nextDistribution(m *Market, costPerCall int64, rate *weave.Fraction) weave.UnixTime {
	if m.State != MarketRunning {
		return neverDistribute
	}
	if m.TotalRate <= 0 || rate == nil || rate.Numerator == 0 || rate.Denominator == 0 {
		return neverDistribute
	}
	if costPerCall <= 0 {
		return m.LastDistributionAt
	}
	perSecond := mulDiv(m.TotalRate, int64(rate.Numerator), int64(rate.Denominator))
	if perSecond <= 0 {
		return neverDistribute
	}
	wait := (costPerCall + perSecond - 1) / perSecond
	return m.LastDistributionAt + weave.UnixTime(wait)
}

func (q *NextDistributionQuery) RegisterQuery(qr weave.QueryRouter) {
	qr.Register("/nextdistribution", q)
}
