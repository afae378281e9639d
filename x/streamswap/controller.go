package streamswap

import (
	"math/big"

	"github.com/iov-one/streamswap/x/affiliate"
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/coin"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/orm"
	"github.com/iov-one/weave/x/cash"
)

// engine implements the settlement state transitions. All handlers of this
// package share a single instance.
type engine struct {
	markets    orm.ModelBucket
	streams    orm.ModelBucket
	positions  orm.ModelBucket
	epochs     orm.ModelBucket
	cashctrl   cash.Controller
	minter     cash.CoinMinter
	affiliates *affiliate.Controller
	venue      Venue
	oracle     Oracle
}

// asCoin converts an amount of fractional units into a coin.
func asCoin(ticker string, units int64) coin.Coin {
	return coin.Coin{
		Ticker:     ticker,
		Whole:      units / coin.FracUnit,
		Fractional: units % coin.FracUnit,
	}
}

// asUnits converts a coin into an amount of fractional units.
func asUnits(c coin.Coin) int64 {
	return c.Whole*coin.FracUnit + c.Fractional
}

// mulDiv returns a*b/c, computed without intermediate overflow.
func mulDiv(a, b, c int64) int64 {
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(r, big.NewInt(c))
	return r.Int64()
}

// settle realizes all output and subsidy accrued by one account and syncs
// its position with the current market indexes. An account without a
// position is ignored.
func (e *engine) settle(db weave.KVStore, market *Market, marketID []byte, acct weave.Address) error {
	key := streamKey(marketID, acct)
	var pos Position
	switch err := e.positions.One(db, key, &pos); {
	case err == nil:
		// All good.
	case errors.ErrNotFound.Is(err):
		return nil
	default:
		return errors.Wrap(err, "get position")
	}
	if owed := int64(market.CumulativeIndex-pos.SettledIndex) * pos.Units; owed > 0 {
		c := asCoin(market.Output, owed)
		if err := cash.MoveCoins(db, e.cashctrl, market.Address, acct, []*coin.Coin{&c}); err != nil {
			return errors.Wrap(err, "pay out output")
		}
	}
	if market.Subsidy != "" {
		if owed := int64(market.SubsidyIndex-pos.SettledSubsidyIndex) * pos.Units; owed > 0 {
			c := asCoin(market.Subsidy, owed)
			if err := cash.MoveCoins(db, e.cashctrl, market.Address, acct, []*coin.Coin{&c}); err != nil {
				return errors.Wrap(err, "pay out subsidy")
			}
		}
	}
	pos.SettledIndex = market.CumulativeIndex
	pos.SettledSubsidyIndex = market.SubsidyIndex
	if _, err := e.positions.Put(db, key, &pos); err != nil {
		return errors.Wrap(err, "store position")
	}
	return nil
}

// adjustUnits settles an account and changes its distribution units by
// delta, keeping the market total in sync. A position dropping to zero
// units is removed.
func (e *engine) adjustUnits(db weave.KVStore, market *Market, marketID []byte, acct weave.Address, delta int64) error {
	if err := e.settle(db, market, marketID, acct); err != nil {
		return err
	}
	if delta == 0 {
		return nil
	}
	key := streamKey(marketID, acct)
	var pos Position
	switch err := e.positions.One(db, key, &pos); {
	case err == nil:
		// All good.
	case errors.ErrNotFound.Is(err):
		pos = Position{
			Metadata:            &weave.Metadata{Schema: 1},
			SettledIndex:        market.CumulativeIndex,
			SettledSubsidyIndex: market.SubsidyIndex,
		}
	default:
		return errors.Wrap(err, "get position")
	}
	pos.Units += delta
	if pos.Units < 0 {
		return errors.Wrap(errors.ErrState, "units cannot drop below zero")
	}
	market.TotalUnits += delta
	if pos.Units == 0 {
		if err := e.positions.Delete(db, key); err != nil {
			return errors.Wrap(err, "delete position")
		}
		return nil
	}
	if _, err := e.positions.Put(db, key, &pos); err != nil {
		return errors.Wrap(err, "store position")
	}
	return nil
}

// allocation is how the distribution units of one stream are divided
// between the payer, the protocol owner and the affiliate.
type allocation struct {
	payer          int64
	owner          int64
	affiliate      int64
	affiliateOwner weave.Address
}

// allocate computes the unit allocation for a payment rate. The rate must
// convert into a whole, positive number of units.
func (e *engine) allocate(db weave.KVStore, market *Market, payer weave.Address, rate int64) (*allocation, error) {
	if rate == 0 {
		return &allocation{}, nil
	}
	if rate < market.MinRate {
		return nil, errors.Wrapf(ErrMinRate, "minimum rate is %d", market.MinRate)
	}
	if rate%market.ShareScaler != 0 {
		return nil, errors.Wrapf(ErrNotScalable, "rate must be a multiple of %d", market.ShareScaler)
	}
	units := rate / market.ShareScaler
	feeUnits := units * int64(market.FeeBps) / 10000
	affOwner, splitBps, err := e.affiliates.FeeSplit(db, payer)
	if err != nil {
		return nil, errors.Wrap(err, "fee split")
	}
	var affUnits int64
	if affOwner != nil {
		affUnits = feeUnits * int64(splitBps) / 10000
	}
	return &allocation{
		payer:          units - feeUnits,
		owner:          feeUnits - affUnits,
		affiliate:      affUnits,
		affiliateOwner: affOwner,
	}, nil
}

// applyFlow moves a stream to a new payment rate. The open trade epoch is
// closed, every account whose units change is settled first, the
// distribution units are reassigned and the next epoch is opened. A zero
// rate terminates the stream but keeps its epoch history.
func (e *engine) applyFlow(db weave.KVStore, now weave.UnixTime, market *Market, marketID []byte, payer weave.Address, rate int64) error {
	conf, err := loadConf(db)
	if err != nil {
		return err
	}
	skey := streamKey(marketID, payer)
	var stream Stream
	switch err := e.streams.One(db, skey, &stream); {
	case err == nil:
		// All good.
	case errors.ErrNotFound.Is(err):
		stream = Stream{Metadata: &weave.Metadata{Schema: 1}}
	default:
		return errors.Wrap(err, "get stream")
	}

	if stream.EpochCount > 0 {
		ekey := epochKey(marketID, payer, stream.EpochCount)
		var epoch TradeEpoch
		if err := e.epochs.One(db, ekey, &epoch); err != nil {
			return errors.Wrap(err, "get epoch")
		}
		if !epoch.Closed {
			epoch.EndTime = now
			epoch.EndIndex = market.CumulativeIndex
			epoch.EndSubsidyIndex = market.SubsidyIndex
			epoch.Closed = true
			if _, err := e.epochs.Put(db, ekey, &epoch); err != nil {
				return errors.Wrap(err, "store epoch")
			}
		}
	}

	next, err := e.allocate(db, market, payer, rate)
	if err != nil {
		return err
	}

	if err := e.adjustUnits(db, market, marketID, payer, next.payer-stream.Units); err != nil {
		return errors.Wrap(err, "payer units")
	}
	if err := e.adjustUnits(db, market, marketID, conf.Owner, next.owner-stream.OwnerUnits); err != nil {
		return errors.Wrap(err, "owner units")
	}
	if stream.AffiliateOwner.Equals(next.affiliateOwner) {
		if next.affiliateOwner != nil {
			if err := e.adjustUnits(db, market, marketID, next.affiliateOwner, next.affiliate-stream.AffiliateUnits); err != nil {
				return errors.Wrap(err, "affiliate units")
			}
		}
	} else {
		if stream.AffiliateOwner != nil {
			if err := e.adjustUnits(db, market, marketID, stream.AffiliateOwner, -stream.AffiliateUnits); err != nil {
				return errors.Wrap(err, "previous affiliate units")
			}
		}
		if next.affiliateOwner != nil {
			if err := e.adjustUnits(db, market, marketID, next.affiliateOwner, next.affiliate); err != nil {
				return errors.Wrap(err, "affiliate units")
			}
		}
	}

	market.TotalRate += rate - stream.Rate
	switch {
	case stream.Rate == 0 && rate > 0:
		market.StreamCount++
	case stream.Rate > 0 && rate == 0:
		market.StreamCount--
	}

	stream.Rate = rate
	stream.Units = next.payer
	stream.OwnerUnits = next.owner
	stream.AffiliateUnits = next.affiliate
	stream.AffiliateOwner = next.affiliateOwner

	if rate > 0 {
		stream.EpochCount++
		epoch := TradeEpoch{
			Metadata:          &weave.Metadata{Schema: 1},
			StartTime:         now,
			Rate:              rate,
			Units:             next.payer,
			StartIndex:        market.CumulativeIndex,
			StartSubsidyIndex: market.SubsidyIndex,
		}
		if _, err := e.epochs.Put(db, epochKey(marketID, payer, stream.EpochCount), &epoch); err != nil {
			return errors.Wrap(err, "store epoch")
		}
	}
	if _, err := e.streams.Put(db, skey, &stream); err != nil {
		return errors.Wrap(err, "store stream")
	}
	if _, err := e.markets.Put(db, marketID, market); err != nil {
		return errors.Wrap(err, "store market")
	}
	return nil
}

// distribute settles a market: swap what accrued on the pool account,
// reward the caller, advance the cumulative index and mint the subsidy.
// Returns the amount of output fractional units credited to the index.
func (e *engine) distribute(db weave.KVStore, now weave.UnixTime, market *Market, marketID []byte, route []byte, caller weave.Address) (int64, error) {
	conf, err := loadConf(db)
	if err != nil {
		return 0, err
	}

	var inUnits int64
	switch balance, err := e.cashctrl.Balance(db, market.Address); {
	case err == nil:
		for _, c := range balance {
			if c.Ticker == market.Input {
				inUnits = asUnits(*c)
			}
		}
	case errors.ErrNotFound.Is(err):
		// An empty pool is settled without a swap.
	default:
		return 0, errors.Wrap(err, "pool balance")
	}

	var acquired int64
	if inUnits > 0 {
		price, err := e.oracle.Price(db, market.Input, market.Output)
		if err != nil {
			return 0, errors.Wrap(err, "oracle price")
		}
		if price.Numerator == 0 || price.Denominator == 0 {
			return 0, errors.Wrap(errors.ErrState, "no reference price")
		}
		expected := mulDiv(inUnits, int64(price.Numerator), int64(price.Denominator))
		minOut := mulDiv(expected, 10000-int64(market.ToleranceBps), 10000)
		maxOut := mulDiv(expected, 10000+int64(market.ToleranceBps), 10000)
		offer := asCoin(market.Input, inUnits)
		floor := asCoin(market.Output, minOut)
		got, err := e.venue.Swap(db, market.Address, offer, floor, route)
		if err != nil {
			return 0, errors.Wrap(err, "swap")
		}
		if got.Ticker != market.Output {
			return 0, errors.Wrap(errors.ErrCurrency, "venue returned a wrong asset")
		}
		acquired = asUnits(got)
		if acquired < minOut || acquired > maxOut {
			return 0, errors.Wrapf(ErrRateTolerance, "fill %d outside of [%d, %d]", acquired, minOut, maxOut)
		}

		callerFee := mulDiv(acquired, int64(conf.CallerFeeBps), 10000)
		if conf.CallerFeeCap > 0 && callerFee > conf.CallerFeeCap {
			callerFee = conf.CallerFeeCap
		}
		if callerFee > 0 && caller != nil {
			c := asCoin(market.Output, callerFee)
			if err := cash.MoveCoins(db, e.cashctrl, market.Address, caller, []*coin.Coin{&c}); err != nil {
				return 0, errors.Wrap(err, "caller reward")
			}
			acquired -= callerFee
		}
	}

	var credited int64
	pool := acquired + market.Residue
	if market.TotalUnits > 0 {
		perUnit := pool / market.TotalUnits
		market.CumulativeIndex += uint64(perUnit)
		market.Residue = pool % market.TotalUnits
		credited = perUnit * market.TotalUnits
	} else {
		market.Residue = pool
	}

	if market.Subsidy != "" && market.EmissionRate > 0 && market.LastDistributionAt > 0 {
		if elapsed := int64(now - market.LastDistributionAt); elapsed > 0 {
			minted := market.EmissionRate * elapsed
			if err := e.minter.CoinMint(db, market.Address, asCoin(market.Subsidy, minted)); err != nil {
				return 0, errors.Wrap(err, "mint subsidy")
			}
			spool := minted + market.SubsidyResidue
			if market.TotalUnits > 0 {
				market.SubsidyIndex += uint64(spool / market.TotalUnits)
				market.SubsidyResidue = spool % market.TotalUnits
			} else {
				market.SubsidyResidue = spool
			}
		}
	}

	market.LastDistributionAt = now
	if _, err := e.markets.Put(db, marketID, market); err != nil {
		return 0, errors.Wrap(err, "store market")
	}
	return credited, nil
}

// abandon force removes a stream without settling anyone. It is available
// only during recovery, when the pool cannot be trusted to cover what the
// indexes promise.
func (e *engine) abandon(db weave.KVStore, now weave.UnixTime, market *Market, marketID []byte, payer weave.Address) error {
	skey := streamKey(marketID, payer)
	var stream Stream
	if err := e.streams.One(db, skey, &stream); err != nil {
		return errors.Wrap(err, "get stream")
	}

	if stream.EpochCount > 0 {
		ekey := epochKey(marketID, payer, stream.EpochCount)
		var epoch TradeEpoch
		if err := e.epochs.One(db, ekey, &epoch); err != nil {
			return errors.Wrap(err, "get epoch")
		}
		if !epoch.Closed {
			epoch.EndTime = now
			epoch.EndIndex = market.CumulativeIndex
			epoch.EndSubsidyIndex = market.SubsidyIndex
			epoch.Closed = true
			if _, err := e.epochs.Put(db, ekey, &epoch); err != nil {
				return errors.Wrap(err, "store epoch")
			}
		}
	}

	drop := func(acct weave.Address, units int64) error {
		if units == 0 {
			return nil
		}
		key := streamKey(marketID, acct)
		var pos Position
		switch err := e.positions.One(db, key, &pos); {
		case err == nil:
			// All good.
		case errors.ErrNotFound.Is(err):
			return nil
		default:
			return errors.Wrap(err, "get position")
		}
		pos.Units -= units
		market.TotalUnits -= units
		if pos.Units <= 0 {
			market.TotalUnits -= pos.Units
			pos.Units = 0
			return e.positions.Delete(db, key)
		}
		_, err := e.positions.Put(db, key, &pos)
		return err
	}
	conf, err := loadConf(db)
	if err != nil {
		return err
	}
	if err := drop(payer, stream.Units); err != nil {
		return errors.Wrap(err, "payer units")
	}
	if err := drop(conf.Owner, stream.OwnerUnits); err != nil {
		return errors.Wrap(err, "owner units")
	}
	if stream.AffiliateOwner != nil {
		if err := drop(stream.AffiliateOwner, stream.AffiliateUnits); err != nil {
			return errors.Wrap(err, "affiliate units")
		}
	}

	market.TotalRate -= stream.Rate
	if stream.Rate > 0 {
		market.StreamCount--
	}
	stream.Rate = 0
	stream.Units = 0
	stream.OwnerUnits = 0
	stream.AffiliateUnits = 0
	if _, err := e.streams.Put(db, skey, &stream); err != nil {
		return errors.Wrap(err, "store stream")
	}
	if _, err := e.markets.Put(db, marketID, market); err != nil {
		return errors.Wrap(err, "store market")
	}
	return nil
}
