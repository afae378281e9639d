package streamswap

import (
	"encoding/binary"

	"github.com/iov-one/streamswap/x/affiliate"
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/coin"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
	"github.com/iov-one/weave/migration"
	"github.com/iov-one/weave/orm"
	"github.com/iov-one/weave/x"
	"github.com/iov-one/weave/x/cash"
)

const (
	newMarketCost  = 0
	flowCost       = 0
	distributeCost = 0
	claimCost      = 0
	adminCost      = 0
	recoveryCost   = 0
)

// RegisterRoutes will instantiate and register all handlers in this package.
func RegisterRoutes(r weave.Registry, auth x.Authenticator, ctrl cash.Controller, minter cash.CoinMinter, affiliates *affiliate.Controller, venue Venue, oracle Oracle) {
	r = migration.SchemaMigratingRegistry("streamswap", r)

	e := &engine{
		markets:    NewMarketBucket(),
		streams:    NewStreamBucket(),
		positions:  NewPositionBucket(),
		epochs:     NewEpochBucket(),
		cashctrl:   ctrl,
		minter:     minter,
		affiliates: affiliates,
		venue:      venue,
		oracle:     oracle,
	}

	r.Handle(&CreateMarketMsg{}, &createMarketHandler{auth: auth, engine: e})
	r.Handle(&CreateFlowMsg{}, &createFlowHandler{auth: auth, engine: e})
	r.Handle(&UpdateFlowMsg{}, &updateFlowHandler{auth: auth, engine: e})
	r.Handle(&TerminateFlowMsg{}, &terminateFlowHandler{auth: auth, engine: e})
	r.Handle(&DistributeMsg{}, &distributeHandler{auth: auth, engine: e})
	r.Handle(&ClaimMsg{}, &claimHandler{auth: auth, engine: e})
	r.Handle(&SetFeeMsg{}, &setFeeHandler{auth: auth, engine: e})
	r.Handle(&SetToleranceMsg{}, &setToleranceHandler{auth: auth, engine: e})
	r.Handle(&SetEmissionMsg{}, &setEmissionHandler{auth: auth, engine: e})
	r.Handle(&EnterRecoveryMsg{}, &enterRecoveryHandler{auth: auth, engine: e})
	r.Handle(&EmergencyCloseStreamMsg{}, &emergencyCloseStreamHandler{auth: auth, engine: e})
	r.Handle(&DrainMsg{}, &drainHandler{auth: auth, engine: e})
	r.Handle(&CloseStreamMsg{}, &closeStreamHandler{auth: auth, engine: e})
	r.Handle(&UpdateConfigurationMsg{},
		gconf.NewUpdateConfigurationHandler("streamswap", &Configuration{}, auth, migration.CurrentAdmin))
}

// marketsByInput returns all markets fed by given input ticker.
func (e *engine) marketsByInput(db weave.KVStore, ticker string) ([][]byte, []*Market, error) {
	var markets []*Market
	keys, err := e.markets.ByIndex(db, "input", []byte(ticker), &markets)
	if err != nil {
		return nil, nil, errors.Wrap(err, "market lookup")
	}
	if len(markets) == 0 {
		return nil, nil, errors.Wrapf(errors.ErrNotFound, "no market for ticker %q", ticker)
	}
	return keys, markets, nil
}

// streamRate returns the current payment rate of an account in a market. A
// missing stream is a zero rate.
func (e *engine) streamRate(db weave.KVStore, marketID []byte, account weave.Address) (int64, error) {
	var stream Stream
	switch err := e.streams.One(db, streamKey(marketID, account), &stream); {
	case err == nil:
		return stream.Rate, nil
	case errors.ErrNotFound.Is(err):
		return 0, nil
	default:
		return 0, errors.Wrap(err, "get stream")
	}
}

type createMarketHandler struct {
	auth x.Authenticator
	*engine
}

func (h *createMarketHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: newMarketCost}, nil
}

func (h *createMarketHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	key, err := marketSeq.NextVal(db)
	if err != nil {
		return nil, errors.Wrap(err, "cannot acquire key")
	}
	market := Market{
		Metadata:           &weave.Metadata{Schema: 1},
		Admin:              msg.Admin,
		Input:              msg.Input,
		Output:             msg.Output,
		Subsidy:            msg.Subsidy,
		ShareScaler:        msg.ShareScaler,
		MinRate:            msg.MinRate,
		FeeBps:             msg.FeeBps,
		ToleranceBps:       msg.ToleranceBps,
		EmissionRate:       msg.EmissionRate,
		State:              MarketRunning,
		Address:            marketAccount(key),
		LastDistributionAt: weave.AsUnixTime(now),
	}
	if _, err := h.markets.Put(db, key, &market); err != nil {
		return nil, errors.Wrap(err, "store market")
	}
	return &weave.DeliverResult{Data: key}, nil
}

func (h *createMarketHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*CreateMarketMsg, error) {
	var msg CreateMarketMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	conf, err := loadConf(db)
	if err != nil {
		return nil, err
	}
	if !h.auth.HasAddress(ctx, conf.Owner) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "configuration owner signature missing")
	}
	return &msg, nil
}

type createFlowHandler struct {
	auth x.Authenticator
	*engine
}

func (h *createFlowHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: flowCost}, nil
}

func (h *createFlowHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	// The classification is permanent, the referral handle is only
	// honored for a customer that was never seen before.
	if err := h.affiliates.Classify(db, msg.Account, msg.RefTag); err != nil {
		return nil, errors.Wrap(err, "classify customer")
	}
	keys, markets, err := h.marketsByInput(db, msg.Ticker)
	if err != nil {
		return nil, err
	}
	var touched int
	for i, market := range markets {
		if market.State != MarketRunning {
			continue
		}
		rate, err := h.streamRate(db, keys[i], msg.Account)
		if err != nil {
			return nil, err
		}
		if rate > 0 {
			return nil, errors.Wrap(errors.ErrDuplicate, "stream exists")
		}
		if err := h.applyFlow(db, weave.AsUnixTime(now), market, keys[i], msg.Account, msg.Rate); err != nil {
			return nil, err
		}
		touched++
	}
	if touched == 0 {
		return nil, errors.Wrap(errors.ErrState, "no running market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *createFlowHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*CreateFlowMsg, error) {
	var msg CreateFlowMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if err := h.affiliates.Authorized(ctx, h.auth, db); err != nil {
		return nil, err
	}
	return &msg, nil
}

type updateFlowHandler struct {
	auth x.Authenticator
	*engine
}

func (h *updateFlowHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: flowCost}, nil
}

func (h *updateFlowHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	keys, markets, err := h.marketsByInput(db, msg.Ticker)
	if err != nil {
		return nil, err
	}
	var touched int
	for i, market := range markets {
		if market.State != MarketRunning {
			continue
		}
		rate, err := h.streamRate(db, keys[i], msg.Account)
		if err != nil {
			return nil, err
		}
		if rate == 0 {
			return nil, errors.Wrap(errors.ErrNotFound, "no stream")
		}
		if err := h.applyFlow(db, weave.AsUnixTime(now), market, keys[i], msg.Account, msg.Rate); err != nil {
			return nil, err
		}
		touched++
	}
	if touched == 0 {
		return nil, errors.Wrap(errors.ErrState, "no running market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *updateFlowHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*UpdateFlowMsg, error) {
	var msg UpdateFlowMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if err := h.affiliates.Authorized(ctx, h.auth, db); err != nil {
		return nil, err
	}
	return &msg, nil
}

type terminateFlowHandler struct {
	auth x.Authenticator
	*engine
}

func (h *terminateFlowHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: flowCost}, nil
}

func (h *terminateFlowHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	keys, markets, err := h.marketsByInput(db, msg.Ticker)
	if err != nil {
		return nil, err
	}
	var touched int
	for i, market := range markets {
		if market.State != MarketRunning {
			continue
		}
		rate, err := h.streamRate(db, keys[i], msg.Account)
		if err != nil {
			return nil, err
		}
		if rate == 0 {
			return nil, errors.Wrap(errors.ErrNotFound, "no stream")
		}
		if err := h.applyFlow(db, weave.AsUnixTime(now), market, keys[i], msg.Account, 0); err != nil {
			return nil, err
		}
		touched++
	}
	if touched == 0 {
		return nil, errors.Wrap(errors.ErrState, "no running market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *terminateFlowHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*TerminateFlowMsg, error) {
	var msg TerminateFlowMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if err := h.affiliates.Authorized(ctx, h.auth, db); err != nil {
		return nil, err
	}
	return &msg, nil
}

type distributeHandler struct {
	auth x.Authenticator
	*engine
}

func (h *distributeHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: distributeCost}, nil
}

func (h *distributeHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	var caller weave.Address
	if c := x.AnySigner(ctx, h.auth); c != nil {
		caller = c.Address()
	}
	credited, err := h.distribute(db, weave.AsUnixTime(now), market, msg.MarketID, msg.Route, caller)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(credited))
	return &weave.DeliverResult{Data: data}, nil
}

func (h *distributeHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*DistributeMsg, *Market, error) {
	var msg DistributeMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	var market Market
	if err := h.markets.One(db, msg.MarketID, &market); err != nil {
		return nil, nil, errors.Wrap(err, "get market")
	}
	if market.State != MarketRunning {
		return nil, nil, errors.Wrap(errors.ErrState, "market is not running")
	}
	return &msg, &market, nil
}

type claimHandler struct {
	auth x.Authenticator
	*engine
}

func (h *claimHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: claimCost}, nil
}

func (h *claimHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	signer := x.AnySigner(ctx, h.auth).Address()
	if err := h.settle(db, market, msg.MarketID, signer); err != nil {
		return nil, err
	}
	return &weave.DeliverResult{}, nil
}

func (h *claimHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*ClaimMsg, *Market, error) {
	var msg ClaimMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	if x.AnySigner(ctx, h.auth) == nil {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "signature required")
	}
	var market Market
	if err := h.markets.One(db, msg.MarketID, &market); err != nil {
		return nil, nil, errors.Wrap(err, "get market")
	}
	if market.State != MarketRunning {
		return nil, nil, errors.Wrap(errors.ErrState, "market is not running")
	}
	return &msg, &market, nil
}

type setFeeHandler struct {
	auth x.Authenticator
	*engine
}

func (h *setFeeHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: adminCost}, nil
}

func (h *setFeeHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	// Fee applies to future unit allocations only. Open streams keep the
	// fee cut they were created with until the next rate change.
	market.FeeBps = msg.FeeBps
	if _, err := h.markets.Put(db, msg.MarketID, market); err != nil {
		return nil, errors.Wrap(err, "store market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *setFeeHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*SetFeeMsg, *Market, error) {
	var msg SetFeeMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	market, err := authMarketAdmin(ctx, h.auth, db, h.markets, msg.MarketID)
	if err != nil {
		return nil, nil, err
	}
	return &msg, market, nil
}

type setToleranceHandler struct {
	auth x.Authenticator
	*engine
}

func (h *setToleranceHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: adminCost}, nil
}

func (h *setToleranceHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	market.ToleranceBps = msg.ToleranceBps
	if _, err := h.markets.Put(db, msg.MarketID, market); err != nil {
		return nil, errors.Wrap(err, "store market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *setToleranceHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*SetToleranceMsg, *Market, error) {
	var msg SetToleranceMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	market, err := authMarketAdmin(ctx, h.auth, db, h.markets, msg.MarketID)
	if err != nil {
		return nil, nil, err
	}
	return &msg, market, nil
}

type setEmissionHandler struct {
	auth x.Authenticator
	*engine
}

func (h *setEmissionHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: adminCost}, nil
}

func (h *setEmissionHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	market.EmissionRate = msg.EmissionRate
	if _, err := h.markets.Put(db, msg.MarketID, market); err != nil {
		return nil, errors.Wrap(err, "store market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *setEmissionHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*SetEmissionMsg, *Market, error) {
	var msg SetEmissionMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	market, err := authMarketAdmin(ctx, h.auth, db, h.markets, msg.MarketID)
	if err != nil {
		return nil, nil, err
	}
	return &msg, market, nil
}

// authMarketAdmin loads a market and ensures the market admin signed.
func authMarketAdmin(ctx weave.Context, auth x.Authenticator, db weave.KVStore, markets orm.ModelBucket, marketID []byte) (*Market, error) {
	var market Market
	if err := markets.One(db, marketID, &market); err != nil {
		return nil, errors.Wrap(err, "get market")
	}
	if !auth.HasAddress(ctx, market.Admin) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "admin signature missing")
	}
	return &market, nil
}

type enterRecoveryHandler struct {
	auth x.Authenticator
	*engine
}

func (h *enterRecoveryHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: recoveryCost}, nil
}

func (h *enterRecoveryHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	market.State = MarketRecovery
	if _, err := h.markets.Put(db, msg.MarketID, market); err != nil {
		return nil, errors.Wrap(err, "store market")
	}
	return &weave.DeliverResult{}, nil
}

func (h *enterRecoveryHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*EnterRecoveryMsg, *Market, error) {
	var msg EnterRecoveryMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	conf, err := loadConf(db)
	if err != nil {
		return nil, nil, err
	}
	if !h.auth.HasAddress(ctx, conf.Owner) {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "configuration owner signature missing")
	}
	var market Market
	if err := h.markets.One(db, msg.MarketID, &market); err != nil {
		return nil, nil, errors.Wrap(err, "get market")
	}
	if market.State != MarketRunning {
		return nil, nil, errors.Wrap(errors.ErrState, "market is not running")
	}
	return &msg, &market, nil
}

type emergencyCloseStreamHandler struct {
	auth x.Authenticator
	*engine
}

func (h *emergencyCloseStreamHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: recoveryCost}, nil
}

func (h *emergencyCloseStreamHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	if err := h.abandon(db, weave.AsUnixTime(now), market, msg.MarketID, msg.Account); err != nil {
		return nil, err
	}
	return &weave.DeliverResult{}, nil
}

func (h *emergencyCloseStreamHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*EmergencyCloseStreamMsg, *Market, error) {
	var msg EmergencyCloseStreamMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	var market Market
	if err := h.markets.One(db, msg.MarketID, &market); err != nil {
		return nil, nil, errors.Wrap(err, "get market")
	}
	if market.State != MarketRecovery {
		return nil, nil, errors.Wrap(errors.ErrState, "market is not in recovery")
	}
	if !h.auth.HasAddress(ctx, market.Admin) {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "admin signature missing")
	}
	return &msg, &market, nil
}

type drainHandler struct {
	auth x.Authenticator
	*engine
}

func (h *drainHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: recoveryCost}, nil
}

func (h *drainHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	conf, err := loadConf(db)
	if err != nil {
		return nil, err
	}
	balance, err := h.cashctrl.Balance(db, market.Address)
	if err != nil {
		return nil, errors.Wrap(err, "pool balance")
	}
	for _, c := range balance {
		if c.Ticker != msg.Ticker || c.IsZero() {
			continue
		}
		if err := cash.MoveCoins(db, h.cashctrl, market.Address, conf.Owner, []*coin.Coin{c}); err != nil {
			return nil, errors.Wrap(err, "drain pool")
		}
	}
	return &weave.DeliverResult{}, nil
}

func (h *drainHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*DrainMsg, *Market, error) {
	var msg DrainMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	conf, err := loadConf(db)
	if err != nil {
		return nil, nil, err
	}
	if !h.auth.HasAddress(ctx, conf.Owner) {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "configuration owner signature missing")
	}
	var market Market
	if err := h.markets.One(db, msg.MarketID, &market); err != nil {
		return nil, nil, errors.Wrap(err, "get market")
	}
	if market.State != MarketRecovery {
		return nil, nil, errors.Wrap(errors.ErrState, "market is not in recovery")
	}
	if market.StreamCount != 0 {
		return nil, nil, errors.Wrapf(ErrStreamers, "%d open streams", market.StreamCount)
	}
	return &msg, &market, nil
}

type closeStreamHandler struct {
	auth x.Authenticator
	*engine
}

func (h *closeStreamHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: flowCost}, nil
}

func (h *closeStreamHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, market, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	now, err := weave.BlockTime(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "block time")
	}
	if err := h.applyFlow(db, weave.AsUnixTime(now), market, msg.MarketID, msg.Account, 0); err != nil {
		return nil, err
	}
	return &weave.DeliverResult{}, nil
}

func (h *closeStreamHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*CloseStreamMsg, *Market, error) {
	var msg CloseStreamMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	var market Market
	if err := h.markets.One(db, msg.MarketID, &market); err != nil {
		return nil, nil, errors.Wrap(err, "get market")
	}
	if market.State != MarketRunning {
		return nil, nil, errors.Wrap(errors.ErrState, "market is not running")
	}
	rate, err := h.streamRate(db, msg.MarketID, msg.Account)
	if err != nil {
		return nil, nil, err
	}
	if rate == 0 {
		return nil, nil, errors.Wrap(errors.ErrNotFound, "no stream")
	}
	conf, err := loadConf(db)
	if err != nil {
		return nil, nil, err
	}
	// Anyone can close an underfunded stream. As long as the payer keeps
	// enough input asset runway in the wallet, the stream is protected.
	runway := rate * int64(conf.MinBufferSeconds)
	var funds int64
	switch balance, err := h.cashctrl.Balance(db, msg.Account); {
	case err == nil:
		for _, c := range balance {
			if c.Ticker == market.Input {
				funds = asUnits(*c)
			}
		}
	case errors.ErrNotFound.Is(err):
		// No wallet, no runway.
	default:
		return nil, nil, errors.Wrap(err, "payer balance")
	}
	if funds >= runway {
		return nil, nil, errors.Wrapf(ErrSolvent, "payer holds %d of %d required", funds, runway)
	}
	return &msg, &market, nil
}
