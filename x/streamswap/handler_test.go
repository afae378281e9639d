package streamswap

import (
	"context"
	"testing"
	"time"

	"github.com/iov-one/streamswap/x/affiliate"
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/app"
	"github.com/iov-one/weave/coin"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
	"github.com/iov-one/weave/migration"
	"github.com/iov-one/weave/store"
	"github.com/iov-one/weave/weavetest"
	"github.com/iov-one/weave/weavetest/assert"
	"github.com/iov-one/weave/x/cash"
)

func TestHandlers(t *testing.T) {
	var (
		ownerCond  = weavetest.NewCondition()
		adminCond  = weavetest.NewCondition()
		appCond    = weavetest.NewCondition()
		carlCond   = weavetest.NewCondition()
		payerCond  = weavetest.NewCondition()
		keeperCond = weavetest.NewCondition()
	)

	// Rate streams 13000 distribution units: 1300000000000 / 100000000.
	// With a 200 bps fee and a 1000 bps affiliate split the allocation is
	// 12740 payer, 234 owner and 26 affiliate units.
	const (
		scaler = 100000000
		rate   = 1300000000000
	)

	createMarket := &CreateMarketMsg{
		Metadata:     &weave.Metadata{Schema: 1},
		Admin:        adminCond.Address(),
		Input:        "ETH",
		Output:       "DAI",
		ShareScaler:  scaler,
		MinRate:      scaler,
		FeeBps:       200,
		ToleranceBps: 500,
	}
	marketID := weavetest.SequenceID(1)

	referralSetup := []action{
		{
			conditions: []weave.Condition{ownerCond},
			blockTime:  100,
			msg:        createMarket,
		},
		{
			conditions: []weave.Condition{ownerCond},
			blockTime:  100,
			msg: &affiliate.RegisterAppMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Address:  appCond.Address(),
				Name:     "streamswap",
			},
		},
		{
			conditions: []weave.Condition{carlCond},
			blockTime:  100,
			msg: &affiliate.ApplyMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Handle:   "carl",
				Owner:    carlCond.Address(),
			},
		},
		{
			conditions: []weave.Condition{adminCond},
			blockTime:  100,
			msg: &affiliate.VerifyMsg{
				Metadata:    &weave.Metadata{Schema: 1},
				AffiliateID: weavetest.SequenceID(1),
			},
		},
		{
			conditions: []weave.Condition{appCond},
			blockTime:  100,
			msg: &CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Account:  payerCond.Address(),
				Ticker:   "ETH",
				Rate:     rate,
				RefTag:   "carl",
			},
		},
	}

	cases := map[string]struct {
		fillBps   int64
		conf      *Configuration
		actions   []action
		afterTest func(t *testing.T, db weave.KVStore)
	}{
		"only the configuration owner can create a market": {
			actions: []action{
				{
					conditions:     []weave.Condition{adminCond},
					blockTime:      100,
					msg:            createMarket,
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
				{
					conditions: []weave.Condition{ownerCond},
					blockTime:  100,
					msg:        createMarket,
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, MarketRunning, m.State)
				assert.Equal(t, marketAccount(marketID), m.Address)
				assert.Equal(t, weave.UnixTime(100), m.LastDistributionAt)
			},
		},
		"opening a stream allocates units with the fee cut": {
			actions: referralSetup,
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, int64(13000), m.TotalUnits)
				assert.Equal(t, int64(rate), m.TotalRate)
				assert.Equal(t, uint32(1), m.StreamCount)

				var s Stream
				assert.Nil(t, NewStreamBucket().One(db, streamKey(marketID, payerCond.Address()), &s))
				assert.Equal(t, int64(12740), s.Units)
				assert.Equal(t, int64(234), s.OwnerUnits)
				assert.Equal(t, int64(26), s.AffiliateUnits)
				assert.Equal(t, carlCond.Address(), s.AffiliateOwner)
				assert.Equal(t, uint64(1), s.EpochCount)

				var e TradeEpoch
				assert.Nil(t, NewEpochBucket().One(db, epochKey(marketID, payerCond.Address(), 1), &e))
				assert.Equal(t, false, e.Closed)
				assert.Equal(t, int64(12740), e.Units)
			},
		},
		"classification messages are for registered apps only": {
			actions: []action{
				{
					conditions: []weave.Condition{ownerCond},
					blockTime:  100,
					msg:        createMarket,
				},
				{
					conditions: []weave.Condition{payerCond},
					blockTime:  100,
					msg: &CreateFlowMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Account:  payerCond.Address(),
						Ticker:   "ETH",
						Rate:     rate,
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
			},
		},
		"a rate that does not scale is rejected": {
			actions: append(setupMarketAndApp(ownerCond, appCond, createMarket), action{
				conditions: []weave.Condition{appCond},
				blockTime:  100,
				msg: &CreateFlowMsg{
					Metadata: &weave.Metadata{Schema: 1},
					Account:  payerCond.Address(),
					Ticker:   "ETH",
					Rate:     rate + 1,
				},
				wantDeliverErr: ErrNotScalable,
			}),
		},
		"a rate below the market minimum is rejected": {
			actions: append(setupMarketAndApp(ownerCond, appCond, createMarket), action{
				conditions: []weave.Condition{appCond},
				blockTime:  100,
				msg: &CreateFlowMsg{
					Metadata: &weave.Metadata{Schema: 1},
					Account:  payerCond.Address(),
					Ticker:   "ETH",
					Rate:     scaler / 2,
				},
				wantDeliverErr: ErrMinRate,
			}),
		},
		"a second stream for the same payer is rejected": {
			actions: append(referralSetup, action{
				conditions: []weave.Condition{appCond},
				blockTime:  150,
				msg: &CreateFlowMsg{
					Metadata: &weave.Metadata{Schema: 1},
					Account:  payerCond.Address(),
					Ticker:   "ETH",
					Rate:     rate,
				},
				wantDeliverErr: errors.ErrDuplicate,
			}),
		},
		"distribution pays everyone pro rata": {
			actions: append(referralSetup,
				action{
					prep: func(t *testing.T, db weave.KVStore) {
						fundPool(t, db, marketID, coin.NewCoin(0, 13000000, "ETH"))
					},
					conditions: []weave.Condition{keeperCond},
					blockTime:  200,
					msg: &DistributeMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					conditions: []weave.Condition{payerCond},
					blockTime:  200,
					msg: &ClaimMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &ClaimMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					conditions: []weave.Condition{carlCond},
					blockTime:  200,
					msg: &ClaimMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
			),
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint64(1000), m.CumulativeIndex)
				assert.Equal(t, int64(0), m.Residue)

				// 12740000 + 234000 + 26000 = 13000000. Nothing is
				// created or lost by the split.
				assertFunds(t, db, payerCond.Address(), "DAI", 12740000)
				assertFunds(t, db, ownerCond.Address(), "DAI", 234000)
				assertFunds(t, db, carlCond.Address(), "DAI", 26000)
			},
		},
		"settling an empty pool only advances the clock": {
			actions: append(referralSetup, action{
				conditions: []weave.Condition{keeperCond},
				blockTime:  200,
				msg: &DistributeMsg{
					Metadata: &weave.Metadata{Schema: 1},
					MarketID: marketID,
				},
			}),
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint64(0), m.CumulativeIndex)
				assert.Equal(t, int64(0), m.Residue)
				assert.Equal(t, weave.UnixTime(200), m.LastDistributionAt)
			},
		},
		"a swap fill outside the tolerance aborts the settlement": {
			fillBps: 9000,
			actions: append(referralSetup, action{
				prep: func(t *testing.T, db weave.KVStore) {
					fundPool(t, db, marketID, coin.NewCoin(0, 13000000, "ETH"))
				},
				conditions: []weave.Condition{keeperCond},
				blockTime:  200,
				msg: &DistributeMsg{
					Metadata: &weave.Metadata{Schema: 1},
					MarketID: marketID,
				},
				wantDeliverErr: ErrRateTolerance,
			}),
			afterTest: func(t *testing.T, db weave.KVStore) {
				// The aborted settlement must leave no trace.
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint64(0), m.CumulativeIndex)
				assert.Equal(t, weave.UnixTime(100), m.LastDistributionAt)
				assertFunds(t, db, marketAccount(marketID), "ETH", 13000000)
			},
		},
		"the caller reward is capped": {
			conf: &Configuration{
				Metadata:         &weave.Metadata{Schema: 1},
				CallerFeeBps:     100,
				CallerFeeCap:     50000,
				MinBufferSeconds: 3600,
			},
			actions: append(referralSetup, action{
				prep: func(t *testing.T, db weave.KVStore) {
					fundPool(t, db, marketID, coin.NewCoin(0, 13000000, "ETH"))
				},
				conditions: []weave.Condition{keeperCond},
				blockTime:  200,
				msg: &DistributeMsg{
					Metadata: &weave.Metadata{Schema: 1},
					MarketID: marketID,
				},
			}),
			afterTest: func(t *testing.T, db weave.KVStore) {
				assertFunds(t, db, keeperCond.Address(), "DAI", 50000)
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint64(996), m.CumulativeIndex)
				assert.Equal(t, int64(2000), m.Residue)
			},
		},
		"terminating a stream returns all units": {
			actions: append(referralSetup, action{
				conditions: []weave.Condition{appCond},
				blockTime:  200,
				msg: &TerminateFlowMsg{
					Metadata: &weave.Metadata{Schema: 1},
					Account:  payerCond.Address(),
					Ticker:   "ETH",
				},
			}),
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, int64(0), m.TotalUnits)
				assert.Equal(t, int64(0), m.TotalRate)
				assert.Equal(t, uint32(0), m.StreamCount)

				var s Stream
				assert.Nil(t, NewStreamBucket().One(db, streamKey(marketID, payerCond.Address()), &s))
				assert.Equal(t, int64(0), s.Rate)
				assert.Equal(t, int64(0), s.Units)
				assert.Equal(t, uint64(1), s.EpochCount)

				var e TradeEpoch
				assert.Nil(t, NewEpochBucket().One(db, epochKey(marketID, payerCond.Address(), 1), &e))
				assert.Equal(t, true, e.Closed)
				assert.Equal(t, weave.UnixTime(200), e.EndTime)

				err := NewPositionBucket().One(db, streamKey(marketID, payerCond.Address()), &Position{})
				if !errors.ErrNotFound.Is(err) {
					t.Fatalf("a drained position must be removed: %+v", err)
				}
			},
		},
		"updating the rate rewrites the allocation and opens a new epoch": {
			actions: append(referralSetup, action{
				conditions: []weave.Condition{appCond},
				blockTime:  200,
				msg: &UpdateFlowMsg{
					Metadata: &weave.Metadata{Schema: 1},
					Account:  payerCond.Address(),
					Ticker:   "ETH",
					Rate:     rate / 2,
				},
			}),
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, int64(6500), m.TotalUnits)
				assert.Equal(t, int64(rate/2), m.TotalRate)
				assert.Equal(t, uint32(1), m.StreamCount)

				var s Stream
				assert.Nil(t, NewStreamBucket().One(db, streamKey(marketID, payerCond.Address()), &s))
				assert.Equal(t, int64(6370), s.Units)
				assert.Equal(t, int64(117), s.OwnerUnits)
				assert.Equal(t, int64(13), s.AffiliateUnits)
				assert.Equal(t, uint64(2), s.EpochCount)

				var closed TradeEpoch
				assert.Nil(t, NewEpochBucket().One(db, epochKey(marketID, payerCond.Address(), 1), &closed))
				assert.Equal(t, true, closed.Closed)
				var open TradeEpoch
				assert.Nil(t, NewEpochBucket().One(db, epochKey(marketID, payerCond.Address(), 2), &open))
				assert.Equal(t, false, open.Closed)
			},
		},
		"closed epochs account exactly for the settled output": {
			// A distribution falls inside each of the two epochs, the
			// second one with a remainder that must stay on the market.
			actions: append(referralSetup,
				action{
					prep: func(t *testing.T, db weave.KVStore) {
						fundPool(t, db, marketID, coin.NewCoin(0, 13000000, "ETH"))
					},
					conditions: []weave.Condition{keeperCond},
					blockTime:  200,
					msg: &DistributeMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					conditions: []weave.Condition{appCond},
					blockTime:  300,
					msg: &UpdateFlowMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Account:  payerCond.Address(),
						Ticker:   "ETH",
						Rate:     rate / 2,
					},
				},
				action{
					prep: func(t *testing.T, db weave.KVStore) {
						fundPool(t, db, marketID, coin.NewCoin(0, 6500123, "ETH"))
					},
					conditions: []weave.Condition{keeperCond},
					blockTime:  400,
					msg: &DistributeMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					conditions: []weave.Condition{appCond},
					blockTime:  500,
					msg: &TerminateFlowMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Account:  payerCond.Address(),
						Ticker:   "ETH",
					},
				},
			),
			afterTest: func(t *testing.T, db weave.KVStore) {
				// What the closed epochs promise is exactly what the
				// payer wallet received, no matter how many
				// distributions fell inside either epoch.
				epochs := NewEpochBucket()
				var owed int64
				for n := uint64(1); n <= 2; n++ {
					var e TradeEpoch
					assert.Nil(t, epochs.One(db, epochKey(marketID, payerCond.Address(), n), &e))
					assert.Equal(t, true, e.Closed)
					owed += int64(e.EndIndex-e.StartIndex) * e.Units
				}
				assert.Equal(t, int64(19110000), owed)
				assertFunds(t, db, payerCond.Address(), "DAI", owed)

				// 6500123 over 6500 units leaves 123 on the market.
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint64(2000), m.CumulativeIndex)
				assert.Equal(t, int64(123), m.Residue)
				assert.Equal(t, int64(0), m.TotalUnits)

				// Conservation: payer, owner and affiliate shares sum
				// to everything the index credited.
				assertFunds(t, db, ownerCond.Address(), "DAI", 351000)
				assertFunds(t, db, carlCond.Address(), "DAI", 39000)
			},
		},
		"updating a missing stream fails": {
			actions: append(setupMarketAndApp(ownerCond, appCond, createMarket), action{
				conditions: []weave.Condition{appCond},
				blockTime:  100,
				msg: &UpdateFlowMsg{
					Metadata: &weave.Metadata{Schema: 1},
					Account:  payerCond.Address(),
					Ticker:   "ETH",
					Rate:     rate,
				},
				wantDeliverErr: errors.ErrNotFound,
			}),
		},
		"an underfunded stream can be closed by anyone": {
			actions: append(referralSetup, action{
				conditions: []weave.Condition{keeperCond},
				blockTime:  200,
				msg: &CloseStreamMsg{
					Metadata: &weave.Metadata{Schema: 1},
					MarketID: marketID,
					Account:  payerCond.Address(),
				},
			}),
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint32(0), m.StreamCount)
				assert.Equal(t, int64(0), m.TotalUnits)
			},
		},
		"a solvent stream is protected from closing": {
			actions: append(referralSetup, action{
				prep: func(t *testing.T, db weave.KVStore) {
					// The rate of 1300 ETH per second needs a
					// runway of 4.68 million ETH for an hour.
					ctrl := cash.NewController(cash.NewBucket())
					err := ctrl.CoinMint(db, payerCond.Address(), coin.NewCoin(5000000, 0, "ETH"))
					assert.Nil(t, err)
				},
				conditions: []weave.Condition{keeperCond},
				blockTime:  200,
				msg: &CloseStreamMsg{
					Metadata: &weave.Metadata{Schema: 1},
					MarketID: marketID,
					Account:  payerCond.Address(),
				},
				wantCheckErr:   ErrSolvent,
				wantDeliverErr: ErrSolvent,
			}),
		},
		"market parameters are set by the market admin only": {
			actions: []action{
				{
					conditions: []weave.Condition{ownerCond},
					blockTime:  100,
					msg:        createMarket,
				},
				{
					conditions: []weave.Condition{ownerCond},
					blockTime:  100,
					msg: &SetFeeMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
						FeeBps:   300,
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
				{
					conditions: []weave.Condition{adminCond},
					blockTime:  100,
					msg: &SetFeeMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
						FeeBps:   300,
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					blockTime:  100,
					msg: &SetToleranceMsg{
						Metadata:     &weave.Metadata{Schema: 1},
						MarketID:     marketID,
						ToleranceBps: 250,
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					blockTime:  100,
					msg: &SetEmissionMsg{
						Metadata:     &weave.Metadata{Schema: 1},
						MarketID:     marketID,
						EmissionRate: 42,
					},
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, uint32(300), m.FeeBps)
				assert.Equal(t, uint32(250), m.ToleranceBps)
				assert.Equal(t, int64(42), m.EmissionRate)
			},
		},
		"recovery freezes the market": {
			actions: append(referralSetup,
				action{
					conditions: []weave.Condition{adminCond},
					blockTime:  200,
					msg: &EnterRecoveryMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
				action{
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &EnterRecoveryMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					// One way. There is no path back to running.
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &EnterRecoveryMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
					wantCheckErr:   errors.ErrState,
					wantDeliverErr: errors.ErrState,
				},
				action{
					conditions: []weave.Condition{keeperCond},
					blockTime:  300,
					msg: &DistributeMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
					wantCheckErr:   errors.ErrState,
					wantDeliverErr: errors.ErrState,
				},
				action{
					conditions: []weave.Condition{appCond},
					blockTime:  300,
					msg: &UpdateFlowMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Account:  payerCond.Address(),
						Ticker:   "ETH",
						Rate:     rate / 2,
					},
					wantDeliverErr: errors.ErrState,
				},
			),
		},
		"drain requires recovery and no open streams": {
			actions: append(referralSetup,
				action{
					prep: func(t *testing.T, db weave.KVStore) {
						fundPool(t, db, marketID, coin.NewCoin(3, 0, "ETH"))
					},
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &DrainMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
						Ticker:   "ETH",
					},
					wantCheckErr:   errors.ErrState,
					wantDeliverErr: errors.ErrState,
				},
				action{
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &EnterRecoveryMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
					},
				},
				action{
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &DrainMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
						Ticker:   "ETH",
					},
					wantCheckErr:   ErrStreamers,
					wantDeliverErr: ErrStreamers,
				},
				action{
					conditions: []weave.Condition{adminCond},
					blockTime:  200,
					msg: &EmergencyCloseStreamMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
						Account:  payerCond.Address(),
					},
				},
				action{
					conditions: []weave.Condition{ownerCond},
					blockTime:  200,
					msg: &DrainMsg{
						Metadata: &weave.Metadata{Schema: 1},
						MarketID: marketID,
						Ticker:   "ETH",
					},
				},
			),
			afterTest: func(t *testing.T, db weave.KVStore) {
				assertFunds(t, db, ownerCond.Address(), "ETH", 3*coin.FracUnit)
				var m Market
				assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
				assert.Equal(t, int64(0), m.TotalUnits)
				assert.Equal(t, uint32(0), m.StreamCount)
			},
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			db := store.MemStore()
			migration.MustInitPkg(db, "streamswap", "affiliate", "cash")

			affConf := affiliate.Configuration{
				Metadata:          &weave.Metadata{Schema: 1},
				Owner:             ownerCond.Address(),
				Admin:             adminCond.Address(),
				AffiliateSplitBps: 1000,
			}
			if err := gconf.Save(db, "affiliate", &affConf); err != nil {
				t.Fatalf("cannot save affiliate configuration: %s", err)
			}
			conf := tc.conf
			if conf == nil {
				conf = &Configuration{
					Metadata:         &weave.Metadata{Schema: 1},
					MinBufferSeconds: 3600,
				}
			}
			conf.Owner = ownerCond.Address()
			if err := gconf.Save(db, "streamswap", conf); err != nil {
				t.Fatalf("cannot save configuration: %s", err)
			}

			rt := app.NewRouter()
			auth := &weavetest.CtxAuth{Key: "auth"}
			ctrl := cash.NewController(cash.NewBucket())
			fillBps := tc.fillBps
			if fillBps == 0 {
				fillBps = 10000
			}
			venue := &testVenue{
				ctrl:    ctrl,
				minter:  ctrl,
				rate:    weave.Fraction{Numerator: 1, Denominator: 1},
				fillBps: fillBps,
				sink:    weavetest.NewCondition().Address(),
			}
			oracle := &testOracle{rate: weave.Fraction{Numerator: 1, Denominator: 1}}
			affiliate.RegisterRoutes(rt, auth)
			RegisterRoutes(rt, auth, ctrl, ctrl, affiliate.NewController(), venue, oracle)

			for i, a := range tc.actions {
				if a.prep != nil {
					a.prep(t, db)
				}
				cache := db.CacheWrap()
				if _, err := rt.Check(a.ctx(), cache, a.tx()); !a.wantCheckErr.Is(err) {
					t.Logf("want: %+v", a.wantCheckErr)
					t.Logf(" got: %+v", err)
					t.Fatalf("action %d check (%T)", i, a.msg)
				}
				cache.Discard()

				// Deliver through a cache so that a failed
				// execution leaves no partial writes, the same
				// way the application does it.
				cache = db.CacheWrap()
				_, err := rt.Deliver(a.ctx(), cache, a.tx())
				if !a.wantDeliverErr.Is(err) {
					t.Logf("want: %+v", a.wantDeliverErr)
					t.Logf(" got: %+v", err)
					t.Fatalf("action %d deliver (%T)", i, a.msg)
				}
				if err == nil {
					if err := cache.Write(); err != nil {
						t.Fatalf("cannot write cache: %s", err)
					}
				} else {
					cache.Discard()
				}
			}
			if tc.afterTest != nil {
				tc.afterTest(t, db)
			}
		})
	}
}

func TestSubsidyEmission(t *testing.T) {
	var (
		ownerCond  = weavetest.NewCondition()
		adminCond  = weavetest.NewCondition()
		appCond    = weavetest.NewCondition()
		payerCond  = weavetest.NewCondition()
		keeperCond = weavetest.NewCondition()
	)

	db := store.MemStore()
	migration.MustInitPkg(db, "streamswap", "affiliate", "cash")

	assert.Nil(t, gconf.Save(db, "affiliate", &affiliate.Configuration{
		Metadata:          &weave.Metadata{Schema: 1},
		Owner:             ownerCond.Address(),
		Admin:             adminCond.Address(),
		AffiliateSplitBps: 1000,
	}))
	assert.Nil(t, gconf.Save(db, "streamswap", &Configuration{
		Metadata:         &weave.Metadata{Schema: 1},
		Owner:            ownerCond.Address(),
		MinBufferSeconds: 3600,
	}))

	rt := app.NewRouter()
	auth := &weavetest.CtxAuth{Key: "auth"}
	ctrl := cash.NewController(cash.NewBucket())
	venue := &testVenue{
		ctrl:    ctrl,
		minter:  ctrl,
		rate:    weave.Fraction{Numerator: 1, Denominator: 1},
		fillBps: 10000,
		sink:    weavetest.NewCondition().Address(),
	}
	affiliate.RegisterRoutes(rt, auth)
	RegisterRoutes(rt, auth, ctrl, ctrl, affiliate.NewController(), venue,
		&testOracle{rate: weave.Fraction{Numerator: 1, Denominator: 1}})

	marketID := weavetest.SequenceID(1)
	actions := []action{
		{
			conditions: []weave.Condition{ownerCond},
			blockTime:  100,
			msg: &CreateMarketMsg{
				Metadata:     &weave.Metadata{Schema: 1},
				Admin:        adminCond.Address(),
				Input:        "ETH",
				Output:       "DAI",
				Subsidy:      "RIC",
				ShareScaler:  100000000,
				MinRate:      100000000,
				FeeBps:       200,
				ToleranceBps: 500,
				EmissionRate: 130000,
			},
		},
		{
			conditions: []weave.Condition{ownerCond},
			blockTime:  100,
			msg: &affiliate.RegisterAppMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Address:  appCond.Address(),
				Name:     "streamswap",
			},
		},
		{
			conditions: []weave.Condition{appCond},
			blockTime:  100,
			msg: &CreateFlowMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Account:  payerCond.Address(),
				Ticker:   "ETH",
				Rate:     1300000000000,
			},
		},
		{
			// 100 seconds of emission, 13000000 fractional units
			// minted over 13000 units.
			conditions: []weave.Condition{keeperCond},
			blockTime:  200,
			msg: &DistributeMsg{
				Metadata: &weave.Metadata{Schema: 1},
				MarketID: marketID,
			},
		},
		{
			conditions: []weave.Condition{payerCond},
			blockTime:  200,
			msg: &ClaimMsg{
				Metadata: &weave.Metadata{Schema: 1},
				MarketID: marketID,
			},
		},
	}
	for i, a := range actions {
		if _, err := rt.Deliver(a.ctx(), db, a.tx()); err != nil {
			t.Fatalf("action %d deliver (%T): %+v", i, a.msg, err)
		}
	}

	var m Market
	assert.Nil(t, NewMarketBucket().One(db, marketID, &m))
	assert.Equal(t, uint64(1000), m.SubsidyIndex)
	assert.Equal(t, int64(0), m.SubsidyResidue)
	// Without a referral the whole fee cut belongs to the owner:
	// 12740 payer units pay out 12740000 subsidy fractional units.
	assertFunds(t, db, payerCond.Address(), "RIC", 12740000)
}

// testVenue fills swaps at a fixed rate, scaled by fillBps to simulate
// slippage. Offered funds are moved to the sink, acquired funds are minted.
type testVenue struct {
	ctrl    cash.Controller
	minter  cash.CoinMinter
	rate    weave.Fraction
	fillBps int64
	sink    weave.Address
}

func (v *testVenue) Swap(db weave.KVStore, source weave.Address, offer coin.Coin, minReceive coin.Coin, route []byte) (coin.Coin, error) {
	if err := cash.MoveCoins(db, v.ctrl, source, v.sink, []*coin.Coin{&offer}); err != nil {
		return coin.Coin{}, err
	}
	units := mulDiv(asUnits(offer), int64(v.rate.Numerator), int64(v.rate.Denominator))
	units = mulDiv(units, v.fillBps, 10000)
	got := asCoin(minReceive.Ticker, units)
	if err := v.minter.CoinMint(db, source, got); err != nil {
		return coin.Coin{}, err
	}
	return got, nil
}

type testOracle struct {
	rate weave.Fraction
}

func (o *testOracle) Price(db weave.ReadOnlyKVStore, offerTicker, receiveTicker string) (weave.Fraction, error) {
	return o.rate, nil
}

func setupMarketAndApp(owner, application weave.Condition, createMarket *CreateMarketMsg) []action {
	return []action{
		{
			conditions: []weave.Condition{owner},
			blockTime:  100,
			msg:        createMarket,
		},
		{
			conditions: []weave.Condition{owner},
			blockTime:  100,
			msg: &affiliate.RegisterAppMsg{
				Metadata: &weave.Metadata{Schema: 1},
				Address:  application.Address(),
				Name:     "streamswap",
			},
		},
	}
}

func fundPool(t *testing.T, db weave.KVStore, marketID []byte, c coin.Coin) {
	t.Helper()
	ctrl := cash.NewController(cash.NewBucket())
	if err := ctrl.CoinMint(db, marketAccount(marketID), c); err != nil {
		t.Fatalf("cannot fund pool: %s", err)
	}
}

func assertFunds(t *testing.T, db weave.KVStore, addr weave.Address, ticker string, units int64) {
	t.Helper()
	ctrl := cash.NewController(cash.NewBucket())
	balance, err := ctrl.Balance(db, addr)
	assert.Nil(t, err)
	for _, c := range balance {
		if c.Ticker == ticker {
			assert.Equal(t, units, asUnits(*c))
			return
		}
	}
	t.Fatalf("no %q funds on %q", ticker, addr)
}

// action represents a single request call that is handled by a handler.
type action struct {
	prep       func(t *testing.T, db weave.KVStore)
	conditions []weave.Condition
	msg        weave.Msg
	blockTime  int64
	// wantCheckErr and wantDeliverErr can be nil to expect no error.
	wantCheckErr   *errors.Error
	wantDeliverErr *errors.Error
}

func (a *action) tx() weave.Tx {
	return &weavetest.Tx{Msg: a.msg}
}

func (a *action) ctx() weave.Context {
	ctx := weave.WithHeight(context.Background(), 100)
	ctx = weave.WithChainID(ctx, "testchain-123")
	ctx = weave.WithBlockTime(ctx, time.Unix(a.blockTime, 0))
	auth := &weavetest.CtxAuth{Key: "auth"}
	return auth.SetConditions(ctx, a.conditions...)
}
