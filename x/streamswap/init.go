package streamswap

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
)

// Initializer fulfils the Initializer interface to load data from the genesis
// file
type Initializer struct{}

var _ weave.Initializer = (*Initializer)(nil)

// FromGenesis will parse initial market setup from genesis and save it to
// the database.
func (*Initializer) FromGenesis(opts weave.Options, params weave.GenesisParams, kv weave.KVStore) error {
	if err := gconf.InitConfig(kv, opts, "streamswap", &Configuration{}); err != nil {
		return errors.Wrap(err, "init config")
	}

	var genesis struct {
		Markets []struct {
			Admin        weave.Address `json:"admin"`
			Input        string        `json:"input"`
			Output       string        `json:"output"`
			Subsidy      string        `json:"subsidy"`
			ShareScaler  int64         `json:"share_scaler"`
			MinRate      int64         `json:"min_rate"`
			FeeBps       uint32        `json:"fee_bps"`
			ToleranceBps uint32        `json:"tolerance_bps"`
			EmissionRate int64         `json:"emission_rate"`
		} `json:"markets"`
	}
	if err := opts.ReadOptions("streamswap", &genesis); err != nil {
		return errors.Wrap(err, "cannot load streamswap")
	}

	markets := NewMarketBucket()
	for i, m := range genesis.Markets {
		key, err := marketSeq.NextVal(kv)
		if err != nil {
			return errors.Wrapf(err, "cannot acquire #%d key", i)
		}
		market := Market{
			Metadata:     &weave.Metadata{Schema: 1},
			Admin:        m.Admin,
			Input:        m.Input,
			Output:       m.Output,
			Subsidy:      m.Subsidy,
			ShareScaler:  m.ShareScaler,
			MinRate:      m.MinRate,
			FeeBps:       m.FeeBps,
			ToleranceBps: m.ToleranceBps,
			EmissionRate: m.EmissionRate,
			State:        MarketRunning,
			Address:      marketAccount(key),
		}
		if _, err := markets.Put(kv, key, &market); err != nil {
			return errors.Wrapf(err, "cannot store #%d market", i)
		}
	}
	return nil
}
