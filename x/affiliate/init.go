package affiliate

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
)

// Initializer fulfils the Initializer interface to load data from the genesis
// file
type Initializer struct{}

var _ weave.Initializer = (*Initializer)(nil)

// FromGenesis will parse initial affiliate setup from genesis and save it to
// the database.
func (*Initializer) FromGenesis(opts weave.Options, params weave.GenesisParams, kv weave.KVStore) error {
	if err := gconf.InitConfig(kv, opts, "affiliate", &Configuration{}); err != nil {
		return errors.Wrap(err, "init config")
	}

	var genesis struct {
		Apps []struct {
			Address weave.Address `json:"address"`
			Name    string        `json:"name"`
		} `json:"apps"`
		Affiliates []struct {
			Handle  string        `json:"handle"`
			Owner   weave.Address `json:"owner"`
			Enabled bool          `json:"enabled"`
		} `json:"affiliates"`
	}
	if err := opts.ReadOptions("affiliate", &genesis); err != nil {
		return errors.Wrap(err, "cannot load affiliate")
	}

	apps := NewAppBucket()
	for i, a := range genesis.Apps {
		app := App{
			Metadata: &weave.Metadata{Schema: 1},
			Name:     a.Name,
		}
		if _, err := apps.Put(kv, a.Address, &app); err != nil {
			return errors.Wrapf(err, "cannot store #%d app", i)
		}
	}

	affiliates := NewAffiliateBucket()
	for i, a := range genesis.Affiliates {
		aff := Affiliate{
			Metadata: &weave.Metadata{Schema: 1},
			Handle:   a.Handle,
			Owner:    a.Owner,
			Enabled:  a.Enabled,
		}
		if _, err := affiliates.Put(kv, nil, &aff); err != nil {
			return errors.Wrapf(err, "cannot store #%d affiliate", i)
		}
	}
	return nil
}
