package affiliate

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/orm"
	"github.com/iov-one/weave/x"
)

// Controller exposes the affiliate state to other extensions without giving
// them direct bucket access. The settlement engine uses it to authenticate
// flow callbacks, classify paying customers and resolve the fee split of a
// payer.
type Controller struct {
	affiliates orm.ModelBucket
	bindings   orm.ModelBucket
	apps       orm.ModelBucket
}

func NewController() *Controller {
	return &Controller{
		affiliates: NewAffiliateBucket(),
		bindings:   NewBindingBucket(),
		apps:       NewAppBucket(),
	}
}

// Authorized returns no error if at least one of the transaction signers is
// a registered application.
func (c *Controller) Authorized(ctx weave.Context, auth x.Authenticator, db weave.KVStore) error {
	for _, cond := range auth.GetConditions(ctx) {
		switch err := c.apps.Has(db, cond.Address()); {
		case err == nil:
			return nil
		case errors.ErrNotFound.Is(err):
			// Not this signer, maybe the next one.
		default:
			return errors.Wrap(err, "app lookup")
		}
	}
	return errors.Wrap(errors.ErrUnauthorized, "not a registered application")
}

// Classify binds a customer using the forgiving registration path. An
// already classified customer is left untouched. An empty, unknown or not
// enabled referrer handle degrades to an organic classification instead of
// failing.
func (c *Controller) Classify(db weave.KVStore, customer weave.Address, handle string) error {
	switch err := c.bindings.Has(db, customer); {
	case err == nil:
		return nil
	case errors.ErrNotFound.Is(err):
		// Not classified yet.
	default:
		return errors.Wrap(err, "binding lookup")
	}

	if handle != "" {
		switch err := c.bindReferred(db, customer, handle); {
		case err == nil:
			return nil
		case errors.ErrNotFound.Is(err), ErrDisabled.Is(err):
			// Fall through to organic.
		default:
			return err
		}
	}
	return c.bindOrganic(db, customer)
}

// FeeSplit resolves the fee beneficiary of a customer. It returns the owner
// address of the referring affiliate together with the affiliate share of
// withheld fee units in basis points. A customer without an enabled referrer
// yields a nil address and a zero share.
func (c *Controller) FeeSplit(db weave.ReadOnlyKVStore, customer weave.Address) (weave.Address, uint32, error) {
	var binding Binding
	switch err := c.bindings.One(db, customer, &binding); {
	case err == nil:
		// Classified.
	case errors.ErrNotFound.Is(err):
		return nil, 0, nil
	default:
		return nil, 0, errors.Wrap(err, "binding lookup")
	}
	if binding.IsOrganic() {
		return nil, 0, nil
	}

	var aff Affiliate
	if err := c.affiliates.One(db, binding.AffiliateID, &aff); err != nil {
		return nil, 0, errors.Wrap(err, "affiliate lookup")
	}
	if !aff.Enabled {
		// A disabled affiliate keeps its bindings but earns nothing.
		return nil, 0, nil
	}

	conf, err := loadConf(db)
	if err != nil {
		return nil, 0, err
	}
	return aff.Owner, conf.AffiliateSplitBps, nil
}

// bindReferred writes a referred classification. It fails with ErrBound if
// the customer is classified, ErrNotFound if the handle is unknown and
// ErrDisabled if the affiliate is not enabled.
func (c *Controller) bindReferred(db weave.KVStore, customer weave.Address, handle string) error {
	switch err := c.bindings.Has(db, customer); {
	case err == nil:
		return errors.Wrap(ErrBound, "customer already classified")
	case errors.ErrNotFound.Is(err):
		// Expected.
	default:
		return errors.Wrap(err, "binding lookup")
	}

	var affs []*Affiliate
	keys, err := c.affiliates.ByIndex(db, "handle", []byte(handle), &affs)
	if err != nil {
		return errors.Wrap(err, "affiliate lookup")
	}
	if len(affs) == 0 {
		return errors.Wrapf(errors.ErrNotFound, "no affiliate with handle %q", handle)
	}
	aff := affs[0]
	if !aff.Enabled {
		return errors.Wrapf(ErrDisabled, "affiliate %q", handle)
	}

	binding := &Binding{
		Metadata:    &weave.Metadata{Schema: 1},
		AffiliateID: keys[0],
	}
	if _, err := c.bindings.Put(db, customer, binding); err != nil {
		return errors.Wrap(err, "save binding")
	}

	aff.TotalReferred++
	if _, err := c.affiliates.Put(db, keys[0], aff); err != nil {
		return errors.Wrap(err, "update affiliate")
	}
	return nil
}

// bindOrganic writes an organic classification. It fails with ErrBound if
// the customer is classified already.
func (c *Controller) bindOrganic(db weave.KVStore, customer weave.Address) error {
	switch err := c.bindings.Has(db, customer); {
	case err == nil:
		return errors.Wrap(ErrBound, "customer already classified")
	case errors.ErrNotFound.Is(err):
		// Expected.
	default:
		return errors.Wrap(err, "binding lookup")
	}
	binding := &Binding{
		Metadata:    &weave.Metadata{Schema: 1},
		AffiliateID: organicID,
	}
	if _, err := c.bindings.Put(db, customer, binding); err != nil {
		return errors.Wrap(err, "save binding")
	}
	return nil
}
