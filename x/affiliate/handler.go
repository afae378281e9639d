package affiliate

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
	"github.com/iov-one/weave/migration"
	"github.com/iov-one/weave/orm"
	"github.com/iov-one/weave/x"
)

const (
	applyCost    = 0
	updateCost   = 0
	registerCost = 0
)

// RegisterRoutes registers handlers for affiliate message processing.
func RegisterRoutes(r weave.Registry, auth x.Authenticator) {
	r = migration.SchemaMigratingRegistry("affiliate", r)
	affiliates := NewAffiliateBucket()
	ctrl := NewController()

	r.Handle(&ApplyMsg{}, &applyHandler{
		auth:   auth,
		bucket: affiliates,
	})
	r.Handle(&VerifyMsg{}, &setEnabledHandler{
		auth:    auth,
		bucket:  affiliates,
		enabled: true,
	})
	r.Handle(&DisableMsg{}, &setEnabledHandler{
		auth:    auth,
		bucket:  affiliates,
		enabled: false,
	})
	r.Handle(&ChangeAddressMsg{}, &changeAddressHandler{
		auth:   auth,
		bucket: affiliates,
	})
	r.Handle(&WithdrawMsg{}, &withdrawHandler{
		auth:   auth,
		bucket: affiliates,
	})
	r.Handle(&RegisterAppMsg{}, &registerAppHandler{
		auth:   auth,
		bucket: NewAppBucket(),
	})
	r.Handle(&RegisterOrganicMsg{}, &registerOrganicHandler{
		auth: auth,
		ctrl: ctrl,
	})
	r.Handle(&RegisterReferredMsg{}, &registerReferredHandler{
		auth: auth,
		ctrl: ctrl,
	})
	r.Handle(&SafeRegisterMsg{}, &safeRegisterHandler{
		auth: auth,
		ctrl: ctrl,
	})
	r.Handle(&UpdateConfigurationMsg{},
		gconf.NewUpdateConfigurationHandler("affiliate", &Configuration{}, auth, migration.CurrentAdmin))
}

type applyHandler struct {
	auth   x.Authenticator
	bucket orm.ModelBucket
}

func (h *applyHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: applyCost}, nil
}

func (h *applyHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	key, err := h.bucket.Put(db, nil, &Affiliate{
		Metadata: &weave.Metadata{Schema: 1},
		Handle:   msg.Handle,
		Owner:    msg.Owner,
		Enabled:  false,
	})
	if err != nil {
		return nil, errors.Wrap(err, "save affiliate")
	}
	return &weave.DeliverResult{Data: key}, nil
}

func (h *applyHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*ApplyMsg, error) {
	var msg ApplyMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if !h.auth.HasAddress(ctx, msg.Owner) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "owner signature required")
	}
	var existing []*Affiliate
	if _, err := h.bucket.ByIndex(db, "handle", []byte(msg.Handle), &existing); err != nil {
		return nil, errors.Wrap(err, "handle lookup")
	}
	if len(existing) != 0 {
		return nil, errors.Wrapf(errors.ErrDuplicate, "handle %q", msg.Handle)
	}
	return &msg, nil
}

// setEnabledHandler flips the enabled state of an affiliate. Verification and
// disabling are the same operation with a different target state and both
// require the configured admin signature. Past classifications are never
// reassigned by either.
type setEnabledHandler struct {
	auth    x.Authenticator
	bucket  orm.ModelBucket
	enabled bool
}

func (h *setEnabledHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: updateCost}, nil
}

func (h *setEnabledHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	id, aff, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	aff.Enabled = h.enabled
	if _, err := h.bucket.Put(db, id, aff); err != nil {
		return nil, errors.Wrap(err, "save affiliate")
	}
	return &weave.DeliverResult{}, nil
}

func (h *setEnabledHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) ([]byte, *Affiliate, error) {
	var id []byte
	if h.enabled {
		var msg VerifyMsg
		if err := weave.LoadMsg(tx, &msg); err != nil {
			return nil, nil, errors.Wrap(err, "load msg")
		}
		id = msg.AffiliateID
	} else {
		var msg DisableMsg
		if err := weave.LoadMsg(tx, &msg); err != nil {
			return nil, nil, errors.Wrap(err, "load msg")
		}
		id = msg.AffiliateID
	}

	conf, err := loadConf(db)
	if err != nil {
		return nil, nil, err
	}
	if !h.auth.HasAddress(ctx, conf.Admin) {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "admin signature required")
	}
	var aff Affiliate
	if err := h.bucket.One(db, id, &aff); err != nil {
		return nil, nil, errors.Wrap(err, "affiliate lookup")
	}
	return id, &aff, nil
}

type changeAddressHandler struct {
	auth   x.Authenticator
	bucket orm.ModelBucket
}

func (h *changeAddressHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: updateCost}, nil
}

func (h *changeAddressHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, aff, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	aff.Owner = msg.NewOwner
	if _, err := h.bucket.Put(db, msg.AffiliateID, aff); err != nil {
		return nil, errors.Wrap(err, "save affiliate")
	}
	return &weave.DeliverResult{}, nil
}

func (h *changeAddressHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*ChangeAddressMsg, *Affiliate, error) {
	var msg ChangeAddressMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, nil, errors.Wrap(err, "load msg")
	}
	var aff Affiliate
	if err := h.bucket.One(db, msg.AffiliateID, &aff); err != nil {
		return nil, nil, errors.Wrap(err, "affiliate lookup")
	}
	if !h.auth.HasAddress(ctx, aff.Owner) {
		return nil, nil, errors.Wrap(errors.ErrUnauthorized, "owner signature required")
	}
	return &msg, &aff, nil
}

type withdrawHandler struct {
	auth   x.Authenticator
	bucket orm.ModelBucket
}

func (h *withdrawHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: updateCost}, nil
}

func (h *withdrawHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	if err := h.bucket.Delete(db, msg.AffiliateID); err != nil {
		return nil, errors.Wrap(err, "delete affiliate")
	}
	return &weave.DeliverResult{}, nil
}

func (h *withdrawHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*WithdrawMsg, error) {
	var msg WithdrawMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	var aff Affiliate
	if err := h.bucket.One(db, msg.AffiliateID, &aff); err != nil {
		return nil, errors.Wrap(err, "affiliate lookup")
	}
	if !h.auth.HasAddress(ctx, aff.Owner) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "owner signature required")
	}
	// Only a record that never took part in the program can be removed.
	// Anything else must keep its handle reserved for audit purposes.
	if aff.Enabled {
		return nil, errors.Wrap(ErrEnabled, "cannot withdraw")
	}
	if aff.TotalReferred != 0 {
		return nil, errors.Wrap(errors.ErrState, "affiliate has referred customers")
	}
	return &msg, nil
}

type registerAppHandler struct {
	auth   x.Authenticator
	bucket orm.ModelBucket
}

func (h *registerAppHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: registerCost}, nil
}

func (h *registerAppHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	app := &App{
		Metadata: &weave.Metadata{Schema: 1},
		Name:     msg.Name,
	}
	if _, err := h.bucket.Put(db, msg.Address, app); err != nil {
		return nil, errors.Wrap(err, "save app")
	}
	return &weave.DeliverResult{}, nil
}

func (h *registerAppHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*RegisterAppMsg, error) {
	var msg RegisterAppMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	conf, err := loadConf(db)
	if err != nil {
		return nil, err
	}
	if !h.auth.HasAddress(ctx, conf.Owner) {
		return nil, errors.Wrap(errors.ErrUnauthorized, "owner signature required")
	}
	return &msg, nil
}

type registerOrganicHandler struct {
	auth x.Authenticator
	ctrl *Controller
}

func (h *registerOrganicHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: registerCost}, nil
}

func (h *registerOrganicHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	if err := h.ctrl.bindOrganic(db, msg.Customer); err != nil {
		return nil, err
	}
	return &weave.DeliverResult{}, nil
}

func (h *registerOrganicHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*RegisterOrganicMsg, error) {
	var msg RegisterOrganicMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if err := h.ctrl.Authorized(ctx, h.auth, db); err != nil {
		return nil, err
	}
	return &msg, nil
}

type registerReferredHandler struct {
	auth x.Authenticator
	ctrl *Controller
}

func (h *registerReferredHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: registerCost}, nil
}

func (h *registerReferredHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	if err := h.ctrl.bindReferred(db, msg.Customer, msg.Handle); err != nil {
		return nil, err
	}
	return &weave.DeliverResult{}, nil
}

func (h *registerReferredHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*RegisterReferredMsg, error) {
	var msg RegisterReferredMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if err := h.ctrl.Authorized(ctx, h.auth, db); err != nil {
		return nil, err
	}
	return &msg, nil
}

type safeRegisterHandler struct {
	auth x.Authenticator
	ctrl *Controller
}

func (h *safeRegisterHandler) Check(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.CheckResult, error) {
	if _, err := h.validate(ctx, db, tx); err != nil {
		return nil, err
	}
	return &weave.CheckResult{GasAllocated: registerCost}, nil
}

func (h *safeRegisterHandler) Deliver(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*weave.DeliverResult, error) {
	msg, err := h.validate(ctx, db, tx)
	if err != nil {
		return nil, err
	}
	if err := h.ctrl.Classify(db, msg.Customer, msg.Handle); err != nil {
		return nil, err
	}
	return &weave.DeliverResult{}, nil
}

func (h *safeRegisterHandler) validate(ctx weave.Context, db weave.KVStore, tx weave.Tx) (*SafeRegisterMsg, error) {
	var msg SafeRegisterMsg
	if err := weave.LoadMsg(tx, &msg); err != nil {
		return nil, errors.Wrap(err, "load msg")
	}
	if err := h.ctrl.Authorized(ctx, h.auth, db); err != nil {
		return nil, err
	}
	return &msg, nil
}
