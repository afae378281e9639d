package affiliate

import (
	"context"
	"testing"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/app"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
	"github.com/iov-one/weave/migration"
	"github.com/iov-one/weave/store"
	"github.com/iov-one/weave/weavetest"
	"github.com/iov-one/weave/weavetest/assert"
)

func TestHandlers(t *testing.T) {
	var (
		ownerCond = weavetest.NewCondition()
		adminCond = weavetest.NewCondition()
		aliceCond = weavetest.NewCondition()
		bobCond   = weavetest.NewCondition()
		appCond   = weavetest.NewCondition()

		custA = weavetest.NewCondition().Address()
		custB = weavetest.NewCondition().Address()
	)

	registerApp := &RegisterAppMsg{
		Metadata: &weave.Metadata{Schema: 1},
		Address:  appCond.Address(),
		Name:     "streamswap",
	}

	cases := map[string]struct {
		actions   []action
		afterTest func(t *testing.T, db weave.KVStore)
	}{
		"application and verification": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					msg: &VerifyMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				var aff Affiliate
				err := NewAffiliateBucket().One(db, weavetest.SequenceID(1), &aff)
				assert.Nil(t, err)
				assert.Equal(t, true, aff.Enabled)
				assert.Equal(t, "alice", aff.Handle)
			},
		},
		"application requires the owner signature": {
			actions: []action{
				{
					conditions: []weave.Condition{bobCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
			},
		},
		"a taken handle cannot be applied for again": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{bobCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    bobCond.Address(),
					},
					wantCheckErr:   errors.ErrDuplicate,
					wantDeliverErr: errors.ErrDuplicate,
				},
			},
		},
		"verification is for the admin only": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &VerifyMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
			},
		},
		"owner can move the affiliate to a new address": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ChangeAddressMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
						NewOwner:    bobCond.Address(),
					},
				},
				{
					// Alice no longer controls the record.
					conditions: []weave.Condition{aliceCond},
					msg: &ChangeAddressMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
						NewOwner:    aliceCond.Address(),
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				var aff Affiliate
				err := NewAffiliateBucket().One(db, weavetest.SequenceID(1), &aff)
				assert.Nil(t, err)
				assert.Equal(t, bobCond.Address(), aff.Owner)
			},
		},
		"withdraw frees the handle before verification": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &WithdrawMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
				},
				{
					conditions: []weave.Condition{bobCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    bobCond.Address(),
					},
				},
			},
		},
		"an enabled affiliate cannot be withdrawn": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					msg: &VerifyMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &WithdrawMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
					wantCheckErr:   ErrEnabled,
					wantDeliverErr: ErrEnabled,
				},
			},
		},
		"only the configuration owner can register an app": {
			actions: []action{
				{
					conditions:     []weave.Condition{aliceCond},
					msg:            registerApp,
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
				{
					conditions: []weave.Condition{ownerCond},
					msg:        registerApp,
				},
			},
		},
		"classification messages are for registered apps only": {
			actions: []action{
				{
					conditions: []weave.Condition{aliceCond},
					msg: &RegisterOrganicMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
					},
					wantCheckErr:   errors.ErrUnauthorized,
					wantDeliverErr: errors.ErrUnauthorized,
				},
			},
		},
		"a classification is written once": {
			actions: []action{
				{
					conditions: []weave.Condition{ownerCond},
					msg:        registerApp,
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					msg: &VerifyMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
				},
				{
					conditions: []weave.Condition{appCond},
					msg: &RegisterReferredMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
						Handle:   "alice",
					},
				},
				{
					// Once referred, organic registration must fail.
					conditions: []weave.Condition{appCond},
					msg: &RegisterOrganicMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
					},
					wantDeliverErr: ErrBound,
				},
				{
					conditions: []weave.Condition{appCond},
					msg: &RegisterOrganicMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custB,
					},
				},
				{
					// Once organic, referred registration must fail.
					conditions: []weave.Condition{appCond},
					msg: &RegisterReferredMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custB,
						Handle:   "alice",
					},
					wantDeliverErr: ErrBound,
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				ctrl := NewController()
				var aff Affiliate
				err := NewAffiliateBucket().One(db, weavetest.SequenceID(1), &aff)
				assert.Nil(t, err)
				assert.Equal(t, uint64(1), aff.TotalReferred)

				owner, split, err := ctrl.FeeSplit(db, custA)
				assert.Nil(t, err)
				assert.Equal(t, aliceCond.Address(), owner)
				assert.Equal(t, uint32(5000), split)

				owner, split, err = ctrl.FeeSplit(db, custB)
				assert.Nil(t, err)
				if owner != nil || split != 0 {
					t.Fatalf("organic customer must have no fee split: %q %d", owner, split)
				}
			},
		},
		"referring an unknown handle fails strictly but not via safe registration": {
			actions: []action{
				{
					conditions: []weave.Condition{ownerCond},
					msg:        registerApp,
				},
				{
					conditions: []weave.Condition{appCond},
					msg: &RegisterReferredMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
						Handle:   "nobody",
					},
					wantDeliverErr: errors.ErrNotFound,
				},
				{
					conditions: []weave.Condition{appCond},
					msg: &SafeRegisterMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
						Handle:   "nobody",
					},
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				var binding Binding
				err := NewBindingBucket().One(db, custA, &binding)
				assert.Nil(t, err)
				assert.Equal(t, true, binding.IsOrganic())
			},
		},
		"referring via a not yet enabled affiliate fails strictly": {
			actions: []action{
				{
					conditions: []weave.Condition{ownerCond},
					msg:        registerApp,
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{appCond},
					msg: &RegisterReferredMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
						Handle:   "alice",
					},
					wantDeliverErr: ErrDisabled,
				},
			},
		},
		"disabling an affiliate stops future earnings": {
			actions: []action{
				{
					conditions: []weave.Condition{ownerCond},
					msg:        registerApp,
				},
				{
					conditions: []weave.Condition{aliceCond},
					msg: &ApplyMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Handle:   "alice",
						Owner:    aliceCond.Address(),
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					msg: &VerifyMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
				},
				{
					conditions: []weave.Condition{appCond},
					msg: &RegisterReferredMsg{
						Metadata: &weave.Metadata{Schema: 1},
						Customer: custA,
						Handle:   "alice",
					},
				},
				{
					conditions: []weave.Condition{adminCond},
					msg: &DisableMsg{
						Metadata:    &weave.Metadata{Schema: 1},
						AffiliateID: weavetest.SequenceID(1),
					},
				},
			},
			afterTest: func(t *testing.T, db weave.KVStore) {
				// The classification stays but yields nothing.
				var binding Binding
				err := NewBindingBucket().One(db, custA, &binding)
				assert.Nil(t, err)
				assert.Equal(t, false, binding.IsOrganic())

				owner, split, err := NewController().FeeSplit(db, custA)
				assert.Nil(t, err)
				if owner != nil || split != 0 {
					t.Fatalf("disabled affiliate must have no fee split: %q %d", owner, split)
				}
			},
		},
	}

	for testName, tc := range cases {
		t.Run(testName, func(t *testing.T) {
			db := store.MemStore()
			migration.MustInitPkg(db, "affiliate")

			conf := Configuration{
				Metadata:          &weave.Metadata{Schema: 1},
				Owner:             ownerCond.Address(),
				Admin:             adminCond.Address(),
				AffiliateSplitBps: 5000,
			}
			if err := gconf.Save(db, "affiliate", &conf); err != nil {
				t.Fatalf("cannot save configuration: %s", err)
			}

			rt := app.NewRouter()
			auth := &weavetest.CtxAuth{Key: "auth"}
			RegisterRoutes(rt, auth)

			for i, a := range tc.actions {
				cache := db.CacheWrap()
				if _, err := rt.Check(a.ctx(), cache, a.tx()); !a.wantCheckErr.Is(err) {
					t.Logf("want: %+v", a.wantCheckErr)
					t.Logf(" got: %+v", err)
					t.Fatalf("action %d check (%T)", i, a.msg)
				}
				cache.Discard()

				if _, err := rt.Deliver(a.ctx(), db, a.tx()); !a.wantDeliverErr.Is(err) {
					t.Logf("want: %+v", a.wantDeliverErr)
					t.Logf(" got: %+v", err)
					t.Fatalf("action %d deliver (%T)", i, a.msg)
				}
			}
			if tc.afterTest != nil {
				tc.afterTest(t, db)
			}
		})
	}
}

// action represents a single request call that is handled by a handler.
type action struct {
	conditions []weave.Condition
	msg        weave.Msg
	blocksize  int64
	// wantCheckErr and wantDeliverErr can be nil to expect no error.
	wantCheckErr   *errors.Error
	wantDeliverErr *errors.Error
}

func (a *action) tx() weave.Tx {
	return &weavetest.Tx{Msg: a.msg}
}

func (a *action) ctx() weave.Context {
	ctx := weave.WithHeight(context.Background(), a.blocksize)
	ctx = weave.WithChainID(ctx, "testchain-123")
	auth := &weavetest.CtxAuth{Key: "auth"}
	return auth.SetConditions(ctx, a.conditions...)
}
