package affiliate

import (
	"bytes"
	"regexp"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/migration"
	"github.com/iov-one/weave/orm"
)

func init() {
	migration.MustRegister(1, &Affiliate{}, migration.NoModification)
	migration.MustRegister(1, &Binding{}, migration.NoModification)
	migration.MustRegister(1, &App{}, migration.NoModification)
}

var validHandle = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

var _ orm.CloneableData = (*Affiliate)(nil)

func (a *Affiliate) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", a.Metadata.Validate())
	if !validHandle.MatchString(a.Handle) {
		errs = errors.AppendField(errs, "Handle",
			errors.Wrap(errors.ErrInput, "invalid handle"))
	}
	errs = errors.AppendField(errs, "Owner", a.Owner.Validate())
	return errs
}

func (a *Affiliate) Copy() orm.CloneableData {
	return &Affiliate{
		Metadata:      a.Metadata.Copy(),
		Handle:        a.Handle,
		Owner:         a.Owner.Clone(),
		Enabled:       a.Enabled,
		TotalReferred: a.TotalReferred,
	}
}

// NewAffiliateBucket returns a bucket for keeping track of affiliates. Each
// affiliate gets a sequence ID and can be looked up by its unique handle.
func NewAffiliateBucket() orm.ModelBucket {
	b := orm.NewModelBucket("affil", &Affiliate{},
		orm.WithIDSequence(affiliateSeq),
		orm.WithIndex("handle", idxAffiliateHandle, true),
	)
	return migration.NewModelBucket("affiliate", b)
}

var affiliateSeq = orm.NewSequence("affiliate", "id")

func idxAffiliateHandle(obj orm.Object) ([]byte, error) {
	a, err := asAffiliate(obj)
	if err != nil {
		return nil, err
	}
	return []byte(a.Handle), nil
}

func asAffiliate(obj orm.Object) (*Affiliate, error) {
	if obj == nil || obj.Value() == nil {
		return nil, errors.Wrap(errors.ErrHuman, "cannot take index of nil")
	}
	a, ok := obj.Value().(*Affiliate)
	if !ok {
		return nil, errors.Wrap(errors.ErrHuman, "can only take index of Affiliate")
	}
	return a, nil
}

// organicID is the affiliate ID stored in a binding of a customer that was
// classified without a referrer. Sequences start counting at one so the zero
// ID can never reference an affiliate.
var organicID = make([]byte, 8)

var _ orm.CloneableData = (*Binding)(nil)

func (b *Binding) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", b.Metadata.Validate())
	if len(b.AffiliateID) != 8 {
		errs = errors.AppendField(errs, "AffiliateID",
			errors.Wrap(errors.ErrInput, "8 byte sequence ID expected"))
	}
	return errs
}

func (b *Binding) Copy() orm.CloneableData {
	return &Binding{
		Metadata:    b.Metadata.Copy(),
		AffiliateID: append([]byte(nil), b.AffiliateID...),
	}
}

// IsOrganic returns true if this binding classifies the customer as acquired
// without a referrer.
func (b *Binding) IsOrganic() bool {
	return bytes.Equal(b.AffiliateID, organicID)
}

// NewBindingBucket returns a bucket for customer classifications. Bindings
// are keyed by the customer address and are never updated once written.
func NewBindingBucket() orm.ModelBucket {
	b := orm.NewModelBucket("affbind", &Binding{})
	return migration.NewModelBucket("affiliate", b)
}

var _ orm.CloneableData = (*App)(nil)

func (a *App) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", a.Metadata.Validate())
	if n := len(a.Name); n == 0 || n > 64 {
		errs = errors.AppendField(errs, "Name",
			errors.Wrap(errors.ErrInput, "name must be between 1 and 64 characters"))
	}
	return errs
}

func (a *App) Copy() orm.CloneableData {
	return &App{
		Metadata: a.Metadata.Copy(),
		Name:     a.Name,
	}
}

// NewAppBucket returns a bucket with the applications that are allowed to
// classify customers. Entries are keyed by the application address.
func NewAppBucket() orm.ModelBucket {
	b := orm.NewModelBucket("affapp", &App{})
	return migration.NewModelBucket("affiliate", b)
}

// RegisterQuery registers affiliate buckets for querying.
func RegisterQuery(qr weave.QueryRouter) {
	NewAffiliateBucket().Register("affiliates", qr)
	NewBindingBucket().Register("affiliatebindings", qr)
	NewAppBucket().Register("affiliateapps", qr)
}
