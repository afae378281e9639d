package affiliate

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/migration"
)

func init() {
	migration.MustRegister(1, &ApplyMsg{}, migration.NoModification)
	migration.MustRegister(1, &VerifyMsg{}, migration.NoModification)
	migration.MustRegister(1, &DisableMsg{}, migration.NoModification)
	migration.MustRegister(1, &ChangeAddressMsg{}, migration.NoModification)
	migration.MustRegister(1, &WithdrawMsg{}, migration.NoModification)
	migration.MustRegister(1, &RegisterAppMsg{}, migration.NoModification)
	migration.MustRegister(1, &RegisterOrganicMsg{}, migration.NoModification)
	migration.MustRegister(1, &RegisterReferredMsg{}, migration.NoModification)
	migration.MustRegister(1, &SafeRegisterMsg{}, migration.NoModification)
	migration.MustRegister(1, &UpdateConfigurationMsg{}, migration.NoModification)
}

var _ weave.Msg = (*ApplyMsg)(nil)

func (ApplyMsg) Path() string {
	return "affiliate/apply"
}

func (msg *ApplyMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	if !validHandle.MatchString(msg.Handle) {
		errs = errors.AppendField(errs, "Handle",
			errors.Wrap(errors.ErrInput, "invalid handle"))
	}
	errs = errors.AppendField(errs, "Owner", msg.Owner.Validate())
	return errs
}

var _ weave.Msg = (*VerifyMsg)(nil)

func (VerifyMsg) Path() string {
	return "affiliate/verify"
}

func (msg *VerifyMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "AffiliateID", validateSequenceID(msg.AffiliateID))
	return errs
}

var _ weave.Msg = (*DisableMsg)(nil)

func (DisableMsg) Path() string {
	return "affiliate/disable"
}

func (msg *DisableMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "AffiliateID", validateSequenceID(msg.AffiliateID))
	return errs
}

var _ weave.Msg = (*ChangeAddressMsg)(nil)

func (ChangeAddressMsg) Path() string {
	return "affiliate/change_address"
}

func (msg *ChangeAddressMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "AffiliateID", validateSequenceID(msg.AffiliateID))
	errs = errors.AppendField(errs, "NewOwner", msg.NewOwner.Validate())
	return errs
}

var _ weave.Msg = (*WithdrawMsg)(nil)

func (WithdrawMsg) Path() string {
	return "affiliate/withdraw"
}

func (msg *WithdrawMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "AffiliateID", validateSequenceID(msg.AffiliateID))
	return errs
}

var _ weave.Msg = (*RegisterAppMsg)(nil)

func (RegisterAppMsg) Path() string {
	return "affiliate/register_app"
}

func (msg *RegisterAppMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Address", msg.Address.Validate())
	if n := len(msg.Name); n == 0 || n > 64 {
		errs = errors.AppendField(errs, "Name",
			errors.Wrap(errors.ErrInput, "name must be between 1 and 64 characters"))
	}
	return errs
}

var _ weave.Msg = (*RegisterOrganicMsg)(nil)

func (RegisterOrganicMsg) Path() string {
	return "affiliate/register_organic"
}

func (msg *RegisterOrganicMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Customer", msg.Customer.Validate())
	return errs
}

var _ weave.Msg = (*RegisterReferredMsg)(nil)

func (RegisterReferredMsg) Path() string {
	return "affiliate/register_referred"
}

func (msg *RegisterReferredMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Customer", msg.Customer.Validate())
	if !validHandle.MatchString(msg.Handle) {
		errs = errors.AppendField(errs, "Handle",
			errors.Wrap(errors.ErrInput, "invalid handle"))
	}
	return errs
}

var _ weave.Msg = (*SafeRegisterMsg)(nil)

func (SafeRegisterMsg) Path() string {
	return "affiliate/safe_register"
}

func (msg *SafeRegisterMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Customer", msg.Customer.Validate())
	// An empty handle is allowed and classifies the customer as organic.
	if msg.Handle != "" && !validHandle.MatchString(msg.Handle) {
		errs = errors.AppendField(errs, "Handle",
			errors.Wrap(errors.ErrInput, "invalid handle"))
	}
	return errs
}

var _ weave.Msg = (*UpdateConfigurationMsg)(nil)

func (UpdateConfigurationMsg) Path() string {
	return "affiliate/update_configuration"
}

func (msg *UpdateConfigurationMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	if msg.Patch == nil {
		errs = errors.AppendField(errs, "Patch",
			errors.Wrap(errors.ErrEmpty, "configuration patch required"))
	}
	return errs
}

func validateSequenceID(id []byte) error {
	if len(id) != 8 {
		return errors.Wrap(errors.ErrInput, "8 byte sequence ID expected")
	}
	return nil
}
