package streamswap

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/coin"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/migration"
)

func init() {
	migration.MustRegister(1, &CreateMarketMsg{}, migration.NoModification)
	migration.MustRegister(1, &CreateFlowMsg{}, migration.NoModification)
	migration.MustRegister(1, &UpdateFlowMsg{}, migration.NoModification)
	migration.MustRegister(1, &TerminateFlowMsg{}, migration.NoModification)
	migration.MustRegister(1, &DistributeMsg{}, migration.NoModification)
	migration.MustRegister(1, &ClaimMsg{}, migration.NoModification)
	migration.MustRegister(1, &SetFeeMsg{}, migration.NoModification)
	migration.MustRegister(1, &SetToleranceMsg{}, migration.NoModification)
	migration.MustRegister(1, &SetEmissionMsg{}, migration.NoModification)
	migration.MustRegister(1, &EnterRecoveryMsg{}, migration.NoModification)
	migration.MustRegister(1, &EmergencyCloseStreamMsg{}, migration.NoModification)
	migration.MustRegister(1, &DrainMsg{}, migration.NoModification)
	migration.MustRegister(1, &CloseStreamMsg{}, migration.NoModification)
	migration.MustRegister(1, &UpdateConfigurationMsg{}, migration.NoModification)
}

var _ weave.Msg = (*CreateMarketMsg)(nil)

func (CreateMarketMsg) Path() string {
	return "streamswap/create_market"
}

func (msg *CreateMarketMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Admin", msg.Admin.Validate())
	if !coin.IsCC(msg.Input) {
		errs = errors.AppendField(errs, "Input",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if !coin.IsCC(msg.Output) {
		errs = errors.AppendField(errs, "Output",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if msg.Subsidy != "" && !coin.IsCC(msg.Subsidy) {
		errs = errors.AppendField(errs, "Subsidy",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if msg.ShareScaler < 1 {
		errs = errors.AppendField(errs, "ShareScaler",
			errors.Wrap(errors.ErrInput, "must be a positive integer"))
	}
	if msg.MinRate < 0 {
		errs = errors.AppendField(errs, "MinRate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if msg.FeeBps > 10000 {
		errs = errors.AppendField(errs, "FeeBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	if msg.ToleranceBps > 10000 {
		errs = errors.AppendField(errs, "ToleranceBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	if msg.EmissionRate < 0 {
		errs = errors.AppendField(errs, "EmissionRate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	return errs
}

var _ weave.Msg = (*CreateFlowMsg)(nil)

func (CreateFlowMsg) Path() string {
	return "streamswap/create_flow"
}

func (msg *CreateFlowMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Account", msg.Account.Validate())
	if !coin.IsCC(msg.Ticker) {
		errs = errors.AppendField(errs, "Ticker",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if msg.Rate < 1 {
		errs = errors.AppendField(errs, "Rate",
			errors.Wrap(errors.ErrInput, "must be a positive integer"))
	}
	return errs
}

var _ weave.Msg = (*UpdateFlowMsg)(nil)

func (UpdateFlowMsg) Path() string {
	return "streamswap/update_flow"
}

func (msg *UpdateFlowMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Account", msg.Account.Validate())
	if !coin.IsCC(msg.Ticker) {
		errs = errors.AppendField(errs, "Ticker",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if msg.Rate < 1 {
		errs = errors.AppendField(errs, "Rate",
			errors.Wrap(errors.ErrInput, "must be a positive integer"))
	}
	return errs
}

var _ weave.Msg = (*TerminateFlowMsg)(nil)

func (TerminateFlowMsg) Path() string {
	return "streamswap/terminate_flow"
}

func (msg *TerminateFlowMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "Account", msg.Account.Validate())
	if !coin.IsCC(msg.Ticker) {
		errs = errors.AppendField(errs, "Ticker",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	return errs
}

var _ weave.Msg = (*DistributeMsg)(nil)

func (DistributeMsg) Path() string {
	return "streamswap/distribute"
}

func (msg *DistributeMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	return errs
}

var _ weave.Msg = (*ClaimMsg)(nil)

func (ClaimMsg) Path() string {
	return "streamswap/claim"
}

func (msg *ClaimMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	return errs
}

var _ weave.Msg = (*SetFeeMsg)(nil)

func (SetFeeMsg) Path() string {
	return "streamswap/set_fee"
}

func (msg *SetFeeMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	if msg.FeeBps > 10000 {
		errs = errors.AppendField(errs, "FeeBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	return errs
}

var _ weave.Msg = (*SetToleranceMsg)(nil)

func (SetToleranceMsg) Path() string {
	return "streamswap/set_tolerance"
}

func (msg *SetToleranceMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	if msg.ToleranceBps > 10000 {
		errs = errors.AppendField(errs, "ToleranceBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	return errs
}

var _ weave.Msg = (*SetEmissionMsg)(nil)

func (SetEmissionMsg) Path() string {
	return "streamswap/set_emission"
}

func (msg *SetEmissionMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	if msg.EmissionRate < 0 {
		errs = errors.AppendField(errs, "EmissionRate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	return errs
}

var _ weave.Msg = (*EnterRecoveryMsg)(nil)

func (EnterRecoveryMsg) Path() string {
	return "streamswap/enter_recovery"
}

func (msg *EnterRecoveryMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	return errs
}

var _ weave.Msg = (*EmergencyCloseStreamMsg)(nil)

func (EmergencyCloseStreamMsg) Path() string {
	return "streamswap/emergency_close_stream"
}

func (msg *EmergencyCloseStreamMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	errs = errors.AppendField(errs, "Account", msg.Account.Validate())
	return errs
}

var _ weave.Msg = (*DrainMsg)(nil)

func (DrainMsg) Path() string {
	return "streamswap/drain"
}

func (msg *DrainMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	if !coin.IsCC(msg.Ticker) {
		errs = errors.AppendField(errs, "Ticker",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	return errs
}

var _ weave.Msg = (*CloseStreamMsg)(nil)

func (CloseStreamMsg) Path() string {
	return "streamswap/close_stream"
}

func (msg *CloseStreamMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	errs = errors.AppendField(errs, "MarketID", validateMarketID(msg.MarketID))
	errs = errors.AppendField(errs, "Account", msg.Account.Validate())
	return errs
}

var _ weave.Msg = (*UpdateConfigurationMsg)(nil)

func (UpdateConfigurationMsg) Path() string {
	return "streamswap/update_configuration"
}

func (msg *UpdateConfigurationMsg) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", msg.Metadata.Validate())
	if msg.Patch == nil {
		errs = errors.AppendField(errs, "Patch",
			errors.Wrap(errors.ErrEmpty, "patch is required"))
	}
	return errs
}

func validateMarketID(id []byte) error {
	if len(id) != 8 {
		return errors.Wrap(errors.ErrInput, "8 byte sequence ID expected")
	}
	return nil
}
