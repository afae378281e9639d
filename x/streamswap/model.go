package streamswap

import (
	"encoding/binary"

	"github.com/iov-one/weave"
	"github.com/iov-one/weave/coin"
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/migration"
	"github.com/iov-one/weave/orm"
)

func init() {
	migration.MustRegister(1, &Market{}, migration.NoModification)
	migration.MustRegister(1, &Stream{}, migration.NoModification)
	migration.MustRegister(1, &Position{}, migration.NoModification)
	migration.MustRegister(1, &TradeEpoch{}, migration.NoModification)
}

var _ orm.CloneableData = (*Market)(nil)

func (m *Market) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", m.Metadata.Validate())
	errs = errors.AppendField(errs, "Admin", m.Admin.Validate())
	if !coin.IsCC(m.Input) {
		errs = errors.AppendField(errs, "Input",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if !coin.IsCC(m.Output) {
		errs = errors.AppendField(errs, "Output",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if m.Subsidy != "" && !coin.IsCC(m.Subsidy) {
		errs = errors.AppendField(errs, "Subsidy",
			errors.Wrap(errors.ErrCurrency, "invalid ticker"))
	}
	if m.ShareScaler < 1 {
		errs = errors.AppendField(errs, "ShareScaler",
			errors.Wrap(errors.ErrInput, "must be a positive integer"))
	}
	if m.MinRate < 0 {
		errs = errors.AppendField(errs, "MinRate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if m.FeeBps > 10000 {
		errs = errors.AppendField(errs, "FeeBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	if m.ToleranceBps > 10000 {
		errs = errors.AppendField(errs, "ToleranceBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	if m.EmissionRate < 0 {
		errs = errors.AppendField(errs, "EmissionRate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if m.State != MarketRunning && m.State != MarketRecovery {
		errs = errors.AppendField(errs, "State",
			errors.Wrap(errors.ErrState, "invalid market state"))
	}
	errs = errors.AppendField(errs, "Address", m.Address.Validate())
	return errs
}

func (m *Market) Copy() orm.CloneableData {
	return &Market{
		Metadata:           m.Metadata.Copy(),
		Admin:              m.Admin.Clone(),
		Input:              m.Input,
		Output:             m.Output,
		Subsidy:            m.Subsidy,
		ShareScaler:        m.ShareScaler,
		MinRate:            m.MinRate,
		FeeBps:             m.FeeBps,
		ToleranceBps:       m.ToleranceBps,
		EmissionRate:       m.EmissionRate,
		TotalUnits:         m.TotalUnits,
		CumulativeIndex:    m.CumulativeIndex,
		SubsidyIndex:       m.SubsidyIndex,
		Residue:            m.Residue,
		SubsidyResidue:     m.SubsidyResidue,
		LastDistributionAt: m.LastDistributionAt,
		State:              m.State,
		StreamCount:        m.StreamCount,
		Address:            m.Address.Clone(),
		TotalRate:          m.TotalRate,
	}
}

// NewMarketBucket returns a bucket for keeping track of markets. Markets get
// a sequence ID and can be looked up by their input ticker. Several markets
// can be fed by the same input asset.
func NewMarketBucket() orm.ModelBucket {
	b := orm.NewModelBucket("swapmkt", &Market{},
		orm.WithIDSequence(marketSeq),
		orm.WithIndex("input", idxMarketInput, false),
	)
	return migration.NewModelBucket("streamswap", b)
}

var marketSeq = orm.NewSequence("market", "id")

func idxMarketInput(obj orm.Object) ([]byte, error) {
	if obj == nil || obj.Value() == nil {
		return nil, errors.Wrap(errors.ErrHuman, "no market")
	}
	m, ok := obj.Value().(*Market)
	if !ok {
		return nil, errors.Wrap(errors.ErrHuman, "not a market")
	}
	return []byte(m.Input), nil
}

// marketAccount returns the address of the pool account of a market. All
// accrued input, swap proceeds and subsidy of the market are held there.
func marketAccount(marketID []byte) weave.Address {
	return weave.NewCondition("swapmkt", "pool", marketID).Address()
}

var _ orm.CloneableData = (*Stream)(nil)

func (s *Stream) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", s.Metadata.Validate())
	if s.Rate < 0 {
		errs = errors.AppendField(errs, "Rate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if s.Units < 0 || s.OwnerUnits < 0 || s.AffiliateUnits < 0 {
		errs = errors.AppendField(errs, "Units",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if len(s.AffiliateOwner) != 0 {
		errs = errors.AppendField(errs, "AffiliateOwner", s.AffiliateOwner.Validate())
	}
	return errs
}

func (s *Stream) Copy() orm.CloneableData {
	return &Stream{
		Metadata:       s.Metadata.Copy(),
		Rate:           s.Rate,
		Units:          s.Units,
		OwnerUnits:     s.OwnerUnits,
		AffiliateUnits: s.AffiliateUnits,
		AffiliateOwner: s.AffiliateOwner.Clone(),
		EpochCount:     s.EpochCount,
	}
}

// NewStreamBucket returns a bucket for keeping track of payment streams.
// A stream is keyed by the market ID and the payer address.
func NewStreamBucket() orm.ModelBucket {
	b := orm.NewModelBucket("swapstream", &Stream{})
	return migration.NewModelBucket("streamswap", b)
}

func streamKey(marketID []byte, account weave.Address) []byte {
	key := make([]byte, 0, len(marketID)+len(account))
	key = append(key, marketID...)
	return append(key, account...)
}

var _ orm.CloneableData = (*Position)(nil)

func (p *Position) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", p.Metadata.Validate())
	if p.Units < 0 {
		errs = errors.AppendField(errs, "Units",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	return errs
}

func (p *Position) Copy() orm.CloneableData {
	return &Position{
		Metadata:            p.Metadata.Copy(),
		Units:               p.Units,
		SettledIndex:        p.SettledIndex,
		SettledSubsidyIndex: p.SettledSubsidyIndex,
	}
}

// NewPositionBucket returns a bucket for keeping track of distribution unit
// positions. A position is keyed by the market ID and the holder address.
// Payers, the protocol owner and affiliates all hold positions.
func NewPositionBucket() orm.ModelBucket {
	b := orm.NewModelBucket("swappos", &Position{})
	return migration.NewModelBucket("streamswap", b)
}

var _ orm.CloneableData = (*TradeEpoch)(nil)

func (e *TradeEpoch) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", e.Metadata.Validate())
	if e.Rate < 0 {
		errs = errors.AppendField(errs, "Rate",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if e.Units < 0 {
		errs = errors.AppendField(errs, "Units",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	if e.Closed && e.EndTime < e.StartTime {
		errs = errors.AppendField(errs, "EndTime",
			errors.Wrap(errors.ErrState, "cannot end before it started"))
	}
	return errs
}

func (e *TradeEpoch) Copy() orm.CloneableData {
	return &TradeEpoch{
		Metadata:          e.Metadata.Copy(),
		StartTime:         e.StartTime,
		EndTime:           e.EndTime,
		Rate:              e.Rate,
		Units:             e.Units,
		StartIndex:        e.StartIndex,
		EndIndex:          e.EndIndex,
		StartSubsidyIndex: e.StartSubsidyIndex,
		EndSubsidyIndex:   e.EndSubsidyIndex,
		Closed:            e.Closed,
	}
}

// NewEpochBucket returns a bucket for keeping track of trade epochs, the
// immutable per stream accounting records. An epoch is keyed by the market
// ID, the payer address and the per stream epoch number.
func NewEpochBucket() orm.ModelBucket {
	b := orm.NewModelBucket("swapepoch", &TradeEpoch{})
	return migration.NewModelBucket("streamswap", b)
}

func epochKey(marketID []byte, account weave.Address, epoch uint64) []byte {
	key := make([]byte, 0, len(marketID)+len(account)+8)
	key = append(key, marketID...)
	key = append(key, account...)
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, epoch)
	return append(key, raw...)
}

// RegisterQuery registers buckets for queries.
func RegisterQuery(qr weave.QueryRouter) {
	NewMarketBucket().Register("markets", qr)
	NewStreamBucket().Register("streams", qr)
	NewPositionBucket().Register("positions", qr)
	NewEpochBucket().Register("epochs", qr)
	NewNextDistributionQuery().RegisterQuery(qr)
}
