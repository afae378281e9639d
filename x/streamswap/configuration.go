package streamswap

import (
	"github.com/iov-one/weave/errors"
	"github.com/iov-one/weave/gconf"
	"github.com/iov-one/weave/migration"
)

func init() {
	migration.MustRegister(1, &Configuration{}, migration.NoModification)
}

func (c *Configuration) Validate() error {
	var errs error
	errs = errors.AppendField(errs, "Metadata", c.Metadata.Validate())
	errs = errors.AppendField(errs, "Owner", c.Owner.Validate())
	if c.CallerFeeBps > 10000 {
		errs = errors.AppendField(errs, "CallerFeeBps",
			errors.Wrap(errors.ErrInput, "basis points cannot be greater than 10000"))
	}
	if c.CallerFeeCap < 0 {
		errs = errors.AppendField(errs, "CallerFeeCap",
			errors.Wrap(errors.ErrInput, "cannot be negative"))
	}
	return errs
}

func loadConf(db gconf.ReadStore) (*Configuration, error) {
	var conf Configuration
	if err := gconf.Load(db, "streamswap", &conf); err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	return &conf, nil
}
