package affiliate

import "github.com/iov-one/weave/errors"

var (
	// ErrBound is returned when a customer classification exists already.
	// A binding is written once and never changed.
	ErrBound = errors.Register(1210, "customer already classified")

	// ErrEnabled is returned when an operation is available only for an
	// affiliate record that was never enabled.
	ErrEnabled = errors.Register(1211, "affiliate enabled")

	// ErrDisabled is returned when an affiliate cannot take part in an
	// operation because it is not enabled.
	ErrDisabled = errors.Register(1212, "affiliate not enabled")
)
