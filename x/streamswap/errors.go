package streamswap

import (
	"github.com/iov-one/weave/errors"
)

var (
	// ErrNotScalable is returned when a payment rate cannot be converted
	// into a whole number of distribution units.
	ErrNotScalable = errors.Register(1200, "rate not scalable")

	// ErrMinRate is returned when a payment rate is positive but below
	// the market minimum.
	ErrMinRate = errors.Register(1201, "rate below market minimum")

	// ErrRateTolerance is returned when a swap fill deviates from the
	// reference price by more than the market tolerance.
	ErrRateTolerance = errors.Register(1202, "fill outside of rate tolerance")

	// ErrSolvent is returned when closing a stream of a payer that still
	// keeps enough input asset runway.
	ErrSolvent = errors.Register(1203, "payer account is solvent")

	// ErrStreamers is returned when draining a market that still has
	// open streams.
	ErrStreamers = errors.Register(1204, "market has open streams")
)
