package streamswap

import (
	"github.com/iov-one/weave"
	"github.com/iov-one/weave/coin"
)

// Venue executes a spot swap against an external exchange. The funds are
// taken from and credited to the source account.
type Venue interface {
	// Swap sells the offer amount and returns what was acquired. The
	// implementation must not fill below minReceive. Route is venue
	// specific routing data, passed through opaque.
	Swap(db weave.KVStore, source weave.Address, offer coin.Coin, minReceive coin.Coin, route []byte) (coin.Coin, error)
}

// Oracle provides the reference price used to bound acceptable swap fills.
type Oracle interface {
	// Price returns how many receive ticker fractional units one offer
	// ticker fractional unit is worth.
	Price(db weave.ReadOnlyKVStore, offerTicker, receiveTicker string) (weave.Fraction, error)
}
