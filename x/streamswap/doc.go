/*
Package streamswap implements a continuous settlement engine.

Payers stream an input asset into a market at a constant per second rate.
The accrued input is collected on a pool account, periodically swapped into
the output asset on an external venue and distributed to all payers in
proportion to their distribution units through a cumulative index. Part of
every payer allocation is withheld as a fee and split between the protocol
owner and, for referred customers, the referring affiliate.

Settlement is permissionless. Whoever triggers a distribution is rewarded
with a configurable share of the swap proceeds, so keeping markets settled
is profitable for third party callers. A scheduler query exposes the
earliest point in time at which triggering pays for itself.

A market can be moved into a one way recovery state that freezes normal
settlement and unlocks the emergency operations.
*/
package streamswap
