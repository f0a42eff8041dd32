package distribution

import (
	"math/big"
)

// PayoutInstruction describes one payout in a batch. Instructions are
// transient; they are consumed within a single call and never persisted.
type PayoutInstruction struct {
	DestinationDomain uint64
	Token             string
	Recipient         [20]byte
	Amount            *big.Int
	PayeeID           [32]byte
}

// PayoutResult reports the outcome of one instruction. Results are returned in
// the instructions' original order; one item's failure never blocks another.
type PayoutResult struct {
	PayeeID       [32]byte
	Success       bool
	ExternalTxRef [32]byte
	ActualAmount  *big.Int
}

// Adapter moves value to another settlement domain. Bridge either completes
// the transfer of custody or returns an error before returning; no pending
// state is modeled.
type Adapter interface {
	Bridge(token string, recipient [20]byte, amount *big.Int, domain uint64) ([32]byte, error)
	EstimateFee(domain uint64, amount *big.Int) (*big.Int, error)
}
