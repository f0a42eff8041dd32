package state

import (
	"math/big"
)

// Venue is the state-backed liquidity venue: allocations move funds from the
// custody vault into a pool account and recalls move them back. It stands in
// for an external venue so the daemon runs end-to-end without one.
type Venue struct {
	manager *Manager
	vault   [20]byte
	pool    [20]byte
}

// NewVenue binds the venue to the custody vault and its pool account.
func NewVenue(manager *Manager, vault, pool [20]byte) *Venue {
	return &Venue{manager: manager, vault: vault, pool: pool}
}

// Provide moves amount of token from the vault into the pool.
func (v *Venue) Provide(token string, amount *big.Int) error {
	return v.manager.Transfer(token, v.vault, v.pool, amount)
}

// Withdraw moves amount of token from the pool back into the vault.
func (v *Venue) Withdraw(token string, amount *big.Int) error {
	return v.manager.Transfer(token, v.pool, v.vault, amount)
}
