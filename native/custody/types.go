package custody

import (
	"fmt"
	"math/big"
	"strings"
)

// TokenAccount tracks the custody engine's view of a single token. The three
// buckets always sum to the balance actually held on behalf of the system:
// available + locked + allocated == totalCustodied.
type TokenAccount struct {
	Available *big.Int
	Locked    *big.Int
	Allocated *big.Int
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return &TokenAccount{Available: big.NewInt(0), Locked: big.NewInt(0), Allocated: big.NewInt(0)}
	}
	clone := &TokenAccount{
		Available: big.NewInt(0),
		Locked:    big.NewInt(0),
		Allocated: big.NewInt(0),
	}
	if a.Available != nil {
		clone.Available = new(big.Int).Set(a.Available)
	}
	if a.Locked != nil {
		clone.Locked = new(big.Int).Set(a.Locked)
	}
	if a.Allocated != nil {
		clone.Allocated = new(big.Int).Set(a.Allocated)
	}
	return clone
}

// Lock reserves part of a token's available balance for a payroll session. At
// most one lock may exist per (session, token) pair.
type Lock struct {
	Amount *big.Int
}

// Clone returns a deep copy of the lock.
func (l *Lock) Clone() *Lock {
	if l == nil {
		return &Lock{Amount: big.NewInt(0)}
	}
	clone := &Lock{Amount: big.NewInt(0)}
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	return clone
}

// NormalizeToken canonicalises a token symbol to uppercase and rejects empty
// values. Whether the token is supported is decided by the state registry.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("custody: token symbol required")
	}
	return trimmed, nil
}
