package payroll

import (
	"math/big"
)

// SessionStatus represents the lifecycle states of a payroll session.
type SessionStatus uint8

const (
	SessionPending SessionStatus = iota
	SessionActive
	SessionClosing
	SessionSettled
	SessionCancelled
)

// Valid reports whether the status value is within the supported range.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionClosing, SessionSettled, SessionCancelled:
		return true
	default:
		return false
	}
}

func (s SessionStatus) String() string {
	switch s {
	case SessionPending:
		return "pending"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	case SessionSettled:
		return "settled"
	case SessionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionSettled || s == SessionCancelled
}

// Session is a bounded payroll run: a locked budget, a lifecycle status and,
// once closed, a Merkle commitment to the payout manifest. The id is chosen by
// the creating company and never reused.
type Session struct {
	ID            [32]byte
	Company       [20]byte
	Token         string
	TotalAmount   *big.Int
	EmployeeCount uint32
	StartTime     int64
	EndTime       int64
	StateRoot     [32]byte
	Status        SessionStatus
	CreatedAt     int64
}

// Clone returns a deep copy so callers can mutate the copy without affecting
// the stored instance.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	if s.TotalAmount != nil {
		clone.TotalAmount = new(big.Int).Set(s.TotalAmount)
	} else {
		clone.TotalAmount = big.NewInt(0)
	}
	return &clone
}
