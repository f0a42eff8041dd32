package payroll

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"payvault/core/types"
)

const (
	EventTypeSessionCreated   = "payroll.session.created"
	EventTypeSessionStarted   = "payroll.session.started"
	EventTypeSessionClosed    = "payroll.session.closed"
	EventTypeSessionSettled   = "payroll.session.settled"
	EventTypeSessionCancelled = "payroll.session.cancelled"
	EventTypePayoutClaimed    = "payroll.payout.claimed"
)

// NewSessionCreatedEvent returns the canonical payload for a newly created
// session.
func NewSessionCreatedEvent(s *Session) *types.Event {
	return newSessionEvent(EventTypeSessionCreated, s)
}

// NewSessionStartedEvent returns the payload emitted when a session activates.
func NewSessionStartedEvent(s *Session) *types.Event {
	return newSessionEvent(EventTypeSessionStarted, s)
}

// NewSessionClosedEvent returns the payload emitted when the manifest root is
// published.
func NewSessionClosedEvent(s *Session) *types.Event {
	return newSessionEvent(EventTypeSessionClosed, s)
}

// NewSessionSettledEvent returns the payload emitted when the keeper settles a
// session.
func NewSessionSettledEvent(s *Session) *types.Event {
	return newSessionEvent(EventTypeSessionSettled, s)
}

// NewSessionCancelledEvent returns the payload emitted when the company
// cancels a session.
func NewSessionCancelledEvent(s *Session) *types.Event {
	return newSessionEvent(EventTypeSessionCancelled, s)
}

// NewPayoutClaimedEvent returns the payload emitted for a successful claim.
func NewPayoutClaimedEvent(s *Session, payeeID [32]byte, recipient [20]byte, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["sessionId"] = hex.EncodeToString(s.ID[:])
		attrs["token"] = s.Token
	}
	attrs["payeeId"] = hex.EncodeToString(payeeID[:])
	attrs["recipient"] = hex.EncodeToString(recipient[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypePayoutClaimed, Attributes: attrs}
}

func newSessionEvent(eventType string, s *Session) *types.Event {
	attrs := make(map[string]string)
	if s == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["sessionId"] = hex.EncodeToString(s.ID[:])
	attrs["company"] = hex.EncodeToString(s.Company[:])
	attrs["token"] = s.Token
	if s.TotalAmount != nil {
		attrs["totalAmount"] = s.TotalAmount.String()
	}
	attrs["employeeCount"] = strconv.FormatUint(uint64(s.EmployeeCount), 10)
	attrs["status"] = s.Status.String()
	if s.StateRoot != ([32]byte{}) {
		attrs["stateRoot"] = hex.EncodeToString(s.StateRoot[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
