package custody

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"payvault/core/types"
)

const (
	EventTypeDeposited          = "custody.deposited"
	EventTypeWithdrawn          = "custody.withdrawn"
	EventTypeEmergencyWithdrawn = "custody.emergency_withdrawn"
	EventTypeAllocated          = "custody.allocated"
	EventTypeRecalled           = "custody.recalled"
	EventTypeLocked             = "custody.locked"
	EventTypeReleased           = "custody.released"
	EventTypePaused             = "custody.paused"
	EventTypeUnpaused           = "custody.unpaused"
)

// NewDepositedEvent returns the canonical payload emitted when funds enter the
// vault.
func NewDepositedEvent(token string, from [20]byte, amount *big.Int) *types.Event {
	attrs := baseAttrs(token, amount)
	attrs["from"] = hex.EncodeToString(from[:])
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewWithdrawnEvent returns the canonical payload emitted when the admin pulls
// funds out of the vault.
func NewWithdrawnEvent(token string, to [20]byte, amount *big.Int) *types.Event {
	attrs := baseAttrs(token, amount)
	attrs["to"] = hex.EncodeToString(to[:])
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

// NewEmergencyWithdrawnEvent returns the payload emitted when the kill switch
// sweeps a token.
func NewEmergencyWithdrawnEvent(token string, to [20]byte, amount *big.Int) *types.Event {
	attrs := baseAttrs(token, amount)
	attrs["to"] = hex.EncodeToString(to[:])
	return &types.Event{Type: EventTypeEmergencyWithdrawn, Attributes: attrs}
}

// NewAllocatedEvent returns the payload emitted when funds move to the venue.
func NewAllocatedEvent(token string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeAllocated, Attributes: baseAttrs(token, amount)}
}

// NewRecalledEvent returns the payload emitted when funds return from the
// venue.
func NewRecalledEvent(token string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRecalled, Attributes: baseAttrs(token, amount)}
}

// NewLockedEvent returns the payload emitted when a session budget is locked.
func NewLockedEvent(token string, sessionID [32]byte, amount *big.Int) *types.Event {
	attrs := baseAttrs(token, amount)
	attrs["sessionId"] = hex.EncodeToString(sessionID[:])
	return &types.Event{Type: EventTypeLocked, Attributes: attrs}
}

// NewReleasedEvent returns the payload emitted when a session budget returns
// to the available pool.
func NewReleasedEvent(token string, sessionID [32]byte, amount *big.Int) *types.Event {
	attrs := baseAttrs(token, amount)
	attrs["sessionId"] = hex.EncodeToString(sessionID[:])
	return &types.Event{Type: EventTypeReleased, Attributes: attrs}
}

// NewPauseEvent returns the payload emitted when the pause gate toggles.
func NewPauseEvent(paused bool) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"paused": strconv.FormatBool(paused),
	}}
}

func baseAttrs(token string, amount *big.Int) map[string]string {
	attrs := map[string]string{"token": token}
	if amount != nil {
		attrs["amount"] = amount.String()
	} else {
		attrs["amount"] = "0"
	}
	return attrs
}
