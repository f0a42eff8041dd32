package distribution

import (
	"encoding/hex"
	"strconv"

	"payvault/core/types"
)

const (
	EventTypePayoutSucceeded = "distribution.payout.succeeded"
	EventTypePayoutFailed    = "distribution.payout.failed"
)

// NewPayoutSucceededEvent returns the payload emitted for a completed payout.
func NewPayoutSucceededEvent(inst PayoutInstruction, result PayoutResult) *types.Event {
	attrs := instructionAttrs(inst)
	if result.ActualAmount != nil {
		attrs["actualAmount"] = result.ActualAmount.String()
	}
	if result.ExternalTxRef != ([32]byte{}) {
		attrs["externalTxRef"] = hex.EncodeToString(result.ExternalTxRef[:])
	}
	return &types.Event{Type: EventTypePayoutSucceeded, Attributes: attrs}
}

// NewPayoutFailedEvent returns the payload emitted when an instruction fails.
func NewPayoutFailedEvent(inst PayoutInstruction, reason string) *types.Event {
	attrs := instructionAttrs(inst)
	attrs["reason"] = reason
	return &types.Event{Type: EventTypePayoutFailed, Attributes: attrs}
}

func instructionAttrs(inst PayoutInstruction) map[string]string {
	attrs := map[string]string{
		"payeeId":   hex.EncodeToString(inst.PayeeID[:]),
		"recipient": hex.EncodeToString(inst.Recipient[:]),
		"token":     inst.Token,
		"domain":    strconv.FormatUint(inst.DestinationDomain, 10),
	}
	if inst.Amount != nil {
		attrs["amount"] = inst.Amount.String()
	}
	return attrs
}
