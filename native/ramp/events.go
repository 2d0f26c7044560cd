package ramp

import (
	"encoding/hex"
	"strconv"

	"github.com/holiman/uint256"

	"rampledger/core/events"
	"rampledger/core/types"
)

const (
	EventTypeInitialized      = "ramp.initialized"
	EventTypeOwnerChanged     = "ramp.owner.changed"
	EventTypeActiveChanged    = "ramp.active.changed"
	EventTypeAssetAdded       = "ramp.asset.added"
	EventTypeAssetRemoved     = "ramp.asset.removed"
	EventTypeAssetFeeChanged  = "ramp.asset.fee_changed"
	EventTypeNativeFeeChanged = "ramp.native.fee_changed"
	EventTypeWithdraw         = "ramp.withdraw"
	EventTypeVaultChanged     = "ramp.vault.changed"
	EventTypeRevenueSwept     = "ramp.revenue.swept"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func idHex(id [32]byte) string { return "0x" + hex.EncodeToString(id[:]) }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func ledgerEvent(kind string, ledger [32]byte, attrs map[string]string) *types.Event {
	attrs["ledger"] = idHex(ledger)
	return &types.Event{Type: kind, Attributes: attrs}
}

func InitializedEvent(ledger, owner, vault [32]byte, capacity int) *types.Event {
	return ledgerEvent(EventTypeInitialized, ledger, map[string]string{
		"owner":    idHex(owner),
		"vault":    idHex(vault),
		"capacity": strconv.Itoa(capacity),
	})
}

func OwnerChangedEvent(ledger, previous, next [32]byte) *types.Event {
	return ledgerEvent(EventTypeOwnerChanged, ledger, map[string]string{
		"previous": idHex(previous),
		"owner":    idHex(next),
	})
}

func ActiveChangedEvent(ledger [32]byte, active bool) *types.Event {
	return ledgerEvent(EventTypeActiveChanged, ledger, map[string]string{
		"active": strconv.FormatBool(active),
	})
}

func AssetAddedEvent(ledger, asset, funder [32]byte, fee, initial uint64) *types.Event {
	return ledgerEvent(EventTypeAssetAdded, ledger, map[string]string{
		"asset":         idHex(asset),
		"funder":        idHex(funder),
		"feePercentage": u64(fee),
		"initialAmount": u64(initial),
	})
}

func AssetRemovedEvent(ledger, asset, recipient [32]byte, swept, forfeited *uint256.Int) *types.Event {
	return ledgerEvent(EventTypeAssetRemoved, ledger, map[string]string{
		"asset":            idHex(asset),
		"recipient":        idHex(recipient),
		"swept":            swept.Dec(),
		"revenueForfeited": forfeited.Dec(),
	})
}

func AssetFeeChangedEvent(ledger, asset [32]byte, previous, next uint64) *types.Event {
	return ledgerEvent(EventTypeAssetFeeChanged, ledger, map[string]string{
		"asset":    idHex(asset),
		"previous": u64(previous),
		"fee":      u64(next),
	})
}

func NativeFeeChangedEvent(ledger [32]byte, previous, next uint64) *types.Event {
	return ledgerEvent(EventTypeNativeFeeChanged, ledger, map[string]string{
		"previous": u64(previous),
		"fee":      u64(next),
	})
}

// WithdrawEvent covers both asset and native on-ramp releases; native
// withdrawals carry native=true and a zero asset.
func WithdrawEvent(ledger, asset, recipient [32]byte, amount uint64, native bool) *types.Event {
	return ledgerEvent(EventTypeWithdraw, ledger, map[string]string{
		"asset":     idHex(asset),
		"recipient": idHex(recipient),
		"amount":    u64(amount),
		"native":    strconv.FormatBool(native),
	})
}

func VaultChangedEvent(ledger, previous, next [32]byte) *types.Event {
	return ledgerEvent(EventTypeVaultChanged, ledger, map[string]string{
		"previous": idHex(previous),
		"vault":    idHex(next),
	})
}

func RevenueSweptEvent(ledger, asset, vault [32]byte, amount *uint256.Int, native bool) *types.Event {
	return ledgerEvent(EventTypeRevenueSwept, ledger, map[string]string{
		"asset":  idHex(asset),
		"vault":  idHex(vault),
		"amount": amount.Dec(),
		"native": strconv.FormatBool(native),
	})
}
