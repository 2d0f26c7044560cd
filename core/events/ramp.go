package events

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"rampledger/core/types"
)

const (
	// TypeRampDeposit marks an off-ramp deposit awaiting off-chain settlement.
	TypeRampDeposit = "ramp.deposit"

	// RampDepositLogPrefix precedes the base64 payload in notification log lines.
	RampDepositLogPrefix = "RampDeposit:"
)

// RampDeposit is the settlement notification emitted for every successful
// deposit. Its RLP encoding is the stable wire format consumed off-chain; new
// fields may only be appended.
type RampDeposit struct {
	Asset     [32]byte
	AssetName string
	Amount    uint64
	Depositor [32]byte
	Region    uint8
	Medium    uint8
	Data      []byte
	// Ledger was appended after the first release; lines without it still
	// decode with a zero ledger.
	Ledger    [32]byte `rlp:"optional"`
}

// EventType satisfies the events.Event interface.
func (RampDeposit) EventType() string { return TypeRampDeposit }

// Event converts the notification into a broadcastable event.
func (e RampDeposit) Event() *types.Event {
	attrs := map[string]string{
		"asset":     hex.EncodeToString(e.Asset[:]),
		"amount":    strconv.FormatUint(e.Amount, 10),
		"depositor": hex.EncodeToString(e.Depositor[:]),
		"region":    strconv.FormatUint(uint64(e.Region), 10),
		"medium":    strconv.FormatUint(uint64(e.Medium), 10),
		"ledger":    hex.EncodeToString(e.Ledger[:]),
	}
	if name := normalizeAsset(e.AssetName); name != "" {
		attrs["assetName"] = name
	}
	if len(e.Data) > 0 {
		attrs["data"] = base64.StdEncoding.EncodeToString(e.Data)
	}
	return &types.Event{Type: TypeRampDeposit, Attributes: attrs}
}

// LogLine renders the notification as "RampDeposit:<base64(rlp)>".
func (e RampDeposit) LogLine() (string, error) {
	encoded, err := rlp.EncodeToBytes(&e)
	if err != nil {
		return "", fmt.Errorf("events: encode ramp deposit: %w", err)
	}
	return RampDepositLogPrefix + base64.StdEncoding.EncodeToString(encoded), nil
}

// ParseRampDeposit decodes a notification log line produced by LogLine.
func ParseRampDeposit(line string) (*RampDeposit, error) {
	trimmed := strings.TrimSpace(line)
	if idx := strings.Index(trimmed, RampDepositLogPrefix); idx >= 0 {
		trimmed = trimmed[idx+len(RampDepositLogPrefix):]
	} else {
		return nil, fmt.Errorf("events: missing %q prefix", RampDepositLogPrefix)
	}
	raw, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("events: decode ramp deposit payload: %w", err)
	}
	out := new(RampDeposit)
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return nil, fmt.Errorf("events: decode ramp deposit: %w", err)
	}
	return out, nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
