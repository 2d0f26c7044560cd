package ramp

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// Record layout (big-endian):
//
//	0    version        1
//	1    initialized    1
//	2    owner          32
//	34   active         1
//	35   vault          32
//	67   native fee     16 (u128)
//	83   native revenue 16 (u128)
//	99   capacity       2  (u16)
//	101  slots          EntrySize * capacity
//
// Slot layout:
//
//	0    tag      1 (0 empty, 1 occupied)
//	1    asset    32
//	33   fee      16 (u128)
//	49   revenue  16 (u128)
const (
	layoutVersion byte = 0x01

	HeaderSize = 101
	EntrySize  = 65

	offInitialized  = 1
	offOwner        = 2
	offActive       = 34
	offVault        = 35
	offNativeFee    = 67
	offNativeRev    = 83
	offCapacity     = 99
	slotOffAsset    = 1
	slotOffFee      = 33
	slotOffRevenue  = 49
	u128Size        = 16
	slotTagEmpty    = 0x00
	slotTagOccupied = 0x01
)

// RecordSize returns the storage footprint of a ledger with capacity slots.
func RecordSize(capacity int) int {
	return HeaderSize + capacity*EntrySize
}

// Encode returns the fixed-layout encoding of state.
func Encode(state *LedgerState) ([]byte, error) {
	if err := state.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	buf := make([]byte, RecordSize(state.Capacity()))
	encodeTo(buf, state)
	return buf, nil
}

// EncodeInto writes the encoding of state into dst. dst is left untouched when
// the encoding does not fit; otherwise it is zero-filled before the encoding is
// copied in so stale bytes of a previous record cannot survive.
func EncodeInto(dst []byte, state *LedgerState) error {
	encoded, err := Encode(state)
	if err != nil {
		return err
	}
	if len(encoded) > len(dst) {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrOversize, len(encoded), len(dst))
	}
	clear(dst)
	copy(dst, encoded)
	return nil
}

func encodeTo(buf []byte, state *LedgerState) {
	buf[0] = layoutVersion
	buf[offInitialized] = boolByte(state.Initialized)
	copy(buf[offOwner:offOwner+32], state.Owner[:])
	buf[offActive] = boolByte(state.Active)
	copy(buf[offVault:offVault+32], state.Vault[:])
	putU128(buf[offNativeFee:], uint256.NewInt(state.NativeFeePercentage))
	putU128(buf[offNativeRev:], &state.NativeRevenue)
	binary.BigEndian.PutUint16(buf[offCapacity:], uint16(len(state.Slots)))
	for i := range state.Slots {
		slot := buf[HeaderSize+i*EntrySize : HeaderSize+(i+1)*EntrySize]
		if !state.Slots[i].Occupied {
			continue
		}
		entry := &state.Slots[i].Entry
		slot[0] = slotTagOccupied
		copy(slot[slotOffAsset:slotOffAsset+32], entry.Asset[:])
		putU128(slot[slotOffFee:], uint256.NewInt(entry.FeePercentage))
		putU128(slot[slotOffRevenue:], &entry.Revenue)
	}
}

// Decode parses a record produced by Encode. buf may be longer than the
// encoded record as long as the excess is zero.
func Decode(buf []byte) (*LedgerState, error) {
	if len(buf) < HeaderSize {
		return nil, corrupt("record is %d bytes, header needs %d", len(buf), HeaderSize)
	}
	if buf[0] != layoutVersion {
		return nil, corrupt("unknown layout version %d", buf[0])
	}
	state := &LedgerState{}
	var err error
	if state.Initialized, err = readBool(buf[offInitialized], "initialized"); err != nil {
		return nil, err
	}
	if state.Active, err = readBool(buf[offActive], "active"); err != nil {
		return nil, err
	}
	copy(state.Owner[:], buf[offOwner:offOwner+32])
	copy(state.Vault[:], buf[offVault:offVault+32])
	if state.NativeFeePercentage, err = readFee(buf[offNativeFee:]); err != nil {
		return nil, err
	}
	state.NativeRevenue.SetBytes(buf[offNativeRev : offNativeRev+u128Size])

	capacity := int(binary.BigEndian.Uint16(buf[offCapacity:]))
	if capacity == 0 || capacity > MaxCapacity {
		return nil, corrupt("capacity %d out of range", capacity)
	}
	size := RecordSize(capacity)
	if len(buf) < size {
		return nil, corrupt("record is %d bytes, capacity %d needs %d", len(buf), capacity, size)
	}
	for _, b := range buf[size:] {
		if b != 0 {
			return nil, corrupt("non-zero trailing data after %d bytes", size)
		}
	}

	state.Slots = make([]Slot, capacity)
	for i := range state.Slots {
		raw := buf[HeaderSize+i*EntrySize : HeaderSize+(i+1)*EntrySize]
		switch raw[0] {
		case slotTagEmpty:
			for _, b := range raw[1:] {
				if b != 0 {
					return nil, corrupt("slot %d: empty slot carries data", i)
				}
			}
		case slotTagOccupied:
			entry := AssetEntry{}
			copy(entry.Asset[:], raw[slotOffAsset:slotOffAsset+32])
			if entry.FeePercentage, err = readFee(raw[slotOffFee:]); err != nil {
				return nil, fmt.Errorf("slot %d: %w", i, err)
			}
			entry.Revenue.SetBytes(raw[slotOffRevenue : slotOffRevenue+u128Size])
			state.Slots[i] = Slot{Occupied: true, Entry: entry}
		default:
			return nil, corrupt("slot %d: invalid tag %d", i, raw[0])
		}
	}
	if err := state.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return state, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorruptRecord}, args...)...)
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func readBool(b byte, field string) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, corrupt("%s flag has invalid value %d", field, b)
	}
}

// putU128 writes the low 128 bits of v into dst[:16]. Callers guarantee v fits.
func putU128(dst []byte, v *uint256.Int) {
	full := v.Bytes32()
	copy(dst[:u128Size], full[32-u128Size:])
}

func readFee(src []byte) (uint64, error) {
	v := new(uint256.Int).SetBytes(src[:u128Size])
	if !v.IsUint64() || v.Uint64() > MaxFeePercentage {
		return 0, corrupt("fee %s above bound", v.Dec())
	}
	return v.Uint64(), nil
}
