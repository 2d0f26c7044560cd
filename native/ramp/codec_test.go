package ramp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func sampleLedger() *LedgerState {
	state := NewLedgerState(testID(0x01), testID(0x03), 7, 4)
	state.Active = true
	state.NativeRevenue.SetUint64(12345)
	state.Slots[1] = Slot{Occupied: true, Entry: AssetEntry{Asset: testID(0xA1), FeePercentage: 5}}
	state.Slots[1].Entry.Revenue.Set(maxRevenue)
	state.Slots[3] = Slot{Occupied: true, Entry: AssetEntry{Asset: testID(0xB2), FeePercentage: 100}}
	return state
}

func TestCodecRoundTrip(t *testing.T) {
	state := sampleLedger()
	raw, err := Encode(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(raw) != RecordSize(4) {
		t.Fatalf("encoded size = %d, want %d", len(raw), RecordSize(4))
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	again, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(raw, again) {
		t.Fatalf("round trip changed encoding")
	}
	if decoded.Owner != state.Owner || decoded.Vault != state.Vault || !decoded.Active {
		t.Fatalf("header mismatch: %+v", decoded)
	}
	if decoded.Slots[0].Occupied || decoded.Slots[2].Occupied {
		t.Fatalf("empty slots decoded as occupied")
	}
	if !decoded.Slots[1].Entry.Revenue.Eq(maxRevenue) {
		t.Fatalf("revenue = %s", decoded.Slots[1].Entry.Revenue.Dec())
	}
	if decoded.NativeRevenue.Uint64() != 12345 {
		t.Fatalf("native revenue = %s", decoded.NativeRevenue.Dec())
	}
}

func TestDecodeAcceptsZeroPadding(t *testing.T) {
	raw, err := Encode(sampleLedger())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	padded := append(append([]byte(nil), raw...), make([]byte, 32)...)
	if _, err := Decode(padded); err != nil {
		t.Fatalf("decode padded: %v", err)
	}
}

func TestEncodeIntoOversizeLeavesBufferUntouched(t *testing.T) {
	dst := bytes.Repeat([]byte{0xEE}, RecordSize(4)-1)
	before := append([]byte(nil), dst...)
	err := EncodeInto(dst, sampleLedger())
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("expected ErrOversize, got %v", err)
	}
	if !bytes.Equal(before, dst) {
		t.Fatalf("destination modified on oversize")
	}
}

func TestEncodeIntoClearsStaleBytes(t *testing.T) {
	dst := bytes.Repeat([]byte{0xEE}, RecordSize(4)+8)
	if err := EncodeInto(dst, sampleLedger()); err != nil {
		t.Fatalf("encode into: %v", err)
	}
	for i, b := range dst[RecordSize(4):] {
		if b != 0 {
			t.Fatalf("stale byte at tail offset %d", i)
		}
	}
	if _, err := Decode(dst); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestEncodeRejectsInvalidState(t *testing.T) {
	cases := map[string]func(*LedgerState){
		"no slots":           func(s *LedgerState) { s.Slots = nil },
		"native fee":         func(s *LedgerState) { s.NativeFeePercentage = 101 },
		"asset fee":          func(s *LedgerState) { s.Slots[1].Entry.FeePercentage = 101 },
		"wide revenue":       func(s *LedgerState) { s.Slots[1].Entry.Revenue.Lsh(uint256.NewInt(1), 128) },
		"duplicate":          func(s *LedgerState) { s.Slots[3].Entry.Asset = s.Slots[1].Entry.Asset },
		"data in empty slot": func(s *LedgerState) { s.Slots[0].Entry.FeePercentage = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			state := sampleLedger()
			mutate(state)
			if _, err := Encode(state); !errors.Is(err, ErrCorruptRecord) {
				t.Fatalf("expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	valid, err := Encode(sampleLedger())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	slot := func(i int) int { return HeaderSize + i*EntrySize }
	cases := map[string]func([]byte) []byte{
		"short header":    func(b []byte) []byte { return b[:HeaderSize-1] },
		"truncated slots": func(b []byte) []byte { return b[:len(b)-1] },
		"version":         func(b []byte) []byte { b[0] = 0x02; return b },
		"bool flag":       func(b []byte) []byte { b[offActive] = 2; return b },
		"zero capacity":   func(b []byte) []byte { b[offCapacity], b[offCapacity+1] = 0, 0; return b },
		"slot tag":        func(b []byte) []byte { b[slot(0)] = 7; return b },
		"empty with data": func(b []byte) []byte { b[slot(2)+5] = 1; return b },
		"fee bound":       func(b []byte) []byte { b[slot(1)+slotOffFee+u128Size-1] = 101; return b },
		"trailing":        func(b []byte) []byte { return append(b, 0x01) },
		"duplicate": func(b []byte) []byte {
			copy(b[slot(3)+slotOffAsset:slot(3)+slotOffAsset+32], b[slot(1)+slotOffAsset:slot(1)+slotOffAsset+32])
			return b
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			buf := mutate(append([]byte(nil), valid...))
			if _, err := Decode(buf); !errors.Is(err, ErrCorruptRecord) {
				t.Fatalf("expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}
