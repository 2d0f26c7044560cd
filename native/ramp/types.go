package ramp

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// DefaultCapacity is the number of asset slots allocated when Initialize
	// does not request a specific capacity.
	DefaultCapacity = 10
	// MaxCapacity bounds the slot table so a record always fits the u16
	// capacity field and a reasonable storage allocation.
	MaxCapacity = 255
	// MaxFeePercentage is the inclusive upper bound for every fee setting.
	// Fees are expressed in whole percent.
	MaxFeePercentage = 100
)

// AssetEntry captures one accepted asset together with its fee configuration
// and the revenue accrued from deposits that has not been swept yet.
type AssetEntry struct {
	Asset         [32]byte
	FeePercentage uint64
	Revenue       uint256.Int
}

// Slot is a fixed position in the ledger's asset table. Empty slots are marked
// by the tag rather than by a reserved asset identifier.
type Slot struct {
	Occupied bool
	Entry    AssetEntry
}

// LedgerState is the aggregate persisted for every ramp ledger. The length of
// Slots is fixed when the ledger is initialised and never changes.
type LedgerState struct {
	Initialized         bool
	Owner               [32]byte
	Active              bool
	Vault               [32]byte
	NativeFeePercentage uint64
	NativeRevenue       uint256.Int
	Slots               []Slot
}

// NewLedgerState returns an initialised, inactive ledger with capacity empty
// slots.
func NewLedgerState(owner, vault [32]byte, nativeFee uint64, capacity int) *LedgerState {
	return &LedgerState{
		Initialized:         true,
		Owner:               owner,
		Vault:               vault,
		NativeFeePercentage: nativeFee,
		Slots:               make([]Slot, capacity),
	}
}

// Capacity reports the number of slots fixed at initialisation.
func (s *LedgerState) Capacity() int {
	if s == nil {
		return 0
	}
	return len(s.Slots)
}

// Len reports the number of occupied slots.
func (s *LedgerState) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for i := range s.Slots {
		if s.Slots[i].Occupied {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers can mutate it without aliasing the
// slot table.
func (s *LedgerState) Clone() *LedgerState {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Slots = append([]Slot(nil), s.Slots...)
	return &clone
}

// Find returns the slot index holding asset.
func (s *LedgerState) Find(asset [32]byte) (int, bool) {
	if s == nil {
		return -1, false
	}
	for i := range s.Slots {
		if s.Slots[i].Occupied && s.Slots[i].Entry.Asset == asset {
			return i, true
		}
	}
	return -1, false
}

// Entry returns the entry for asset. The pointer aliases the slot table.
func (s *LedgerState) Entry(asset [32]byte) (*AssetEntry, bool) {
	idx, ok := s.Find(asset)
	if !ok {
		return nil, false
	}
	return &s.Slots[idx].Entry, true
}

// FreeSlot returns the lowest empty slot index.
func (s *LedgerState) FreeSlot() (int, bool) {
	if s == nil {
		return -1, false
	}
	for i := range s.Slots {
		if !s.Slots[i].Occupied {
			return i, true
		}
	}
	return -1, false
}

// Assets lists the accepted assets in slot order.
func (s *LedgerState) Assets() [][32]byte {
	if s == nil {
		return nil
	}
	out := make([][32]byte, 0, len(s.Slots))
	for i := range s.Slots {
		if s.Slots[i].Occupied {
			out = append(out, s.Slots[i].Entry.Asset)
		}
	}
	return out
}

func (s *LedgerState) insert(asset [32]byte, fee uint64) (int, error) {
	if _, exists := s.Find(asset); exists {
		return -1, ErrAssetAlreadyExists
	}
	idx, ok := s.FreeSlot()
	if !ok {
		return -1, ErrNoEmptySlot
	}
	s.Slots[idx] = Slot{Occupied: true, Entry: AssetEntry{Asset: asset, FeePercentage: fee}}
	return idx, nil
}

func (s *LedgerState) remove(asset [32]byte) error {
	idx, ok := s.Find(asset)
	if !ok {
		return ErrAssetNotFound
	}
	s.Slots[idx] = Slot{}
	return nil
}

// validate checks the structural invariants that every stored record must
// satisfy.
func (s *LedgerState) validate() error {
	if s == nil {
		return fmt.Errorf("nil ledger state")
	}
	if len(s.Slots) == 0 || len(s.Slots) > MaxCapacity {
		return fmt.Errorf("capacity %d out of range", len(s.Slots))
	}
	if s.NativeFeePercentage > MaxFeePercentage {
		return fmt.Errorf("native fee %d above bound", s.NativeFeePercentage)
	}
	if s.NativeRevenue.BitLen() > 128 {
		return fmt.Errorf("native revenue exceeds 128 bits")
	}
	seen := make(map[[32]byte]struct{}, len(s.Slots))
	for i := range s.Slots {
		slot := &s.Slots[i]
		if !slot.Occupied {
			if slot.Entry != (AssetEntry{}) {
				return fmt.Errorf("slot %d: empty slot carries data", i)
			}
			continue
		}
		if _, dup := seen[slot.Entry.Asset]; dup {
			return fmt.Errorf("slot %d: duplicate asset %x", i, slot.Entry.Asset)
		}
		seen[slot.Entry.Asset] = struct{}{}
		if slot.Entry.FeePercentage > MaxFeePercentage {
			return fmt.Errorf("slot %d: fee %d above bound", i, slot.Entry.FeePercentage)
		}
		if slot.Entry.Revenue.BitLen() > 128 {
			return fmt.Errorf("slot %d: revenue exceeds 128 bits", i)
		}
	}
	return nil
}

// Region identifies where an off-ramp deposit originated.
type Region uint8

const (
	RegionKEN Region = iota
	RegionNGA
	RegionUGA
	RegionRWA
	RegionGHN
	RegionEGY
)

var regionNames = [...]string{"KEN", "NGA", "UGA", "RWA", "GHN", "EGY"}

// Valid reports whether the region value is supported.
func (r Region) Valid() bool { return int(r) < len(regionNames) }

func (r Region) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Region(%d)", uint8(r))
	}
	return regionNames[r]
}

// ParseRegion resolves a region code such as "KEN" case-insensitively.
func ParseRegion(s string) (Region, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range regionNames {
		if name == trimmed {
			return Region(i), nil
		}
	}
	return 0, fmt.Errorf("ramp: unknown region %q", s)
}

// Medium selects the off-chain payout rail for a deposit.
type Medium uint8

const (
	MediumPrimary Medium = iota
	MediumSecondary
	MediumTertiary
)

var mediumNames = [...]string{"primary", "secondary", "tertiary"}

// Valid reports whether the medium value is supported.
func (m Medium) Valid() bool { return int(m) < len(mediumNames) }

func (m Medium) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Medium(%d)", uint8(m))
	}
	return mediumNames[m]
}

// ParseMedium resolves a medium name such as "primary" case-insensitively.
func ParseMedium(s string) (Medium, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	for i, name := range mediumNames {
		if name == trimmed {
			return Medium(i), nil
		}
	}
	return 0, fmt.Errorf("ramp: unknown medium %q", s)
}
