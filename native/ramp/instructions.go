package ramp

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Opcode tags an instruction inside the dispatch envelope.
type Opcode uint8

const (
	OpInitialize Opcode = iota
	OpSetOwner
	OpSetActive
	OpAddAsset
	OpRemoveAsset
	OpSetAssetFee
	OpSetNativeFeePercentage
	OpDeposit
	OpWithdraw
	OpDepositNative
	OpWithdrawNative
	OpSetVaultAddress
	OpSweepRevenue
)

var opcodeNames = [...]string{
	"initialize",
	"set_owner",
	"set_active",
	"add_asset",
	"remove_asset",
	"set_asset_fee",
	"set_native_fee_percentage",
	"deposit",
	"withdraw",
	"deposit_native",
	"withdraw_native",
	"set_vault_address",
	"sweep_revenue",
}

func (o Opcode) String() string {
	if int(o) < len(opcodeNames) {
		return opcodeNames[o]
	}
	return fmt.Sprintf("opcode(%d)", uint8(o))
}

// Instruction is the closed set of operations accepted by the engine.
// Instructions are passed by value.
type Instruction interface {
	Opcode() Opcode
	instruction()
}

// InitializeArgs creates the ledger record. A zero Capacity selects
// DefaultCapacity. The ledger id must equal DeriveLedgerID(caller, Seed).
type InitializeArgs struct {
	Vault               [32]byte
	NativeFeePercentage uint64
	Capacity            uint16
	Seed                uint64
}

type SetOwnerArgs struct {
	NewOwner [32]byte
}

type SetActiveArgs struct {
	Active bool
}

// AddAssetArgs lists a new asset. InitialAmount, when non-zero, is moved from
// the caller into the ledger's custody account before the asset is listed.
type AddAssetArgs struct {
	Asset         [32]byte
	FeePercentage uint64
	InitialAmount uint64
}

// RemoveAssetArgs delists an asset and sweeps its custody balance to
// Recipient, or to the owner when Recipient is zero.
type RemoveAssetArgs struct {
	Asset     [32]byte
	Recipient [32]byte
}

type SetAssetFeeArgs struct {
	Asset         [32]byte
	FeePercentage uint64
}

type SetNativeFeePercentageArgs struct {
	FeePercentage uint64
}

// DepositArgs is an off-ramp deposit of a listed asset.
type DepositArgs struct {
	Asset  [32]byte
	Amount uint64
	Region Region
	Medium Medium
	Data   []byte
}

// WithdrawArgs is an on-ramp release of a listed asset to Recipient.
type WithdrawArgs struct {
	Asset     [32]byte
	Amount    uint64
	Recipient [32]byte
}

type DepositNativeArgs struct {
	Amount uint64
	Region Region
	Medium Medium
	Data   []byte
}

type WithdrawNativeArgs struct {
	Amount    uint64
	Recipient [32]byte
}

type SetVaultAddressArgs struct {
	Vault [32]byte
}

// SweepRevenueArgs pays accrued revenue out to the vault. Native selects the
// ledger-level native revenue instead of Asset.
type SweepRevenueArgs struct {
	Asset  [32]byte
	Native bool
}

func (InitializeArgs) Opcode() Opcode             { return OpInitialize }
func (SetOwnerArgs) Opcode() Opcode               { return OpSetOwner }
func (SetActiveArgs) Opcode() Opcode              { return OpSetActive }
func (AddAssetArgs) Opcode() Opcode               { return OpAddAsset }
func (RemoveAssetArgs) Opcode() Opcode            { return OpRemoveAsset }
func (SetAssetFeeArgs) Opcode() Opcode            { return OpSetAssetFee }
func (SetNativeFeePercentageArgs) Opcode() Opcode { return OpSetNativeFeePercentage }
func (DepositArgs) Opcode() Opcode                { return OpDeposit }
func (WithdrawArgs) Opcode() Opcode               { return OpWithdraw }
func (DepositNativeArgs) Opcode() Opcode          { return OpDepositNative }
func (WithdrawNativeArgs) Opcode() Opcode         { return OpWithdrawNative }
func (SetVaultAddressArgs) Opcode() Opcode        { return OpSetVaultAddress }
func (SweepRevenueArgs) Opcode() Opcode           { return OpSweepRevenue }

func (InitializeArgs) instruction()             {}
func (SetOwnerArgs) instruction()               {}
func (SetActiveArgs) instruction()              {}
func (AddAssetArgs) instruction()               {}
func (RemoveAssetArgs) instruction()            {}
func (SetAssetFeeArgs) instruction()            {}
func (SetNativeFeePercentageArgs) instruction() {}
func (DepositArgs) instruction()                {}
func (WithdrawArgs) instruction()               {}
func (DepositNativeArgs) instruction()          {}
func (WithdrawNativeArgs) instruction()         {}
func (SetVaultAddressArgs) instruction()        {}
func (SweepRevenueArgs) instruction()           {}

type envelope struct {
	Op      Opcode
	Payload []byte
}

// EncodeInstruction wraps ins in the RLP dispatch envelope [opcode, payload].
func EncodeInstruction(ins Instruction) ([]byte, error) {
	if ins == nil {
		return nil, ErrInvalidInstruction
	}
	payload, err := rlp.EncodeToBytes(ins)
	if err != nil {
		return nil, fmt.Errorf("ramp: encode %s: %w", ins.Opcode(), err)
	}
	return rlp.EncodeToBytes(envelope{Op: ins.Opcode(), Payload: payload})
}

// DecodeInstruction parses a dispatch envelope. Unknown opcodes and payloads
// that do not match the opcode's argument layout yield ErrInvalidInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	var env envelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrInvalidInstruction, err)
	}
	switch env.Op {
	case OpInitialize:
		return decodeArgs[InitializeArgs](env)
	case OpSetOwner:
		return decodeArgs[SetOwnerArgs](env)
	case OpSetActive:
		return decodeArgs[SetActiveArgs](env)
	case OpAddAsset:
		return decodeArgs[AddAssetArgs](env)
	case OpRemoveAsset:
		return decodeArgs[RemoveAssetArgs](env)
	case OpSetAssetFee:
		return decodeArgs[SetAssetFeeArgs](env)
	case OpSetNativeFeePercentage:
		return decodeArgs[SetNativeFeePercentageArgs](env)
	case OpDeposit:
		return decodeArgs[DepositArgs](env)
	case OpWithdraw:
		return decodeArgs[WithdrawArgs](env)
	case OpDepositNative:
		return decodeArgs[DepositNativeArgs](env)
	case OpWithdrawNative:
		return decodeArgs[WithdrawNativeArgs](env)
	case OpSetVaultAddress:
		return decodeArgs[SetVaultAddressArgs](env)
	case OpSweepRevenue:
		return decodeArgs[SweepRevenueArgs](env)
	default:
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrInvalidInstruction, uint8(env.Op))
	}
}

func decodeArgs[T Instruction](env envelope) (Instruction, error) {
	var args T
	if err := rlp.DecodeBytes(env.Payload, &args); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidInstruction, env.Op, err)
	}
	return args, nil
}
