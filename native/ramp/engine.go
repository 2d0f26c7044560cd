package ramp

import (
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"rampledger/core/events"
	"rampledger/core/types"
)

var (
	errNilState  = errors.New("ramp engine: state not configured")
	errNilBank   = errors.New("ramp engine: transfer capability not configured")
	errNilNative = errors.New("ramp engine: native vault not configured")
)

// DefaultNativeSymbol names the native currency in deposit notifications.
const DefaultNativeSymbol = "NATIVE"

type engineState interface {
	RampRecordGet(ledger [32]byte) ([]byte, bool, error)
	RampRecordAllocate(ledger [32]byte, size int) error
	RampRecordPut(ledger [32]byte, data []byte) error
}

// Transferer is the external token capability. Transfer must be
// all-or-nothing and fail when from holds less than amount.
type Transferer interface {
	Transfer(asset, from, to [32]byte, amount *uint256.Int) error
	Balance(asset, account [32]byte) (*uint256.Int, error)
	CustodyAccount(owner, asset [32]byte) [32]byte
	EnsureCustodyAccount(owner, asset [32]byte) ([32]byte, error)
	AssetName(asset [32]byte) string
}

// NativeVault moves the host's native currency between accounts.
type NativeVault interface {
	NativeTransfer(from, to [32]byte, amount *uint256.Int) error
	NativeBalance(account [32]byte) (*uint256.Int, error)
}

// Engine executes ledger instructions against a record store and the
// external transfer capabilities. It holds no ledger state between calls.
type Engine struct {
	state          engineState
	bank           Transferer
	native         NativeVault
	emitter        events.Emitter
	rentPerByte    uint64
	maxRecordBytes int
	capacity       int
	nativeSymbol   string
}

// NewEngine creates a ramp engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		nativeSymbol: DefaultNativeSymbol,
	}
}

// SetState configures the record store used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the token transfer capability.
func (e *Engine) SetBank(bank Transferer) { e.bank = bank }

// SetNativeVault configures the native currency capability.
func (e *Engine) SetNativeVault(vault NativeVault) { e.native = vault }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRentPerByte sets the native amount charged per record byte at
// Initialize. Zero disables the charge.
func (e *Engine) SetRentPerByte(rent uint64) { e.rentPerByte = rent }

// SetMaxRecordBytes caps the record size Initialize may allocate. Zero means
// no cap beyond MaxCapacity.
func (e *Engine) SetMaxRecordBytes(limit int) { e.maxRecordBytes = limit }

// SetDefaultCapacity sets the slot count used when Initialize requests none.
// Values outside 1..MaxCapacity restore DefaultCapacity.
func (e *Engine) SetDefaultCapacity(capacity int) {
	if capacity < 1 || capacity > MaxCapacity {
		capacity = 0
	}
	e.capacity = capacity
}

// SetNativeSymbol overrides the asset name used for native deposits.
func (e *Engine) SetNativeSymbol(symbol string) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		symbol = DefaultNativeSymbol
	}
	e.nativeSymbol = symbol
}

var ledgerAccountDomain = []byte("ramp/ledger")

// DeriveLedgerID returns the deterministic ledger identifier for owner and
// seed. Initialize only accepts ids derived from the initializing signer.
func DeriveLedgerID(owner [32]byte, seed uint64) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte("ramp"), owner[:], uint256.NewInt(seed).Bytes()))
	return id
}

// LedgerAccount returns the native account holding a ledger's rent reserve,
// native deposits and native revenue. It lives in its own derived namespace
// and never coincides with a signer identity.
func LedgerAccount(ledger [32]byte) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(ledgerAccountDomain, ledger[:]))
	return id
}

func (e *Engine) emit(evt *types.Event) {
	if evt == nil {
		return
	}
	e.emitRaw(WrapEvent(evt))
}

func (e *Engine) emitRaw(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// Execute dispatches ins for caller against the ledger record.
func (e *Engine) Execute(caller Caller, ledger [32]byte, ins Instruction) error {
	switch args := ins.(type) {
	case InitializeArgs:
		return e.Initialize(caller, ledger, args)
	case SetOwnerArgs:
		return e.SetOwner(caller, ledger, args)
	case SetActiveArgs:
		return e.SetActive(caller, ledger, args)
	case AddAssetArgs:
		return e.AddAsset(caller, ledger, args)
	case RemoveAssetArgs:
		return e.RemoveAsset(caller, ledger, args)
	case SetAssetFeeArgs:
		return e.SetAssetFee(caller, ledger, args)
	case SetNativeFeePercentageArgs:
		return e.SetNativeFeePercentage(caller, ledger, args)
	case DepositArgs:
		return e.Deposit(caller, ledger, args)
	case WithdrawArgs:
		return e.Withdraw(caller, ledger, args)
	case DepositNativeArgs:
		return e.DepositNative(caller, ledger, args)
	case WithdrawNativeArgs:
		return e.WithdrawNative(caller, ledger, args)
	case SetVaultAddressArgs:
		return e.SetVaultAddress(caller, ledger, args)
	case SweepRevenueArgs:
		return e.SweepRevenue(caller, ledger, args)
	default:
		return ErrInvalidInstruction
	}
}

// Ledger decodes the current record without modifying it.
func (e *Engine) Ledger(ledger [32]byte) (*LedgerState, error) {
	state, _, err := e.load(ledger)
	return state, err
}

func (e *Engine) load(ledger [32]byte) (*LedgerState, int, error) {
	if e == nil || e.state == nil {
		return nil, 0, errNilState
	}
	raw, ok, err := e.state.RampRecordGet(ledger)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrUninitializedAccount
	}
	state, err := Decode(raw)
	if err != nil {
		return nil, 0, err
	}
	if !state.Initialized {
		return nil, 0, ErrUninitializedAccount
	}
	return state, len(raw), nil
}

// store re-encodes state into a fresh buffer of the allocated size and
// replaces the record in one write.
func (e *Engine) store(ledger [32]byte, state *LedgerState, size int) error {
	buf := make([]byte, size)
	if err := EncodeInto(buf, state); err != nil {
		return err
	}
	return e.state.RampRecordPut(ledger, buf)
}

func (e *Engine) requireBank() error {
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

func (e *Engine) requireNative() error {
	if e.native == nil {
		return errNilNative
	}
	return nil
}

func (e *Engine) rent(size int) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(e.rentPerByte), uint256.NewInt(uint64(size)))
}

func transferFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

func isZero(id [32]byte) bool { return id == [32]byte{} }

// Initialize allocates the ledger record, charges rent to the initializer and
// stores an inactive ledger owned by the caller.
func (e *Engine) Initialize(caller Caller, ledger [32]byte, args InitializeArgs) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := RequireSigner(caller); err != nil {
		return err
	}
	if ledger != DeriveLedgerID(caller.ID, args.Seed) {
		return fmt.Errorf("%w: ledger id is not derived from the signer and seed %d", ErrInvalidInstruction, args.Seed)
	}
	if _, exists, err := e.state.RampRecordGet(ledger); err != nil {
		return err
	} else if exists {
		return ErrAccountAlreadyInitialized
	}
	if err := ValidateFeePercentage(args.NativeFeePercentage); err != nil {
		return err
	}
	capacity := int(args.Capacity)
	if capacity == 0 {
		capacity = e.capacity
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity %d exceeds %d", ErrRentOrSpace, capacity, MaxCapacity)
	}
	size := RecordSize(capacity)
	if e.maxRecordBytes > 0 && size > e.maxRecordBytes {
		return fmt.Errorf("%w: record of %d bytes exceeds limit %d", ErrRentOrSpace, size, e.maxRecordBytes)
	}
	if rent := e.rent(size); !rent.IsZero() {
		if err := e.requireNative(); err != nil {
			return fmt.Errorf("%w: %w", ErrRentOrSpace, err)
		}
		if err := e.native.NativeTransfer(caller.ID, LedgerAccount(ledger), rent); err != nil {
			return fmt.Errorf("%w: rent %s: %w", ErrRentOrSpace, rent.Dec(), err)
		}
	}
	if err := e.state.RampRecordAllocate(ledger, size); err != nil {
		return fmt.Errorf("%w: %w", ErrRentOrSpace, err)
	}
	state := NewLedgerState(caller.ID, args.Vault, args.NativeFeePercentage, capacity)
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(InitializedEvent(ledger, caller.ID, args.Vault, capacity))
	return nil
}

// SetOwner transfers administrative control to a new identity.
func (e *Engine) SetOwner(caller Caller, ledger [32]byte, args SetOwnerArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	previous := state.Owner
	state.Owner = args.NewOwner
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(OwnerChangedEvent(ledger, previous, args.NewOwner))
	return nil
}

// SetActive toggles whether deposits and withdrawals are accepted.
func (e *Engine) SetActive(caller Caller, ledger [32]byte, args SetActiveArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	state.Active = args.Active
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(ActiveChangedEvent(ledger, args.Active))
	return nil
}

// AddAsset lists an asset. The optional initial funding is transferred into
// custody before the slot is written, so a bounced transfer lists nothing.
func (e *Engine) AddAsset(caller Caller, ledger [32]byte, args AddAssetArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	if err := ValidateFeePercentage(args.FeePercentage); err != nil {
		return err
	}
	if isZero(args.Asset) {
		return fmt.Errorf("%w: zero asset id", ErrInvalidInstruction)
	}
	if _, exists := state.Find(args.Asset); exists {
		return ErrAssetAlreadyExists
	}
	if _, free := state.FreeSlot(); !free {
		return ErrNoEmptySlot
	}
	if err := e.requireBank(); err != nil {
		return err
	}
	custody, err := e.bank.EnsureCustodyAccount(ledger, args.Asset)
	if err != nil {
		return transferFailed(err)
	}
	if args.InitialAmount > 0 {
		if err := e.bank.Transfer(args.Asset, caller.ID, custody, uint256.NewInt(args.InitialAmount)); err != nil {
			return transferFailed(err)
		}
	}
	if _, err := state.insert(args.Asset, args.FeePercentage); err != nil {
		return err
	}
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(AssetAddedEvent(ledger, args.Asset, caller.ID, args.FeePercentage, args.InitialAmount))
	return nil
}

// RemoveAsset sweeps the asset's custody balance to the recipient and then
// empties its slot. Accrued revenue for the asset is forfeited with the slot.
func (e *Engine) RemoveAsset(caller Caller, ledger [32]byte, args RemoveAssetArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	entry, ok := state.Entry(args.Asset)
	if !ok {
		return ErrAssetNotFound
	}
	forfeited := new(uint256.Int).Set(&entry.Revenue)
	if err := e.requireBank(); err != nil {
		return err
	}
	recipient := args.Recipient
	if isZero(recipient) {
		recipient = state.Owner
	}
	custody := e.bank.CustodyAccount(ledger, args.Asset)
	balance, err := e.bank.Balance(args.Asset, custody)
	if err != nil {
		return transferFailed(err)
	}
	swept := new(uint256.Int)
	if balance != nil && !balance.IsZero() {
		if err := e.bank.Transfer(args.Asset, custody, recipient, balance); err != nil {
			return transferFailed(err)
		}
		swept.Set(balance)
	}
	if err := state.remove(args.Asset); err != nil {
		return err
	}
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(AssetRemovedEvent(ledger, args.Asset, recipient, swept, forfeited))
	return nil
}

// SetAssetFee updates the deposit fee of a listed asset.
func (e *Engine) SetAssetFee(caller Caller, ledger [32]byte, args SetAssetFeeArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	if err := ValidateFeePercentage(args.FeePercentage); err != nil {
		return err
	}
	entry, ok := state.Entry(args.Asset)
	if !ok {
		return ErrAssetNotFound
	}
	previous := entry.FeePercentage
	entry.FeePercentage = args.FeePercentage
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(AssetFeeChangedEvent(ledger, args.Asset, previous, args.FeePercentage))
	return nil
}

// SetNativeFeePercentage updates the ledger-level fee applied to native
// deposits.
func (e *Engine) SetNativeFeePercentage(caller Caller, ledger [32]byte, args SetNativeFeePercentageArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	if err := ValidateFeePercentage(args.FeePercentage); err != nil {
		return err
	}
	previous := state.NativeFeePercentage
	state.NativeFeePercentage = args.FeePercentage
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(NativeFeeChangedEvent(ledger, previous, args.FeePercentage))
	return nil
}

// SetVaultAddress changes the payout destination used by SweepRevenue.
func (e *Engine) SetVaultAddress(caller Caller, ledger [32]byte, args SetVaultAddressArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	previous := state.Vault
	state.Vault = args.Vault
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emit(VaultChangedEvent(ledger, previous, args.Vault))
	return nil
}

func validateDepositArgs(amount uint64, region Region, medium Medium) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInstruction)
	}
	if !region.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidInstruction, region)
	}
	if !medium.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidInstruction, medium)
	}
	return nil
}

// Deposit moves amount of a listed asset from the caller into custody,
// accrues the fee as revenue and emits the settlement notification.
func (e *Engine) Deposit(caller Caller, ledger [32]byte, args DepositArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := RequireActive(state); err != nil {
		return err
	}
	if err := RequireSigner(caller); err != nil {
		return err
	}
	if err := validateDepositArgs(args.Amount, args.Region, args.Medium); err != nil {
		return err
	}
	entry, ok := state.Entry(args.Asset)
	if !ok {
		return ErrAssetNotFound
	}
	if err := e.requireBank(); err != nil {
		return err
	}
	custody, err := e.bank.EnsureCustodyAccount(ledger, args.Asset)
	if err != nil {
		return transferFailed(err)
	}
	if err := e.bank.Transfer(args.Asset, caller.ID, custody, uint256.NewInt(args.Amount)); err != nil {
		return transferFailed(err)
	}
	accrue(&entry.Revenue, ComputeFee(args.Amount, entry.FeePercentage))
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emitRaw(events.RampDeposit{
		Asset:     args.Asset,
		AssetName: e.bank.AssetName(args.Asset),
		Amount:    args.Amount,
		Depositor: caller.ID,
		Region:    uint8(args.Region),
		Medium:    uint8(args.Medium),
		Data:      append([]byte(nil), args.Data...),
		Ledger:    ledger,
	})
	return nil
}

// Withdraw releases custody of a listed asset to the recipient. Accrued
// revenue stays in custody and cannot be withdrawn this way.
func (e *Engine) Withdraw(caller Caller, ledger [32]byte, args WithdrawArgs) error {
	state, _, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := RequireActive(state); err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	if args.Amount == 0 || isZero(args.Recipient) {
		return fmt.Errorf("%w: amount and recipient required", ErrInvalidInstruction)
	}
	entry, ok := state.Entry(args.Asset)
	if !ok {
		return ErrAssetNotFound
	}
	if err := e.requireBank(); err != nil {
		return err
	}
	custody := e.bank.CustodyAccount(ledger, args.Asset)
	balance, err := e.bank.Balance(args.Asset, custody)
	if err != nil {
		return transferFailed(err)
	}
	amount := uint256.NewInt(args.Amount)
	if amount.Gt(available(balance, &entry.Revenue)) {
		return ErrInsufficientFunds
	}
	if err := e.bank.Transfer(args.Asset, custody, args.Recipient, amount); err != nil {
		return transferFailed(err)
	}
	e.emit(WithdrawEvent(ledger, args.Asset, args.Recipient, args.Amount, false))
	return nil
}

// DepositNative moves native currency from the caller to the ledger account
// and accrues the native fee.
func (e *Engine) DepositNative(caller Caller, ledger [32]byte, args DepositNativeArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := RequireActive(state); err != nil {
		return err
	}
	if err := RequireSigner(caller); err != nil {
		return err
	}
	if err := validateDepositArgs(args.Amount, args.Region, args.Medium); err != nil {
		return err
	}
	if err := e.requireNative(); err != nil {
		return err
	}
	if err := e.native.NativeTransfer(caller.ID, LedgerAccount(ledger), uint256.NewInt(args.Amount)); err != nil {
		return transferFailed(err)
	}
	accrue(&state.NativeRevenue, ComputeFee(args.Amount, state.NativeFeePercentage))
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	e.emitRaw(events.RampDeposit{
		AssetName: e.nativeSymbol,
		Amount:    args.Amount,
		Depositor: caller.ID,
		Region:    uint8(args.Region),
		Medium:    uint8(args.Medium),
		Data:      append([]byte(nil), args.Data...),
		Ledger:    ledger,
	})
	return nil
}

// WithdrawNative releases native currency held by the ledger account. The
// rent reserve and accrued native revenue are not withdrawable.
func (e *Engine) WithdrawNative(caller Caller, ledger [32]byte, args WithdrawNativeArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := RequireActive(state); err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	if args.Amount == 0 || isZero(args.Recipient) {
		return fmt.Errorf("%w: amount and recipient required", ErrInvalidInstruction)
	}
	if err := e.requireNative(); err != nil {
		return err
	}
	account := LedgerAccount(ledger)
	balance, err := e.native.NativeBalance(account)
	if err != nil {
		return transferFailed(err)
	}
	reserved := new(uint256.Int).Add(e.rent(size), &state.NativeRevenue)
	amount := uint256.NewInt(args.Amount)
	if amount.Gt(available(balance, reserved)) {
		return ErrInsufficientFunds
	}
	if err := e.native.NativeTransfer(account, args.Recipient, amount); err != nil {
		return transferFailed(err)
	}
	e.emit(WithdrawEvent(ledger, [32]byte{}, args.Recipient, args.Amount, true))
	return nil
}

// SweepRevenue pays accrued revenue to the vault and resets the counter.
// Sweeping zero revenue is a no-op.
func (e *Engine) SweepRevenue(caller Caller, ledger [32]byte, args SweepRevenueArgs) error {
	state, size, err := e.load(ledger)
	if err != nil {
		return err
	}
	if err := Authorize(caller, state); err != nil {
		return err
	}
	if isZero(state.Vault) {
		return ErrVaultNotSet
	}
	var revenue *uint256.Int
	if args.Native {
		if err := e.requireNative(); err != nil {
			return err
		}
		revenue = new(uint256.Int).Set(&state.NativeRevenue)
		if revenue.IsZero() {
			return nil
		}
		if err := e.native.NativeTransfer(LedgerAccount(ledger), state.Vault, revenue); err != nil {
			return transferFailed(err)
		}
		state.NativeRevenue.Clear()
	} else {
		entry, ok := state.Entry(args.Asset)
		if !ok {
			return ErrAssetNotFound
		}
		if err := e.requireBank(); err != nil {
			return err
		}
		revenue = new(uint256.Int).Set(&entry.Revenue)
		if revenue.IsZero() {
			return nil
		}
		custody := e.bank.CustodyAccount(ledger, args.Asset)
		if err := e.bank.Transfer(args.Asset, custody, state.Vault, revenue); err != nil {
			return transferFailed(err)
		}
		entry.Revenue.Clear()
	}
	if err := e.store(ledger, state, size); err != nil {
		return err
	}
	var asset [32]byte
	if !args.Native {
		asset = args.Asset
	}
	e.emit(RevenueSweptEvent(ledger, asset, state.Vault, revenue, args.Native))
	return nil
}
