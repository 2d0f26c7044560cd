package bank

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	rampstate "rampledger/core/state"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrCustodyConflict     = errors.New("bank: custody account registered to another ledger")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
)

var custodyDomain = []byte("ramp/custody")

// bankState is the slice of state the bank needs. Both the committed manager
// and a pending transaction satisfy it.
type bankState interface {
	Balance(asset, account [32]byte) (*uint256.Int, error)
	SetBalance(asset, account [32]byte, amount *uint256.Int) error
	NativeBalance(account [32]byte) (*uint256.Int, error)
	SetNativeBalance(account [32]byte, amount *uint256.Int) error
	Custody(id [32]byte) (*rampstate.CustodyRecord, bool, error)
	PutCustody(id [32]byte, record rampstate.CustodyRecord) error
	Token(asset [32]byte) (*rampstate.TokenMetadata, error)
}

// Bank moves asset and native balances between accounts. Every transfer is
// all-or-nothing: the debit is checked before either side is written.
type Bank struct {
	state bankState
}

// New returns a bank operating on state.
func New(state bankState) *Bank {
	return &Bank{state: state}
}

// CustodyAccount derives the account that holds asset on behalf of owner.
func (b *Bank) CustodyAccount(owner, asset [32]byte) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(custodyDomain, owner[:], asset[:]))
	return id
}

// EnsureCustodyAccount registers the custody account for owner and asset if it
// is not known yet. Calling it again is a no-op.
func (b *Bank) EnsureCustodyAccount(owner, asset [32]byte) ([32]byte, error) {
	id := b.CustodyAccount(owner, asset)
	record, ok, err := b.state.Custody(id)
	if err != nil {
		return id, err
	}
	if ok {
		if record.Owner != owner || record.Asset != asset {
			return id, ErrCustodyConflict
		}
		return id, nil
	}
	return id, b.state.PutCustody(id, rampstate.CustodyRecord{Owner: owner, Asset: asset})
}

// Balance returns the asset balance of account.
func (b *Bank) Balance(asset, account [32]byte) (*uint256.Int, error) {
	return b.state.Balance(asset, account)
}

// AssetName returns the registered display name for asset, or an empty string.
func (b *Bank) AssetName(asset [32]byte) string {
	meta, err := b.state.Token(asset)
	if err != nil || meta == nil {
		return ""
	}
	return meta.Name
}

// Transfer moves amount of asset from one account to another.
func (b *Bank) Transfer(asset, from, to [32]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	src, err := b.state.Balance(asset, from)
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := b.state.Balance(asset, to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := b.state.SetBalance(asset, from, new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return b.state.SetBalance(asset, to, credited)
}

// Mint credits account with newly issued asset. It is used for genesis
// funding only.
func (b *Bank) Mint(asset, account [32]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	current, err := b.state.Balance(asset, account)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return b.state.SetBalance(asset, account, next)
}

// NativeBalance returns the native currency held by account.
func (b *Bank) NativeBalance(account [32]byte) (*uint256.Int, error) {
	return b.state.NativeBalance(account)
}

// NativeTransfer moves native currency between accounts.
func (b *Bank) NativeTransfer(from, to [32]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	src, err := b.state.NativeBalance(from)
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, src.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst, err := b.state.NativeBalance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := b.state.SetNativeBalance(from, new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return b.state.SetNativeBalance(to, credited)
}

// MintNative credits account with native currency for genesis funding.
func (b *Bank) MintNative(account [32]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	current, err := b.state.NativeBalance(account)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return b.state.SetNativeBalance(account, next)
}
