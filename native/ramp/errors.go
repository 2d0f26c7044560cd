package ramp

import "errors"

var (
	ErrInvalidInstruction        = errors.New("ramp: invalid instruction")
	ErrUninitializedAccount      = errors.New("ramp: account data is not initialized")
	ErrInsufficientFunds         = errors.New("ramp: insufficient funds")
	ErrAccountAlreadyInitialized = errors.New("ramp: account is already initialized")
	ErrRentOrSpace               = errors.New("ramp: record allocation cannot be funded or sized")
	ErrNotSigner                 = errors.New("ramp: caller is not a signer")
	ErrUnauthorized              = errors.New("ramp: unauthorized: only owner can perform this action")
	ErrAssetAlreadyExists        = errors.New("ramp: asset already exists")
	ErrAssetNotFound             = errors.New("ramp: asset not found")
	ErrInvalidFeePercentage      = errors.New("ramp: invalid fee percentage")
	ErrProgramNotActive          = errors.New("ramp: program is not active")
	ErrTransferFailed            = errors.New("ramp: transfer failed")
	ErrNoEmptySlot               = errors.New("ramp: no empty asset slot")
	ErrOversize                  = errors.New("ramp: encoded record exceeds storage")
	ErrCorruptRecord             = errors.New("ramp: corrupt record")
	ErrVaultNotSet               = errors.New("ramp: vault address not configured")
)

const (
	CodeOK       uint32 = 0
	CodeInternal uint32 = 100
)

var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrInvalidInstruction, 1},
	{ErrUninitializedAccount, 2},
	{ErrInsufficientFunds, 3},
	{ErrAccountAlreadyInitialized, 4},
	{ErrRentOrSpace, 5},
	{ErrNotSigner, 6},
	{ErrUnauthorized, 7},
	{ErrAssetAlreadyExists, 8},
	{ErrAssetNotFound, 9},
	{ErrInvalidFeePercentage, 10},
	{ErrProgramNotActive, 11},
	{ErrTransferFailed, 12},
	{ErrNoEmptySlot, 13},
	{ErrOversize, 14},
	{ErrCorruptRecord, 15},
	{ErrVaultNotSet, 16},
}

// Code maps err to the stable numeric code reported to clients. Errors that
// do not originate from the ledger map to CodeInternal.
func Code(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeInternal
}

// ErrorForCode returns the sentinel registered for code, if any.
func ErrorForCode(code uint32) (error, bool) {
	for _, entry := range errorCodes {
		if entry.code == code {
			return entry.err, true
		}
	}
	return nil, false
}
