package rpc

import (
	"encoding/hex"

	"rampledger/core"
	"rampledger/native/ramp"
)

// AssetView is the JSON form of one occupied slot.
type AssetView struct {
	Slot          int    `json:"slot"`
	Asset         string `json:"asset"`
	FeePercentage uint64 `json:"feePercentage"`
	Revenue       string `json:"revenue"`
	Custody       string `json:"custody"`
}

// LedgerView is the JSON form of a ledger record.
type LedgerView struct {
	ID                  string      `json:"id"`
	Account             string      `json:"account"`
	Owner               string      `json:"owner"`
	Vault               string      `json:"vault"`
	Active              bool        `json:"active"`
	NativeFeePercentage uint64      `json:"nativeFeePercentage"`
	NativeRevenue       string      `json:"nativeRevenue"`
	Capacity            int         `json:"capacity"`
	Assets              []AssetView `json:"assets"`
}

// BalanceView reports a single balance. Asset is empty for native balances.
type BalanceView struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
	Balance string `json:"balance"`
}

// NonceView reports the next nonce a signer must use.
type NonceView struct {
	Account string `json:"account"`
	Nonce   uint64 `json:"nonce"`
}

// ChainView reports the chain id submissions must be signed for.
type ChainView struct {
	ChainID uint64 `json:"chainId"`
}

// ErrorResponse is returned for every failed request. Code carries the
// ledger error code when the failure came from an instruction.
type ErrorResponse struct {
	Code    uint32        `json:"code"`
	Error   string        `json:"error"`
	Receipt *core.Receipt `json:"receipt,omitempty"`
}

func hexID(id [32]byte) string { return hex.EncodeToString(id[:]) }

func newLedgerView(id [32]byte, state *ramp.LedgerState, custody func(ledger, asset [32]byte) [32]byte) LedgerView {
	view := LedgerView{
		ID:                  hexID(id),
		Account:             hexID(ramp.LedgerAccount(id)),
		Owner:               hexID(state.Owner),
		Vault:               hexID(state.Vault),
		Active:              state.Active,
		NativeFeePercentage: state.NativeFeePercentage,
		NativeRevenue:       state.NativeRevenue.Dec(),
		Capacity:            state.Capacity(),
		Assets:              make([]AssetView, 0, state.Len()),
	}
	for i, slot := range state.Slots {
		if !slot.Occupied {
			continue
		}
		view.Assets = append(view.Assets, AssetView{
			Slot:          i,
			Asset:         hexID(slot.Entry.Asset),
			FeePercentage: slot.Entry.FeePercentage,
			Revenue:       slot.Entry.Revenue.Dec(),
			Custody:       hexID(custody(id, slot.Entry.Asset)),
		})
	}
	return view
}
