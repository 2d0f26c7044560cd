package ramp

import "github.com/holiman/uint256"

const feeDenominator = 100

// maxRevenue is the largest value a 128-bit revenue counter can hold.
var maxRevenue = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// MaxRevenue returns a copy of the revenue saturation point (2^128-1).
func MaxRevenue() *uint256.Int { return new(uint256.Int).Set(maxRevenue) }

// ValidateFeePercentage rejects fees above MaxFeePercentage.
func ValidateFeePercentage(pct uint64) error {
	if pct > MaxFeePercentage {
		return ErrInvalidFeePercentage
	}
	return nil
}

// ComputeFee returns floor(amount * pct / 100). The product is formed in
// 256-bit space so it cannot wrap.
func ComputeFee(amount uint64, pct uint64) *uint256.Int {
	fee := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(pct))
	return fee.Div(fee, uint256.NewInt(feeDenominator))
}

// accrue adds delta to acc, clamping at MaxRevenue instead of wrapping.
func accrue(acc *uint256.Int, delta *uint256.Int) {
	sum, overflow := new(uint256.Int).AddOverflow(acc, delta)
	if overflow || sum.Gt(maxRevenue) {
		acc.Set(maxRevenue)
		return
	}
	acc.Set(sum)
}

// available returns balance minus reserved, floored at zero.
func available(balance, reserved *uint256.Int) *uint256.Int {
	switch {
	case balance == nil:
		return new(uint256.Int)
	case reserved == nil:
		return new(uint256.Int).Set(balance)
	case !balance.Gt(reserved):
		return new(uint256.Int)
	default:
		return new(uint256.Int).Sub(balance, reserved)
	}
}
