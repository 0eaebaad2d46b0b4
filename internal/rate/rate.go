// Package rate converts quantities between assets of different decimal
// precision using a fixed-point rate scaled by Precision.
//
// All arithmetic runs on 256-bit unsigned integers and every division
// truncates. The bounds below are checked before any arithmetic, so no
// intermediate value can reach 2^256.
package rate

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/math/uint256"
)

const (
	// MaxDecimalDiff is the largest accepted |srcDecimals - dstDecimals|.
	MaxDecimalDiff = 18

	// NativeDecimals is the decimal precision of the native asset.
	NativeDecimals = 18

	// precisionDigits is log10(Precision).
	precisionDigits = 18

	// maxQtyDigits is log10(MaxQty).
	maxQtyDigits = 28

	// maxRateDigits is log10(MaxRate).
	maxRateDigits = 24
)

var (
	// ErrDecimalDiffTooLarge is returned when the decimals differ by more than MaxDecimalDiff.
	ErrDecimalDiffTooLarge = errors.New("decimal difference too large")

	// ErrQuantityTooLarge is returned for a quantity above MaxQty.
	ErrQuantityTooLarge = errors.New("quantity too large")

	// ErrRateTooLarge is returned for a rate above MaxRate.
	ErrRateTooLarge = errors.New("rate too large")

	// ErrZeroRate is returned when a rate would be used as a divisor while zero.
	ErrZeroRate = errors.New("rate is zero")

	// ErrZeroQuantity is returned when a rate is implied from a zero source quantity.
	ErrZeroQuantity = errors.New("source quantity is zero")
)

// pow10 holds 10^0 through 10^(2*precisionDigits).
var pow10 = func() [2*precisionDigits + 1]uint256.Uint256 {
	var table [2*precisionDigits + 1]uint256.Uint256

	ten := new(uint256.Uint256).SetUint64(10)
	table[0].SetUint64(1)
	for i := 1; i < len(table); i++ {
		table[i] = table[i-1]
		table[i].Mul(ten)
	}

	return table
}()

var (
	// Precision is the fixed-point scale of a rate: 10^18 means 1:1.
	Precision = Pow10(precisionDigits)

	// MaxQty is the largest accepted quantity, 10^28.
	MaxQty = Pow10(maxQtyDigits)

	// MaxRate is the largest accepted rate, 10^24.
	MaxRate = Pow10(maxRateDigits)
)

// Pow10 returns 10^n for 0 <= n <= 36. It panics outside that range.
func Pow10(n int) uint256.Uint256 {
	return pow10[n]
}

// FromUint64 returns n as a Uint256.
func FromUint64(n uint64) uint256.Uint256 {
	var r uint256.Uint256
	r.SetUint64(n)
	return r
}

// decimalDiff returns dst - src after checking it against MaxDecimalDiff.
// The bound is checked on the unsigned values so no input can wrap.
func decimalDiff(srcDecimals, dstDecimals uint) (int, error) {
	if dstDecimals >= srcDecimals {
		if dstDecimals-srcDecimals > MaxDecimalDiff {
			return 0, fmt.Errorf("%w: src %d, dst %d", ErrDecimalDiffTooLarge, srcDecimals, dstDecimals)
		}
		return int(dstDecimals - srcDecimals), nil
	}

	if srcDecimals-dstDecimals > MaxDecimalDiff {
		return 0, fmt.Errorf("%w: src %d, dst %d", ErrDecimalDiffTooLarge, srcDecimals, dstDecimals)
	}
	return -int(srcDecimals - dstDecimals), nil
}

// checkQty returns ErrQuantityTooLarge when qty exceeds MaxQty.
func checkQty(qty *uint256.Uint256) error {
	if qty.Gt(&MaxQty) {
		return fmt.Errorf("%w: %s", ErrQuantityTooLarge, qty)
	}
	return nil
}

// checkRate returns ErrRateTooLarge or ErrZeroRate for a rate outside (0, MaxRate].
func checkRate(rate *uint256.Uint256) error {
	if rate.Gt(&MaxRate) {
		return fmt.Errorf("%w: %s", ErrRateTooLarge, rate)
	}
	if rate.IsZero() {
		return ErrZeroRate
	}
	return nil
}

// DestinationQty returns how much of the destination asset srcQty buys at rate.
//
//	dst >= src: srcQty * rate * 10^(dst-src) / Precision
//	dst <  src: srcQty * rate / (Precision * 10^(src-dst))
func DestinationQty(srcQty *uint256.Uint256, srcDecimals, dstDecimals uint, rate *uint256.Uint256) (uint256.Uint256, error) {
	diff, err := decimalDiff(srcDecimals, dstDecimals)
	if err != nil {
		return uint256.Uint256{}, err
	}
	if err := checkQty(srcQty); err != nil {
		return uint256.Uint256{}, err
	}
	if err := checkRate(rate); err != nil {
		return uint256.Uint256{}, err
	}

	num := *srcQty
	num.Mul(rate)

	den := Precision

	if diff >= 0 {
		num.Mul(&pow10[diff])
	} else {
		den.Mul(&pow10[-diff])
	}

	return *num.Div(&den), nil
}

// sourceTerms returns the numerator and denominator of the source quantity
// needed to receive dstQty at rate.
//
//	src >= dst: Precision * dstQty * 10^(src-dst) / rate
//	src <  dst: Precision * dstQty / (rate * 10^(dst-src))
func sourceTerms(dstQty *uint256.Uint256, srcDecimals, dstDecimals uint, rate *uint256.Uint256) (num, den uint256.Uint256, err error) {
	diff, err := decimalDiff(srcDecimals, dstDecimals)
	if err != nil {
		return num, den, err
	}
	if err := checkQty(dstQty); err != nil {
		return num, den, err
	}
	if err := checkRate(rate); err != nil {
		return num, den, err
	}

	num = Precision
	num.Mul(dstQty)

	den = *rate

	if diff <= 0 {
		num.Mul(&pow10[-diff])
	} else {
		den.Mul(&pow10[diff])
	}

	return num, den, nil
}

// SourceQty returns the source quantity that buys dstQty at rate, truncated.
// The result may buy slightly less than dstQty.
func SourceQty(dstQty *uint256.Uint256, srcDecimals, dstDecimals uint, rate *uint256.Uint256) (uint256.Uint256, error) {
	num, den, err := sourceTerms(dstQty, srcDecimals, dstDecimals, rate)
	if err != nil {
		return uint256.Uint256{}, err
	}

	return *num.Div(&den), nil
}

// SourceQtyRoundUp is SourceQty rounded up, so the result always buys at
// least dstQty.
func SourceQtyRoundUp(dstQty *uint256.Uint256, srcDecimals, dstDecimals uint, rate *uint256.Uint256) (uint256.Uint256, error) {
	num, den, err := sourceTerms(dstQty, srcDecimals, dstDecimals, rate)
	if err != nil {
		return uint256.Uint256{}, err
	}

	// (num + den - 1) / den
	one := FromUint64(1)
	num.Add(&den)
	num.Sub(&one)

	return *num.Div(&den), nil
}

// RateFromQty returns the rate implied by trading srcQty for dstQty.
//
//	dst >= src: dstQty * Precision / (10^(dst-src) * srcQty)
//	dst <  src: dstQty * Precision * 10^(src-dst) / srcQty
func RateFromQty(srcQty, dstQty *uint256.Uint256, srcDecimals, dstDecimals uint) (uint256.Uint256, error) {
	diff, err := decimalDiff(srcDecimals, dstDecimals)
	if err != nil {
		return uint256.Uint256{}, err
	}
	if err := checkQty(srcQty); err != nil {
		return uint256.Uint256{}, err
	}
	if err := checkQty(dstQty); err != nil {
		return uint256.Uint256{}, err
	}
	if srcQty.IsZero() {
		return uint256.Uint256{}, ErrZeroQuantity
	}

	num := *dstQty
	num.Mul(&Precision)

	den := *srcQty

	if diff >= 0 {
		den.Mul(&pow10[diff])
	} else {
		num.Mul(&pow10[-diff])
	}

	return *num.Div(&den), nil
}

// InverseRate returns Precision^2 / rate, the rate of the opposite direction.
func InverseRate(rate *uint256.Uint256) (uint256.Uint256, error) {
	if err := checkRate(rate); err != nil {
		return uint256.Uint256{}, err
	}

	num := pow10[2*precisionDigits]

	return *num.Div(rate), nil
}
