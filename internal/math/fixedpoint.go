package math

import (
	"math/big"
	"sync"
)

// WorkingDecimals is the engine's fixed-point precision for USD values,
// synthetic-token units, and health ratios.
const WorkingDecimals = 18

var (
	// WorkingScale is 10^18 as a big.Int. Treat as read-only.
	WorkingScale = Pow10(WorkingDecimals)

	// Hundred is the percentage divisor. Treat as read-only.
	Hundred = big.NewInt(100)
)

// intPool recycles big.Ints used for intermediate products.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	intPool.Put(v)
}

var pow10Cache = func() []*big.Int {
	cache := make([]*big.Int, 37)
	for i := range cache {
		cache[i] = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(i)), nil)
	}
	return cache
}()

// Pow10 returns 10^n as a fresh big.Int. n must be non-negative.
func Pow10(n int) *big.Int {
	if n < len(pow10Cache) {
		return new(big.Int).Set(pow10Cache[n])
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// NormalizePrice scales a raw feed price to 18-decimal working precision.
// Feeds quoting more than 18 decimals are scaled down with truncation.
func NormalizePrice(price int64, feedDecimals uint8) *big.Int {
	p := big.NewInt(price)
	if int(feedDecimals) == WorkingDecimals {
		return p
	}
	if int(feedDecimals) < WorkingDecimals {
		return p.Mul(p, pow10Cache[WorkingDecimals-int(feedDecimals)])
	}
	return p.Quo(p, Pow10(int(feedDecimals)-WorkingDecimals))
}

// MulDivFloor computes a * b / den, truncating toward zero.
// All spot valuations use this: the floor bias never overstates value.
func MulDivFloor(a, b, den *big.Int) *big.Int {
	product := getInt()
	product.Mul(a, b)

	result := new(big.Int).Quo(product, den)

	putInt(product)
	return result
}

// USDValue converts a collateral amount to USD at the given normalized price.
// usd = priceNormalized * amount / 10^18, floored.
func USDValue(priceNormalized, amount *big.Int) *big.Int {
	return MulDivFloor(priceNormalized, amount, WorkingScale)
}

// TokenAmountForUSD converts a USD value to collateral units at the given
// normalized price. amount = usd * 10^18 / priceNormalized, floored, so it
// never overstates the collateral owed to a claimant.
func TokenAmountForUSD(usd, priceNormalized *big.Int) *big.Int {
	return MulDivFloor(usd, WorkingScale, priceNormalized)
}

// PercentOf computes amount * pct / 100, floored.
func PercentOf(amount *big.Int, pct int64) *big.Int {
	return MulDivFloor(amount, big.NewInt(pct), Hundred)
}

// Ratio computes numerator * 10^18 / denominator, floored.
// Used for health factors. denominator must be non-zero.
func Ratio(numerator, denominator *big.Int) *big.Int {
	return MulDivFloor(numerator, WorkingScale, denominator)
}
