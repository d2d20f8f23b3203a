package state

import (
	"fmt"
	"math/big"

	fpmath "SynthLedger/internal/math"
)

// Health factors are fixed-point at 18 decimals: Precision reads as 1.0.
var (
	// Precision is the health factor scale (1e18).
	Precision = fpmath.Pow10(fpmath.WorkingDecimals)

	// MinHealthFactor is the solvency boundary. A user below it is
	// liquidatable, and any mutation that would leave a user below it is
	// rejected.
	MinHealthFactor = fpmath.Pow10(fpmath.WorkingDecimals)

	// MaxHealthFactor stands in for infinite health on debt-free accounts
	// (2^256 - 1).
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// RiskParams defines the collateralization rules applied to every account.
// Percentages are whole numbers: 50 means 50%.
type RiskParams struct {
	LiquidationThresholdPct int64 // share of collateral value counted toward solvency
	LiquidationBonusPct     int64 // seizure premium paid to liquidators
}

// Default risk params
var DefaultRiskParams = RiskParams{
	LiquidationThresholdPct: 50,
	LiquidationBonusPct:     10,
}

// ValidateRiskParams checks that risk parameters are within valid ranges:
// threshold in (0, 100], bonus in [0, 100).
func ValidateRiskParams(params RiskParams) error {
	if params.LiquidationThresholdPct <= 0 || params.LiquidationThresholdPct > 100 {
		return fmt.Errorf("liquidation_threshold_pct must be in (0, 100], got %d", params.LiquidationThresholdPct)
	}
	if params.LiquidationBonusPct < 0 || params.LiquidationBonusPct >= 100 {
		return fmt.Errorf("liquidation_bonus_pct must be in [0, 100), got %d", params.LiquidationBonusPct)
	}
	return nil
}
