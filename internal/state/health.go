package state

import (
	"math/big"

	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"

	"github.com/google/uuid"
)

// HealthCalculator computes per-user health factors from a balance view.
// It is pure over its inputs: no memoization, no clock. Health gating inside
// an operation evaluates the staged view; queries evaluate the committed book.
type HealthCalculator struct {
	valuer *Valuer
	params RiskParams
}

func NewHealthCalculator(valuer *Valuer, params RiskParams) *HealthCalculator {
	return &HealthCalculator{valuer: valuer, params: params}
}

// HealthFactor returns the user's collateralization ratio at 18 decimals:
// (collateral value * threshold / 100) * 1e18 / debt, floored.
// A user with no debt can never be liquidated, so zero debt maps to
// MaxHealthFactor rather than a division by zero.
func (hc *HealthCalculator) HealthFactor(view ledger.BalanceView, userID uuid.UUID) (*big.Int, error) {
	debt := view.Balance(ledger.NewDebtAccountKey(userID))
	if debt.Sign() <= 0 {
		return new(big.Int).Set(MaxHealthFactor), nil
	}

	collateralUSD, err := hc.valuer.TotalCollateralValue(view, userID)
	if err != nil {
		return nil, err
	}

	adjusted := fpmath.PercentOf(collateralUSD, hc.params.LiquidationThresholdPct)
	return fpmath.Ratio(adjusted, debt), nil
}

// IsHealthy reports whether the user's health factor clears MinHealthFactor.
func (hc *HealthCalculator) IsHealthy(view ledger.BalanceView, userID uuid.UUID) (bool, error) {
	hf, err := hc.HealthFactor(view, userID)
	if err != nil {
		return false, err
	}
	return hf.Cmp(MinHealthFactor) >= 0, nil
}

// HealthStatus classifies a health factor for reporting.
type HealthStatus int

const (
	HealthStatusHealthy HealthStatus = iota
	HealthStatusLiquidatable
	HealthStatusNoDebt
)

func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusHealthy:
		return "Healthy"
	case HealthStatusLiquidatable:
		return "Liquidatable"
	case HealthStatusNoDebt:
		return "NoDebt"
	default:
		return "Unknown"
	}
}

// ClassifyHealth maps a health factor to its reporting status.
func ClassifyHealth(healthFactor *big.Int) HealthStatus {
	if healthFactor.Cmp(MaxHealthFactor) == 0 {
		return HealthStatusNoDebt
	}
	if healthFactor.Cmp(MinHealthFactor) < 0 {
		return HealthStatusLiquidatable
	}
	return HealthStatusHealthy
}
