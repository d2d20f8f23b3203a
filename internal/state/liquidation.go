package state

import (
	"math/big"

	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
)

// Seizure is the collateral awarded for covering a slice of a target's debt:
// the USD-equivalent base plus the liquidator premium.
type Seizure struct {
	Base  *big.Int // collateral worth exactly debt_to_cover
	Bonus *big.Int // liquidation premium on top of base
	Total *big.Int // base + bonus, the amount actually seized
}

// SeizureCalculator converts debt coverage into collateral seizures.
type SeizureCalculator struct {
	valuer *Valuer
	params RiskParams
}

func NewSeizureCalculator(valuer *Valuer, params RiskParams) *SeizureCalculator {
	return &SeizureCalculator{valuer: valuer, params: params}
}

// SeizureForDebt computes the collateral to seize for covering debtToCover
// of synth debt in the given collateral asset.
func (sc *SeizureCalculator) SeizureForDebt(symbol ledger.AssetSymbol, debtToCover *big.Int) (Seizure, error) {
	base, err := sc.valuer.TokenAmountForUSD(symbol, debtToCover)
	if err != nil {
		return Seizure{}, err
	}

	bonus := fpmath.PercentOf(base, sc.params.LiquidationBonusPct)

	return Seizure{
		Base:  base,
		Bonus: bonus,
		Total: new(big.Int).Add(base, bonus),
	}, nil
}

// ImprovesHealth reports a strict health factor improvement. Equality is not
// enough: a liquidation that leaves the target exactly where it started only
// extracts the bonus.
func ImprovesHealth(pre, post *big.Int) bool {
	return post.Cmp(pre) > 0
}
