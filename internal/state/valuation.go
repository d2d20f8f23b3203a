package state

import (
	"math/big"

	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"

	"github.com/google/uuid"
)

// Valuer prices ledger balances in 18-decimal USD terms. It reads balances
// through ledger.BalanceView so the same math serves both the committed book
// and staged overlays.
type Valuer struct {
	registry *AssetRegistry
	prices   *PriceBook
}

func NewValuer(registry *AssetRegistry, prices *PriceBook) *Valuer {
	return &Valuer{registry: registry, prices: prices}
}

// USDValue prices an asset amount: amount * price / 1e18, floored.
func (v *Valuer) USDValue(symbol ledger.AssetSymbol, amount *big.Int) (*big.Int, error) {
	if err := v.registry.Require(symbol); err != nil {
		return nil, err
	}

	price, err := v.prices.NormalizedPrice(symbol)
	if err != nil {
		return nil, err
	}

	return fpmath.USDValue(price, amount), nil
}

// TokenAmountForUSD inverts USDValue: usd * 1e18 / price, floored.
func (v *Valuer) TokenAmountForUSD(symbol ledger.AssetSymbol, usdAmount *big.Int) (*big.Int, error) {
	if err := v.registry.Require(symbol); err != nil {
		return nil, err
	}

	price, err := v.prices.NormalizedPrice(symbol)
	if err != nil {
		return nil, err
	}

	return fpmath.TokenAmountForUSD(usdAmount, price), nil
}

// TotalCollateralValue sums the USD value of every registered collateral
// balance the user holds, in registration order. Zero balances are skipped
// without touching the oracle; a missing price for a held asset fails the
// whole valuation.
func (v *Valuer) TotalCollateralValue(view ledger.BalanceView, userID uuid.UUID) (*big.Int, error) {
	total := new(big.Int)

	for _, entry := range v.registry.Entries() {
		balance := view.Balance(ledger.NewCollateralAccountKey(userID, entry.Symbol))
		if balance.Sign() == 0 {
			continue
		}

		value, err := v.USDValue(entry.Symbol, balance)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}

	return total, nil
}
