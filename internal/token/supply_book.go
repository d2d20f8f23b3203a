package token

import (
	"fmt"
	"math/big"

	"SynthLedger/internal/ledger"

	"github.com/google/uuid"
)

// SupplyBook is the in-process SyntheticToken and CollateralCustodian. It
// tracks outstanding synth per holder and collateral under engine custody.
// Not thread-safe: owned by the core goroutine like the account book.
//
// Aggregate supply always equals aggregate debt in the account book; the
// per-holder split differs once liquidators burn synth against other users'
// debt, which is why this state is snapshotted rather than derived.
type SupplyBook struct {
	supply   *big.Int
	holdings map[uuid.UUID]*big.Int
	custody  map[ledger.AssetSymbol]*big.Int
}

func NewSupplyBook() *SupplyBook {
	return &SupplyBook{
		supply:   new(big.Int),
		holdings: make(map[uuid.UUID]*big.Int),
		custody:  make(map[ledger.AssetSymbol]*big.Int),
	}
}

// Mint credits freshly issued synth to the user.
func (sb *SupplyBook) Mint(userID uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrMintFailed)
	}

	holding, ok := sb.holdings[userID]
	if !ok {
		holding = new(big.Int)
		sb.holdings[userID] = holding
	}
	holding.Add(holding, amount)
	sb.supply.Add(sb.supply, amount)

	return nil
}

// Burn retires synth from the user's holdings.
func (sb *SupplyBook) Burn(userID uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrBurnFailed)
	}

	holding, ok := sb.holdings[userID]
	if !ok || holding.Cmp(amount) < 0 {
		return fmt.Errorf("%w: user %s holds %s, needs %s", ErrBurnFailed, userID, sb.HoldingOf(userID), amount)
	}
	holding.Sub(holding, amount)
	sb.supply.Sub(sb.supply, amount)

	return nil
}

// Pull takes collateral from the user's side of the boundary into custody.
func (sb *SupplyBook) Pull(userID uuid.UUID, asset ledger.AssetSymbol, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrTransferFailed)
	}

	held, ok := sb.custody[asset]
	if !ok {
		held = new(big.Int)
		sb.custody[asset] = held
	}
	held.Add(held, amount)

	return nil
}

// Push releases custodied collateral back to the user.
func (sb *SupplyBook) Push(userID uuid.UUID, asset ledger.AssetSymbol, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", ErrTransferFailed)
	}

	held, ok := sb.custody[asset]
	if !ok || held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody of %s holds %s, needs %s", ErrTransferFailed, asset, sb.CustodyOf(asset), amount)
	}
	held.Sub(held, amount)

	return nil
}

// Supply returns total synth outstanding. Callers must not mutate it.
func (sb *SupplyBook) Supply() *big.Int {
	return sb.supply
}

// HoldingOf returns the user's synth balance. Callers must not mutate it.
func (sb *SupplyBook) HoldingOf(userID uuid.UUID) *big.Int {
	if holding, ok := sb.holdings[userID]; ok {
		return holding
	}
	return new(big.Int)
}

// CustodyOf returns the collateral held for asset. Callers must not mutate it.
func (sb *SupplyBook) CustodyOf(asset ledger.AssetSymbol) *big.Int {
	if held, ok := sb.custody[asset]; ok {
		return held
	}
	return new(big.Int)
}

// Snapshot serializes holdings and custody as decimal strings.
func (sb *SupplyBook) Snapshot() (holdings map[string]string, custody map[string]string) {
	holdings = make(map[string]string, len(sb.holdings))
	for userID, holding := range sb.holdings {
		if holding.Sign() != 0 {
			holdings[userID.String()] = holding.String()
		}
	}

	custody = make(map[string]string, len(sb.custody))
	for asset, held := range sb.custody {
		if held.Sign() != 0 {
			custody[asset.String()] = held.String()
		}
	}

	return holdings, custody
}

// Restore replaces the book contents from a snapshot.
func (sb *SupplyBook) Restore(holdings map[string]string, custody map[string]string) error {
	sb.supply = new(big.Int)
	sb.holdings = make(map[uuid.UUID]*big.Int, len(holdings))
	sb.custody = make(map[ledger.AssetSymbol]*big.Int, len(custody))

	for user, balance := range holdings {
		userID, err := uuid.Parse(user)
		if err != nil {
			return fmt.Errorf("bad holder id %q: %w", user, err)
		}
		value, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			return fmt.Errorf("bad holding %q for %s", balance, user)
		}
		sb.holdings[userID] = value
		sb.supply.Add(sb.supply, value)
	}

	for asset, balance := range custody {
		value, ok := new(big.Int).SetString(balance, 10)
		if !ok {
			return fmt.Errorf("bad custody %q for %s", balance, asset)
		}
		sb.custody[ledger.NewAssetSymbol(asset)] = value
	}

	return nil
}
