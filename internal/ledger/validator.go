package ledger

import (
	"errors"
	"fmt"
)

// ErrInsufficientBalance rejects a batch that would drive a user-scope
// account below zero.
var ErrInsufficientBalance = errors.New("insufficient balance")

// InvariantValidator checks ledger invariants before and after commits.
type InvariantValidator struct {
	book *Book
}

func NewInvariantValidator(book *Book) *InvariantValidator {
	return &InvariantValidator{
		book: book,
	}
}

// ValidateStagedBatch verifies a not-yet-applied batch: it must be
// well-formed, and no user-scope account may go negative once its deltas
// land. This is the single underflow gate for redeems, burns, and
// liquidation seizures.
func (v *InvariantValidator) ValidateStagedBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	staged := NewStagedView(v.book, batch)
	for _, key := range staged.Touched() {
		if key.Scope != AccountScopeUser {
			continue
		}
		if staged.Balance(key).Sign() < 0 {
			return fmt.Errorf("%w: account %s would go negative: %s",
				ErrInsufficientBalance, key.AccountPath(), staged.Balance(key))
		}
	}

	return nil
}

// ValidateGlobalBalance verifies the book is zero-sum per asset.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for asset, total := range v.book.GlobalSum() {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %s", asset, total)
		}
	}

	return nil
}

// ValidateConservation verifies that, for the given asset, the sum of all
// user collateral equals the engine's custodied balance.
func (v *InvariantValidator) ValidateConservation(asset AssetSymbol) error {
	userTotal := v.book.userCollateralSum(asset)
	custodied := v.book.CustodiedBalance(asset)

	if userTotal.Cmp(custodied) != 0 {
		return fmt.Errorf("conservation broken for %s: user total %s, custodied %s",
			asset, userTotal, custodied)
	}

	return nil
}
