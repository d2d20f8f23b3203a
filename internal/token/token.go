package token

import (
	"errors"
	"math/big"

	"SynthLedger/internal/ledger"

	"github.com/google/uuid"
)

var (
	// ErrMintFailed marks a failed synth issuance.
	ErrMintFailed = errors.New("synth mint failed")

	// ErrBurnFailed marks a failed synth burn, usually an insufficient
	// synth balance on the burning user.
	ErrBurnFailed = errors.New("synth burn failed")

	// ErrTransferFailed marks a failed collateral movement at the custody
	// boundary.
	ErrTransferFailed = errors.New("collateral transfer failed")
)

// SyntheticToken is the synth issuance collaborator. The engine is the sole
// minter: every Mint is paired 1:1 with a debt increase and every Burn with
// a debt decrease. Implementations are called from inside the engine's
// single-threaded loop and must be synchronous; calling back into the engine
// deadlocks by construction and is rejected by the reentrancy guard.
type SyntheticToken interface {
	// Mint credits amount of synth to the user.
	Mint(userID uuid.UUID, amount *big.Int) error

	// Burn debits amount of synth from the user's holdings and retires it.
	Burn(userID uuid.UUID, amount *big.Int) error
}

// CollateralCustodian moves collateral across the world boundary. Pull
// brings user funds under engine custody on deposit; Push releases custody
// back to the user on redemption.
type CollateralCustodian interface {
	Pull(userID uuid.UUID, asset ledger.AssetSymbol, amount *big.Int) error
	Push(userID uuid.UUID, asset ledger.AssetSymbol, amount *big.Int) error
}
