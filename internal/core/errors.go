package core

import (
	"errors"

	"SynthLedger/internal/ledger"
	"SynthLedger/internal/state"
	"SynthLedger/internal/token"
)

var (
	// ErrZeroAmount rejects operations with a zero or negative amount.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrSelfLiquidation rejects a liquidation where the liquidator and
	// target are the same user.
	ErrSelfLiquidation = errors.New("liquidator and target are the same user")

	// ErrHealthFactorBroken rejects a mutation that would leave an account
	// below the minimum health factor.
	ErrHealthFactorBroken = errors.New("health factor below minimum")

	// ErrHealthFactorOk rejects a liquidation against a healthy target.
	ErrHealthFactorOk = errors.New("target health factor not below minimum")

	// ErrHealthFactorNotImproved rejects a liquidation that would not
	// strictly raise the target's health factor.
	ErrHealthFactorNotImproved = errors.New("liquidation would not improve target health")

	// ErrNestedCall rejects a collaborator calling back into the engine
	// while an operation is in flight.
	ErrNestedCall = errors.New("nested operation call rejected")

	// ErrSequenceGap rejects a sequenced operation that skips ahead of its
	// partition. The skipped event may still be in flight, so transports
	// should redeliver rather than drop.
	ErrSequenceGap = errors.New("source sequence gap")

	// ErrOutOfOrder rejects a sequenced operation behind its partition that
	// dedup has never seen. Redelivery cannot fix it.
	ErrOutOfOrder = errors.New("out-of-order source sequence")
)

// ErrorClass groups rejection causes for transport mapping and metrics.
// Input errors are rejected before any state change. Solvency errors mean
// every pre-commit check passed except a health factor gate. Collaborator
// errors surface token or oracle failures distinctly so callers can tell
// an external fault from their own bad request.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassInput
	ClassSolvency
	ClassCollaborator
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInput:
		return "input"
	case ClassSolvency:
		return "solvency"
	case ClassCollaborator:
		return "collaborator"
	default:
		return "unknown"
	}
}

// Classify maps a rejection to its error class. Liquidation-specific
// rejections (healthy target, no improvement) classify as solvency.
// Anything unrecognized is treated as an input error: it was rejected
// before any state change.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown

	case errors.Is(err, ErrHealthFactorBroken),
		errors.Is(err, ErrHealthFactorOk),
		errors.Is(err, ErrHealthFactorNotImproved):
		return ClassSolvency

	case errors.Is(err, state.ErrOracleFailure),
		errors.Is(err, token.ErrMintFailed),
		errors.Is(err, token.ErrBurnFailed),
		errors.Is(err, token.ErrTransferFailed):
		return ClassCollaborator

	case errors.Is(err, ErrZeroAmount),
		errors.Is(err, ErrSelfLiquidation),
		errors.Is(err, ErrNestedCall),
		errors.Is(err, ErrSequenceGap),
		errors.Is(err, ErrOutOfOrder),
		errors.Is(err, state.ErrAssetNotAllowed),
		errors.Is(err, state.ErrLengthMismatch),
		errors.Is(err, ledger.ErrInsufficientBalance):
		return ClassInput

	default:
		return ClassInput
	}
}
