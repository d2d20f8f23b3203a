package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// DepositCollateral moves collateral from the user into engine custody.
type DepositCollateral struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	AssetSymbol string    `json:"asset"`
	Amount      *big.Int  `json:"amount"` // collateral asset base units
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (d *DepositCollateral) IdempotencyKey() string {
	return d.OperationID.String()
}

func (d *DepositCollateral) EventType() EventType {
	return EventTypeDepositCollateral
}

func (d *DepositCollateral) Asset() *string {
	return &d.AssetSymbol
}

func (d *DepositCollateral) SourceSequence() int64 {
	return d.Sequence
}

// MintSynth issues synthetic dollars against the user's collateral.
type MintSynth struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      *big.Int  `json:"amount"` // sUSD base units (18 decimals)
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (m *MintSynth) IdempotencyKey() string {
	return m.OperationID.String()
}

func (m *MintSynth) EventType() EventType {
	return EventTypeMintSynth
}

func (m *MintSynth) Asset() *string {
	return nil // debt is asset-independent
}

func (m *MintSynth) SourceSequence() int64 {
	return m.Sequence
}

// DepositAndMint composes a deposit and a mint into one atomic unit.
type DepositAndMint struct {
	OperationID      uuid.UUID `json:"operation_id"`
	UserID           uuid.UUID `json:"user_id"`
	AssetSymbol      string    `json:"asset"`
	CollateralAmount *big.Int  `json:"collateral_amount"`
	MintAmount       *big.Int  `json:"mint_amount"`
	Sequence         int64     `json:"sequence"`
	Timestamp        time.Time `json:"timestamp"`
}

func (d *DepositAndMint) IdempotencyKey() string {
	return d.OperationID.String()
}

func (d *DepositAndMint) EventType() EventType {
	return EventTypeDepositAndMint
}

func (d *DepositAndMint) Asset() *string {
	return &d.AssetSymbol
}

func (d *DepositAndMint) SourceSequence() int64 {
	return d.Sequence
}

// BurnSynth retires synthetic dollars and reduces the user's debt.
type BurnSynth struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      *big.Int  `json:"amount"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (b *BurnSynth) IdempotencyKey() string {
	return b.OperationID.String()
}

func (b *BurnSynth) EventType() EventType {
	return EventTypeBurnSynth
}

func (b *BurnSynth) Asset() *string {
	return nil
}

func (b *BurnSynth) SourceSequence() int64 {
	return b.Sequence
}

// RedeemCollateral returns custodied collateral to the user.
type RedeemCollateral struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	AssetSymbol string    `json:"asset"`
	Amount      *big.Int  `json:"amount"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (r *RedeemCollateral) IdempotencyKey() string {
	return r.OperationID.String()
}

func (r *RedeemCollateral) EventType() EventType {
	return EventTypeRedeemCollateral
}

func (r *RedeemCollateral) Asset() *string {
	return &r.AssetSymbol
}

func (r *RedeemCollateral) SourceSequence() int64 {
	return r.Sequence
}

// RedeemForSynth composes a burn and a redeem into one atomic unit.
type RedeemForSynth struct {
	OperationID      uuid.UUID `json:"operation_id"`
	UserID           uuid.UUID `json:"user_id"`
	AssetSymbol      string    `json:"asset"`
	CollateralAmount *big.Int  `json:"collateral_amount"`
	BurnAmount       *big.Int  `json:"burn_amount"`
	Sequence         int64     `json:"sequence"`
	Timestamp        time.Time `json:"timestamp"`
}

func (r *RedeemForSynth) IdempotencyKey() string {
	return r.OperationID.String()
}

func (r *RedeemForSynth) EventType() EventType {
	return EventTypeRedeemForSynth
}

func (r *RedeemForSynth) Asset() *string {
	return &r.AssetSymbol
}

func (r *RedeemForSynth) SourceSequence() int64 {
	return r.Sequence
}

// Liquidate repays part of an unhealthy account's debt in exchange for
// discounted collateral. Submitted by a third-party liquidator.
type Liquidate struct {
	OperationID uuid.UUID `json:"operation_id"`
	Liquidator  uuid.UUID `json:"liquidator"`
	TargetUser  uuid.UUID `json:"target_user"`
	AssetSymbol string    `json:"asset"`
	DebtToCover *big.Int  `json:"debt_to_cover"` // sUSD base units repaid by the liquidator
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (l *Liquidate) IdempotencyKey() string {
	return l.OperationID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) Asset() *string {
	return &l.AssetSymbol
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}
