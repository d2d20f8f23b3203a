package ingestion

import (
	"SynthLedger/internal/event"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes plus an event type string)
// into a typed event.Event. The shell validates shape here; semantic checks
// (positive amounts, solvency, ordering) belong to the core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositCollateral":
		return parseDepositCollateral(raw.Data)
	case "MintSynth":
		return parseMintSynth(raw.Data)
	case "DepositAndMint":
		return parseDepositAndMint(raw.Data)
	case "BurnSynth":
		return parseBurnSynth(raw.Data)
	case "RedeemCollateral":
		return parseRedeemCollateral(raw.Data)
	case "RedeemForSynth":
		return parseRedeemForSynth(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS and HTTP.
// Field names use snake_case to match upstream producers. Amounts travel as
// base-10 strings: 18-decimal base units overflow the integer range JSON
// numbers can carry exactly.

// parseAmount decodes a base-unit amount string into a big.Int.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: %q is not a base-10 integer", field, s)
	}
	return v, nil
}

type depositJSON struct {
	OperationID string `json:"operation_id"`
	UserID      string `json:"user_id"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositCollateral(data []byte) (*event.DepositCollateral, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositCollateral: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.DepositCollateral{
		OperationID: opID,
		UserID:      userID,
		AssetSymbol: j.Asset,
		Amount:      amount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

// mintBurnJSON covers both synth supply operations; neither names an asset.
type mintBurnJSON struct {
	OperationID string `json:"operation_id"`
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseMintSynth(data []byte) (*event.MintSynth, error) {
	var j mintBurnJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MintSynth: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.MintSynth{
		OperationID: opID,
		UserID:      userID,
		Amount:      amount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseBurnSynth(data []byte) (*event.BurnSynth, error) {
	var j mintBurnJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BurnSynth: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.BurnSynth{
		OperationID: opID,
		UserID:      userID,
		Amount:      amount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type depositAndMintJSON struct {
	OperationID      string `json:"operation_id"`
	UserID           string `json:"user_id"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	MintAmount       string `json:"mint_amount"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseDepositAndMint(data []byte) (*event.DepositAndMint, error) {
	var j depositAndMintJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositAndMint: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	collateral, err := parseAmount("collateral_amount", j.CollateralAmount)
	if err != nil {
		return nil, err
	}
	mint, err := parseAmount("mint_amount", j.MintAmount)
	if err != nil {
		return nil, err
	}
	return &event.DepositAndMint{
		OperationID:      opID,
		UserID:           userID,
		AssetSymbol:      j.Asset,
		CollateralAmount: collateral,
		MintAmount:       mint,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type redeemJSON struct {
	OperationID string `json:"operation_id"`
	UserID      string `json:"user_id"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRedeemCollateral(data []byte) (*event.RedeemCollateral, error) {
	var j redeemJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedeemCollateral: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseAmount("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.RedeemCollateral{
		OperationID: opID,
		UserID:      userID,
		AssetSymbol: j.Asset,
		Amount:      amount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type redeemForSynthJSON struct {
	OperationID      string `json:"operation_id"`
	UserID           string `json:"user_id"`
	Asset            string `json:"asset"`
	CollateralAmount string `json:"collateral_amount"`
	BurnAmount       string `json:"burn_amount"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseRedeemForSynth(data []byte) (*event.RedeemForSynth, error) {
	var j redeemForSynthJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedeemForSynth: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	collateral, err := parseAmount("collateral_amount", j.CollateralAmount)
	if err != nil {
		return nil, err
	}
	burn, err := parseAmount("burn_amount", j.BurnAmount)
	if err != nil {
		return nil, err
	}
	return &event.RedeemForSynth{
		OperationID:      opID,
		UserID:           userID,
		AssetSymbol:      j.Asset,
		CollateralAmount: collateral,
		BurnAmount:       burn,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type liquidateJSON struct {
	OperationID string `json:"operation_id"`
	Liquidator  string `json:"liquidator"`
	TargetUser  string `json:"target_user"`
	Asset       string `json:"asset"`
	DebtToCover string `json:"debt_to_cover"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseLiquidate(data []byte) (*event.Liquidate, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Liquidate: %w", err)
	}
	opID, err := uuid.Parse(j.OperationID)
	if err != nil {
		return nil, fmt.Errorf("parse operation_id: %w", err)
	}
	liquidator, err := uuid.Parse(j.Liquidator)
	if err != nil {
		return nil, fmt.Errorf("parse liquidator: %w", err)
	}
	target, err := uuid.Parse(j.TargetUser)
	if err != nil {
		return nil, fmt.Errorf("parse target_user: %w", err)
	}
	debtToCover, err := parseAmount("debt_to_cover", j.DebtToCover)
	if err != nil {
		return nil, err
	}
	return &event.Liquidate{
		OperationID: opID,
		Liquidator:  liquidator,
		TargetUser:  target,
		AssetSymbol: j.Asset,
		DebtToCover: debtToCover,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

// priceJSON carries raw oracle quotes. Price stays an int64 in the feed's
// own decimals; normalization to 18 decimals happens inside the core.
type priceJSON struct {
	Asset           string `json:"asset"`
	Price           int64  `json:"price"`
	FeedDecimals    uint8  `json:"feed_decimals"`
	FeedSequence    int64  `json:"feed_sequence"`
	FeedTimestampUs int64  `json:"feed_timestamp_us"`
}

func parsePriceUpdate(data []byte) (*event.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse PriceUpdate: missing asset")
	}
	return &event.PriceUpdate{
		AssetSymbol:   j.Asset,
		Price:         j.Price,
		FeedDecimals:  j.FeedDecimals,
		FeedSequence:  j.FeedSequence,
		FeedTimestamp: j.FeedTimestampUs,
	}, nil
}
