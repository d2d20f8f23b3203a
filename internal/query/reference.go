package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/state"

	"github.com/google/uuid"
)

// ParamsResponse exposes the protocol constants clients need to reproduce
// the core's risk math. All fixed-point values are base-10 strings at the
// 18-decimal working scale.
type ParamsResponse struct {
	LiquidationThresholdPct int64        `json:"liquidation_threshold_pct"`
	LiquidationBonusPct     int64        `json:"liquidation_bonus_pct"`
	Precision               string       `json:"precision"`
	MinHealthFactor         string       `json:"min_health_factor"`
	Assets                  []AssetParam `json:"assets"`
}

// AssetParam is one registered collateral asset and its oracle feed.
type AssetParam struct {
	Symbol string `json:"symbol"`
	FeedID string `json:"feed_id"`
}

// PriceResponse is the latest projected quote for one asset, both as the
// feed delivered it and normalized to the working scale.
type PriceResponse struct {
	Asset           string `json:"asset"`
	Price           int64  `json:"price"`
	FeedDecimals    uint8  `json:"feed_decimals"`
	FeedSequence    int64  `json:"feed_sequence"`
	NormalizedPrice string `json:"normalized_price"` // 18-decimal USD per token
	UpdatedAtUs     int64  `json:"updated_at_us"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// CollateralBalanceResponse is one user's projected balance in one asset.
// ValueUSD is empty when the asset has no projected quote yet; the balance
// itself never depends on the oracle.
type CollateralBalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	ValueUSD     string    `json:"value_usd,omitempty"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// ConversionResponse is a token<->usd conversion at the latest projected
// price, computed with the core's own floor-division math.
type ConversionResponse struct {
	Asset        string `json:"asset"`
	TokenAmount  string `json:"token_amount"`
	USDValue     string `json:"usd_value"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// GetParams returns the protocol constants. They are sealed at startup, so
// no watermark applies.
func (qs *QueryService) GetParams() *ParamsResponse {
	resp := &ParamsResponse{
		LiquidationThresholdPct: qs.params.LiquidationThresholdPct,
		LiquidationBonusPct:     qs.params.LiquidationBonusPct,
		Precision:               state.Precision.String(),
		MinHealthFactor:         state.MinHealthFactor.String(),
	}
	for _, entry := range qs.registry.Entries() {
		resp.Assets = append(resp.Assets, AssetParam{
			Symbol: entry.Symbol.String(),
			FeedID: entry.FeedID,
		})
	}
	return resp
}

// GetPrice returns the latest projected quote for one asset. A registered
// asset without a projected quote yet is an oracle failure, same as the
// core would report when valuing it.
func (qs *QueryService) GetPrice(ctx context.Context, asset string) (*PriceResponse, error) {
	symbol := ledger.NewAssetSymbol(asset)
	if err := qs.registry.Require(symbol); err != nil {
		return nil, err
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &PriceResponse{Asset: symbol.String(), AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT price, feed_decimals, feed_sequence,
		       (EXTRACT(EPOCH FROM updated_at) * 1000000)::BIGINT
		FROM projections.prices
		WHERE asset = $1
	`, symbol.String()).Scan(&resp.Price, &resp.FeedDecimals, &resp.FeedSequence, &resp.UpdatedAtUs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no quote for %s", state.ErrOracleFailure, symbol)
	}
	if err != nil {
		return nil, err
	}

	resp.NormalizedPrice = fpmath.NormalizePrice(resp.Price, resp.FeedDecimals).String()
	return resp, nil
}

// GetCollateralBalance returns one user's projected balance in one asset.
// The USD value rides along when a quote exists.
func (qs *QueryService) GetCollateralBalance(ctx context.Context, userID uuid.UUID, asset string) (*CollateralBalanceResponse, error) {
	symbol := ledger.NewAssetSymbol(asset)
	if err := qs.registry.Require(symbol); err != nil {
		return nil, err
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.NewCollateralAccountKey(userID, symbol).AccountPath()
	balance, err := qs.getProjectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}

	resp := &CollateralBalanceResponse{
		UserID:       userID,
		Asset:        symbol.String(),
		Amount:       balance.String(),
		AsOfSequence: asOfSeq,
	}

	prices, err := qs.loadPriceBook(ctx)
	if err != nil {
		return nil, err
	}
	valuer := state.NewValuer(qs.registry, prices)
	value, err := valuer.USDValue(symbol, balance)
	switch {
	case errors.Is(err, state.ErrOracleFailure):
		// No quote yet; the balance is still a fact.
	case err != nil:
		return nil, fmt.Errorf("value %s collateral: %w", symbol, err)
	default:
		resp.ValueUSD = value.String()
	}

	return resp, nil
}

// ConvertTokenToUSD values a token amount at the latest projected price.
func (qs *QueryService) ConvertTokenToUSD(ctx context.Context, asset string, tokenAmount *big.Int) (*ConversionResponse, error) {
	symbol := ledger.NewAssetSymbol(asset)
	if err := qs.registry.Require(symbol); err != nil {
		return nil, err
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	prices, err := qs.loadPriceBook(ctx)
	if err != nil {
		return nil, err
	}
	value, err := state.NewValuer(qs.registry, prices).USDValue(symbol, tokenAmount)
	if err != nil {
		return nil, err
	}

	return &ConversionResponse{
		Asset:        symbol.String(),
		TokenAmount:  tokenAmount.String(),
		USDValue:     value.String(),
		AsOfSequence: asOfSeq,
	}, nil
}

// ConvertUSDToToken inverts ConvertTokenToUSD: how many base units the usd
// amount buys at the latest projected price, floored.
func (qs *QueryService) ConvertUSDToToken(ctx context.Context, asset string, usdAmount *big.Int) (*ConversionResponse, error) {
	symbol := ledger.NewAssetSymbol(asset)
	if err := qs.registry.Require(symbol); err != nil {
		return nil, err
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	prices, err := qs.loadPriceBook(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := state.NewValuer(qs.registry, prices).TokenAmountForUSD(symbol, usdAmount)
	if err != nil {
		return nil, err
	}

	return &ConversionResponse{
		Asset:        symbol.String(),
		TokenAmount:  amount.String(),
		USDValue:     usdAmount.String(),
		AsOfSequence: asOfSeq,
	}, nil
}
