package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"SynthLedger/internal/ledger"
	"SynthLedger/internal/state"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables. Every
// response carries as_of_sequence (the projection watermark) so callers can
// reason about staleness relative to the operation log. Derived values are
// recomputed per request with the core's own fixed-point math; nothing here
// touches the in-memory book.
type QueryService struct {
	db       *sql.DB
	registry *state.AssetRegistry
	params   state.RiskParams
}

func NewQueryService(db *sql.DB, registry *state.AssetRegistry, params state.RiskParams) *QueryService {
	return &QueryService{db: db, registry: registry, params: params}
}

// projectedView adapts projected balances to ledger.BalanceView so the
// core's valuation and health math runs unchanged at query time.
type projectedView struct {
	balances map[ledger.AccountKey]*big.Int
}

var zeroBalance = new(big.Int)

func (v *projectedView) Balance(key ledger.AccountKey) *big.Int {
	if b, ok := v.balances[key]; ok {
		return b
	}
	return zeroBalance
}

// GetAccount returns a user's collateral positions, debt and health factor.
// Fails with state.ErrOracleFailure when a held asset has no projected
// price; a health factor computed on partial prices would be misleading.
func (qs *QueryService) GetAccount(ctx context.Context, userID uuid.UUID) (*AccountResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	view, err := qs.loadUserView(ctx, userID)
	if err != nil {
		return nil, err
	}

	prices, err := qs.loadPriceBook(ctx)
	if err != nil {
		return nil, err
	}

	valuer := state.NewValuer(qs.registry, prices)
	health := state.NewHealthCalculator(valuer, qs.params)

	resp := &AccountResponse{
		UserID:       userID,
		AsOfSequence: asOfSeq,
	}

	for _, entry := range qs.registry.Entries() {
		balance := view.Balance(ledger.NewCollateralAccountKey(userID, entry.Symbol))
		if balance.Sign() == 0 {
			continue
		}
		value, err := valuer.USDValue(entry.Symbol, balance)
		if err != nil {
			return nil, fmt.Errorf("value %s collateral: %w", entry.Symbol, err)
		}
		resp.Collateral = append(resp.Collateral, CollateralPosition{
			Asset:    entry.Symbol.String(),
			Amount:   balance.String(),
			ValueUSD: value.String(),
		})
	}

	totalUSD, err := valuer.TotalCollateralValue(view, userID)
	if err != nil {
		return nil, fmt.Errorf("total collateral value: %w", err)
	}
	resp.CollateralValueUSD = totalUSD.String()

	resp.Debt = view.Balance(ledger.NewDebtAccountKey(userID)).String()

	hf, err := health.HealthFactor(view, userID)
	if err != nil {
		return nil, fmt.Errorf("health factor: %w", err)
	}
	resp.HealthFactor = hf.String()
	resp.Status = state.ClassifyHealth(hf).String()

	return resp, nil
}

// GetSynthSupply reports outstanding synthetic supply. Mints credit the
// issuance account, so supply is the negated projected issuance balance.
func (qs *QueryService) GetSynthSupply(ctx context.Context) (*SupplyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	issuancePath := ledger.NewIssuanceAccountKey().AccountPath()
	raw, err := qs.getProjectedBalance(ctx, issuancePath)
	if err != nil {
		return nil, err
	}

	return &SupplyResponse{
		OutstandingSynth: new(big.Int).Neg(raw).String(),
		AsOfSequence:     asOfSeq,
	}, nil
}

// GetOperationHistory returns applied operations, newest first. A non-nil
// beforeSequence restricts results to strictly older operations, which is
// the pagination cursor.
func (qs *QueryService) GetOperationHistory(ctx context.Context, limit int, beforeSequence *int64) ([]OperationRecord, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, event_type, idempotency_key, asset, occurred_at_us
		FROM projections.operation_history
	`
	args := []interface{}{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OperationRecord
	for rows.Next() {
		var r OperationRecord
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(&r.Sequence, &r.EventType, &r.IdempotencyKey, &r.Asset, &r.OccurredAtUs); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetLiquidationHistory returns liquidations where the user was either the
// liquidator or the target, newest first.
func (qs *QueryService) GetLiquidationHistory(ctx context.Context, userID uuid.UUID, limit int, beforeSequence *int64) ([]LiquidationRecord, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT sequence, liquidator_id, target_user_id, asset,
		       collateral_seized::TEXT, debt_covered::TEXT, occurred_at_us
		FROM projections.liquidation_history
		WHERE (liquidator_id = $1 OR target_user_id = $1)
	`
	args := []interface{}{userID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LiquidationRecord
	for rows.Next() {
		var r LiquidationRecord
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&r.Sequence, &r.LiquidatorID, &r.TargetUserID, &r.Asset,
			&r.CollateralSeized, &r.DebtCovered, &r.OccurredAtUs,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetJournalHistory returns journal legs touching any of the user's
// accounts, newest first.
func (qs *QueryService) GetJournalHistory(ctx context.Context, userID uuid.UUID, limit int, beforeSequence *int64) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount::TEXT, journal_type, timestamp
		FROM op_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity over the operation log and
// the zero-sum invariant over projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// A row breaks the chain when its prev_hash disagrees with its
	// predecessor's state_hash. COALESCE lets the oldest retained row
	// pass without a predecessor.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM op_log.operations e1
		LEFT JOIN op_log.operations e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Missing sequences are chain breaks too; the COALESCE above would
	// mask them.
	gapRows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM op_log.operations e1
		LEFT JOIN op_log.operations e2 ON e2.sequence = e1.sequence - 1
		WHERE e2.sequence IS NULL
		  AND e1.sequence > (SELECT MIN(sequence) FROM op_log.operations)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer gapRows.Close()

	for gapRows.Next() {
		var seq int64
		if err := gapRows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := gapRows.Err(); err != nil {
		return nil, err
	}

	// Double entry means every asset sums to zero across all accounts.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::TEXT AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var ua UnbalancedAsset
		if err := balanceRows.Scan(&ua.Asset, &ua.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, ua)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// loadUserView materializes the user's projected balances behind a
// ledger.BalanceView.
func (qs *QueryService) loadUserView(ctx context.Context, userID uuid.UUID) (*projectedView, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance::TEXT
		FROM projections.balances
		WHERE account_path LIKE $1
	`, fmt.Sprintf("user:%s:%%", userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	view := &projectedView{balances: make(map[ledger.AccountKey]*big.Int)}
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, err
		}

		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, err
		}
		balance, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("projected balance for %s: %q is not a base-10 integer", path, raw)
		}
		view.balances[key] = balance
	}

	return view, rows.Err()
}

// loadPriceBook materializes the projected quotes into a state.PriceBook.
func (qs *QueryService) loadPriceBook(ctx context.Context) (*state.PriceBook, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT asset, price, feed_decimals, feed_sequence,
		       (EXTRACT(EPOCH FROM updated_at) * 1000000)::BIGINT
		FROM projections.prices
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes := make(map[string]state.PriceQuote)
	for rows.Next() {
		var asset string
		var q state.PriceQuote
		if err := rows.Scan(&asset, &q.Price, &q.FeedDecimals, &q.FeedSequence, &q.Timestamp); err != nil {
			return nil, err
		}
		quotes[asset] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	book := state.NewPriceBook()
	book.Restore(quotes)
	return book, nil
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (*big.Int, error) {
	var raw string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&raw)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("projected balance for %s: %q is not a base-10 integer", accountPath, raw)
	}
	return balance, nil
}
