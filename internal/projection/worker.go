package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

// ProjectionOutput mirrors the slice of core.CoreOutput the projections
// need. The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Asset          *string
	JournalEntries []JournalEntry
	Price          *PriceEntry // set only for accepted price updates
	Timestamp      int64       // epoch microseconds
}

// JournalEntry is a simplified journal for projection consumption.
// Amount is a base-10 string; it lands in NUMERIC(78,0) columns.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   string
}

// PriceEntry carries an accepted oracle quote in raw feed units, so
// query-time valuation normalizes exactly like the core did.
type PriceEntry struct {
	Asset        string
	Price        int64
	FeedDecimals uint8
	FeedSequence int64
}

// ProjectionWorker updates reader-facing tables from applied operations.
// The projection channel is non-blocking with drop: if projections fall
// behind they can be rebuilt from the operation log, so losing an update
// here never loses data.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue: projections are eventually consistent
				// and can be rebuilt from the operation log
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if err := pw.insertOperationHistory(ctx, tx, output); err != nil {
		return fmt.Errorf("operation history: %w", err)
	}

	if err := pw.insertLiquidationHistory(ctx, tx, output); err != nil {
		return fmt.Errorf("liquidation history: %w", err)
	}

	if output.Price != nil {
		if err := pw.upsertPrice(ctx, tx, *output.Price, output.Sequence); err != nil {
			return fmt.Errorf("price projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection mirrors the in-memory book: debit increases the
// account, credit decreases it. The last_sequence guard makes redelivered
// sequences no-ops; a batch never touches the same account twice, so the
// guard cannot block a legitimate same-sequence update.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC,
		              last_sequence = $4,
		              updated_at = NOW()
		WHERE projections.balances.last_sequence < $4
	`, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3::NUMERIC, $4)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC,
		              last_sequence = $4,
		              updated_at = NOW()
		WHERE projections.balances.last_sequence < $4
	`, j.CreditAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) insertOperationHistory(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.operation_history
			(sequence, event_type, idempotency_key, asset, occurred_at_us)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING
	`, output.Sequence, output.EventType, output.IdempotencyKey, output.Asset, output.Timestamp)
	return err
}

// insertLiquidationHistory records who liquidated whom. The seize leg
// carries both parties in its account paths: debit is the liquidator's
// collateral account, credit is the target's.
func (pw *ProjectionWorker) insertLiquidationHistory(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	var seize, repay *JournalEntry
	for i := range output.JournalEntries {
		switch output.JournalEntries[i].JournalType {
		case "liquidation_seize":
			seize = &output.JournalEntries[i]
		case "liquidation_repay":
			repay = &output.JournalEntries[i]
		}
	}
	if seize == nil || repay == nil {
		return nil
	}

	liquidator, ok := userFromPath(seize.DebitAccount)
	if !ok {
		return fmt.Errorf("no user in seize debit path %q", seize.DebitAccount)
	}
	target, ok := userFromPath(seize.CreditAccount)
	if !ok {
		return fmt.Errorf("no user in seize credit path %q", seize.CreditAccount)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidator_id, target_user_id, asset, collateral_seized, debt_covered, occurred_at_us)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
		ON CONFLICT (sequence) DO NOTHING
	`, output.Sequence, liquidator, target, seize.Asset, seize.Amount, repay.Amount, output.Timestamp)
	return err
}

// upsertPrice keeps the latest quote per asset. The core already rejected
// stale feed sequences, so core sequence order is the only guard needed.
func (pw *ProjectionWorker) upsertPrice(ctx context.Context, tx *sql.Tx, p PriceEntry, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.prices (asset, price, feed_decimals, feed_sequence, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset)
		DO UPDATE SET price = $2,
		              feed_decimals = $3,
		              feed_sequence = $4,
		              last_sequence = $5,
		              updated_at = NOW()
		WHERE projections.prices.last_sequence < $5
	`, p.Asset, p.Price, p.FeedDecimals, p.FeedSequence, seq)
	return err
}

// userFromPath extracts the user UUID from a "user:<uuid>:..." account path.
func userFromPath(path string) (string, bool) {
	parts := strings.Split(path, ":")
	if len(parts) >= 2 && parts[0] == "user" {
		return parts[1], true
	}
	return "", false
}

// RebuildProjections rebuilds all projection tables from the operation log.
// Run offline or behind a maintenance flag; it truncates first.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.operation_history`,
		`TRUNCATE projections.liquidation_history`,
		`TRUNCATE projections.prices`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debit side increases balances
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM op_log.journal
		GROUP BY debit_account, asset
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credit side decreases balances
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM op_log.journal
		GROUP BY credit_account, asset
		ON CONFLICT (account_path) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.operation_history
			(sequence, event_type, idempotency_key, asset, occurred_at_us)
		SELECT sequence, event_type, idempotency_key, asset,
		       (EXTRACT(EPOCH FROM timestamp) * 1000000)::BIGINT
		FROM op_log.operations
		ON CONFLICT (sequence) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild operation history: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.liquidation_history
			(sequence, liquidator_id, target_user_id, asset, collateral_seized, debt_covered, occurred_at_us)
		SELECT s.sequence,
		       split_part(s.debit_account, ':', 2)::UUID,
		       split_part(s.credit_account, ':', 2)::UUID,
		       s.asset, s.amount, r.amount, s.timestamp
		FROM op_log.journal s
		JOIN op_log.journal r
		  ON r.sequence = s.sequence AND r.journal_type = 'liquidation_repay'
		WHERE s.journal_type = 'liquidation_seize'
		ON CONFLICT (sequence) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("rebuild liquidation history: %w", err)
	}

	// Price updates live in the event payload, not the journal.
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.prices (asset, price, feed_decimals, feed_sequence, last_sequence)
		SELECT DISTINCT ON (asset)
		       asset,
		       (payload->>'price')::BIGINT,
		       (payload->>'feed_decimals')::SMALLINT,
		       (payload->>'feed_sequence')::BIGINT,
		       sequence
		FROM op_log.operations
		WHERE event_type = 'PriceUpdate'
		ORDER BY asset, sequence DESC
	`)
	if err != nil {
		return fmt.Errorf("rebuild prices: %w", err)
	}

	// Rebuilt projections reflect the whole log; restore the watermark so
	// readers see the right as-of sequence.
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM op_log.operations
		ON CONFLICT (worker_id) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
