package projection_test

import (
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/projection"
	"SynthLedger/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runWorker pushes outputs through a fresh worker and waits for it to
// drain. Workers are stateless over the database, so each call mirrors a
// restart.
func runWorker(t *testing.T, db *sql.DB, outputs ...projection.ProjectionOutput) {
	t.Helper()

	input := make(chan projection.ProjectionOutput, len(outputs))
	worker := projection.NewProjectionWorker(db, input)

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	for _, output := range outputs {
		input <- output
	}
	close(input)

	if err := <-done; err != nil {
		t.Fatalf("projection worker: %v", err)
	}
}

func balanceOf(t *testing.T, db *sql.DB, accountPath string) string {
	t.Helper()
	var balance string
	err := db.QueryRow(`
		SELECT balance::TEXT FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err != nil {
		t.Fatalf("balance of %s: %v", accountPath, err)
	}
	return balance
}

func watermarkOf(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var seq int64
	err := db.QueryRow(`
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	return seq
}

func TestProjectionWorkerAppliesOutputs(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	userID := uuid.NewString()
	liquidatorID := uuid.NewString()
	asset := "WETH"

	userCollateral := "user:" + userID + ":collateral:WETH"
	liqCollateral := "user:" + liquidatorID + ":collateral:WETH"

	deposit := projection.ProjectionOutput{
		Sequence:       0,
		EventType:      "DepositCollateral",
		IdempotencyKey: "op-0",
		Asset:          &asset,
		JournalEntries: []projection.JournalEntry{{
			DebitAccount:  userCollateral,
			CreditAccount: "external:deposits:WETH",
			Asset:         "WETH",
			Amount:        "5000000000000000000",
			JournalType:   "deposit",
		}},
		Timestamp: 1700000000000000,
	}

	price := projection.ProjectionOutput{
		Sequence:       1,
		EventType:      "PriceUpdate",
		IdempotencyKey: "WETH:price:5",
		Asset:          &asset,
		Price: &projection.PriceEntry{
			Asset:        "WETH",
			Price:        300000000000,
			FeedDecimals: 8,
			FeedSequence: 5,
		},
		Timestamp: 1700000001000000,
	}

	liquidation := projection.ProjectionOutput{
		Sequence:       2,
		EventType:      "Liquidate",
		IdempotencyKey: "op-2",
		Asset:          &asset,
		JournalEntries: []projection.JournalEntry{
			{
				DebitAccount:  liqCollateral,
				CreditAccount: userCollateral,
				Asset:         "WETH",
				Amount:        "1100000000000000000",
				JournalType:   "liquidation_seize",
			},
			{
				DebitAccount:  "user:" + userID + ":debt:SUSD",
				CreditAccount: "system:issuance:SUSD",
				Asset:         "SUSD",
				Amount:        "3000000000000000000000",
				JournalType:   "liquidation_repay",
			},
		},
		Timestamp: 1700000002000000,
	}

	runWorker(t, db, deposit, price, liquidation)

	if got := balanceOf(t, db, userCollateral); got != "3900000000000000000" {
		t.Errorf("user collateral = %s", got)
	}
	if got := balanceOf(t, db, liqCollateral); got != "1100000000000000000" {
		t.Errorf("liquidator collateral = %s", got)
	}
	if got := balanceOf(t, db, "external:deposits:WETH"); got != "-5000000000000000000" {
		t.Errorf("external deposits = %s", got)
	}

	var gotPrice, feedSeq int64
	var decimals int16
	err := db.QueryRow(`
		SELECT price, feed_decimals, feed_sequence FROM projections.prices WHERE asset = 'WETH'
	`).Scan(&gotPrice, &decimals, &feedSeq)
	if err != nil {
		t.Fatalf("price row: %v", err)
	}
	if gotPrice != 300000000000 || decimals != 8 || feedSeq != 5 {
		t.Errorf("price row = %d/%d/%d", gotPrice, decimals, feedSeq)
	}

	var opCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM projections.operation_history`).Scan(&opCount); err != nil {
		t.Fatalf("operation history: %v", err)
	}
	if opCount != 3 {
		t.Errorf("operation history rows = %d", opCount)
	}

	var gotLiquidator, gotTarget, seized, covered string
	err = db.QueryRow(`
		SELECT liquidator_id::TEXT, target_user_id::TEXT, collateral_seized::TEXT, debt_covered::TEXT
		FROM projections.liquidation_history WHERE sequence = 2
	`).Scan(&gotLiquidator, &gotTarget, &seized, &covered)
	if err != nil {
		t.Fatalf("liquidation history: %v", err)
	}
	if gotLiquidator != liquidatorID || gotTarget != userID {
		t.Errorf("liquidation parties = %s -> %s", gotLiquidator, gotTarget)
	}
	if seized != "1100000000000000000" || covered != "3000000000000000000000" {
		t.Errorf("liquidation amounts = %s / %s", seized, covered)
	}

	if got := watermarkOf(t, db); got != 2 {
		t.Errorf("watermark = %d", got)
	}

	// Redelivery after a crash replays the same outputs; the last_sequence
	// guard must keep balances unchanged.
	runWorker(t, db, deposit, price, liquidation)

	if got := balanceOf(t, db, userCollateral); got != "3900000000000000000" {
		t.Errorf("user collateral after redelivery = %s", got)
	}
	if got := balanceOf(t, db, liqCollateral); got != "1100000000000000000" {
		t.Errorf("liquidator collateral after redelivery = %s", got)
	}
}

func TestRebuildProjectionsFromOperationLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	userID := uuid.NewString()
	liquidatorID := uuid.NewString()
	userCollateral := "user:" + userID + ":collateral:WETH"
	liqCollateral := "user:" + liquidatorID + ":collateral:WETH"
	asset := "WETH"

	writer := persistence.NewOperationLogWriter(db, 10, time.Second)

	events := []persistence.EventRow{
		{
			Sequence: 0, EventType: "DepositCollateral", IdempotencyKey: "op-0", Asset: &asset,
			Payload:   []byte(`{"user_id":"` + userID + `","asset":"WETH","amount":"5000000000000000000"}`),
			StateHash: make([]byte, 32), PrevHash: make([]byte, 32),
			Timestamp: time.Unix(1700000000, 0).UTC(), SourceSequence: 1,
		},
		{
			Sequence: 1, EventType: "PriceUpdate", IdempotencyKey: "WETH:price:5", Asset: &asset,
			Payload:   []byte(`{"asset":"WETH","price":300000000000,"feed_decimals":8,"feed_sequence":5,"feed_timestamp":1700000001000000}`),
			StateHash: make([]byte, 32), PrevHash: make([]byte, 32),
			Timestamp: time.Unix(1700000001, 0).UTC(), SourceSequence: 5,
		},
		{
			Sequence: 2, EventType: "Liquidate", IdempotencyKey: "op-2", Asset: &asset,
			Payload:   []byte(`{"liquidator_id":"` + liquidatorID + `","user_id":"` + userID + `"}`),
			StateHash: make([]byte, 32), PrevHash: make([]byte, 32),
			Timestamp: time.Unix(1700000002, 0).UTC(), SourceSequence: 2,
		},
	}

	journals := []persistence.JournalRow{
		{
			JournalID: uuid.NewString(), BatchID: uuid.NewString(), EventRef: "op-0", Sequence: 0,
			DebitAccount: userCollateral, CreditAccount: "external:deposits:WETH",
			Asset: "WETH", Amount: "5000000000000000000", JournalType: "deposit",
			Timestamp: 1700000000000000,
		},
		{
			JournalID: uuid.NewString(), BatchID: uuid.NewString(), EventRef: "op-2", Sequence: 2,
			DebitAccount: liqCollateral, CreditAccount: userCollateral,
			Asset: "WETH", Amount: "1100000000000000000", JournalType: "liquidation_seize",
			Timestamp: 1700000002000000,
		},
		{
			JournalID: uuid.NewString(), BatchID: uuid.NewString(), EventRef: "op-2", Sequence: 2,
			DebitAccount: "user:" + userID + ":debt:SUSD", CreditAccount: "system:issuance:SUSD",
			Asset: "SUSD", Amount: "3000000000000000000000", JournalType: "liquidation_repay",
			Timestamp: 1700000002000000,
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := writer.WriteEventBatch(ctx, tx, events); err != nil {
		t.Fatalf("write events: %v", err)
	}
	if err := writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		t.Fatalf("write journals: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Poison the projections so the rebuild has something to correct.
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ('user:`+uuid.NewString()+`:collateral:WETH', 'WETH', 999, 999)
	`)
	if err != nil {
		t.Fatalf("seed bogus balance: %v", err)
	}

	if err := projection.RebuildProjections(ctx, db); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if got := balanceOf(t, db, userCollateral); got != "3900000000000000000" {
		t.Errorf("user collateral = %s", got)
	}
	if got := balanceOf(t, db, liqCollateral); got != "1100000000000000000" {
		t.Errorf("liquidator collateral = %s", got)
	}
	if got := balanceOf(t, db, "system:issuance:SUSD"); got != "-3000000000000000000000" {
		t.Errorf("issuance = %s", got)
	}

	var rowCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM projections.balances WHERE balance = 999`).Scan(&rowCount); err != nil {
		t.Fatalf("bogus row count: %v", err)
	}
	if rowCount != 0 {
		t.Error("bogus balance row survived the rebuild")
	}

	var gotPrice, feedSeq, lastSeq int64
	err = db.QueryRow(`
		SELECT price, feed_sequence, last_sequence FROM projections.prices WHERE asset = 'WETH'
	`).Scan(&gotPrice, &feedSeq, &lastSeq)
	if err != nil {
		t.Fatalf("price row: %v", err)
	}
	if gotPrice != 300000000000 || feedSeq != 5 || lastSeq != 1 {
		t.Errorf("price row = %d/%d/%d", gotPrice, feedSeq, lastSeq)
	}

	var opCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM projections.operation_history`).Scan(&opCount); err != nil {
		t.Fatalf("operation history: %v", err)
	}
	if opCount != 3 {
		t.Errorf("operation history rows = %d", opCount)
	}

	var gotLiquidator, gotTarget string
	err = db.QueryRow(`
		SELECT liquidator_id::TEXT, target_user_id::TEXT
		FROM projections.liquidation_history WHERE sequence = 2
	`).Scan(&gotLiquidator, &gotTarget)
	if err != nil {
		t.Fatalf("liquidation history: %v", err)
	}
	if gotLiquidator != liquidatorID || gotTarget != userID {
		t.Errorf("liquidation parties = %s -> %s", gotLiquidator, gotTarget)
	}

	if got := watermarkOf(t, db); got != 2 {
		t.Errorf("watermark = %d", got)
	}
}
