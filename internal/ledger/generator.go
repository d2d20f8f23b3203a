package ledger

import (
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for engine operations.
// One operation produces exactly one batch; composites and liquidations are
// multi-leg batches so they commit or discard as a unit.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// Sequence returns the sequence the next batch will carry.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence resets the batch sequence (used during recovery).
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(
	batch *Batch,
	debit, credit AccountKey,
	asset AssetSymbol,
	amount *big.Int,
	jt JournalType,
) {
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         asset,
		Amount:        new(big.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateEmpty stamps a journal-free batch for state-only events such as
// price updates, which advance the operation log without moving balances.
func (jg *JournalGenerator) GenerateEmpty(eventRef string, timestamp int64) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 0)
	jg.sequence++
	return batch
}

// GenerateDeposit moves collateral from the external boundary into the
// user's collateral account: external:deposits -> user:collateral.
func (jg *JournalGenerator) GenerateDeposit(
	eventRef string,
	userID uuid.UUID,
	asset AssetSymbol,
	amount *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewCollateralAccountKey(userID, asset),
		NewExternalAccountKey(KindExternalDeposits, asset),
		asset, amount, JournalTypeDeposit)

	jg.sequence++
	return batch
}

// GenerateMint raises the user's debt against the issuance counter-account:
// system:issuance -> user:debt.
func (jg *JournalGenerator) GenerateMint(
	eventRef string,
	userID uuid.UUID,
	amount *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewDebtAccountKey(userID),
		NewIssuanceAccountKey(),
		SynthAsset, amount, JournalTypeMint)

	jg.sequence++
	return batch
}

// GenerateDepositAndMint composes the deposit and mint legs in one batch.
func (jg *JournalGenerator) GenerateDepositAndMint(
	eventRef string,
	userID uuid.UUID,
	asset AssetSymbol,
	collateralAmount, mintAmount *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 2)

	jg.appendJournal(batch,
		NewCollateralAccountKey(userID, asset),
		NewExternalAccountKey(KindExternalDeposits, asset),
		asset, collateralAmount, JournalTypeDeposit)

	jg.appendJournal(batch,
		NewDebtAccountKey(userID),
		NewIssuanceAccountKey(),
		SynthAsset, mintAmount, JournalTypeMint)

	jg.sequence++
	return batch
}

// GenerateBurn retires user debt: user:debt -> system:issuance.
func (jg *JournalGenerator) GenerateBurn(
	eventRef string,
	userID uuid.UUID,
	amount *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewIssuanceAccountKey(),
		NewDebtAccountKey(userID),
		SynthAsset, amount, JournalTypeBurn)

	jg.sequence++
	return batch
}

// GenerateRedeem returns collateral to the external boundary:
// user:collateral -> external:redemptions.
func (jg *JournalGenerator) GenerateRedeem(
	eventRef string,
	userID uuid.UUID,
	asset AssetSymbol,
	amount *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 1)

	jg.appendJournal(batch,
		NewExternalAccountKey(KindExternalRedemptions, asset),
		NewCollateralAccountKey(userID, asset),
		asset, amount, JournalTypeRedeem)

	jg.sequence++
	return batch
}

// GenerateRedeemForSynth composes the burn and redeem legs in one batch.
func (jg *JournalGenerator) GenerateRedeemForSynth(
	eventRef string,
	userID uuid.UUID,
	asset AssetSymbol,
	collateralAmount, burnAmount *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 2)

	jg.appendJournal(batch,
		NewIssuanceAccountKey(),
		NewDebtAccountKey(userID),
		SynthAsset, burnAmount, JournalTypeBurn)

	jg.appendJournal(batch,
		NewExternalAccountKey(KindExternalRedemptions, asset),
		NewCollateralAccountKey(userID, asset),
		asset, collateralAmount, JournalTypeRedeem)

	jg.sequence++
	return batch
}

// GenerateLiquidation seizes discounted collateral for the liquidator and
// retires the covered portion of the target's debt, as one atomic batch:
// target:collateral -> liquidator:collateral (seize leg) and
// target:debt -> system:issuance (repay leg, funded by the liquidator's burn).
func (jg *JournalGenerator) GenerateLiquidation(
	eventRef string,
	liquidator, target uuid.UUID,
	asset AssetSymbol,
	totalSeized, debtToCover *big.Int,
	timestamp int64,
) *Batch {
	batch := jg.newBatch(eventRef, timestamp, 2)

	jg.appendJournal(batch,
		NewCollateralAccountKey(liquidator, asset),
		NewCollateralAccountKey(target, asset),
		asset, totalSeized, JournalTypeLiquidationSeize)

	jg.appendJournal(batch,
		NewIssuanceAccountKey(),
		NewDebtAccountKey(target),
		SynthAsset, debtToCover, JournalTypeLiquidationRepay)

	jg.sequence++
	return batch
}
