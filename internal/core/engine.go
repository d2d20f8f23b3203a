package core

import (
	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/state"
	"SynthLedger/internal/token"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DeterministicCore is the single-threaded operation processor. Every
// mutation flows through ProcessEvent on one goroutine: dedup, ordering,
// journal staging, pre-commit health checks, collaborator calls, commit,
// state hashing, and emission. Nothing here takes a lock and nothing here
// reads the wall clock; replaying the same operations always produces the
// same balances and the same hash chain.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	book              *ledger.Book
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	registry          *state.AssetRegistry
	prices            *state.PriceBook
	health            *state.HealthCalculator
	seizures          *state.SeizureCalculator
	synth             token.SyntheticToken
	custodian         token.CollateralCustodian
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// Reentrancy guard: a collaborator that calls back into the engine
	// during an operation is rejected instead of deadlocking or
	// interleaving state.
	inOperation bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the core emits per applied operation: the envelope for
// the operation log, the journal batch that moved balances, and the digest
// bytes the state hash covered.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte
}

// Request pairs an event with an optional reply channel. Submitters that
// need the outcome synchronously (the HTTP path) attach Reply; stream
// consumers leave it nil and read the log instead.
//
// A Request may instead carry Capture: a function the core runs between
// operations. Snapshots go through here so they observe a state where no
// event is half-applied, without any locking.
type Request struct {
	Event   event.Event
	Reply   chan error
	Capture func()
}

func NewDeterministicCore(
	startSequence int64,
	registry *state.AssetRegistry,
	params state.RiskParams,
	synth token.SyntheticToken,
	custodian token.CollateralCustodian,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	book := ledger.NewBook()
	prices := state.NewPriceBook()
	valuer := state.NewValuer(registry, prices)

	// Capacity of 1M composite keys covers roughly a day of traffic before
	// dedup falls through to Postgres.
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		book:              book,
		journalGen:        ledger.NewJournalGenerator(startSequence),
		validator:         ledger.NewInvariantValidator(book),
		registry:          registry,
		prices:            prices,
		health:            state.NewHealthCalculator(valuer, params),
		seizures:          state.NewSeizureCalculator(valuer, params),
		synth:             synth,
		custodian:         custodian,
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// Run consumes requests until the channel closes. Both ingestion paths
// (NATS and HTTP) funnel into the one channel, so operations are
// linearized without locks.
func (c *DeterministicCore) Run(requests <-chan Request) {
	for req := range requests {
		if req.Capture != nil {
			req.Capture()
			continue
		}
		err := c.ProcessEvent(req.Event)
		if req.Reply != nil {
			req.Reply <- err
		}
	}
}

// ProcessEvent runs the full processing pipeline for one event.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	return c.process(evt, false)
}

// ReplayEvent reapplies a logged event during recovery. Dedup and source
// ordering were enforced when the event was first applied, and collaborator
// effects already happened, so replay skips all three; it must reproduce
// the same journals, the same balances, and the same hash chain, and emits
// nothing.
func (c *DeterministicCore) ReplayEvent(evt event.Event) error {
	return c.process(evt, true)
}

func (c *DeterministicCore) process(evt event.Event, replay bool) error {
	if c.inOperation {
		return ErrNestedCall
	}
	c.inOperation = true
	defer func() { c.inOperation = false }()

	start := time.Now()
	opType := evt.EventType().String()
	operationID := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := false
	if !replay {
		isDuplicate = c.idempotency.IsDuplicate(opType, operationID)
	}

	// Step 2: Sequence validation. Price freshness runs in both modes so
	// the per-asset partitions track the price book; operation ordering is
	// live-only, since the log already fixed the order replay sees.
	if priceEvt, ok := evt.(*event.PriceUpdate); ok {
		if !c.sequenceValidator.PriceSequenceFresh(priceEvt.AssetSymbol, priceEvt.FeedSequence) {
			if !replay && c.metrics != nil {
				c.metrics.PriceUpdatesStale.WithLabelValues(priceEvt.AssetSymbol).Inc()
			}
			return nil
		}
	} else if !replay {
		if err := c.sequenceValidator.ValidateSequence(PartitionOps, evt.SourceSequence(), isDuplicate); err != nil {
			if c.metrics != nil {
				c.metrics.CoreOpsRejected.WithLabelValues(opType, "sequence").Inc()
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// Redelivered operations are acknowledged without touching state.
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreOpsRejected.WithLabelValues(opType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Handlers run every guard and pre-commit check
	// before any collaborator call, so a rejection here means no state
	// changed anywhere.
	batch, err := c.dispatchEvent(evt, replay)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreOpsRejected.WithLabelValues(opType, Classify(err).String()).Inc()
		}
		return err
	}

	// Steps 4-5: Commit the batch. Dispatch already staged-validated it,
	// so a failure here is a bug in journal generation, not bad input.
	// Price updates carry an empty batch: the envelope still enters the
	// log, but no balances move.
	if len(batch.Journals) > 0 {
		if err := c.book.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: staged batch failed to apply: %v", err))
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 6: State digest over what this event changed.
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(evt, batch)

	// Step 7: Chain the state hash.
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	// Step 8: Envelope for the operation log.
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s payload: %v", opType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: operationID,
		EventType:      evt.EventType(),
		Asset:          evt.Asset(),
		Timestamp:      c.getEventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	c.sequence++

	// Step 9: Post-apply invariant checks. A violation after a validated
	// commit means corrupted state; crashing and recovering from the log
	// beats running on a broken ledger.
	if err := c.postCheckInvariants(evt); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 10: Emit. The persist send blocks so no applied operation is
	// lost; the projection send drops on full, projections catch up from
	// the log. Replay emits nothing: the rows are already in Postgres.
	if !replay {
		output := CoreOutput{
			Envelope:   envelope,
			Batch:      batch,
			StateDelta: stateDigest,
		}

		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}

		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("accounts").Inc()
			}
		}
	}

	// Step 11: Mark processed. Replay marks too, warming the LRU so
	// post-recovery redeliveries stay on the hot path.
	c.idempotency.MarkProcessed(opType, operationID)

	// Step 12: Metrics.
	if !replay && c.metrics != nil {
		c.metrics.CoreOpsApplied.WithLabelValues(opType).Inc()
		c.metrics.CoreOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	}

	return nil
}

// getEventTimestamp extracts the versioned timestamp from an event. The
// core never calls time.Now() for anything that lands in state or the log;
// all timestamps arrive as inputs.
func (c *DeterministicCore) getEventTimestamp(evt event.Event) time.Time {
	switch e := evt.(type) {
	case *event.DepositCollateral:
		return e.Timestamp
	case *event.MintSynth:
		return e.Timestamp
	case *event.DepositAndMint:
		return e.Timestamp
	case *event.BurnSynth:
		return e.Timestamp
	case *event.RedeemCollateral:
		return e.Timestamp
	case *event.RedeemForSynth:
		return e.Timestamp
	case *event.Liquidate:
		return e.Timestamp
	case *event.PriceUpdate:
		return time.UnixMicro(e.FeedTimestamp)
	default:
		panic(fmt.Sprintf("FATAL: getEventTimestamp called with unhandled event type %T; deterministic core cannot use wall-clock time", evt))
	}
}

// computeStateDigest serializes what this event changed, for the hash
// chain. Operations digest their touched accounts' post-apply balances;
// price updates digest the whole price book, since the quote is the state
// that changed.
func (c *DeterministicCore) computeStateDigest(evt event.Event, batch *ledger.Batch) []byte {
	if _, ok := evt.(*event.PriceUpdate); ok {
		return c.prices.CanonicalBytes()
	}

	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	// Entry layout matches Book.CanonicalBytes: length-prefixed path, then
	// sign byte and length-prefixed magnitude.
	digest := make([]byte, 0, len(accounts)*48)
	for _, key := range accounts {
		balance := c.book.Balance(key)
		path := key.AccountPath()

		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)

		mag := balance.Bytes()
		digest = append(digest, byte(balance.Sign()+1))
		digest = append(digest, byte(len(mag)))
		digest = append(digest, mag...)
	}

	return digest
}

// postCheckInvariants validates ledger invariants after a commit.
func (c *DeterministicCore) postCheckInvariants(evt event.Event) error {
	// Collateral conservation for the touched asset: user balances must
	// sum to what the engine holds in custody.
	if a := evt.Asset(); a != nil {
		if _, ok := evt.(*event.PriceUpdate); !ok {
			if err := c.validator.ValidateConservation(ledger.NewAssetSymbol(*a)); err != nil {
				return err
			}
		}
	}

	// Periodic global zero-sum sweep across every asset.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *DeterministicCore) dispatchEvent(evt event.Event, replay bool) (*ledger.Batch, error) {
	switch e := evt.(type) {
	case *event.DepositCollateral:
		return c.handleDeposit(e, replay)
	case *event.MintSynth:
		return c.handleMint(e, replay)
	case *event.DepositAndMint:
		return c.handleDepositAndMint(e, replay)
	case *event.BurnSynth:
		return c.handleBurn(e, replay)
	case *event.RedeemCollateral:
		return c.handleRedeem(e, replay)
	case *event.RedeemForSynth:
		return c.handleRedeemForSynth(e, replay)
	case *event.Liquidate:
		return c.handleLiquidate(e, replay)
	case *event.PriceUpdate:
		return c.handlePriceUpdate(e, replay)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// --- Operation Handlers ---
//
// Every handler follows the same shape: input guards, stage the journal
// batch, run every pre-commit check against the staged view, and only then
// touch collaborators. A batch returned without error is guaranteed to
// commit, so collaborator effects and ledger effects land together.

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: got %v", ErrZeroAmount, amount)
	}
	return nil
}

// stagedHealthy verifies the user would still be healthy once the staged
// batch lands.
func (c *DeterministicCore) stagedHealthy(batch *ledger.Batch, userID uuid.UUID, opType string) error {
	staged := ledger.NewStagedView(c.book, batch)
	healthy, err := c.health.IsHealthy(staged, userID)
	if err != nil {
		return fmt.Errorf("health check for %s: %w", userID, err)
	}
	if !healthy {
		if c.metrics != nil {
			c.metrics.SolvencyRejections.WithLabelValues(opType).Inc()
		}
		return fmt.Errorf("%w: user %s after %s", ErrHealthFactorBroken, userID, opType)
	}
	return nil
}

func (c *DeterministicCore) handleDeposit(evt *event.DepositCollateral, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.Amount); err != nil {
		return nil, err
	}
	asset := ledger.NewAssetSymbol(evt.AssetSymbol)
	if err := c.registry.Require(asset); err != nil {
		return nil, err
	}

	batch := c.journalGen.GenerateDeposit(evt.IdempotencyKey(), evt.UserID, asset, evt.Amount, evt.Timestamp.UnixMicro())
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}

	// Deposits only improve health; no solvency gate. The custodian pull
	// is the last step, so a transfer failure leaves nothing to unwind.
	if !replay {
		if err := c.custodian.Pull(evt.UserID, asset, evt.Amount); err != nil {
			c.recordCollaboratorFailure("custodian", evt.EventType().String())
			return nil, fmt.Errorf("collateral pull: %w", err)
		}
	}

	return batch, nil
}

func (c *DeterministicCore) handleMint(evt *event.MintSynth, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.Amount); err != nil {
		return nil, err
	}

	batch := c.journalGen.GenerateMint(evt.IdempotencyKey(), evt.UserID, evt.Amount, evt.Timestamp.UnixMicro())
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}
	if err := c.stagedHealthy(batch, evt.UserID, evt.EventType().String()); err != nil {
		return nil, err
	}

	if !replay {
		if err := c.synth.Mint(evt.UserID, evt.Amount); err != nil {
			c.recordCollaboratorFailure("token", evt.EventType().String())
			return nil, fmt.Errorf("synth mint: %w", err)
		}
	}

	return batch, nil
}

func (c *DeterministicCore) handleDepositAndMint(evt *event.DepositAndMint, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.CollateralAmount); err != nil {
		return nil, err
	}
	if err := checkAmount(evt.MintAmount); err != nil {
		return nil, err
	}
	asset := ledger.NewAssetSymbol(evt.AssetSymbol)
	if err := c.registry.Require(asset); err != nil {
		return nil, err
	}

	// One batch for both legs: the health check below sees the incoming
	// collateral and the new debt together, which is the whole point of
	// the composite.
	batch := c.journalGen.GenerateDepositAndMint(evt.IdempotencyKey(), evt.UserID, asset,
		evt.CollateralAmount, evt.MintAmount, evt.Timestamp.UnixMicro())
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}
	if err := c.stagedHealthy(batch, evt.UserID, evt.EventType().String()); err != nil {
		return nil, err
	}

	if !replay {
		if err := c.custodian.Pull(evt.UserID, asset, evt.CollateralAmount); err != nil {
			c.recordCollaboratorFailure("custodian", evt.EventType().String())
			return nil, fmt.Errorf("collateral pull: %w", err)
		}

		if err := c.synth.Mint(evt.UserID, evt.MintAmount); err != nil {
			c.recordCollaboratorFailure("token", evt.EventType().String())
			// The pull already happened; push the collateral back so the
			// rejected composite leaves no trace. A failed compensation
			// strands user funds in custody, which is not a state this
			// process may keep running in.
			if pushErr := c.custodian.Push(evt.UserID, asset, evt.CollateralAmount); pushErr != nil {
				panic(fmt.Sprintf("FATAL: compensation push failed after mint rejection: %v (pull %s %s user %s)",
					pushErr, evt.CollateralAmount, asset, evt.UserID))
			}
			if c.metrics != nil {
				c.metrics.Compensations.WithLabelValues(evt.EventType().String()).Inc()
			}
			return nil, fmt.Errorf("synth mint: %w", err)
		}
	}

	return batch, nil
}

func (c *DeterministicCore) handleBurn(evt *event.BurnSynth, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.Amount); err != nil {
		return nil, err
	}

	// Burning more than the outstanding debt fails the staged floor check
	// on the user's debt account.
	batch := c.journalGen.GenerateBurn(evt.IdempotencyKey(), evt.UserID, evt.Amount, evt.Timestamp.UnixMicro())
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}
	// A burn reduces debt, but a partial burn by an underwater user still
	// leaves the position below the floor. The gate keeps every success
	// path ending healthy or debt-free; full burns pass on zero debt.
	if err := c.stagedHealthy(batch, evt.UserID, evt.EventType().String()); err != nil {
		return nil, err
	}

	if !replay {
		if err := c.synth.Burn(evt.UserID, evt.Amount); err != nil {
			c.recordCollaboratorFailure("token", evt.EventType().String())
			return nil, fmt.Errorf("synth burn: %w", err)
		}
	}

	return batch, nil
}

func (c *DeterministicCore) handleRedeem(evt *event.RedeemCollateral, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.Amount); err != nil {
		return nil, err
	}
	asset := ledger.NewAssetSymbol(evt.AssetSymbol)
	if err := c.registry.Require(asset); err != nil {
		return nil, err
	}

	batch := c.journalGen.GenerateRedeem(evt.IdempotencyKey(), evt.UserID, asset, evt.Amount, evt.Timestamp.UnixMicro())
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}
	if err := c.stagedHealthy(batch, evt.UserID, evt.EventType().String()); err != nil {
		return nil, err
	}

	if !replay {
		if err := c.custodian.Push(evt.UserID, asset, evt.Amount); err != nil {
			c.recordCollaboratorFailure("custodian", evt.EventType().String())
			return nil, fmt.Errorf("collateral push: %w", err)
		}
	}

	return batch, nil
}

func (c *DeterministicCore) handleRedeemForSynth(evt *event.RedeemForSynth, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.CollateralAmount); err != nil {
		return nil, err
	}
	if err := checkAmount(evt.BurnAmount); err != nil {
		return nil, err
	}
	asset := ledger.NewAssetSymbol(evt.AssetSymbol)
	if err := c.registry.Require(asset); err != nil {
		return nil, err
	}

	batch := c.journalGen.GenerateRedeemForSynth(evt.IdempotencyKey(), evt.UserID, asset,
		evt.CollateralAmount, evt.BurnAmount, evt.Timestamp.UnixMicro())
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}
	if err := c.stagedHealthy(batch, evt.UserID, evt.EventType().String()); err != nil {
		return nil, err
	}

	if !replay {
		if err := c.synth.Burn(evt.UserID, evt.BurnAmount); err != nil {
			c.recordCollaboratorFailure("token", evt.EventType().String())
			return nil, fmt.Errorf("synth burn: %w", err)
		}

		if err := c.custodian.Push(evt.UserID, asset, evt.CollateralAmount); err != nil {
			c.recordCollaboratorFailure("custodian", evt.EventType().String())
			// The burn already happened; mint the synth back so the
			// rejected composite leaves no trace.
			if mintErr := c.synth.Mint(evt.UserID, evt.BurnAmount); mintErr != nil {
				panic(fmt.Sprintf("FATAL: compensation mint failed after push rejection: %v (burn %s user %s)",
					mintErr, evt.BurnAmount, evt.UserID))
			}
			if c.metrics != nil {
				c.metrics.Compensations.WithLabelValues(evt.EventType().String()).Inc()
			}
			return nil, fmt.Errorf("collateral push: %w", err)
		}
	}

	return batch, nil
}

func (c *DeterministicCore) handleLiquidate(evt *event.Liquidate, replay bool) (*ledger.Batch, error) {
	if err := checkAmount(evt.DebtToCover); err != nil {
		return nil, err
	}
	if evt.Liquidator == evt.TargetUser {
		return nil, ErrSelfLiquidation
	}
	asset := ledger.NewAssetSymbol(evt.AssetSymbol)
	if err := c.registry.Require(asset); err != nil {
		return nil, err
	}

	// The target must be unhealthy against committed state before anything
	// is staged.
	preHealth, err := c.health.HealthFactor(c.book, evt.TargetUser)
	if err != nil {
		return nil, fmt.Errorf("health check for %s: %w", evt.TargetUser, err)
	}
	if preHealth.Cmp(state.MinHealthFactor) >= 0 {
		c.recordLiquidationRejection(evt.AssetSymbol, "target_healthy")
		return nil, fmt.Errorf("%w: target %s at %s", ErrHealthFactorOk, evt.TargetUser, preHealth)
	}

	seizure, err := c.seizures.SeizureForDebt(asset, evt.DebtToCover)
	if err != nil {
		return nil, fmt.Errorf("seizure pricing: %w", err)
	}

	batch := c.journalGen.GenerateLiquidation(evt.IdempotencyKey(), evt.Liquidator, evt.TargetUser,
		asset, seizure.Total, evt.DebtToCover, evt.Timestamp.UnixMicro())

	// The staged floor check covers both overreaches at once: seizing more
	// collateral than the target holds, and repaying more debt than the
	// target owes.
	if err := c.validator.ValidateStagedBatch(batch); err != nil {
		return nil, err
	}

	staged := ledger.NewStagedView(c.book, batch)

	// The liquidation must strictly improve the target. Equality is not
	// enough: that would let a liquidator extract the bonus while leaving
	// the target exactly as broken as before.
	postHealth, err := c.health.HealthFactor(staged, evt.TargetUser)
	if err != nil {
		return nil, fmt.Errorf("health check for %s: %w", evt.TargetUser, err)
	}
	if !state.ImprovesHealth(preHealth, postHealth) {
		c.recordLiquidationRejection(evt.AssetSymbol, "no_improvement")
		return nil, fmt.Errorf("%w: target %s, %s -> %s",
			ErrHealthFactorNotImproved, evt.TargetUser, preHealth, postHealth)
	}

	// Liquidator solvency is judged AFTER the seized collateral credit:
	// the incoming collateral backs the liquidator's own debt, so checking
	// before the credit would reject liquidators who are only solvent
	// because of what they are about to receive.
	liquidatorHealthy, err := c.health.IsHealthy(staged, evt.Liquidator)
	if err != nil {
		return nil, fmt.Errorf("health check for %s: %w", evt.Liquidator, err)
	}
	if !liquidatorHealthy {
		c.recordLiquidationRejection(evt.AssetSymbol, "liquidator_unhealthy")
		return nil, fmt.Errorf("%w: liquidator %s after seizure credit", ErrHealthFactorBroken, evt.Liquidator)
	}

	// The liquidator funds the repayment by burning their own synth.
	if !replay {
		if err := c.synth.Burn(evt.Liquidator, evt.DebtToCover); err != nil {
			c.recordCollaboratorFailure("token", evt.EventType().String())
			return nil, fmt.Errorf("liquidator burn: %w", err)
		}
	}

	if !replay && c.metrics != nil {
		c.metrics.LiquidationsExecuted.WithLabelValues(evt.AssetSymbol).Inc()
		seized, _ := new(big.Float).SetInt(seizure.Total).Float64()
		repaid, _ := new(big.Float).SetInt(evt.DebtToCover).Float64()
		c.metrics.CollateralSeized.WithLabelValues(evt.AssetSymbol).Add(seized)
		c.metrics.DebtRepaid.Add(repaid)
	}

	return batch, nil
}

func (c *DeterministicCore) handlePriceUpdate(evt *event.PriceUpdate, replay bool) (*ledger.Batch, error) {
	if evt.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %d for %s", state.ErrOracleFailure, evt.Price, evt.AssetSymbol)
	}
	asset := ledger.NewAssetSymbol(evt.AssetSymbol)
	if err := c.registry.Require(asset); err != nil {
		return nil, err
	}

	c.prices.Apply(asset, state.PriceQuote{
		Price:        evt.Price,
		FeedDecimals: evt.FeedDecimals,
		FeedSequence: evt.FeedSequence,
		Timestamp:    evt.FeedTimestamp,
	})
	// Cursor moves only now that the quote is applied. A quote rejected
	// above leaves the cursor where it was, so the feed's corrected
	// retransmission at the same sequence is still fresh.
	c.sequenceValidator.CommitPriceSequence(evt.AssetSymbol, evt.FeedSequence)

	if !replay && c.metrics != nil {
		c.metrics.PriceUpdatesApplied.WithLabelValues(evt.AssetSymbol).Inc()
		c.metrics.OracleFeedSequence.WithLabelValues(evt.AssetSymbol).Set(float64(evt.FeedSequence))
	}

	return c.journalGen.GenerateEmpty(evt.IdempotencyKey(), evt.FeedTimestamp), nil
}

func (c *DeterministicCore) recordCollaboratorFailure(collaborator, opType string) {
	if c.metrics != nil {
		c.metrics.CollaboratorFailures.WithLabelValues(collaborator, opType).Inc()
	}
}

func (c *DeterministicCore) recordLiquidationRejection(asset, reason string) {
	if c.metrics != nil {
		c.metrics.LiquidationsRejected.WithLabelValues(asset, reason).Inc()
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the core's serializable in-memory state. The token
// collaborator's books are snapshotted by their owner, not here.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[string]string
	Prices          map[string]state.PriceQuote
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot loads the core's in-memory state. The caller replays
// the operation log from Sequence+1 afterwards.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if err := c.book.Restore(snap.Balances); err != nil {
		return fmt.Errorf("restore balances: %w", err)
	}
	c.prices.Restore(snap.Prices)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	// Next sequence to assign.
	c.sequence = snap.Sequence + 1
	c.journalGen.SetSequence(snap.Sequence + 1)
	c.hasher.SetPrevHash(snap.StateHash)

	return nil
}

// WarmLRU loads recent idempotency keys so redeliveries of just-processed
// operations dedup without a Postgres round trip.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence the core will assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the hash chain tip.
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1, // last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.book.Snapshot(),
		Prices:          c.prices.Snapshot(),
		SequenceState:   c.sequenceValidator.AllPartitions(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}
