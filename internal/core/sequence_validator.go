package core

import (
	"fmt"
)

// PartitionOps is the ordering partition for operation events. Price
// updates get a per-asset partition ("price:<SYMBOL>") since each feed
// carries its own monotonic sequence.
const PartitionOps = "ops"

// SequenceValidator validates source sequences per partition. Operation
// partitions are strict: a gap or out-of-order delivery rejects the event.
// Price partitions tolerate gaps and drop stale observations.
// Not thread-safe; only the single-threaded core touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering for operation events.
//
// A source sequence of zero means the operation arrived unsequenced (the
// HTTP path assigns no stream position) and skips ordering validation;
// idempotency still applies. The first sequenced event on an unseen
// partition is accepted as-is, so a consumer attached mid-stream does not
// reject everything until a restart.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	if sourceSequence == 0 {
		return nil
	}

	expected := sv.expectedNextSeq[partition]
	if expected == 0 {
		sv.expectedNextSeq[partition] = sourceSequence + 1
		return nil
	}

	if sourceSequence < expected {
		// Stale delivery. Fine when dedup already saw it, otherwise the
		// stream is replaying something we never processed.
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected: gap detected
	sv.metrics.RecordGap(partition)
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// PriceSequenceFresh reports whether a feed observation is fresh for one
// asset's price stream. Stale observations are dropped without an envelope;
// gaps are accepted, since a missed quote is superseded by the next one
// anyway. Read-only: the cursor moves in CommitPriceSequence, and only once
// the quote itself passed validation. Advancing on a rejected quote would
// drop the oracle's corrected retransmission at the same feed sequence as
// stale.
func (sv *SequenceValidator) PriceSequenceFresh(asset string, feedSequence int64) bool {
	expected := sv.expectedNextSeq[pricePartition(asset)]
	return expected == 0 || feedSequence >= expected
}

// CommitPriceSequence advances the asset's feed cursor past an accepted
// observation, counting any tolerated gap.
func (sv *SequenceValidator) CommitPriceSequence(asset string, feedSequence int64) {
	partition := pricePartition(asset)
	if expected := sv.expectedNextSeq[partition]; expected > 0 && feedSequence > expected {
		sv.metrics.RecordPriceGap(asset)
	}
	sv.expectedNextSeq[partition] = feedSequence + 1
}

func pricePartition(asset string) string {
	return fmt.Sprintf("price:%s", asset)
}

// ExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) ExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// AllPartitions returns a copy of every partition's next expected sequence,
// for inclusion in snapshots.
func (sv *SequenceValidator) AllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for partition, seq := range sv.expectedNextSeq {
		out[partition] = seq
	}
	return out
}

// RestorePartition seeds a partition's next expected sequence from a
// snapshot.
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}

// GetMetrics returns ordering counters for monitoring.
func (sv *SequenceValidator) GetMetrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe; only the single-threaded core touches it.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
	priceGaps  map[string]int64 // asset -> tolerated feed gap count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		priceGaps:  make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordPriceGap(asset string) {
	m.priceGaps[asset]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetPriceGaps(asset string) int64 {
	return m.priceGaps[asset]
}
