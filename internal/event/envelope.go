package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositCollateral
	EventTypeMintSynth
	EventTypeDepositAndMint
	EventTypeBurnSynth
	EventTypeRedeemCollateral
	EventTypeRedeemForSynth
	EventTypeLiquidate
	EventTypePriceUpdate
)

// EventEnvelope wraps every event in the operation log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream (operation ID)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Collateral asset context (nullable for asset-independent operations)
	Asset *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Asset returns the collateral asset context (nil when none)
	Asset() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositCollateral:
		return "DepositCollateral"
	case EventTypeMintSynth:
		return "MintSynth"
	case EventTypeDepositAndMint:
		return "DepositAndMint"
	case EventTypeBurnSynth:
		return "BurnSynth"
	case EventTypeRedeemCollateral:
		return "RedeemCollateral"
	case EventTypeRedeemForSynth:
		return "RedeemForSynth"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}
