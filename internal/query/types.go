package query

import "github.com/google/uuid"

// OperationRecord is one applied operation for API queries.
type OperationRecord struct {
	Sequence       int64   `json:"sequence"`
	EventType      string  `json:"event_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	Asset          *string `json:"asset,omitempty"`
	OccurredAtUs   int64   `json:"occurred_at_us"`
	AsOfSequence   int64   `json:"as_of_sequence"`
}

// LiquidationRecord is one completed liquidation for API queries.
// Amounts are base-10 strings in 18-decimal base units.
type LiquidationRecord struct {
	Sequence         int64     `json:"sequence"`
	LiquidatorID     uuid.UUID `json:"liquidator_id"`
	TargetUserID     uuid.UUID `json:"target_user_id"`
	Asset            string    `json:"asset"`
	CollateralSeized string    `json:"collateral_seized"`
	DebtCovered      string    `json:"debt_covered"`
	OccurredAtUs     int64     `json:"occurred_at_us"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal leg for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"` // epoch microseconds
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose projected balances do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
