package query

import "github.com/google/uuid"

// CollateralPosition is one asset's projected collateral balance together
// with its USD value at the latest projected price.
type CollateralPosition struct {
	Asset    string `json:"asset"`
	Amount   string `json:"amount"`    // base units, base-10 string
	ValueUSD string `json:"value_usd"` // 18-decimal USD, base-10 string
}

// AccountResponse is the risk view of a user account. Balances come from
// projections; valuations and the health factor are derived at query time
// with the same fixed-point math the core applies, so a reader sees the
// numbers the core would act on at as_of_sequence.
type AccountResponse struct {
	UserID             uuid.UUID            `json:"user_id"`
	Collateral         []CollateralPosition `json:"collateral"`
	CollateralValueUSD string               `json:"collateral_value_usd"`
	Debt               string               `json:"debt"`
	HealthFactor       string               `json:"health_factor"`
	Status             string               `json:"status"`
	AsOfSequence       int64                `json:"as_of_sequence"`
}

// SupplyResponse reports outstanding synthetic supply across all users.
type SupplyResponse struct {
	OutstandingSynth string `json:"outstanding_synth"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}
