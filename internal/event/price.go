package event

import "fmt"

// PriceUpdate carries a USD price observation from the oracle feed.
type PriceUpdate struct {
	AssetSymbol   string `json:"asset"`
	Price         int64  `json:"price"`          // feed units, positive
	FeedDecimals  uint8  `json:"feed_decimals"`  // decimal precision of Price
	FeedSequence  int64  `json:"feed_sequence"`  // monotonic per asset feed
	FeedTimestamp int64  `json:"feed_timestamp"` // epoch microseconds (versioned input)
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.AssetSymbol, p.FeedSequence)
}

func (p *PriceUpdate) EventType() EventType {
	return EventTypePriceUpdate
}

func (p *PriceUpdate) Asset() *string {
	return &p.AssetSymbol
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.FeedSequence
}
