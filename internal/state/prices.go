package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
)

// ErrOracleFailure marks any valuation attempt without a usable price.
var ErrOracleFailure = errors.New("oracle failure")

// PriceQuote is the latest accepted feed observation for one asset.
type PriceQuote struct {
	Price        int64 `json:"price"` // feed units
	FeedDecimals uint8 `json:"feed_decimals"`
	FeedSequence int64 `json:"feed_sequence"` // feed-scoped monotonic sequence
	Timestamp    int64 `json:"timestamp"`     // feed timestamp (epoch microseconds)
}

// PriceBook holds the newest quote per collateral asset. Feeds may redeliver
// or reorder; only quotes with a feed sequence beyond the stored one are
// accepted, so replaying the same update stream converges to the same book.
type PriceBook struct {
	quotes map[ledger.AssetSymbol]PriceQuote
}

func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: make(map[ledger.AssetSymbol]PriceQuote)}
}

// Apply records a quote. Returns false when the quote is stale
// (feed sequence not beyond the stored one) and was skipped.
func (pb *PriceBook) Apply(symbol ledger.AssetSymbol, quote PriceQuote) bool {
	current, ok := pb.quotes[symbol]
	if ok && quote.FeedSequence <= current.FeedSequence {
		return false
	}
	pb.quotes[symbol] = quote
	return true
}

// Quote returns the stored quote for symbol. A missing or non-positive
// price is an oracle failure.
func (pb *PriceBook) Quote(symbol ledger.AssetSymbol) (PriceQuote, error) {
	q, ok := pb.quotes[symbol]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: no quote for %s", ErrOracleFailure, symbol)
	}
	if q.Price <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: non-positive price %d for %s", ErrOracleFailure, q.Price, symbol)
	}
	return q, nil
}

// NormalizedPrice returns the price for symbol scaled to 18 decimals.
func (pb *PriceBook) NormalizedPrice(symbol ledger.AssetSymbol) (*big.Int, error) {
	q, err := pb.Quote(symbol)
	if err != nil {
		return nil, err
	}
	return fpmath.NormalizePrice(q.Price, q.FeedDecimals), nil
}

// Snapshot returns a copy of the book keyed by symbol string.
func (pb *PriceBook) Snapshot() map[string]PriceQuote {
	snap := make(map[string]PriceQuote, len(pb.quotes))
	for sym, q := range pb.quotes {
		snap[sym.String()] = q
	}
	return snap
}

// Restore replaces the book contents from a snapshot.
func (pb *PriceBook) Restore(snapshot map[string]PriceQuote) {
	pb.quotes = make(map[ledger.AssetSymbol]PriceQuote, len(snapshot))
	for sym, q := range snapshot {
		pb.quotes[ledger.NewAssetSymbol(sym)] = q
	}
}

// CanonicalBytes serializes the book deterministically for state hashing.
func (pb *PriceBook) CanonicalBytes() []byte {
	symbols := make([]string, 0, len(pb.quotes))
	for sym := range pb.quotes {
		symbols = append(symbols, sym.String())
	}
	sort.Strings(symbols)

	buf := make([]byte, 0, len(symbols)*40)
	for _, sym := range symbols {
		q := pb.quotes[ledger.NewAssetSymbol(sym)]

		buf = append(buf, byte(len(sym)))
		buf = append(buf, sym...)
		buf = appendInt64LE(buf, q.Price)
		buf = append(buf, q.FeedDecimals)
		buf = appendInt64LE(buf, q.FeedSequence)
		buf = appendInt64LE(buf, q.Timestamp)
	}

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
