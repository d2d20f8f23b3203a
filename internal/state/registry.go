package state

import (
	"errors"
	"fmt"

	"SynthLedger/internal/ledger"
)

var (
	// ErrLengthMismatch rejects construction with unpaired symbol and feed lists.
	ErrLengthMismatch = errors.New("asset and feed lists differ in length")

	// ErrAssetNotAllowed rejects operations on assets outside the registry.
	ErrAssetNotAllowed = errors.New("asset not allowed as collateral")
)

// AssetEntry pairs a collateral symbol with the oracle feed that prices it.
type AssetEntry struct {
	Symbol ledger.AssetSymbol
	FeedID string
}

// AssetRegistry is the fixed set of accepted collateral assets, kept in
// registration order. The set is sealed at construction.
type AssetRegistry struct {
	entries []AssetEntry
	index   map[ledger.AssetSymbol]int
}

// NewAssetRegistry pairs symbols with feed identifiers positionally.
func NewAssetRegistry(symbols []string, feedIDs []string) (*AssetRegistry, error) {
	if len(symbols) != len(feedIDs) {
		return nil, fmt.Errorf("%w: %d symbols, %d feeds", ErrLengthMismatch, len(symbols), len(feedIDs))
	}

	r := &AssetRegistry{
		entries: make([]AssetEntry, 0, len(symbols)),
		index:   make(map[ledger.AssetSymbol]int, len(symbols)),
	}

	for i, s := range symbols {
		if s == "" {
			return nil, fmt.Errorf("empty symbol at position %d", i)
		}
		if feedIDs[i] == "" {
			return nil, fmt.Errorf("empty feed id for %s", s)
		}

		sym := ledger.NewAssetSymbol(s)
		if _, dup := r.index[sym]; dup {
			return nil, fmt.Errorf("duplicate symbol %s at position %d", sym, i)
		}

		r.index[sym] = len(r.entries)
		r.entries = append(r.entries, AssetEntry{Symbol: sym, FeedID: feedIDs[i]})
	}

	return r, nil
}

// IsAllowed reports whether symbol is registered collateral.
func (r *AssetRegistry) IsAllowed(symbol ledger.AssetSymbol) bool {
	_, ok := r.index[symbol]
	return ok
}

// Require returns ErrAssetNotAllowed for unregistered symbols.
func (r *AssetRegistry) Require(symbol ledger.AssetSymbol) error {
	if !r.IsAllowed(symbol) {
		return fmt.Errorf("%w: %s", ErrAssetNotAllowed, symbol)
	}
	return nil
}

// FeedID returns the oracle feed registered for symbol.
func (r *AssetRegistry) FeedID(symbol ledger.AssetSymbol) (string, bool) {
	i, ok := r.index[symbol]
	if !ok {
		return "", false
	}
	return r.entries[i].FeedID, true
}

// Entries returns the registered assets in registration order.
// Callers must not mutate the returned slice.
func (r *AssetRegistry) Entries() []AssetEntry {
	return r.entries
}

func (r *AssetRegistry) Len() int {
	return len(r.entries)
}
