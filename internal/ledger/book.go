package ledger

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

// BalanceView is a read-only view of account balances. Implemented by the
// live Book and by StagedView overlays; health and invariant checks accept
// it so they can evaluate not-yet-committed state.
type BalanceView interface {
	// Balance returns the current balance for an account. The returned
	// value must not be mutated by the caller.
	Balance(key AccountKey) *big.Int
}

var zero = new(big.Int)

// Book maintains in-memory account balances as a zero-sum double-entry
// store. Not thread-safe; owned by the single-threaded deterministic core.
type Book struct {
	balances map[AccountKey]*big.Int
}

func NewBook() *Book {
	return &Book{
		balances: make(map[AccountKey]*big.Int),
	}
}

// Balance returns the current balance for an account. The returned value
// must not be mutated.
func (b *Book) Balance(key AccountKey) *big.Int {
	if v, ok := b.balances[key]; ok {
		return v
	}
	return zero
}

// ApplyJournal applies a single journal entry to balances
func (b *Book) ApplyJournal(j Journal) {
	b.add(j.DebitAccount, j.Amount)
	b.sub(j.CreditAccount, j.Amount)
}

// ApplyBatch applies all journals in a batch
func (b *Book) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		b.ApplyJournal(j)
	}

	return nil
}

func (b *Book) add(key AccountKey, amount *big.Int) {
	if v, ok := b.balances[key]; ok {
		v.Add(v, amount)
		return
	}
	b.balances[key] = new(big.Int).Set(amount)
}

func (b *Book) sub(key AccountKey, amount *big.Int) {
	if v, ok := b.balances[key]; ok {
		v.Sub(v, amount)
		return
	}
	b.balances[key] = new(big.Int).Neg(amount)
}

// === Ledger queries ===

// UserCollateral returns a user's deposited balance of one asset.
func (b *Book) UserCollateral(userID uuid.UUID, asset AssetSymbol) *big.Int {
	return b.Balance(NewCollateralAccountKey(userID, asset))
}

// UserDebt returns a user's outstanding minted debt in sUSD base units.
func (b *Book) UserDebt(userID uuid.UUID) *big.Int {
	return b.Balance(NewDebtAccountKey(userID))
}

// CustodiedBalance returns how much of an asset the engine holds on behalf
// of all users: the negated sum of the external boundary accounts.
func (b *Book) CustodiedBalance(asset AssetSymbol) *big.Int {
	total := new(big.Int).Add(
		b.Balance(NewExternalAccountKey(KindExternalDeposits, asset)),
		b.Balance(NewExternalAccountKey(KindExternalRedemptions, asset)),
	)
	return total.Neg(total)
}

// TotalDebt sums outstanding debt across all users. Equals the negated
// issuance account balance while the book is consistent.
func (b *Book) TotalDebt() *big.Int {
	total := new(big.Int)
	for key, balance := range b.balances {
		if key.Scope == AccountScopeUser && key.Kind == KindDebt {
			total.Add(total, balance)
		}
	}
	return total
}

func (b *Book) userCollateralSum(asset AssetSymbol) *big.Int {
	total := new(big.Int)
	for key, balance := range b.balances {
		if key.Scope == AccountScopeUser && key.Kind == KindCollateral && key.Asset == asset {
			total.Add(total, balance)
		}
	}
	return total
}

// GlobalSum sums every account balance per asset. A consistent book sums
// to zero for each asset.
func (b *Book) GlobalSum() map[AssetSymbol]*big.Int {
	totals := make(map[AssetSymbol]*big.Int)

	for key, balance := range b.balances {
		t, ok := totals[key.Asset]
		if !ok {
			t = new(big.Int)
			totals[key.Asset] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// Snapshot returns a copy of all non-zero balances keyed by account path,
// for persistence and external inspection.
func (b *Book) Snapshot() map[string]string {
	snapshot := make(map[string]string, len(b.balances))
	for k, v := range b.balances {
		if v.Sign() == 0 {
			continue
		}
		snapshot[k.AccountPath()] = v.String()
	}
	return snapshot
}

// Restore replaces the book contents from a Snapshot-format map.
func (b *Book) Restore(snapshot map[string]string) error {
	balances := make(map[AccountKey]*big.Int, len(snapshot))
	for path, s := range snapshot {
		key, err := ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("restore: bad balance %q for %s", s, path)
		}
		balances[key] = v
	}
	b.balances = balances
	return nil
}

// CanonicalBytes returns a deterministic serialization of all non-zero
// balances for state hashing: account paths sorted lexicographically, each
// entry length-prefixed.
func (b *Book) CanonicalBytes() []byte {
	paths := make([]string, 0, len(b.balances))
	byPath := make(map[string]*big.Int, len(b.balances))

	for k, v := range b.balances {
		if v.Sign() == 0 {
			continue
		}
		p := k.AccountPath()
		paths = append(paths, p)
		byPath[p] = v
	}
	sort.Strings(paths)

	buf := make([]byte, 0, len(paths)*48)
	for _, p := range paths {
		buf = append(buf, byte(len(p)))
		buf = append(buf, p...)

		val := byPath[p].Bytes()
		buf = append(buf, byte(byPath[p].Sign()+1)) // 0=neg, 1=zero, 2=pos
		buf = append(buf, byte(len(val)))
		buf = append(buf, val...)
	}

	return buf
}

// === Staged view ===

// StagedView overlays an unapplied journal batch on a base view. All
// postcondition checks (balance floors, health factors) run against it
// before the batch is committed.
type StagedView struct {
	base   BalanceView
	deltas map[AccountKey]*big.Int
}

// NewStagedView precomputes the net per-account effect of the batch.
func NewStagedView(base BalanceView, batch *Batch) *StagedView {
	deltas := make(map[AccountKey]*big.Int, len(batch.Journals)*2)

	delta := func(key AccountKey) *big.Int {
		d, ok := deltas[key]
		if !ok {
			d = new(big.Int)
			deltas[key] = d
		}
		return d
	}

	for _, j := range batch.Journals {
		delta(j.DebitAccount).Add(delta(j.DebitAccount), j.Amount)
		delta(j.CreditAccount).Sub(delta(j.CreditAccount), j.Amount)
	}

	return &StagedView{base: base, deltas: deltas}
}

// Balance returns the account balance as it would be after the batch.
func (sv *StagedView) Balance(key AccountKey) *big.Int {
	base := sv.base.Balance(key)
	d, ok := sv.deltas[key]
	if !ok {
		return base
	}
	return new(big.Int).Add(base, d)
}

// Touched returns the keys whose balances the staged batch changes.
func (sv *StagedView) Touched() []AccountKey {
	keys := make([]AccountKey, 0, len(sv.deltas))
	for k := range sv.deltas {
		keys = append(keys, k)
	}
	return keys
}
