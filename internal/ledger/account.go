package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountKind represents the account purpose
type AccountKind uint8

const (
	// User kinds
	KindCollateral AccountKind = iota // deposited collateral, per asset
	KindDebt                          // outstanding minted sUSD

	// System kinds
	KindIssuance // synth issuance counter-account

	// External kinds
	KindExternalDeposits    // world-side inflow boundary
	KindExternalRedemptions // world-side outflow boundary
)

// AssetSymbol is a fixed-width asset identifier usable as a map key.
// Symbols longer than 8 bytes are truncated; registered symbols must be
// unique within the first 8 bytes.
type AssetSymbol [8]byte

// NewAssetSymbol packs an asset symbol string into its fixed-width form.
func NewAssetSymbol(s string) AssetSymbol {
	var sym AssetSymbol
	copy(sym[:], s)
	return sym
}

func (a AssetSymbol) String() string {
	return strings.TrimRight(string(a[:]), "\x00")
}

// SynthAsset is the symbol of the synthetic dollar itself. Debt and
// issuance accounts are denominated in it.
var SynthAsset = NewAssetSymbol("SUSD")

// AccountKey is the in-memory key for balance tracking (26 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system/external accounts
	Kind     AccountKind
	Asset    AssetSymbol
}

// NewCollateralAccountKey creates a key for a user's collateral holdings.
func NewCollateralAccountKey(userID uuid.UUID, asset AssetSymbol) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		Kind:     KindCollateral,
		Asset:    asset,
	}
}

// NewDebtAccountKey creates a key for a user's outstanding debt.
func NewDebtAccountKey(userID uuid.UUID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		Kind:     KindDebt,
		Asset:    SynthAsset,
	}
}

// NewIssuanceAccountKey creates the system counter-account for minted supply.
func NewIssuanceAccountKey() AccountKey {
	return AccountKey{
		Scope: AccountScopeSystem,
		Kind:  KindIssuance,
		Asset: SynthAsset,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(kind AccountKind, asset AssetSymbol) AccountKey {
	return AccountKey{
		Scope: AccountScopeExternal,
		Kind:  kind,
		Asset: asset,
	}
}

// UserID returns the owning user for user-scope keys.
func (k AccountKey) UserID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.kindName(), k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.kindName(), k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.kindName(), k.Asset)
	}
	return "unknown"
}

func (k AccountKey) kindName() string {
	switch k.Kind {
	case KindCollateral:
		return "collateral"
	case KindDebt:
		return "debt"
	case KindIssuance:
		return "issuance"
	case KindExternalDeposits:
		return "deposits"
	case KindExternalRedemptions:
		return "redemptions"
	default:
		return "unknown"
	}
}

func kindFromName(name string) (AccountKind, bool) {
	switch name {
	case "collateral":
		return KindCollateral, true
	case "debt":
		return KindDebt, true
	case "issuance":
		return KindIssuance, true
	case "deposits":
		return KindExternalDeposits, true
	case "redemptions":
		return KindExternalRedemptions, true
	default:
		return 0, false
	}
}

// ParseAccountPath inverts AccountPath. Used when restoring snapshots.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %q: %w", path, err)
		}
		kind, ok := kindFromName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown kind", path)
		}
		return AccountKey{
			Scope:    AccountScopeUser,
			EntityID: uid,
			Kind:     kind,
			Asset:    NewAssetSymbol(parts[3]),
		}, nil

	case len(parts) == 3 && parts[0] == "system":
		kind, ok := kindFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown kind", path)
		}
		return AccountKey{
			Scope: AccountScopeSystem,
			Kind:  kind,
			Asset: NewAssetSymbol(parts[2]),
		}, nil

	case len(parts) == 3 && parts[0] == "external":
		kind, ok := kindFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("parse account path %q: unknown kind", path)
		}
		return AccountKey{
			Scope: AccountScopeExternal,
			Kind:  kind,
			Asset: NewAssetSymbol(parts[2]),
		}, nil
	}

	return AccountKey{}, fmt.Errorf("parse account path %q: unrecognized form", path)
}
