package token_test

import (
	"errors"
	"math/big"
	"testing"

	"SynthLedger/internal/ledger"
	"SynthLedger/internal/token"

	"github.com/google/uuid"
)

var eth = ledger.NewAssetSymbol("ETH")

func TestSupplyBook_MintBurn(t *testing.T) {
	sb := token.NewSupplyBook()
	userID := uuid.New()

	if err := sb.Mint(userID, big.NewInt(100)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if sb.Supply().Cmp(big.NewInt(100)) != 0 {
		t.Errorf("supply: got %s, want 100", sb.Supply())
	}

	if err := sb.Burn(userID, big.NewInt(40)); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	if sb.HoldingOf(userID).Cmp(big.NewInt(60)) != 0 {
		t.Errorf("holding: got %s, want 60", sb.HoldingOf(userID))
	}
	if sb.Supply().Cmp(big.NewInt(60)) != 0 {
		t.Errorf("supply: got %s, want 60", sb.Supply())
	}
}

func TestSupplyBook_BurnBeyondHolding(t *testing.T) {
	sb := token.NewSupplyBook()
	userID := uuid.New()

	if err := sb.Mint(userID, big.NewInt(10)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	err := sb.Burn(userID, big.NewInt(11))
	if !errors.Is(err, token.ErrBurnFailed) {
		t.Errorf("got %v, want ErrBurnFailed", err)
	}
	if sb.HoldingOf(userID).Cmp(big.NewInt(10)) != 0 {
		t.Error("failed burn should not change holdings")
	}
}

func TestSupplyBook_BurnByStranger(t *testing.T) {
	sb := token.NewSupplyBook()

	err := sb.Burn(uuid.New(), big.NewInt(1))
	if !errors.Is(err, token.ErrBurnFailed) {
		t.Errorf("got %v, want ErrBurnFailed", err)
	}
}

func TestSupplyBook_PullPush(t *testing.T) {
	sb := token.NewSupplyBook()
	userID := uuid.New()

	if err := sb.Pull(userID, eth, big.NewInt(500)); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if sb.CustodyOf(eth).Cmp(big.NewInt(500)) != 0 {
		t.Errorf("custody: got %s, want 500", sb.CustodyOf(eth))
	}

	if err := sb.Push(userID, eth, big.NewInt(200)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if sb.CustodyOf(eth).Cmp(big.NewInt(300)) != 0 {
		t.Errorf("custody: got %s, want 300", sb.CustodyOf(eth))
	}

	err := sb.Push(userID, eth, big.NewInt(301))
	if !errors.Is(err, token.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
}

func TestSupplyBook_SnapshotRestore(t *testing.T) {
	sb := token.NewSupplyBook()
	userA := uuid.New()
	userB := uuid.New()

	if err := sb.Mint(userA, big.NewInt(100)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if err := sb.Mint(userB, big.NewInt(50)); err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if err := sb.Pull(userA, eth, big.NewInt(7)); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	holdings, custody := sb.Snapshot()

	restored := token.NewSupplyBook()
	if err := restored.Restore(holdings, custody); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if restored.Supply().Cmp(big.NewInt(150)) != 0 {
		t.Errorf("restored supply: got %s, want 150", restored.Supply())
	}
	if restored.HoldingOf(userB).Cmp(big.NewInt(50)) != 0 {
		t.Errorf("restored holding: got %s, want 50", restored.HoldingOf(userB))
	}
	if restored.CustodyOf(eth).Cmp(big.NewInt(7)) != 0 {
		t.Errorf("restored custody: got %s, want 7", restored.CustodyOf(eth))
	}
}
