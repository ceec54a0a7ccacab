package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	testVault      = common.HexToAddress("0x10")
	testCollateral = common.HexToAddress("0x20")
	testDebt       = common.HexToAddress("0x30")
	testActor      = common.HexToAddress("0x40")
	testTarget     = common.HexToAddress("0x50")
)

func correctionLog(t *testing.T, eventID common.Hash, vault, collateral, debt, actor, target common.Address, debtQty, collQty *big.Int) types.Log {
	t.Helper()

	data, err := vaultABI.Events["LiquidateCollateral"].Inputs.NonIndexed().Pack(target, debtQty, collQty)
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}

	return types.Log{
		Address: vault,
		Topics: []common.Hash{
			eventID,
			common.BytesToHash(collateral.Bytes()),
			common.BytesToHash(debt.Bytes()),
			common.BytesToHash(actor.Bytes()),
		},
		Data: data,
	}
}

func TestParseCorrectionEvent(t *testing.T) {
	l := correctionLog(t, LiquidationEventID, testVault, testCollateral, testDebt, testActor, testTarget, big.NewInt(100), big.NewInt(120))

	ev, err := ParseCorrectionEvent(l)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if ev.Collateral != testCollateral || ev.DebtToken != testDebt || ev.Actor != testActor {
		t.Fatalf("indexed fields wrong: %+v", ev)
	}
	if ev.Account != testTarget {
		t.Fatalf("expected account %s, got %s", testTarget.Hex(), ev.Account.Hex())
	}
	if ev.DebtQuantity.Cmp(big.NewInt(100)) != 0 || ev.CollateralQuantity.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("quantities wrong: %+v", ev)
	}
}

func TestParseCorrectionEventRejectsUnknownTopic(t *testing.T) {
	l := correctionLog(t, TransferEventID, testVault, testCollateral, testDebt, testActor, testTarget, big.NewInt(1), big.NewInt(1))

	if _, err := ParseCorrectionEvent(l); err == nil {
		t.Fatal("unknown event id must be rejected")
	}
}

func TestMatchCorrection(t *testing.T) {
	l := correctionLog(t, MaintenanceEventID, testVault, testCollateral, testDebt, testActor, testTarget, big.NewInt(100), big.NewInt(120))

	if !MatchCorrection(l, MaintenanceEventID, testVault, testCollateral, testDebt, testActor, testTarget) {
		t.Fatal("fully matching log should match")
	}

	// Every structural field must match; each mismatch alone disqualifies.
	other := common.HexToAddress("0x99")
	if MatchCorrection(l, LiquidationEventID, testVault, testCollateral, testDebt, testActor, testTarget) {
		t.Fatal("wrong event id matched")
	}
	if MatchCorrection(l, MaintenanceEventID, other, testCollateral, testDebt, testActor, testTarget) {
		t.Fatal("wrong vault matched")
	}
	if MatchCorrection(l, MaintenanceEventID, testVault, other, testDebt, testActor, testTarget) {
		t.Fatal("wrong collateral matched")
	}
	if MatchCorrection(l, MaintenanceEventID, testVault, testCollateral, other, testActor, testTarget) {
		t.Fatal("wrong debt token matched")
	}
	if MatchCorrection(l, MaintenanceEventID, testVault, testCollateral, testDebt, other, testTarget) {
		t.Fatal("wrong actor matched")
	}
	if MatchCorrection(l, MaintenanceEventID, testVault, testCollateral, testDebt, testActor, other) {
		t.Fatal("wrong target account matched")
	}
}

func transferLog(t *testing.T, token, from, to common.Address, quantity *big.Int) types.Log {
	t.Helper()

	data, err := tokenABI.Events["Transfer"].Inputs.NonIndexed().Pack(quantity)
	if err != nil {
		t.Fatalf("pack transfer data: %v", err)
	}

	return types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferEventID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}
}

func TestParseTransferEvent(t *testing.T) {
	l := transferLog(t, testDebt, testVault, testActor, big.NewInt(5000))

	ev, err := ParseTransferEvent(l)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.From != testVault || ev.To != testActor {
		t.Fatalf("addresses wrong: %+v", ev)
	}
	if ev.Quantity.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("quantity wrong: %s", ev.Quantity)
	}
}

func TestMatchTransfer(t *testing.T) {
	l := transferLog(t, testDebt, testVault, testActor, big.NewInt(5000))

	if !MatchTransfer(l, testDebt, testActor) {
		t.Fatal("matching transfer should match")
	}
	if MatchTransfer(l, testCollateral, testActor) {
		t.Fatal("wrong token matched")
	}
	if MatchTransfer(l, testDebt, testTarget) {
		t.Fatal("wrong recipient matched")
	}
}

func TestNetworkFeeFor(t *testing.T) {
	fee := NetworkFeeFor(big.NewInt(10), 200)
	// (200 payload + 109 witness) * 10 + fixed witness processing fee.
	want := big.NewInt((200+109)*10 + 1_000_390)
	if fee.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, fee)
	}
}
