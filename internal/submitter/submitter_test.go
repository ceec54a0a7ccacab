package submitter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/chain"
	"github.com/flamingo-finance/flamingo-margin-maintainer/internal/risk"
)

type fakeLedger struct {
	feeErr       error
	broadcastErr error

	feeChecks  int
	broadcasts int
	lastCall   chain.Call
}

func (l *fakeLedger) CheckFees(ctx context.Context, call chain.Call) (chain.FeeEstimate, error) {
	l.feeChecks++
	l.lastCall = call
	if l.feeErr != nil {
		return chain.FeeEstimate{}, l.feeErr
	}
	return chain.FeeEstimate{FeePerByte: big.NewInt(1), NetworkFee: big.NewInt(1000), GasLimit: 21000}, nil
}

func (l *fakeLedger) SignAndBroadcast(ctx context.Context, call chain.Call, fees chain.FeeEstimate) (common.Hash, error) {
	l.broadcasts++
	if l.broadcastErr != nil {
		return common.Hash{}, l.broadcastErr
	}
	return common.HexToHash("0x01"), nil
}

func testOptions(dryRun bool) Options {
	return Options{
		Vault:           common.HexToAddress("0x10"),
		DebtToken:       common.HexToAddress("0x20"),
		CollateralToken: common.HexToAddress("0x30"),
		DryRun:          dryRun,
	}
}

func testIntent() risk.Intent {
	return risk.Intent{
		Kind:     risk.KindMaintenance,
		Target:   common.HexToAddress("0x99"),
		Quantity: big.NewInt(1234),
	}
}

func TestSubmitBroadcasts(t *testing.T) {
	ledger := &fakeLedger{}
	s := New(testOptions(false), ledger, zerolog.Nop())

	hash, err := s.Submit(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash == nil {
		t.Fatal("expected a transaction hash")
	}
	if ledger.feeChecks != 1 || ledger.broadcasts != 1 {
		t.Fatalf("expected one fee check and one broadcast, got %d/%d", ledger.feeChecks, ledger.broadcasts)
	}
}

func TestSubmitDryRunSkipsBroadcast(t *testing.T) {
	ledger := &fakeLedger{}
	s := New(testOptions(true), ledger, zerolog.Nop())

	hash, err := s.Submit(context.Background(), testIntent())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash != nil {
		t.Fatal("dry run must not return a hash")
	}
	if ledger.feeChecks != 1 {
		t.Fatal("dry run must still run the fee checks")
	}
	if ledger.broadcasts != 0 {
		t.Fatal("dry run must not broadcast")
	}
}

func TestSubmitFeeFailureAborts(t *testing.T) {
	ledger := &fakeLedger{feeErr: chain.ErrFeeSimulation}
	s := New(testOptions(false), ledger, zerolog.Nop())

	if _, err := s.Submit(context.Background(), testIntent()); !errors.Is(err, chain.ErrFeeSimulation) {
		t.Fatalf("expected fee simulation error, got %v", err)
	}
	if ledger.broadcasts != 0 {
		t.Fatal("failed fee check must prevent broadcast")
	}
}

func TestSubmitBroadcastFailure(t *testing.T) {
	ledger := &fakeLedger{broadcastErr: chain.ErrBroadcast}
	s := New(testOptions(false), ledger, zerolog.Nop())

	if _, err := s.Submit(context.Background(), testIntent()); !errors.Is(err, chain.ErrBroadcast) {
		t.Fatalf("expected broadcast error, got %v", err)
	}
}

func TestBuildCallSelectsPricingMode(t *testing.T) {
	ledger := &fakeLedger{}

	opts := testOptions(true)
	s := New(opts, ledger, zerolog.Nop())
	if _, err := s.Submit(context.Background(), testIntent()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	combined := ledger.lastCall.Description

	opts.OnChainPriceOnly = true
	s = New(opts, ledger, zerolog.Nop())
	if _, err := s.Submit(context.Background(), testIntent()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ledger.lastCall.Description == combined {
		t.Fatal("on-chain-price mode should build a different call")
	}
}

func TestSubmitUnknownKind(t *testing.T) {
	s := New(testOptions(false), &fakeLedger{}, zerolog.Nop())

	intent := testIntent()
	intent.Kind = risk.Kind("bogus")
	if _, err := s.Submit(context.Background(), intent); err == nil {
		t.Fatal("unknown kind must be rejected")
	}
}
