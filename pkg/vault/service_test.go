package vault

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := NewService(nil, func() time.Time { return testStart })
	if !errors.Is(err, ErrInvalidServiceConfig) {
		t.Fatalf("expected invalid service config error, got %v", err)
	}
	_, err = NewService(newStubStore(), nil)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		t.Fatalf("expected invalid service config error, got %v", err)
	}
}

func TestEnrollMemberAssignsCode(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustService(t, store, newTestClock(testStart))

	member, err := service.EnrollMember(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if member.MemberCode == "" {
		t.Fatal("expected a member code")
	}
	if !strings.Contains(member.MemberCode, "-") {
		t.Fatalf("unexpected member code format: %s", member.MemberCode)
	}
	balances, err := service.GetBalances(context.Background(), "alice")
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if balances.Total() != 0 {
		t.Fatalf("expected zero balances, got %+v", balances)
	}
}

func TestEnrollMemberRejectsUnknownReferrer(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustService(t, store, newTestClock(testStart))

	_, err := service.EnrollMember(context.Background(), "bob", "nobody")
	if !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}
	if len(store.members) != 0 {
		t.Fatalf("expected no member created, got %d", len(store.members))
	}
}

func TestGetBalancesUnknownMember(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustService(t, store, newTestClock(testStart))

	_, err := service.GetBalances(context.Background(), "ghost")
	if !errors.Is(err, ErrUnknownMember) {
		t.Fatalf("expected ErrUnknownMember, got %v", err)
	}
}

func TestFundReserveAccumulates(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustService(t, store, newTestClock(testStart))

	if err := service.FundReserve(context.Background(), PesosToCentavos(100)); err != nil {
		t.Fatalf("fund reserve: %v", err)
	}
	if err := service.FundReserve(context.Background(), PesosToCentavos(50)); err != nil {
		t.Fatalf("fund reserve: %v", err)
	}
	balance, err := service.ReserveBalance(context.Background())
	if err != nil {
		t.Fatalf("reserve balance: %v", err)
	}
	if balance != PesosToCentavos(150) {
		t.Fatalf("expected 150 pesos reserve, got %d centavos", balance.Int64())
	}
	if err := service.FundReserve(context.Background(), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero credit, got %v", err)
	}
}

func TestApplyDeltasRejectsNegativeBuckets(t *testing.T) {
	t.Parallel()
	_, err := applyDeltas(Balances{Vault: 100}, []bucketDelta{
		{bucket: BucketVault, delta: -150},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	updated, err := applyDeltas(Balances{Vault: 100}, []bucketDelta{
		{bucket: BucketVault, delta: -60},
		{bucket: BucketFrozen, delta: 60},
	})
	if err != nil {
		t.Fatalf("apply deltas: %v", err)
	}
	if updated.Vault != 40 || updated.Frozen != 60 {
		t.Fatalf("unexpected balances: %+v", updated)
	}
}

func TestCentavoConversions(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		centavos Centavos
		pesos    int64
	}{
		{name: "exact", centavos: 150_000, pesos: 1500},
		{name: "floors fraction", centavos: 150_050, pesos: 1500},
		{name: "sub-peso", centavos: 99, pesos: 0},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			if got := testCase.centavos.Pesos(); got != testCase.pesos {
				t.Fatalf("expected %d pesos, got %d", testCase.pesos, got)
			}
		})
	}
	if PesosToCentavos(1500) != 150_000 {
		t.Fatalf("unexpected conversion: %d", PesosToCentavos(1500).Int64())
	}
	if _, err := NewAmount(0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := NewAmount(-5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestValidateAmountRespectsConfiguredBounds(t *testing.T) {
	t.Parallel()
	settings := DefaultSettings()
	settings.MinAmount = PesosToCentavos(10)
	settings.MaxAmount = PesosToCentavos(1000)
	store := newStubStore()
	seedMember(store, "alice", Balances{Vault: PesosToCentavos(5000)})
	service := mustService(t, store, newTestClock(testStart), WithSettings(settings))

	if _, err := service.Withdraw(context.Background(), "alice", PesosToCentavos(5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected below-minimum rejection, got %v", err)
	}
	if _, err := service.Withdraw(context.Background(), "alice", PesosToCentavos(2000)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected above-maximum rejection, got %v", err)
	}
}

func TestMutatingOperationsRespectKillSwitch(t *testing.T) {
	t.Parallel()
	settings := DefaultSettings()
	settings.SystemFrozen = true
	store := newStubStore()
	seedMember(store, "alice", Balances{Vault: PesosToCentavos(100)})
	service := mustService(t, store, newTestClock(testStart), WithSettings(settings))

	if _, err := service.Deposit(context.Background(), "alice", PesosToCentavos(10)); !errors.Is(err, ErrSystemFrozen) {
		t.Fatalf("expected ErrSystemFrozen, got %v", err)
	}
	// The gate fires before any loan is looked up.
	if err := service.CancelLoan(context.Background(), "alice", "some-loan"); !errors.Is(err, ErrSystemFrozen) {
		t.Fatalf("expected ErrSystemFrozen from cancel, got %v", err)
	}

	settings.SystemFrozen = false
	settings.MaintenanceMode = true
	service = mustService(t, store, newTestClock(testStart), WithSettings(settings))
	if _, err := service.Withdraw(context.Background(), "alice", PesosToCentavos(10)); !errors.Is(err, ErrMaintenanceMode) {
		t.Fatalf("expected ErrMaintenanceMode, got %v", err)
	}
	if err := service.CancelLoan(context.Background(), "alice", "some-loan"); !errors.Is(err, ErrMaintenanceMode) {
		t.Fatalf("expected ErrMaintenanceMode from cancel, got %v", err)
	}
}

func TestOperationLoggerReceivesCallbacks(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	recorder := &recordingLogger{}
	service := mustService(t, store, newTestClock(testStart), WithOperationLogger(recorder))

	if _, err := service.EnrollMember(context.Background(), "carol", ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if len(recorder.logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(recorder.logs))
	}
	logged := recorder.logs[0]
	if logged.Operation != operationEnroll || logged.Status != operationStatusOK {
		t.Fatalf("unexpected log: %+v", logged)
	}

	_, _ = service.GetBalances(context.Background(), "carol")
	_, err := service.EnrollMember(context.Background(), "carol", "")
	if err == nil {
		t.Fatal("expected duplicate enrollment to fail")
	}
	last := recorder.logs[len(recorder.logs)-1]
	if last.Status != operationStatusError || last.Error == nil {
		t.Fatalf("expected error log, got %+v", last)
	}
}

type recordingLogger struct {
	logs []OperationLog
}

func (recorder *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	recorder.logs = append(recorder.logs, entry)
}
