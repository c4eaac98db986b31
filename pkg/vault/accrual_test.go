package vault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPostDailyInterestCreditsOncePerDay(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seedMember(store, "alice", Balances{Vault: PesosToCentavos(1000)})
	clock := newTestClock(testStart)
	service := mustService(t, store, clock)

	credited, err := service.PostDailyInterest(context.Background(), "alice")
	if err != nil {
		t.Fatalf("post interest: %v", err)
	}
	// 1% of 1000 pesos.
	if credited != PesosToCentavos(10) {
		t.Fatalf("expected 10 pesos interest, got %d centavos", credited.Int64())
	}

	if _, err := service.PostDailyInterest(context.Background(), "alice"); !errors.Is(err, ErrAlreadyPosted) {
		t.Fatalf("expected ErrAlreadyPosted, got %v", err)
	}
	balances, _ := service.GetBalances(context.Background(), "alice")
	if balances.Vault != PesosToCentavos(1010) {
		t.Fatalf("expected single credit, got %+v", balances)
	}

	// The next UTC day posts again.
	clock.Advance(24 * time.Hour)
	if _, err := service.PostDailyInterest(context.Background(), "alice"); err != nil {
		t.Fatalf("next-day interest: %v", err)
	}
}

func TestPostDailyInterestFloorsFractions(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seedMember(store, "alice", Balances{Vault: 150})
	service := mustService(t, store, newTestClock(testStart))

	credited, err := service.PostDailyInterest(context.Background(), "alice")
	if err != nil {
		t.Fatalf("post interest: %v", err)
	}
	// 1% of 150 centavos floors from 1.5 to 1.
	if credited != 1 {
		t.Fatalf("expected 1 centavo, got %d", credited.Int64())
	}
}

func TestPostDailyInterestSkipsZeroBalances(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seedMember(store, "alice", Balances{})
	service := mustService(t, store, newTestClock(testStart))

	credited, err := service.PostDailyInterest(context.Background(), "alice")
	if err != nil {
		t.Fatalf("post interest: %v", err)
	}
	if credited != 0 {
		t.Fatalf("expected no credit, got %d", credited.Int64())
	}
	if len(store.entries) != 0 {
		t.Fatalf("expected no zero-amount entry, got %d entries", len(store.entries))
	}
}

func TestPostLendingYieldOnDeployedCapital(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seedMember(store, "lender", Balances{Lending: PesosToCentavos(2000)})
	service := mustService(t, store, newTestClock(testStart))

	credited, err := service.PostLendingYield(context.Background(), "lender")
	if err != nil {
		t.Fatalf("post yield: %v", err)
	}
	if credited != PesosToCentavos(20) {
		t.Fatalf("expected 20 pesos yield, got %d centavos", credited.Int64())
	}
	balances, _ := service.GetBalances(context.Background(), "lender")
	if balances.Vault != PesosToCentavos(20) || balances.Lending != PesosToCentavos(2000) {
		t.Fatalf("yield must credit vault, not lending: %+v", balances)
	}
	if _, err := service.PostLendingYield(context.Background(), "lender"); !errors.Is(err, ErrAlreadyPosted) {
		t.Fatalf("expected ErrAlreadyPosted, got %v", err)
	}
}

func TestRunDailyAccrualCoversAllMembers(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seedMember(store, "alice", Balances{Vault: PesosToCentavos(1000)})
	seedMember(store, "bob", Balances{Vault: PesosToCentavos(500)})
	seedMember(store, "carol", Balances{})
	service := mustService(t, store, newTestClock(testStart))

	credited, err := service.RunDailyAccrual(context.Background())
	if err != nil {
		t.Fatalf("run accrual: %v", err)
	}
	if credited != 3 {
		t.Fatalf("expected 3 members processed, got %d", credited)
	}
	// Re-running the same day skips everyone without error.
	credited, err = service.RunDailyAccrual(context.Background())
	if err != nil {
		t.Fatalf("rerun accrual: %v", err)
	}
	alice, _ := service.GetBalances(context.Background(), "alice")
	if alice.Vault != PesosToCentavos(1010) {
		t.Fatalf("expected single day's interest, got %+v", alice)
	}
}

func TestReferralCommissionOnFirstCompletedDeposit(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	clock := newTestClock(testStart)
	service := mustService(t, store, clock)

	if _, err := service.EnrollMember(context.Background(), "referrer", ""); err != nil {
		t.Fatalf("enroll referrer: %v", err)
	}
	if _, err := service.EnrollMember(context.Background(), "newcomer", "referrer"); err != nil {
		t.Fatalf("enroll newcomer: %v", err)
	}

	if _, err := service.Deposit(context.Background(), "newcomer", PesosToCentavos(1000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clock.Advance(DefaultSettings().ClearingPeriod + time.Minute)
	if _, err := service.AdvanceClearing(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}

	// 5% of the first deposit.
	referrer, _ := service.GetBalances(context.Background(), "referrer")
	if referrer.Vault != PesosToCentavos(50) {
		t.Fatalf("expected 50 pesos commission, got %+v", referrer)
	}

	// The second deposit completes without firing again.
	if _, err := service.Deposit(context.Background(), "newcomer", PesosToCentavos(2000)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	clock.Advance(DefaultSettings().ClearingPeriod + time.Minute)
	if _, err := service.AdvanceClearing(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	referrer, _ = service.GetBalances(context.Background(), "referrer")
	if referrer.Vault != PesosToCentavos(50) {
		t.Fatalf("commission fired twice: %+v", referrer)
	}
}

func TestReferralCommissionWithoutReferrer(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	seedMember(store, "loner", Balances{})
	service := mustService(t, store, newTestClock(testStart))

	_, err := service.ProcessReferralCommission(context.Background(), "loner", PesosToCentavos(1000))
	if !errors.Is(err, ErrNoReferrer) {
		t.Fatalf("expected ErrNoReferrer, got %v", err)
	}
}
