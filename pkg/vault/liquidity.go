package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComputeLiquidityIndex derives the system liquidity ratio from the
// member balance totals. It is a pure read model with no writable state
// of its own.
func (service *Service) ComputeLiquidityIndex(ctx context.Context) (LiquidityIndex, error) {
	totals, err := service.store.SumBalances(ctx)
	if err != nil {
		return LiquidityIndex{}, err
	}
	settings := service.settingsFn()
	total := totals.Total().Int64()
	ratio := int64(100)
	if total > 0 {
		ratio = totals.Vault.Int64() * 100 / total
	}
	level := LiquidityHealthy
	switch {
	case ratio <= settings.CriticalThreshold:
		level = LiquidityCritical
	case ratio <= settings.WarningThreshold:
		level = LiquidityWarning
	}
	return LiquidityIndex{
		Ratio:        ratio,
		Level:        level,
		VaultTotal:   totals.Vault,
		FrozenTotal:  totals.Frozen,
		LendingTotal: totals.Lending,
	}, nil
}

// RecordSnapshot folds the current liquidity ratio into the OHLC candle
// for the period containing now, together with the period's net
// deposit/withdrawal flow. Candles are derived history for charting,
// never a source of truth.
func (service *Service) RecordSnapshot(ctx context.Context, period time.Duration) error {
	index, err := service.ComputeLiquidityIndex(ctx)
	if err != nil {
		return err
	}
	now := service.nowFn().UTC()
	periodStart := now.Truncate(period)
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		deposits, err := transactionStore.SumCompletedInRange(ctx, EntryDeposit, periodStart, now)
		if err != nil {
			return err
		}
		withdrawals, err := transactionStore.SumCompletedInRange(ctx, EntryWithdrawal, periodStart, now)
		if err != nil {
			return err
		}
		netFlow := deposits - withdrawals
		existing, err := transactionStore.GetSnapshot(ctx, periodStart)
		if err != nil {
			return err
		}
		if existing == nil {
			return transactionStore.UpsertSnapshot(ctx, LiquiditySnapshot{
				SnapshotID:  uuid.NewString(),
				PeriodStart: periodStart,
				Open:        index.Ratio,
				High:        index.Ratio,
				Low:         index.Ratio,
				Close:       index.Ratio,
				NetFlow:     netFlow,
			})
		}
		candle := *existing
		if index.Ratio > candle.High {
			candle.High = index.Ratio
		}
		if index.Ratio < candle.Low {
			candle.Low = index.Ratio
		}
		candle.Close = index.Ratio
		candle.NetFlow = netFlow
		return transactionStore.UpsertSnapshot(ctx, candle)
	})
}

// Snapshots returns recent liquidity candles, newest first.
func (service *Service) Snapshots(ctx context.Context, limit int) ([]LiquiditySnapshot, error) {
	return service.store.ListSnapshots(ctx, limit)
}

// ReserveBalance returns the current reserve fund balance.
func (service *Service) ReserveBalance(ctx context.Context) (Centavos, error) {
	var balance Centavos
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetReserveForUpdate(ctx)
		if err != nil {
			return err
		}
		balance = current
		return nil
	})
	return balance, err
}

// SweepDefaults settles every funded loan past its due date against the
// reserve fund. Sweeps serialize against each other; each settlement is
// its own transaction, so a mid-sweep crash leaves settled loans marked
// and the rest pending for the next cycle. A depleted reserve fails the
// whole cycle closed rather than skipping loans silently.
func (service *Service) SweepDefaults(ctx context.Context) (int, error) {
	service.sweepMu.Lock()
	defer service.sweepMu.Unlock()

	now := service.nowFn().UTC()
	overdue, err := service.store.ListFundedLoansDueBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, loan := range overdue {
		err := service.settleDefault(ctx, loan.LoanID)
		if errors.Is(err, ErrLoanNotFunded) {
			// Lost the race to a voluntary repayment; nothing to settle.
			continue
		}
		if errors.Is(err, ErrInsufficientReserve) {
			return settled, WrapError(operationSweep, "reserve", "depleted", err)
		}
		if err != nil {
			return settled, WrapError(operationSweep, "loan", loan.LoanID, err)
		}
		settled++
	}
	return settled, nil
}

// settleDefault executes the funded -> defaulted transition: the lender
// is paid principal plus interest from the reserve fund and the
// borrower's pledged collateral is forfeited into the reserve.
func (service *Service) settleDefault(ctx context.Context, loanID string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetLoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if current.Status != LoanFunded {
			return ErrLoanNotFunded
		}
		reserve, err := transactionStore.GetReserveForUpdate(ctx)
		if err != nil {
			return err
		}
		totalDue := current.TotalDue()
		if reserve < totalDue {
			return ErrInsufficientReserve
		}
		lender, err := transactionStore.GetMemberForUpdate(ctx, current.LenderID)
		if err != nil {
			return err
		}
		lenderBalances, err := applyDeltas(lender.Balances, []bucketDelta{
			{bucket: BucketVault, delta: totalDue},
			{bucket: BucketLending, delta: -current.Collateral},
		})
		if err != nil {
			return err
		}
		now := service.nowFn().UTC()
		entry := service.fillEntry(Entry{
			Reference:       NewReference(refPrefixLoan, now),
			RelatedMemberID: current.BorrowerID,
			Type:            EntryLoanRepayment,
			Amount:          totalDue,
			Status:          StatusCompleted,
			Description:     fmt.Sprintf("reserve auto-repayment of loan %s", current.Reference),
			MetadataJSON:    fmt.Sprintf(`{"loan_id":%q,"auto_repay":true,"collateral_forfeited":%d}`, current.LoanID, current.Collateral.Int64()),
		}, current.LenderID)
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := transactionStore.UpdateBalances(ctx, current.LenderID, lenderBalances); err != nil {
			return err
		}
		if err := transactionStore.UpdateReserve(ctx, reserve-totalDue+current.Collateral); err != nil {
			return err
		}
		current.Status = LoanDefaulted
		current.AutoRepayTriggered = true
		return transactionStore.SaveLoan(ctx, current)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSweep,
		Reference: loanID,
		Error:     operationError,
	})
	return operationError
}
