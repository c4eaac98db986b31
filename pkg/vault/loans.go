package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestLoan opens a peer-to-peer loan request. The borrower's vault
// must contain at least one deposit that has aged past the configured
// aging period, the principal may not exceed the collateral-ratio cap,
// and collateral equal to the principal is locked vault to frozen.
func (service *Service) RequestLoan(ctx context.Context, borrowerID MemberID, principal Centavos) (Loan, error) {
	settings := service.settingsFn()
	var loan Loan
	operationError := service.guarded(settings, principal, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			borrower, err := transactionStore.GetMemberForUpdate(ctx, borrowerID)
			if err != nil {
				return err
			}
			now := service.nowFn().UTC()
			if err := service.checkAging(ctx, transactionStore, borrowerID, settings, now); err != nil {
				return err
			}
			maxPrincipal := Centavos(borrower.Balances.Vault.Int64() * settings.CollateralRatio / 100)
			if principal > maxPrincipal {
				return ExceedsMaxLoanError{Max: maxPrincipal}
			}
			collateral := principal
			updated, err := applyDeltas(borrower.Balances, []bucketDelta{
				{bucket: BucketVault, delta: -collateral},
				{bucket: BucketFrozen, delta: collateral},
			})
			if err != nil {
				return err
			}
			loan = Loan{
				LoanID:       uuid.NewString(),
				Reference:    NewReference(refPrefixLoan, now),
				BorrowerID:   borrowerID,
				Principal:    principal,
				InterestRate: settings.LoanInterestRate,
				DurationDays: settings.LoanDurationDays,
				Collateral:   collateral,
				Status:       LoanOpen,
				CreatedAt:    now,
			}
			lock := service.fillEntry(Entry{
				Reference:    NewReference(refPrefixCollateral, now),
				Type:         EntryCollateralLock,
				Amount:       collateral,
				Status:       StatusCompleted,
				Description:  fmt.Sprintf("collateral for loan %s", loan.Reference),
				MetadataJSON: fmt.Sprintf(`{"loan_id":%q}`, loan.LoanID),
			}, borrowerID)
			if err := transactionStore.InsertEntry(ctx, lock); err != nil {
				return err
			}
			if err := transactionStore.UpdateBalances(ctx, borrowerID, updated); err != nil {
				return err
			}
			return transactionStore.CreateLoan(ctx, loan)
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRequestLoan,
		MemberID:  borrowerID,
		Amount:    principal,
		Reference: loan.Reference,
		Error:     operationError,
	})
	if operationError != nil {
		return Loan{}, operationError
	}
	return loan, nil
}

// checkAging enforces the per-deposit aging rule: the borrower needs at
// least one completed deposit older than the aging period. A later
// deposit never un-ages funds an earlier deposit already matured.
func (service *Service) checkAging(ctx context.Context, transactionStore Store, borrowerID MemberID, settings Settings, now time.Time) error {
	oldest, err := transactionStore.OldestCompletedDeposit(ctx, borrowerID)
	if err != nil {
		return err
	}
	if oldest == nil {
		return FundsNotAgedError{Remaining: settings.AgingPeriod}
	}
	age := now.Sub(oldest.CreatedAt)
	if age < settings.AgingPeriod {
		return FundsNotAgedError{Remaining: settings.AgingPeriod - age}
	}
	return nil
}

// FundLoan moves the principal from the lender's vault to the
// borrower's vault and takes custody of the borrower's pledged
// collateral in the lender's lending bucket, all as one atomic unit.
func (service *Service) FundLoan(ctx context.Context, lenderID MemberID, loanID string) (Loan, error) {
	settings := service.settingsFn()
	var loan Loan
	operationError := func() error {
		if err := service.checkSystemOpen(settings); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			current, err := transactionStore.GetLoanForUpdate(ctx, loanID)
			if err != nil {
				return err
			}
			if current.Status != LoanOpen {
				return ErrLoanNotOpen
			}
			if current.BorrowerID == lenderID {
				return ErrSelfFunding
			}
			borrower, lender, err := service.lockPair(ctx, transactionStore, current.BorrowerID, lenderID)
			if err != nil {
				return err
			}
			lenderBalances, err := applyDeltas(lender.Balances, []bucketDelta{
				{bucket: BucketVault, delta: -current.Principal},
				{bucket: BucketLending, delta: current.Collateral},
			})
			if err != nil {
				return err
			}
			borrowerBalances, err := applyDeltas(borrower.Balances, []bucketDelta{
				{bucket: BucketFrozen, delta: -current.Collateral},
				{bucket: BucketVault, delta: current.Principal},
			})
			if err != nil {
				return err
			}
			now := service.nowFn().UTC()
			dueAt := now.Add(time.Duration(current.DurationDays) * 24 * time.Hour)
			current.LenderID = lenderID
			current.Status = LoanFunded
			current.FundedAt = &now
			current.DueAt = &dueAt
			lenderEntry := service.fillEntry(Entry{
				Reference:       NewReference(refPrefixLoan, now),
				RelatedMemberID: current.BorrowerID,
				Type:            EntryLoanFunding,
				Amount:          current.Principal,
				Status:          StatusCompleted,
				Description:     fmt.Sprintf("funded loan %s", current.Reference),
				MetadataJSON:    fmt.Sprintf(`{"loan_id":%q,"pledge_held":%d}`, current.LoanID, current.Collateral.Int64()),
			}, lenderID)
			borrowerEntry := service.fillEntry(Entry{
				Reference:       NewReference(refPrefixLoan, now),
				RelatedMemberID: lenderID,
				Type:            EntryLoanFunding,
				Amount:          current.Principal,
				Status:          StatusCompleted,
				Description:     fmt.Sprintf("proceeds of loan %s", current.Reference),
				MetadataJSON:    fmt.Sprintf(`{"loan_id":%q,"pledge_transferred":%d}`, current.LoanID, current.Collateral.Int64()),
			}, current.BorrowerID)
			if err := transactionStore.InsertEntry(ctx, lenderEntry); err != nil {
				return err
			}
			if err := transactionStore.InsertEntry(ctx, borrowerEntry); err != nil {
				return err
			}
			if err := transactionStore.UpdateBalances(ctx, lenderID, lenderBalances); err != nil {
				return err
			}
			if err := transactionStore.UpdateBalances(ctx, current.BorrowerID, borrowerBalances); err != nil {
				return err
			}
			if err := transactionStore.SaveLoan(ctx, current); err != nil {
				return err
			}
			loan = current
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationFundLoan,
		MemberID:  lenderID,
		Related:   loan.BorrowerID,
		Amount:    loan.Principal,
		Reference: loan.Reference,
		Error:     operationError,
	})
	if operationError != nil {
		return Loan{}, operationError
	}
	return loan, nil
}

// RepayLoan settles a funded loan voluntarily: the borrower pays
// principal plus interest to the lender and the pledged collateral
// returns to the borrower's vault. Returns the released collateral.
func (service *Service) RepayLoan(ctx context.Context, loanID string) (Centavos, error) {
	settings := service.settingsFn()
	var released Centavos
	var reference string
	operationError := func() error {
		if err := service.checkSystemOpen(settings); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			current, err := transactionStore.GetLoanForUpdate(ctx, loanID)
			if err != nil {
				return err
			}
			if current.Status != LoanFunded {
				return ErrLoanNotFunded
			}
			borrower, lender, err := service.lockPair(ctx, transactionStore, current.BorrowerID, current.LenderID)
			if err != nil {
				return err
			}
			totalDue := current.TotalDue()
			if borrower.Balances.Vault < totalDue {
				return ErrInsufficientFunds
			}
			borrowerBalances, err := applyDeltas(borrower.Balances, []bucketDelta{
				{bucket: BucketVault, delta: -totalDue},
				{bucket: BucketVault, delta: current.Collateral},
			})
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
			repayment := service.fillEntry(Entry{
				Reference:       NewReference(refPrefixLoan, now),
				RelatedMemberID: current.LenderID,
				Type:            EntryLoanRepayment,
				Amount:          totalDue,
				Status:          StatusCompleted,
				Description:     fmt.Sprintf("repayment of loan %s", current.Reference),
				MetadataJSON:    fmt.Sprintf(`{"loan_id":%q}`, current.LoanID),
			}, current.BorrowerID)
			receipt := service.fillEntry(Entry{
				Reference:       NewReference(refPrefixLoan, now),
				RelatedMemberID: current.BorrowerID,
				Type:            EntryLoanRepayment,
				Amount:          totalDue,
				Status:          StatusCompleted,
				Description:     fmt.Sprintf("received repayment of loan %s", current.Reference),
				MetadataJSON:    fmt.Sprintf(`{"loan_id":%q,"pledge_returned":%d}`, current.LoanID, current.Collateral.Int64()),
			}, current.LenderID)
			release := service.fillEntry(Entry{
				Reference:    NewReference(refPrefixCollateral, now),
				Type:         EntryCollateralRelease,
				Amount:       current.Collateral,
				Status:       StatusCompleted,
				Description:  fmt.Sprintf("collateral released for loan %s", current.Reference),
				MetadataJSON: fmt.Sprintf(`{"loan_id":%q}`, current.LoanID),
			}, current.BorrowerID)
			for _, entry := range []Entry{repayment, receipt, release} {
				if err := transactionStore.InsertEntry(ctx, entry); err != nil {
					return err
				}
			}
			if err := transactionStore.UpdateBalances(ctx, current.BorrowerID, borrowerBalances); err != nil {
				return err
			}
			if err := transactionStore.UpdateBalances(ctx, current.LenderID, lenderBalances); err != nil {
				return err
			}
			current.Status = LoanRepaid
			current.RepaidAt = &now
			if err := transactionStore.SaveLoan(ctx, current); err != nil {
				return err
			}
			released = current.Collateral
			reference = current.Reference
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationRepayLoan,
		Amount:    released,
		Reference: reference,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return released, nil
}

// CancelLoan withdraws an open, unfunded loan request. Only the
// borrower may cancel; the locked collateral returns to the vault.
func (service *Service) CancelLoan(ctx context.Context, borrowerID MemberID, loanID string) error {
	settings := service.settingsFn()
	operationError := func() error {
		if err := service.checkSystemOpen(settings); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			current, err := transactionStore.GetLoanForUpdate(ctx, loanID)
			if err != nil {
				return err
			}
			if current.Status != LoanOpen {
				return ErrLoanNotOpen
			}
			if current.BorrowerID != borrowerID {
				return ErrNotBorrower
			}
			now := service.nowFn().UTC()
			release := Entry{
				Reference:    NewReference(refPrefixCollateral, now),
				Type:         EntryCollateralRelease,
				Amount:       current.Collateral,
				Status:       StatusCompleted,
				Description:  fmt.Sprintf("collateral released, loan %s cancelled", current.Reference),
				MetadataJSON: fmt.Sprintf(`{"loan_id":%q}`, current.LoanID),
			}
			_, _, err = service.mutate(ctx, transactionStore, borrowerID, []bucketDelta{
				{bucket: BucketFrozen, delta: -current.Collateral},
				{bucket: BucketVault, delta: current.Collateral},
			}, release)
			if err != nil {
				return err
			}
			current.Status = LoanCancelled
			return transactionStore.SaveLoan(ctx, current)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCancelLoan,
		MemberID:  borrowerID,
		Error:     operationError,
	})
	return operationError
}

// OpenLoans lists loan requests awaiting a lender.
func (service *Service) OpenLoans(ctx context.Context, limit int) ([]Loan, error) {
	return service.store.ListOpenLoans(ctx, limit)
}

// GetLoan returns a loan by id.
func (service *Service) GetLoan(ctx context.Context, loanID string) (Loan, error) {
	return service.store.GetLoan(ctx, loanID)
}
