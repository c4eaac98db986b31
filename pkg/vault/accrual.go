package vault

import (
	"context"
	"errors"
	"fmt"
)

// PostDailyInterest credits the member's daily vault interest. A day
// for which a vault_interest entry already exists is never reprocessed.
func (service *Service) PostDailyInterest(ctx context.Context, memberID MemberID) (Centavos, error) {
	settings := service.settingsFn()
	var credited Centavos
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := service.nowFn().UTC()
		day := dayStartUTC(now)
		posted, err := transactionStore.HasAccrualForDay(ctx, memberID, EntryVaultInterest, day)
		if err != nil {
			return err
		}
		if posted {
			return ErrAlreadyPosted
		}
		member, err := transactionStore.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		interest := Centavos(member.Balances.Vault.Int64() * settings.VaultInterestRate / 100)
		if interest <= 0 {
			return nil
		}
		entry := service.fillEntry(Entry{
			Reference:   NewReference(refPrefixInterest, now),
			Type:        EntryVaultInterest,
			Amount:      interest,
			Status:      StatusCompleted,
			Description: "daily vault interest",
			MetadataJSON: fmt.Sprintf(`{"previous_balance":%d,"new_balance":%d,"rate":%d}`,
				member.Balances.Vault.Int64(), member.Balances.Vault.Int64()+interest.Int64(), settings.VaultInterestRate),
		}, memberID)
		updated, err := applyDeltas(member.Balances, []bucketDelta{
			{bucket: BucketVault, delta: interest},
		})
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := transactionStore.UpdateBalances(ctx, memberID, updated); err != nil {
			return err
		}
		credited = interest
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationInterest,
		MemberID:  memberID,
		Amount:    credited,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return credited, nil
}

// PostLendingYield credits the member's daily lending yield on capital
// currently deployed as funded loans, with the same per-day idempotency
// discipline as vault interest.
func (service *Service) PostLendingYield(ctx context.Context, memberID MemberID) (Centavos, error) {
	settings := service.settingsFn()
	var credited Centavos
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		now := service.nowFn().UTC()
		day := dayStartUTC(now)
		posted, err := transactionStore.HasAccrualForDay(ctx, memberID, EntryLendingProfit, day)
		if err != nil {
			return err
		}
		if posted {
			return ErrAlreadyPosted
		}
		member, err := transactionStore.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		yield := Centavos(member.Balances.Lending.Int64() * settings.LendingYieldRate / 100)
		if yield <= 0 {
			return nil
		}
		entry := service.fillEntry(Entry{
			Reference:   NewReference(refPrefixYield, now),
			Type:        EntryLendingProfit,
			Amount:      yield,
			Status:      StatusCompleted,
			Description: "daily lending yield",
			MetadataJSON: fmt.Sprintf(`{"outstanding":%d,"rate":%d}`,
				member.Balances.Lending.Int64(), settings.LendingYieldRate),
		}, memberID)
		updated, err := applyDeltas(member.Balances, []bucketDelta{
			{bucket: BucketVault, delta: yield},
		})
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := transactionStore.UpdateBalances(ctx, memberID, updated); err != nil {
			return err
		}
		credited = yield
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationYield,
		MemberID:  memberID,
		Amount:    credited,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return credited, nil
}

// RunDailyAccrual posts vault interest and lending yield for every
// member. Already-posted days are skipped silently; other failures are
// collected and reported together.
func (service *Service) RunDailyAccrual(ctx context.Context) (int, error) {
	memberIDs, err := service.store.ListMemberIDs(ctx)
	if err != nil {
		return 0, err
	}
	credited := 0
	var failures []error
	for _, memberID := range memberIDs {
		if _, err := service.PostDailyInterest(ctx, memberID); err != nil {
			if !errors.Is(err, ErrAlreadyPosted) {
				failures = append(failures, WrapError(operationInterest, "member", memberID.String(), err))
			}
		} else {
			credited++
		}
		if _, err := service.PostLendingYield(ctx, memberID); err != nil && !errors.Is(err, ErrAlreadyPosted) {
			failures = append(failures, WrapError(operationYield, "member", memberID.String(), err))
		}
	}
	return credited, errors.Join(failures...)
}

// ProcessReferralCommission credits the referrer of a member whose
// first deposit has completed. Subsequent deposits never fire again.
func (service *Service) ProcessReferralCommission(ctx context.Context, memberID MemberID, depositAmount Centavos) (Centavos, error) {
	settings := service.settingsFn()
	var credited Centavos
	var referrerID MemberID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		member, err := transactionStore.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if member.ReferrerID == "" {
			return ErrNoReferrer
		}
		referrerID = member.ReferrerID
		already, err := transactionStore.HasCommissionFor(ctx, member.ReferrerID, memberID)
		if err != nil {
			return err
		}
		if already {
			return ErrAlreadyCredited
		}
		completed, err := transactionStore.CountCompletedDeposits(ctx, memberID)
		if err != nil {
			return err
		}
		if completed > 1 {
			return ErrAlreadyCredited
		}
		commission := Centavos(depositAmount.Int64() * settings.ReferralRate / 100)
		if commission <= 0 {
			return nil
		}
		now := service.nowFn().UTC()
		entry := Entry{
			Reference:       NewReference(refPrefixCommission, now),
			RelatedMemberID: memberID,
			Type:            EntryReferralCommission,
			Amount:          commission,
			Status:          StatusCompleted,
			Description:     fmt.Sprintf("referral commission for %s", memberID),
			MetadataJSON:    fmt.Sprintf(`{"referred":%q,"deposit":%d,"rate":%d}`, memberID.String(), depositAmount.Int64(), settings.ReferralRate),
		}
		_, _, err = service.mutate(ctx, transactionStore, member.ReferrerID, []bucketDelta{
			{bucket: BucketVault, delta: commission},
		}, entry)
		if err != nil {
			return err
		}
		credited = commission
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCommission,
		MemberID:  memberID,
		Related:   referrerID,
		Amount:    credited,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return credited, nil
}
