package vault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const advanceClearingBatchSize = 200

// DepositReceipt is returned to the caller of Deposit.
type DepositReceipt struct {
	Reference      string
	ClearingEndsAt time.Time
}

// TransferReceipt is returned to the caller of Withdraw and Transfer.
type TransferReceipt struct {
	Reference      string
	Status         EntryStatus
	ClearingEndsAt *time.Time
}

// Deposit credits incoming funds into the member's frozen bucket and
// opens a clearing window. The funds mature into the vault bucket when
// AdvanceClearing completes the entry.
func (service *Service) Deposit(ctx context.Context, memberID MemberID, amount Centavos) (DepositReceipt, error) {
	settings := service.settingsFn()
	var receipt DepositReceipt
	operationError := service.guarded(settings, amount, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			now := service.nowFn().UTC()
			clearingEndsAt := now.Add(settings.ClearingPeriod)
			entry := Entry{
				Reference:      NewReference(refPrefixDeposit, now),
				Type:           EntryDeposit,
				Amount:         amount,
				Status:         StatusClearing,
				ClearingEndsAt: &clearingEndsAt,
				Description:    "member deposit",
			}
			_, inserted, err := service.mutate(ctx, transactionStore, memberID, []bucketDelta{
				{bucket: BucketFrozen, delta: amount},
			}, entry)
			if err != nil {
				return err
			}
			receipt = DepositReceipt{Reference: inserted.Reference, ClearingEndsAt: clearingEndsAt}
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeposit,
		MemberID:  memberID,
		Amount:    amount,
		Reference: receipt.Reference,
		Error:     operationError,
	})
	return receipt, operationError
}

// Withdraw moves funds vault to frozen and opens the review/clearing
// pipeline for an outgoing withdrawal.
func (service *Service) Withdraw(ctx context.Context, memberID MemberID, amount Centavos) (TransferReceipt, error) {
	settings := service.settingsFn()
	var receipt TransferReceipt
	operationError := service.guarded(settings, amount, func() error {
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			now := service.nowFn().UTC()
			entry := Entry{
				Reference:   NewReference(refPrefixWithdrawal, now),
				Type:        EntryWithdrawal,
				Amount:      amount,
				Status:      StatusClearing,
				Description: "member withdrawal",
			}
			if settings.ReviewWithdrawals {
				entry.Status = StatusPendingReview
			} else {
				clearingEndsAt := now.Add(settings.ClearingPeriod)
				entry.ClearingEndsAt = &clearingEndsAt
			}
			_, inserted, err := service.mutate(ctx, transactionStore, memberID, []bucketDelta{
				{bucket: BucketVault, delta: -amount},
				{bucket: BucketFrozen, delta: amount},
			}, entry)
			if err != nil {
				return err
			}
			receipt = TransferReceipt{
				Reference:      inserted.Reference,
				Status:         inserted.Status,
				ClearingEndsAt: inserted.ClearingEndsAt,
			}
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationWithdraw,
		MemberID:  memberID,
		Amount:    amount,
		Reference: receipt.Reference,
		Error:     operationError,
	})
	return receipt, operationError
}

// Transfer moves funds out of the sender's vault into frozen and opens
// clearing. Internal transfers credit the destination member when the
// entry completes; external transfers require manual review first.
func (service *Service) Transfer(ctx context.Context, memberID MemberID, amount Centavos, destination string, destinationType TransferDestinationType) (TransferReceipt, error) {
	settings := service.settingsFn()
	var receipt TransferReceipt
	operationError := service.guarded(settings, amount, func() error {
		// Rate limiting happens before any lock acquisition.
		if err := service.checkTransferRate(ctx, memberID, settings); err != nil {
			return err
		}
		var destinationID MemberID
		switch destinationType {
		case DestinationMember:
			resolved, err := service.store.ResolveMember(ctx, destination)
			if err != nil {
				return err
			}
			if resolved == memberID {
				return fmt.Errorf("%w: cannot transfer to self", ErrInvalidDestination)
			}
			destinationID = resolved
		case DestinationExternal:
			if destination == "" {
				return fmt.Errorf("%w: empty external destination", ErrInvalidDestination)
			}
		default:
			return fmt.Errorf("%w: unknown destination type %q", ErrInvalidDestination, destinationType)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			now := service.nowFn().UTC()
			entry := Entry{
				Reference:       NewReference(refPrefixTransfer, now),
				Type:            EntryTransferOut,
				Amount:          amount,
				Status:          StatusClearing,
				RelatedMemberID: destinationID,
				Description:     fmt.Sprintf("transfer to %s", destination),
				MetadataJSON:    fmt.Sprintf(`{"destination":%q,"destination_type":%q}`, destination, destinationType),
			}
			if destinationType == DestinationExternal {
				entry.Status = StatusPendingReview
			} else {
				clearingEndsAt := now.Add(settings.ClearingPeriod)
				entry.ClearingEndsAt = &clearingEndsAt
			}
			_, inserted, err := service.mutate(ctx, transactionStore, memberID, []bucketDelta{
				{bucket: BucketVault, delta: -amount},
				{bucket: BucketFrozen, delta: amount},
			}, entry)
			if err != nil {
				return err
			}
			receipt = TransferReceipt{
				Reference:      inserted.Reference,
				Status:         inserted.Status,
				ClearingEndsAt: inserted.ClearingEndsAt,
			}
			return nil
		})
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTransfer,
		MemberID:  memberID,
		Amount:    amount,
		Reference: receipt.Reference,
		Error:     operationError,
	})
	return receipt, operationError
}

func (service *Service) checkTransferRate(ctx context.Context, memberID MemberID, settings Settings) error {
	if settings.TransferRateLimit <= 0 {
		return nil
	}
	windowStart := service.nowFn().UTC().Add(-settings.TransferRateWindow)
	count, err := service.store.CountEntriesSince(ctx, memberID, EntryTransferOut, windowStart)
	if err != nil {
		return err
	}
	if count < settings.TransferRateLimit {
		return nil
	}
	retryAfter := settings.TransferRateWindow
	oldest, err := service.store.OldestEntrySince(ctx, memberID, EntryTransferOut, windowStart)
	if err == nil && oldest != nil {
		retryAfter = oldest.CreatedAt.Add(settings.TransferRateWindow).Sub(service.nowFn().UTC())
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return RateLimitedError{RetryAfter: retryAfter}
}

// guarded applies the uniform mutating-operation gates: kill switch,
// maintenance flag, then amount validation, before running fn.
func (service *Service) guarded(settings Settings, amount Centavos, fn func() error) error {
	if err := service.checkSystemOpen(settings); err != nil {
		return err
	}
	if err := service.validateAmount(settings, amount); err != nil {
		return err
	}
	return fn()
}

// AdvanceClearing completes every clearing entry whose window has
// elapsed. Deposits mature frozen to vault and stamp the aging
// reference; withdrawals and external transfers burn frozen; internal
// transfers additionally credit the destination member. Each entry is
// settled in its own transaction so a mid-run failure leaves completed
// entries completed and the rest pending for the next run.
func (service *Service) AdvanceClearing(ctx context.Context) (int, error) {
	now := service.nowFn().UTC()
	due, err := service.store.ListDueClearing(ctx, now, advanceClearingBatchSize)
	if err != nil {
		return 0, err
	}
	processed := 0
	var failures []error
	for _, candidate := range due {
		if err := service.completeEntry(ctx, candidate.Reference); err != nil {
			failures = append(failures, WrapError(operationAdvance, "entry", candidate.Reference, err))
			continue
		}
		processed++
		if candidate.Type == EntryDeposit {
			service.maybeCreditReferral(ctx, candidate.MemberID, candidate.Amount)
		}
	}
	return processed, errors.Join(failures...)
}

func (service *Service) completeEntry(ctx context.Context, reference string) error {
	return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := transactionStore.GetEntryForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		now := service.nowFn().UTC()
		if entry.Status != StatusClearing || entry.ClearingEndsAt == nil || entry.ClearingEndsAt.After(now) {
			return ErrEntryNotReviewable
		}
		switch entry.Type {
		case EntryDeposit:
			return service.completeDeposit(ctx, transactionStore, entry, now)
		case EntryWithdrawal:
			return service.completeOutbound(ctx, transactionStore, entry, now)
		case EntryTransferOut:
			if entry.RelatedMemberID == "" {
				return service.completeOutbound(ctx, transactionStore, entry, now)
			}
			return service.completeMemberTransfer(ctx, transactionStore, entry, now)
		default:
			return fmt.Errorf("%w: %s entries do not clear", ErrInvalidEntryType, entry.Type)
		}
	})
}

func (service *Service) completeDeposit(ctx context.Context, transactionStore Store, entry Entry, now time.Time) error {
	member, err := transactionStore.GetMemberForUpdate(ctx, entry.MemberID)
	if err != nil {
		return err
	}
	updated, err := applyDeltas(member.Balances, []bucketDelta{
		{bucket: BucketFrozen, delta: -entry.Amount},
		{bucket: BucketVault, delta: entry.Amount},
	})
	if err != nil {
		return err
	}
	if err := transactionStore.UpdateBalances(ctx, entry.MemberID, updated); err != nil {
		return err
	}
	return transactionStore.UpdateEntryStatus(ctx, entry.EntryID, StatusClearing, StatusCompleted, nil, &now)
}

func (service *Service) completeOutbound(ctx context.Context, transactionStore Store, entry Entry, now time.Time) error {
	member, err := transactionStore.GetMemberForUpdate(ctx, entry.MemberID)
	if err != nil {
		return err
	}
	updated, err := applyDeltas(member.Balances, []bucketDelta{
		{bucket: BucketFrozen, delta: -entry.Amount},
	})
	if err != nil {
		return err
	}
	if err := transactionStore.UpdateBalances(ctx, entry.MemberID, updated); err != nil {
		return err
	}
	return transactionStore.UpdateEntryStatus(ctx, entry.EntryID, StatusClearing, StatusCompleted, nil, nil)
}

func (service *Service) completeMemberTransfer(ctx context.Context, transactionStore Store, entry Entry, now time.Time) error {
	sender, recipient, err := service.lockPair(ctx, transactionStore, entry.MemberID, entry.RelatedMemberID)
	if err != nil {
		return err
	}
	senderBalances, err := applyDeltas(sender.Balances, []bucketDelta{
		{bucket: BucketFrozen, delta: -entry.Amount},
	})
	if err != nil {
		return err
	}
	recipientBalances, err := applyDeltas(recipient.Balances, []bucketDelta{
		{bucket: BucketVault, delta: entry.Amount},
	})
	if err != nil {
		return err
	}
	if err := transactionStore.UpdateBalances(ctx, entry.MemberID, senderBalances); err != nil {
		return err
	}
	if err := transactionStore.UpdateBalances(ctx, entry.RelatedMemberID, recipientBalances); err != nil {
		return err
	}
	inbound := service.fillEntry(Entry{
		Reference:       NewReference(refPrefixTransfer, now),
		MemberID:        entry.RelatedMemberID,
		RelatedMemberID: entry.MemberID,
		Type:            EntryTransferIn,
		Amount:          entry.Amount,
		Status:          StatusCompleted,
		Description:     fmt.Sprintf("transfer from %s", entry.MemberID),
	}, entry.RelatedMemberID)
	if err := transactionStore.InsertEntry(ctx, inbound); err != nil {
		return err
	}
	return transactionStore.UpdateEntryStatus(ctx, entry.EntryID, StatusClearing, StatusCompleted, nil, nil)
}

// maybeCreditReferral fires the referral commission check after a
// deposit completes. No-referrer and already-credited outcomes are the
// normal case and are not errors here; anything else is already logged
// by ProcessReferralCommission.
func (service *Service) maybeCreditReferral(ctx context.Context, memberID MemberID, amount Centavos) {
	_, _ = service.ProcessReferralCommission(ctx, memberID, amount)
}

// ApproveReview moves a pending_review entry into clearing. The
// reviewer decision arrives from an external collaborator; the engine
// only records the transition.
func (service *Service) ApproveReview(ctx context.Context, reference string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := transactionStore.GetEntryForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if entry.Status != StatusPendingReview {
			return ErrEntryNotReviewable
		}
		clearingEndsAt := service.nowFn().UTC().Add(service.settingsFn().ClearingPeriod)
		return transactionStore.UpdateEntryStatus(ctx, entry.EntryID, StatusPendingReview, StatusClearing, &clearingEndsAt, nil)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationApprove,
		Reference: reference,
		Error:     operationError,
	})
	return operationError
}

// RejectReview reverses a pending_review entry. The original balance
// movement is undone by a new offsetting entry; history is never edited.
func (service *Service) RejectReview(ctx context.Context, reference string, reason string) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := transactionStore.GetEntryForUpdate(ctx, reference)
		if err != nil {
			return err
		}
		if entry.Status != StatusPendingReview {
			return ErrEntryNotReviewable
		}
		now := service.nowFn().UTC()
		reversal := Entry{
			Reference:    NewReference(refPrefixReversal, now),
			Type:         EntryReversal,
			Amount:       entry.Amount,
			Status:       StatusCompleted,
			Description:  fmt.Sprintf("reversal of %s: %s", entry.Reference, reason),
			MetadataJSON: fmt.Sprintf(`{"reversed_reference":%q}`, entry.Reference),
		}
		_, _, err = service.mutate(ctx, transactionStore, entry.MemberID, []bucketDelta{
			{bucket: BucketFrozen, delta: -entry.Amount},
			{bucket: BucketVault, delta: entry.Amount},
		}, reversal)
		if err != nil {
			return err
		}
		return transactionStore.UpdateEntryStatus(ctx, entry.EntryID, StatusPendingReview, StatusReversed, nil, nil)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReject,
		Reference: reference,
		Error:     operationError,
	})
	return operationError
}
