package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service contains the ledger and lending domain logic over a Store.
type Service struct {
	store      Store
	nowFn      func() time.Time
	settingsFn func() Settings
	logger     OperationLogger
	sweepMu    sync.Mutex
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:      store,
		nowFn:      now,
		settingsFn: DefaultSettings,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// EnrollMember creates a member account with zero balances and an
// optional referrer. The referrer is set at most once, here.
func (service *Service) EnrollMember(ctx context.Context, memberID MemberID, referrerID MemberID) (Member, error) {
	member := Member{
		MemberID:   memberID,
		MemberCode: NewMemberCode(),
		ReferrerID: referrerID,
		CreatedAt:  service.nowFn().UTC(),
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if referrerID != "" {
			if _, err := transactionStore.GetMember(ctx, referrerID); err != nil {
				return err
			}
		}
		return transactionStore.CreateMember(ctx, member)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationEnroll,
		MemberID:  memberID,
		Related:   referrerID,
		Error:     operationError,
	})
	if operationError != nil {
		return Member{}, operationError
	}
	return member, nil
}

// GetBalances returns the member's three-bucket balances.
func (service *Service) GetBalances(ctx context.Context, memberID MemberID) (Balances, error) {
	member, err := service.store.GetMember(ctx, memberID)
	if err != nil {
		return Balances{}, err
	}
	return member.Balances, nil
}

// History lists the member's ledger entries before a cutoff time.
func (service *Service) History(ctx context.Context, memberID MemberID, before time.Time, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, memberID, before, limit)
}

// FundReserve credits the cooperative reserve fund.
func (service *Service) FundReserve(ctx context.Context, amount Centavos) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reserve credit must be positive", ErrInvalidAmount)
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := transactionStore.GetReserveForUpdate(ctx)
		if err != nil {
			return err
		}
		return transactionStore.UpdateReserve(ctx, balance+amount)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationFundReserve,
		Amount:    amount,
		Error:     operationError,
	})
	return operationError
}

// bucketDelta is one signed movement against a single bucket.
type bucketDelta struct {
	bucket Bucket
	delta  Centavos
}

// applyDeltas applies movements to a balance view, rejecting any result
// that would leave a bucket negative.
func applyDeltas(balances Balances, deltas []bucketDelta) (Balances, error) {
	for _, movement := range deltas {
		switch movement.bucket {
		case BucketVault:
			balances.Vault += movement.delta
		case BucketFrozen:
			balances.Frozen += movement.delta
		case BucketLending:
			balances.Lending += movement.delta
		default:
			return Balances{}, fmt.Errorf("%w: unknown bucket %q", ErrInvalidAmount, movement.bucket)
		}
	}
	if balances.Vault < 0 || balances.Frozen < 0 || balances.Lending < 0 {
		return Balances{}, ErrInsufficientFunds
	}
	return balances, nil
}

// mutate locks the member row, applies the deltas, writes exactly one
// ledger entry, and persists the new balances. Callers must already be
// inside a WithTx scope.
func (service *Service) mutate(ctx context.Context, transactionStore Store, memberID MemberID, deltas []bucketDelta, entry Entry) (Balances, Entry, error) {
	member, err := transactionStore.GetMemberForUpdate(ctx, memberID)
	if err != nil {
		return Balances{}, Entry{}, err
	}
	updated, err := applyDeltas(member.Balances, deltas)
	if err != nil {
		return Balances{}, Entry{}, err
	}
	entry = service.fillEntry(entry, memberID)
	if err := transactionStore.InsertEntry(ctx, entry); err != nil {
		return Balances{}, Entry{}, err
	}
	if err := transactionStore.UpdateBalances(ctx, memberID, updated); err != nil {
		return Balances{}, Entry{}, err
	}
	return updated, entry, nil
}

func (service *Service) fillEntry(entry Entry, memberID MemberID) Entry {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.MemberID == "" {
		entry.MemberID = memberID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = service.nowFn().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusCompleted
	}
	if entry.MetadataJSON == "" {
		entry.MetadataJSON = "{}"
	}
	return entry
}

// lockPair acquires both member rows in lexicographic id order so
// cross-member operations cannot deadlock.
func (service *Service) lockPair(ctx context.Context, transactionStore Store, firstID, secondID MemberID) (Member, Member, error) {
	if firstID == secondID {
		member, err := transactionStore.GetMemberForUpdate(ctx, firstID)
		return member, member, err
	}
	lockFirst, lockSecond := firstID, secondID
	if lockSecond < lockFirst {
		lockFirst, lockSecond = lockSecond, lockFirst
	}
	locked := map[MemberID]Member{}
	for _, id := range []MemberID{lockFirst, lockSecond} {
		member, err := transactionStore.GetMemberForUpdate(ctx, id)
		if err != nil {
			return Member{}, Member{}, err
		}
		locked[id] = member
	}
	return locked[firstID], locked[secondID], nil
}

// checkSystemOpen gates every mutating operation on the kill switch and
// maintenance flags.
func (service *Service) checkSystemOpen(settings Settings) error {
	if settings.SystemFrozen {
		return ErrSystemFrozen
	}
	if settings.MaintenanceMode {
		return ErrMaintenanceMode
	}
	return nil
}

func (service *Service) validateAmount(settings Settings, amount Centavos) error {
	if amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if amount < settings.MinAmount {
		return fmt.Errorf("%w: below configured minimum", ErrInvalidAmount)
	}
	if settings.MaxAmount > 0 && amount > settings.MaxAmount {
		return fmt.Errorf("%w: above configured maximum", ErrInvalidAmount)
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// dayStartUTC truncates a time to the start of its UTC day.
func dayStartUTC(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
}
