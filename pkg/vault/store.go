package vault

import (
	"context"
	"time"
)

// Store is the persistence contract used by Service. Implementations
// must make WithTx transactional and the *ForUpdate reads exclusive
// (SELECT ... FOR UPDATE) for the duration of the transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, memberID MemberID) (Member, error)
	GetMemberForUpdate(ctx context.Context, memberID MemberID) (Member, error)
	ResolveMember(ctx context.Context, idOrCode string) (MemberID, error)
	UpdateBalances(ctx context.Context, memberID MemberID, balances Balances) error
	ListMemberIDs(ctx context.Context) ([]MemberID, error)
	SumBalances(ctx context.Context) (Balances, error)

	InsertEntry(ctx context.Context, entry Entry) error
	GetEntryByReference(ctx context.Context, reference string) (Entry, error)
	GetEntryForUpdate(ctx context.Context, reference string) (Entry, error)
	UpdateEntryStatus(ctx context.Context, entryID string, from, to EntryStatus, clearingEndsAt, maturedAt *time.Time) error
	ListDueClearing(ctx context.Context, asOf time.Time, limit int) ([]Entry, error)
	ListEntries(ctx context.Context, memberID MemberID, before time.Time, limit int) ([]Entry, error)
	OldestCompletedDeposit(ctx context.Context, memberID MemberID) (*Entry, error)
	HasAccrualForDay(ctx context.Context, memberID MemberID, entryType EntryType, dayStart time.Time) (bool, error)
	HasCommissionFor(ctx context.Context, referrerID, referredID MemberID) (bool, error)
	CountCompletedDeposits(ctx context.Context, memberID MemberID) (int, error)
	CountEntriesSince(ctx context.Context, memberID MemberID, entryType EntryType, since time.Time) (int, error)
	OldestEntrySince(ctx context.Context, memberID MemberID, entryType EntryType, since time.Time) (*Entry, error)
	SumCompletedInRange(ctx context.Context, entryType EntryType, from, to time.Time) (Centavos, error)

	CreateLoan(ctx context.Context, loan Loan) error
	GetLoan(ctx context.Context, loanID string) (Loan, error)
	GetLoanForUpdate(ctx context.Context, loanID string) (Loan, error)
	SaveLoan(ctx context.Context, loan Loan) error
	ListOpenLoans(ctx context.Context, limit int) ([]Loan, error)
	ListFundedLoans(ctx context.Context) ([]Loan, error)
	ListFundedLoansDueBefore(ctx context.Context, asOf time.Time) ([]Loan, error)

	GetReserveForUpdate(ctx context.Context) (Centavos, error)
	UpdateReserve(ctx context.Context, balance Centavos) error

	GetSnapshot(ctx context.Context, periodStart time.Time) (*LiquiditySnapshot, error)
	UpsertSnapshot(ctx context.Context, snapshot LiquiditySnapshot) error
	ListSnapshots(ctx context.Context, limit int) ([]LiquiditySnapshot, error)
}
