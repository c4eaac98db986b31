package vault

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Centavos is an integer currency amount. All monetary values in the
// engine are centavos; there is no fractional-centavo representation.
type Centavos int64

// Pesos returns the displayable whole-peso value, always rounded down.
func (amount Centavos) Pesos() int64 {
	return int64(amount) / centavosPerPeso
}

// Int64 returns the raw centavo value.
func (amount Centavos) Int64() int64 {
	return int64(amount)
}

// PesosToCentavos converts a whole-peso display value back to centavos.
func PesosToCentavos(pesos int64) Centavos {
	return Centavos(pesos * centavosPerPeso)
}

// NewAmount validates a strictly positive centavo amount.
func NewAmount(raw int64) (Centavos, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Centavos(raw), nil
}

// MemberID identifies a member account owner.
type MemberID string

// NewMemberID validates and normalizes a member id.
func NewMemberID(raw string) (MemberID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidMemberID)
	}
	return MemberID(trimmed), nil
}

// String returns the normalized identifier.
func (id MemberID) String() string {
	return string(id)
}

// Bucket names one of a member's three balance buckets.
type Bucket string

const (
	BucketVault   Bucket = "vault"
	BucketFrozen  Bucket = "frozen"
	BucketLending Bucket = "lending"
)

// Balances is a member's three-bucket balance view.
type Balances struct {
	Vault   Centavos
	Frozen  Centavos
	Lending Centavos
}

// Total returns vault + frozen + lending.
func (balances Balances) Total() Centavos {
	return balances.Vault + balances.Frozen + balances.Lending
}

// Member is a stored member account.
type Member struct {
	MemberID   MemberID
	MemberCode string
	Balances   Balances
	ReferrerID MemberID
	CreatedAt  time.Time
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryDeposit            EntryType = "deposit"
	EntryWithdrawal         EntryType = "withdrawal"
	EntryTransferIn         EntryType = "transfer_in"
	EntryTransferOut        EntryType = "transfer_out"
	EntryVaultInterest      EntryType = "vault_interest"
	EntryLendingProfit      EntryType = "lending_profit"
	EntryReferralCommission EntryType = "referral_commission"
	EntryLoanFunding        EntryType = "loan_funding"
	EntryLoanRepayment      EntryType = "loan_repayment"
	EntryCollateralLock     EntryType = "collateral_lock"
	EntryCollateralRelease  EntryType = "collateral_release"
	EntryReversal           EntryType = "reversal"
)

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(raw) {
	case EntryDeposit, EntryWithdrawal, EntryTransferIn, EntryTransferOut,
		EntryVaultInterest, EntryLendingProfit, EntryReferralCommission,
		EntryLoanFunding, EntryLoanRepayment, EntryCollateralLock,
		EntryCollateralRelease, EntryReversal:
		return EntryType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
}

// EntryStatus is the clearing lifecycle state of a ledger entry.
type EntryStatus string

const (
	StatusPendingReview EntryStatus = "pending_review"
	StatusClearing      EntryStatus = "clearing"
	StatusCompleted     EntryStatus = "completed"
	StatusReversed      EntryStatus = "reversed"
)

// String returns the stored representation.
func (status EntryStatus) String() string {
	return string(status)
}

// Entry is a single immutable line in the ledger. Amounts are stored
// positive; the type implies direction.
type Entry struct {
	EntryID         string
	Reference       string
	MemberID        MemberID
	RelatedMemberID MemberID
	Type            EntryType
	Amount          Centavos
	Status          EntryStatus
	Description     string
	MetadataJSON    string
	ClearingEndsAt  *time.Time
	MaturedAt       *time.Time
	CreatedAt       time.Time
}

// LoanStatus is the loan lifecycle state.
type LoanStatus string

const (
	LoanOpen      LoanStatus = "open"
	LoanFunded    LoanStatus = "funded"
	LoanRepaid    LoanStatus = "repaid"
	LoanDefaulted LoanStatus = "defaulted"
	LoanCancelled LoanStatus = "cancelled"
)

// String returns the stored representation.
func (status LoanStatus) String() string {
	return string(status)
}

// Loan is a peer-to-peer loan between two members.
type Loan struct {
	LoanID             string
	Reference          string
	BorrowerID         MemberID
	LenderID           MemberID
	Principal          Centavos
	InterestRate       int64
	DurationDays       int
	Collateral         Centavos
	Status             LoanStatus
	AutoRepayTriggered bool
	CreatedAt          time.Time
	FundedAt           *time.Time
	DueAt              *time.Time
	RepaidAt           *time.Time
}

// TotalDue returns principal plus simple interest, floored.
func (loan Loan) TotalDue() Centavos {
	interest := loan.Principal.Int64() * loan.InterestRate / 100
	return loan.Principal + Centavos(interest)
}

// LiquidityLevel classifies the system liquidity ratio.
type LiquidityLevel string

const (
	LiquidityHealthy  LiquidityLevel = "HEALTHY"
	LiquidityWarning  LiquidityLevel = "WARNING"
	LiquidityCritical LiquidityLevel = "CRITICAL"
)

// LiquidityIndex is the derived system liquidity view.
type LiquidityIndex struct {
	Ratio        int64
	Level        LiquidityLevel
	VaultTotal   Centavos
	FrozenTotal  Centavos
	LendingTotal Centavos
}

// LiquiditySnapshot is an immutable OHLC candle of the liquidity ratio
// over one recording period, plus the period's net deposit flow.
type LiquiditySnapshot struct {
	SnapshotID  string
	PeriodStart time.Time
	Open        int64
	High        int64
	Low         int64
	Close       int64
	NetFlow     Centavos
}

// Settings is the configuration surface the engine reads but does not own.
type Settings struct {
	VaultInterestRate  int64
	LendingYieldRate   int64
	ReferralRate       int64
	LoanInterestRate   int64
	LoanDurationDays   int
	CollateralRatio    int64
	AgingPeriod        time.Duration
	ClearingPeriod     time.Duration
	MinAmount          Centavos
	MaxAmount          Centavos
	WarningThreshold   int64
	CriticalThreshold  int64
	TransferRateLimit  int
	TransferRateWindow time.Duration
	ReviewWithdrawals  bool
	SystemFrozen       bool
	MaintenanceMode    bool
}

// DefaultSettings mirrors the cooperative's stock configuration.
func DefaultSettings() Settings {
	return Settings{
		VaultInterestRate:  1,
		LendingYieldRate:   1,
		ReferralRate:       5,
		LoanInterestRate:   15,
		LoanDurationDays:   30,
		CollateralRatio:    50,
		AgingPeriod:        144 * time.Hour,
		ClearingPeriod:     24 * time.Hour,
		MinAmount:          1,
		MaxAmount:          PesosToCentavos(1_000_000),
		WarningThreshold:   50,
		CriticalThreshold:  20,
		TransferRateLimit:  20,
		TransferRateWindow: time.Hour,
		ReviewWithdrawals:  true,
	}
}

// NewReference builds a human reference number: TYPE-TIMESTAMP-RANDOM.
func NewReference(prefix string, at time.Time) string {
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:referenceRandomLength])
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format(referenceTimeLayout), random)
}

// NewMemberCode builds a member code in the PFX-NNNN-NNNN format.
func NewMemberCode() string {
	digits := uuid.New().ID()
	return fmt.Sprintf("%s-%04d-%04d", memberCodePrefix, digits%10000, (digits/10000)%10000)
}

// TransferDestinationType distinguishes internal member transfers from
// transfers leaving the cooperative.
type TransferDestinationType string

const (
	DestinationMember   TransferDestinationType = "member"
	DestinationExternal TransferDestinationType = "external"
)
