package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Member represents the members table.
type Member struct {
	MemberID        string    `gorm:"primaryKey"`
	MemberCode      string    `gorm:"not null;uniqueIndex"`
	VaultCentavos   int64     `gorm:"not null;default:0"`
	FrozenCentavos  int64     `gorm:"not null;default:0"`
	LendingCentavos int64     `gorm:"not null;default:0"`
	ReferrerID      *string   `gorm:"index"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (Member) TableName() string { return "members" }

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID         string         `gorm:"type:uuid;primaryKey"`
	Reference       string         `gorm:"not null;uniqueIndex"`
	MemberID        string         `gorm:"not null;index:idx_entries_member_created,priority:1;index:idx_entries_member_type,priority:1"`
	RelatedMemberID *string        `gorm:"index"`
	Type            string         `gorm:"not null;index:idx_entries_member_type,priority:2"`
	AmountCentavos  int64          `gorm:"not null"`
	Status          string         `gorm:"not null;index"`
	Description     string         `gorm:""`
	Metadata        datatypes.JSON `gorm:"not null"`
	ClearingEndsAt  *time.Time     `gorm:"index"`
	MaturedAt       *time.Time     `gorm:""`
	CreatedAt       time.Time      `gorm:"not null;index:idx_entries_member_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Loan mirrors the loans table.
type Loan struct {
	LoanID             string     `gorm:"type:uuid;primaryKey"`
	Reference          string     `gorm:"not null;uniqueIndex"`
	BorrowerID         string     `gorm:"not null;index"`
	LenderID           *string    `gorm:"index"`
	PrincipalCentavos  int64      `gorm:"not null"`
	InterestRate       int64      `gorm:"not null"`
	DurationDays       int        `gorm:"not null"`
	CollateralCentavos int64      `gorm:"not null"`
	Status             string     `gorm:"not null;index:idx_loans_status_due,priority:1"`
	AutoRepayTriggered bool       `gorm:"not null;default:false"`
	CreatedAt          time.Time  `gorm:"not null"`
	FundedAt           *time.Time `gorm:""`
	DueAt              *time.Time `gorm:"index:idx_loans_status_due,priority:2"`
	RepaidAt           *time.Time `gorm:""`
}

func (Loan) TableName() string { return "loans" }

func (loan *Loan) BeforeCreate(tx *gorm.DB) error {
	if loan.LoanID == "" {
		loan.LoanID = uuid.NewString()
	}
	return nil
}

// ReserveFund is the single-row reserve pool.
type ReserveFund struct {
	FundID          int       `gorm:"primaryKey"`
	BalanceCentavos int64     `gorm:"not null;default:0"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (ReserveFund) TableName() string { return "reserve_fund" }

// LiquiditySnapshot mirrors the liquidity_snapshots table.
type LiquiditySnapshot struct {
	SnapshotID      string    `gorm:"type:uuid;primaryKey"`
	PeriodStart     time.Time `gorm:"not null;uniqueIndex"`
	OpenRatio       int64     `gorm:"not null"`
	HighRatio       int64     `gorm:"not null"`
	LowRatio        int64     `gorm:"not null"`
	CloseRatio      int64     `gorm:"not null"`
	NetFlowCentavos int64     `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (LiquiditySnapshot) TableName() string { return "liquidity_snapshots" }

func (snapshot *LiquiditySnapshot) BeforeCreate(tx *gorm.DB) error {
	if snapshot.SnapshotID == "" {
		snapshot.SnapshotID = uuid.NewString()
	}
	return nil
}
