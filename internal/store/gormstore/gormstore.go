package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

const (
	reserveFundID       = 1
	defaultMetadataJSON = "{}"
	pgUniqueViolation   = "23505"
	sqliteConstraint    = 19

	errorOperationStore  = "store"
	errorSubjectMember   = "member"
	errorSubjectEntry    = "entry"
	errorSubjectLoan     = "loan"
	errorSubjectReserve  = "reserve"
	errorSubjectSnapshot = "snapshot"
	errorCodeCreate      = "create"
	errorCodeCount       = "count"
	errorCodeDuplicate   = "duplicate"
	errorCodeGet         = "get"
	errorCodeInsert      = "insert"
	errorCodeInvalid     = "invalid"
	errorCodeList        = "list"
	errorCodeSum         = "sum"
	errorCodeUpdate      = "update"
)

// Store implements vault.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by the given gorm.DB handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate prepares the schema. Used for sqlite development setups;
// production postgres schemas are migrated out of band.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Member{}, &LedgerEntry{}, &Loan{}, &ReserveFund{}, &LiquiditySnapshot{})
}

// WithTx executes fn within a database transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore vault.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateMember(ctx context.Context, member vault.Member) error {
	model := Member{
		MemberID:   member.MemberID.String(),
		MemberCode: member.MemberCode,
		CreatedAt:  member.CreatedAt,
	}
	if member.ReferrerID != "" {
		referrer := member.ReferrerID.String()
		model.ReferrerID = &referrer
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectMember, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectMember, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetMember(ctx context.Context, memberID vault.MemberID) (vault.Member, error) {
	return store.getMember(ctx, memberID, false)
}

func (store *Store) GetMemberForUpdate(ctx context.Context, memberID vault.MemberID) (vault.Member, error) {
	return store.getMember(ctx, memberID, true)
}

func (store *Store) getMember(ctx context.Context, memberID vault.MemberID, forUpdate bool) (vault.Member, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Member
	err := query.Where("member_id = ?", memberID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return vault.Member{}, wrapStoreError(errorSubjectMember, errorCodeGet, vault.ErrUnknownMember)
		}
		return vault.Member{}, wrapStoreError(errorSubjectMember, errorCodeGet, err)
	}
	return mapMember(model), nil
}

func (store *Store) ResolveMember(ctx context.Context, idOrCode string) (vault.MemberID, error) {
	var model Member
	err := store.db.WithContext(ctx).
		Where("member_id = ? OR member_code = ?", idOrCode, idOrCode).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapStoreError(errorSubjectMember, errorCodeGet, vault.ErrUnknownMember)
		}
		return "", wrapStoreError(errorSubjectMember, errorCodeGet, err)
	}
	return vault.MemberID(model.MemberID), nil
}

func (store *Store) UpdateBalances(ctx context.Context, memberID vault.MemberID, balances vault.Balances) error {
	result := store.db.WithContext(ctx).
		Model(&Member{}).
		Where("member_id = ?", memberID.String()).
		Updates(map[string]interface{}{
			"vault_centavos":   balances.Vault.Int64(),
			"frozen_centavos":  balances.Frozen.Int64(),
			"lending_centavos": balances.Lending.Int64(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectMember, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMember, errorCodeUpdate, vault.ErrUnknownMember)
	}
	return nil
}

func (store *Store) ListMemberIDs(ctx context.Context) ([]vault.MemberID, error) {
	var identifiers []string
	err := store.db.WithContext(ctx).
		Model(&Member{}).
		Order("member_id ASC").
		Pluck("member_id", &identifiers).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMember, errorCodeList, err)
	}
	memberIDs := make([]vault.MemberID, 0, len(identifiers))
	for _, identifier := range identifiers {
		memberIDs = append(memberIDs, vault.MemberID(identifier))
	}
	return memberIDs, nil
}

func (store *Store) SumBalances(ctx context.Context) (vault.Balances, error) {
	var sums struct {
		Vault   int64
		Frozen  int64
		Lending int64
	}
	err := store.db.WithContext(ctx).
		Model(&Member{}).
		Select("coalesce(sum(vault_centavos),0) as vault, coalesce(sum(frozen_centavos),0) as frozen, coalesce(sum(lending_centavos),0) as lending").
		Scan(&sums).Error
	if err != nil {
		return vault.Balances{}, wrapStoreError(errorSubjectMember, errorCodeSum, err)
	}
	return vault.Balances{
		Vault:   vault.Centavos(sums.Vault),
		Frozen:  vault.Centavos(sums.Frozen),
		Lending: vault.Centavos(sums.Lending),
	}, nil
}

func (store *Store) InsertEntry(ctx context.Context, entry vault.Entry) error {
	model := LedgerEntry{
		EntryID:        entry.EntryID,
		Reference:      entry.Reference,
		MemberID:       entry.MemberID.String(),
		Type:           entry.Type.String(),
		AmountCentavos: entry.Amount.Int64(),
		Status:         entry.Status.String(),
		Description:    entry.Description,
		Metadata:       metadataJSON(entry.MetadataJSON),
		ClearingEndsAt: entry.ClearingEndsAt,
		MaturedAt:      entry.MaturedAt,
		CreatedAt:      entry.CreatedAt,
	}
	if entry.RelatedMemberID != "" {
		related := entry.RelatedMemberID.String()
		model.RelatedMemberID = &related
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntryByReference(ctx context.Context, reference string) (vault.Entry, error) {
	return store.getEntry(ctx, reference, false)
}

func (store *Store) GetEntryForUpdate(ctx context.Context, reference string) (vault.Entry, error) {
	return store.getEntry(ctx, reference, true)
}

func (store *Store) getEntry(ctx context.Context, reference string, forUpdate bool) (vault.Entry, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model LedgerEntry
	err := query.Where("reference = ?", reference).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return vault.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, vault.ErrUnknownEntry)
		}
		return vault.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapEntry(model)
	if err != nil {
		return vault.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

// UpdateEntryStatus transitions an entry's status conditionally on its
// current status, so two concurrent reviewers cannot both win.
func (store *Store) UpdateEntryStatus(ctx context.Context, entryID string, from, to vault.EntryStatus, clearingEndsAt, maturedAt *time.Time) error {
	updates := map[string]interface{}{"status": to.String()}
	if clearingEndsAt != nil {
		updates["clearing_ends_at"] = *clearingEndsAt
	}
	if maturedAt != nil {
		updates["matured_at"] = *maturedAt
	}
	result := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("entry_id = ? AND status = ?", entryID, from.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdate, vault.ErrEntryNotReviewable)
	}
	return nil
}

func (store *Store) ListDueClearing(ctx context.Context, asOf time.Time, limit int) ([]vault.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("status = ? AND clearing_ends_at IS NOT NULL AND clearing_ends_at <= ?",
			vault.StatusClearing.String(), asOf).
		Order("clearing_ends_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

func (store *Store) ListEntries(ctx context.Context, memberID vault.MemberID, before time.Time, limit int) ([]vault.Entry, error) {
	query := store.db.WithContext(ctx).Where("member_id = ?", memberID.String())
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}
	var rows []LedgerEntry
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapEntries(rows)
}

func (store *Store) OldestCompletedDeposit(ctx context.Context, memberID vault.MemberID) (*vault.Entry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("member_id = ? AND type = ? AND status = ?",
			memberID.String(), vault.EntryDeposit.String(), vault.StatusCompleted.String()).
		Order("created_at ASC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapEntry(model)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return &entry, nil
}

func (store *Store) HasAccrualForDay(ctx context.Context, memberID vault.MemberID, entryType vault.EntryType, dayStart time.Time) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("member_id = ? AND type = ? AND created_at >= ? AND created_at < ?",
			memberID.String(), entryType.String(), dayStart, dayStart.Add(24*time.Hour)).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return count > 0, nil
}

func (store *Store) HasCommissionFor(ctx context.Context, referrerID, referredID vault.MemberID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("member_id = ? AND related_member_id = ? AND type = ?",
			referrerID.String(), referredID.String(), vault.EntryReferralCommission.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return count > 0, nil
}

func (store *Store) CountCompletedDeposits(ctx context.Context, memberID vault.MemberID) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("member_id = ? AND type = ? AND status = ?",
			memberID.String(), vault.EntryDeposit.String(), vault.StatusCompleted.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) CountEntriesSince(ctx context.Context, memberID vault.MemberID, entryType vault.EntryType, since time.Time) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("member_id = ? AND type = ? AND created_at >= ?",
			memberID.String(), entryType.String(), since).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return int(count), nil
}

func (store *Store) OldestEntrySince(ctx context.Context, memberID vault.MemberID, entryType vault.EntryType, since time.Time) (*vault.Entry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("member_id = ? AND type = ? AND created_at >= ?",
			memberID.String(), entryType.String(), since).
		Order("created_at ASC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapEntry(model)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return &entry, nil
}

func (store *Store) SumCompletedInRange(ctx context.Context, entryType vault.EntryType, from, to time.Time) (vault.Centavos, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount_centavos),0) as total").
		Where("type = ? AND status = ? AND created_at >= ? AND created_at < ?",
			entryType.String(), vault.StatusCompleted.String(), from, to).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	return vault.Centavos(sum.Total), nil
}

func (store *Store) CreateLoan(ctx context.Context, loan vault.Loan) error {
	model := loanModel(loan)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectLoan, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectLoan, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetLoan(ctx context.Context, loanID string) (vault.Loan, error) {
	return store.getLoan(ctx, loanID, false)
}

func (store *Store) GetLoanForUpdate(ctx context.Context, loanID string) (vault.Loan, error) {
	return store.getLoan(ctx, loanID, true)
}

func (store *Store) getLoan(ctx context.Context, loanID string, forUpdate bool) (vault.Loan, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Loan
	err := query.Where("loan_id = ?", loanID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return vault.Loan{}, wrapStoreError(errorSubjectLoan, errorCodeGet, vault.ErrUnknownLoan)
		}
		return vault.Loan{}, wrapStoreError(errorSubjectLoan, errorCodeGet, err)
	}
	return mapLoan(model), nil
}

func (store *Store) SaveLoan(ctx context.Context, loan vault.Loan) error {
	model := loanModel(loan)
	result := store.db.WithContext(ctx).
		Model(&Loan{}).
		Where("loan_id = ?", loan.LoanID).
		Updates(map[string]interface{}{
			"lender_id":            model.LenderID,
			"status":               model.Status,
			"auto_repay_triggered": model.AutoRepayTriggered,
			"funded_at":            model.FundedAt,
			"due_at":               model.DueAt,
			"repaid_at":            model.RepaidAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectLoan, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectLoan, errorCodeUpdate, vault.ErrUnknownLoan)
	}
	return nil
}

func (store *Store) ListOpenLoans(ctx context.Context, limit int) ([]vault.Loan, error) {
	var rows []Loan
	err := store.db.WithContext(ctx).
		Where("status = ?", vault.LoanOpen.String()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLoan, errorCodeList, err)
	}
	return mapLoans(rows), nil
}

func (store *Store) ListFundedLoans(ctx context.Context) ([]vault.Loan, error) {
	var rows []Loan
	err := store.db.WithContext(ctx).
		Where("status = ?", vault.LoanFunded.String()).
		Order("funded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLoan, errorCodeList, err)
	}
	return mapLoans(rows), nil
}

func (store *Store) ListFundedLoansDueBefore(ctx context.Context, asOf time.Time) ([]vault.Loan, error) {
	var rows []Loan
	err := store.db.WithContext(ctx).
		Where("status = ? AND due_at IS NOT NULL AND due_at < ?", vault.LoanFunded.String(), asOf).
		Order("due_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectLoan, errorCodeList, err)
	}
	return mapLoans(rows), nil
}

// GetReserveForUpdate locks and returns the reserve balance. A missing
// row reads as zero; the first UpdateReserve creates it.
func (store *Store) GetReserveForUpdate(ctx context.Context) (vault.Centavos, error) {
	var model ReserveFund
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fund_id = ?", reserveFundID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, wrapStoreError(errorSubjectReserve, errorCodeGet, err)
	}
	return vault.Centavos(model.BalanceCentavos), nil
}

func (store *Store) UpdateReserve(ctx context.Context, balance vault.Centavos) error {
	model := ReserveFund{
		FundID:          reserveFundID,
		BalanceCentavos: balance.Int64(),
		UpdatedAt:       time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fund_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"balance_centavos", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectReserve, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) GetSnapshot(ctx context.Context, periodStart time.Time) (*vault.LiquiditySnapshot, error) {
	var model LiquiditySnapshot
	err := store.db.WithContext(ctx).
		Where("period_start = ?", periodStart).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectSnapshot, errorCodeGet, err)
	}
	snapshot := mapSnapshot(model)
	return &snapshot, nil
}

func (store *Store) UpsertSnapshot(ctx context.Context, snapshot vault.LiquiditySnapshot) error {
	model := LiquiditySnapshot{
		SnapshotID:      snapshot.SnapshotID,
		PeriodStart:     snapshot.PeriodStart,
		OpenRatio:       snapshot.Open,
		HighRatio:       snapshot.High,
		LowRatio:        snapshot.Low,
		CloseRatio:      snapshot.Close,
		NetFlowCentavos: snapshot.NetFlow.Int64(),
		CreatedAt:       time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "period_start"}},
			DoUpdates: clause.AssignmentColumns([]string{"high_ratio", "low_ratio", "close_ratio", "net_flow_centavos"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSnapshot, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) ListSnapshots(ctx context.Context, limit int) ([]vault.LiquiditySnapshot, error) {
	var rows []LiquiditySnapshot
	err := store.db.WithContext(ctx).
		Order("period_start DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSnapshot, errorCodeList, err)
	}
	snapshots := make([]vault.LiquiditySnapshot, 0, len(rows))
	for _, row := range rows {
		snapshots = append(snapshots, mapSnapshot(row))
	}
	return snapshots, nil
}

type sqlSum struct {
	Total int64
}

func wrapStoreError(subject string, code string, err error) error {
	return vault.WrapError(errorOperationStore, subject, code, err)
}

func mapMember(model Member) vault.Member {
	member := vault.Member{
		MemberID:   vault.MemberID(model.MemberID),
		MemberCode: model.MemberCode,
		Balances: vault.Balances{
			Vault:   vault.Centavos(model.VaultCentavos),
			Frozen:  vault.Centavos(model.FrozenCentavos),
			Lending: vault.Centavos(model.LendingCentavos),
		},
		CreatedAt: model.CreatedAt,
	}
	if model.ReferrerID != nil {
		member.ReferrerID = vault.MemberID(*model.ReferrerID)
	}
	return member
}

func mapEntry(model LedgerEntry) (vault.Entry, error) {
	entryType, err := vault.ParseEntryType(model.Type)
	if err != nil {
		return vault.Entry{}, err
	}
	entry := vault.Entry{
		EntryID:        model.EntryID,
		Reference:      model.Reference,
		MemberID:       vault.MemberID(model.MemberID),
		Type:           entryType,
		Amount:         vault.Centavos(model.AmountCentavos),
		Status:         vault.EntryStatus(model.Status),
		Description:    model.Description,
		MetadataJSON:   string(model.Metadata),
		ClearingEndsAt: model.ClearingEndsAt,
		MaturedAt:      model.MaturedAt,
		CreatedAt:      model.CreatedAt,
	}
	if model.RelatedMemberID != nil {
		entry.RelatedMemberID = vault.MemberID(*model.RelatedMemberID)
	}
	return entry, nil
}

func mapEntries(rows []LedgerEntry) ([]vault.Entry, error) {
	entries := make([]vault.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapLoan(model Loan) vault.Loan {
	loan := vault.Loan{
		LoanID:             model.LoanID,
		Reference:          model.Reference,
		BorrowerID:         vault.MemberID(model.BorrowerID),
		Principal:          vault.Centavos(model.PrincipalCentavos),
		InterestRate:       model.InterestRate,
		DurationDays:       model.DurationDays,
		Collateral:         vault.Centavos(model.CollateralCentavos),
		Status:             vault.LoanStatus(model.Status),
		AutoRepayTriggered: model.AutoRepayTriggered,
		CreatedAt:          model.CreatedAt,
		FundedAt:           model.FundedAt,
		DueAt:              model.DueAt,
		RepaidAt:           model.RepaidAt,
	}
	if model.LenderID != nil {
		loan.LenderID = vault.MemberID(*model.LenderID)
	}
	return loan
}

func mapLoans(rows []Loan) []vault.Loan {
	loans := make([]vault.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, mapLoan(row))
	}
	return loans
}

func loanModel(loan vault.Loan) Loan {
	model := Loan{
		LoanID:             loan.LoanID,
		Reference:          loan.Reference,
		BorrowerID:         loan.BorrowerID.String(),
		PrincipalCentavos:  loan.Principal.Int64(),
		InterestRate:       loan.InterestRate,
		DurationDays:       loan.DurationDays,
		CollateralCentavos: loan.Collateral.Int64(),
		Status:             loan.Status.String(),
		AutoRepayTriggered: loan.AutoRepayTriggered,
		CreatedAt:          loan.CreatedAt,
		FundedAt:           loan.FundedAt,
		DueAt:              loan.DueAt,
		RepaidAt:           loan.RepaidAt,
	}
	if loan.LenderID != "" {
		lender := loan.LenderID.String()
		model.LenderID = &lender
	}
	return model
}

func mapSnapshot(model LiquiditySnapshot) vault.LiquiditySnapshot {
	return vault.LiquiditySnapshot{
		SnapshotID:  model.SnapshotID,
		PeriodStart: model.PeriodStart,
		Open:        model.OpenRatio,
		High:        model.HighRatio,
		Low:         model.LowRatio,
		Close:       model.CloseRatio,
		NetFlow:     vault.Centavos(model.NetFlowCentavos),
	}
}

func metadataJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) {
		return pgError.Code == pgUniqueViolation
	}
	var sqliteError *gosqlite.Error
	if errors.As(err, &sqliteError) {
		return sqliteError.Code()&0xFF == sqliteConstraint
	}
	return false
}
