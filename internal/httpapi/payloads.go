package httpapi

import (
	"encoding/json"
	"time"

	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

type enrollRequest struct {
	MemberID   string `json:"member_id" binding:"required"`
	ReferrerID string `json:"referrer_id"`
}

type amountRequest struct {
	AmountCentavos int64 `json:"amount_centavos" binding:"required"`
}

type transferRequest struct {
	AmountCentavos  int64  `json:"amount_centavos" binding:"required"`
	Destination     string `json:"destination" binding:"required"`
	DestinationType string `json:"destination_type" binding:"required"`
}

type loanRequest struct {
	PrincipalCentavos int64 `json:"principal_centavos" binding:"required"`
}

type fundLoanRequest struct {
	LenderID string `json:"lender_id" binding:"required"`
}

type cancelLoanRequest struct {
	BorrowerID string `json:"borrower_id" binding:"required"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type memberPayload struct {
	MemberID   string `json:"member_id"`
	MemberCode string `json:"member_code"`
	ReferrerID string `json:"referrer_id,omitempty"`
}

type balancesPayload struct {
	VaultCentavos   int64 `json:"vault_centavos"`
	FrozenCentavos  int64 `json:"frozen_centavos"`
	LendingCentavos int64 `json:"lending_centavos"`
	TotalCentavos   int64 `json:"total_centavos"`
	VaultPesos      int64 `json:"vault_pesos"`
}

type entryPayload struct {
	EntryID         string          `json:"entry_id"`
	Reference       string          `json:"reference"`
	Type            string          `json:"type"`
	AmountCentavos  int64           `json:"amount_centavos"`
	Status          string          `json:"status"`
	Description     string          `json:"description,omitempty"`
	RelatedMemberID string          `json:"related_member_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata"`
	ClearingEndsAt  *time.Time      `json:"clearing_ends_at,omitempty"`
	MaturedAt       *time.Time      `json:"matured_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type loanPayload struct {
	LoanID             string     `json:"loan_id"`
	Reference          string     `json:"reference"`
	BorrowerID         string     `json:"borrower_id"`
	LenderID           string     `json:"lender_id,omitempty"`
	PrincipalCentavos  int64      `json:"principal_centavos"`
	InterestRate       int64      `json:"interest_rate"`
	DurationDays       int        `json:"duration_days"`
	CollateralCentavos int64      `json:"collateral_centavos"`
	TotalDueCentavos   int64      `json:"total_due_centavos"`
	Status             string     `json:"status"`
	AutoRepayTriggered bool       `json:"auto_repay_triggered"`
	CreatedAt          time.Time  `json:"created_at"`
	FundedAt           *time.Time `json:"funded_at,omitempty"`
	DueAt              *time.Time `json:"due_at,omitempty"`
	RepaidAt           *time.Time `json:"repaid_at,omitempty"`
}

type liquidityPayload struct {
	Ratio           int64  `json:"ratio"`
	Level           string `json:"level"`
	VaultCentavos   int64  `json:"vault_centavos"`
	FrozenCentavos  int64  `json:"frozen_centavos"`
	LendingCentavos int64  `json:"lending_centavos"`
}

type snapshotPayload struct {
	PeriodStart     time.Time `json:"period_start"`
	Open            int64     `json:"open"`
	High            int64     `json:"high"`
	Low             int64     `json:"low"`
	Close           int64     `json:"close"`
	NetFlowCentavos int64     `json:"net_flow_centavos"`
}

func memberToPayload(member vault.Member) memberPayload {
	return memberPayload{
		MemberID:   member.MemberID.String(),
		MemberCode: member.MemberCode,
		ReferrerID: member.ReferrerID.String(),
	}
}

func balancesToPayload(balances vault.Balances) balancesPayload {
	return balancesPayload{
		VaultCentavos:   balances.Vault.Int64(),
		FrozenCentavos:  balances.Frozen.Int64(),
		LendingCentavos: balances.Lending.Int64(),
		TotalCentavos:   balances.Total().Int64(),
		VaultPesos:      balances.Vault.Pesos(),
	}
}

func entryToPayload(entry vault.Entry) entryPayload {
	metadata := entry.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	return entryPayload{
		EntryID:         entry.EntryID,
		Reference:       entry.Reference,
		Type:            entry.Type.String(),
		AmountCentavos:  entry.Amount.Int64(),
		Status:          entry.Status.String(),
		Description:     entry.Description,
		RelatedMemberID: entry.RelatedMemberID.String(),
		Metadata:        json.RawMessage(metadata),
		ClearingEndsAt:  entry.ClearingEndsAt,
		MaturedAt:       entry.MaturedAt,
		CreatedAt:       entry.CreatedAt,
	}
}

func loanToPayload(loan vault.Loan) loanPayload {
	return loanPayload{
		LoanID:             loan.LoanID,
		Reference:          loan.Reference,
		BorrowerID:         loan.BorrowerID.String(),
		LenderID:           loan.LenderID.String(),
		PrincipalCentavos:  loan.Principal.Int64(),
		InterestRate:       loan.InterestRate,
		DurationDays:       loan.DurationDays,
		CollateralCentavos: loan.Collateral.Int64(),
		TotalDueCentavos:   loan.TotalDue().Int64(),
		Status:             loan.Status.String(),
		AutoRepayTriggered: loan.AutoRepayTriggered,
		CreatedAt:          loan.CreatedAt,
		FundedAt:           loan.FundedAt,
		DueAt:              loan.DueAt,
		RepaidAt:           loan.RepaidAt,
	}
}
