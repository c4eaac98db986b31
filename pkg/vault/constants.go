package vault

const (
	centavosPerPeso = 100

	memberCodePrefix      = "PFX"
	referenceTimeLayout   = "20060102150405"
	referenceRandomLength = 6

	refPrefixDeposit    = "DEP"
	refPrefixWithdrawal = "WDR"
	refPrefixTransfer   = "TRF"
	refPrefixLoan       = "LN"
	refPrefixInterest   = "INT"
	refPrefixYield      = "YLD"
	refPrefixCommission = "COM"
	refPrefixCollateral = "COL"
	refPrefixReversal   = "REV"

	operationDeposit     = "deposit"
	operationWithdraw    = "withdraw"
	operationTransfer    = "transfer"
	operationAdvance     = "advance_clearing"
	operationApprove     = "approve_review"
	operationReject      = "reject_review"
	operationRequestLoan = "request_loan"
	operationFundLoan    = "fund_loan"
	operationRepayLoan   = "repay_loan"
	operationCancelLoan  = "cancel_loan"
	operationInterest    = "post_interest"
	operationYield       = "post_yield"
	operationCommission  = "referral_commission"
	operationSweep       = "sweep_defaults"
	operationEnroll      = "enroll_member"
	operationFundReserve = "fund_reserve"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
