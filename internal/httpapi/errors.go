package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

// respondError maps a domain error onto an HTTP status and a sanitized
// response body. Internal detail never leaves the process; it goes to
// the structured log only.
func (server *Server) respondError(ginCtx *gin.Context, err error) {
	var rateLimited vault.RateLimitedError
	if errors.As(err, &rateLimited) {
		retryAfterSeconds := int(rateLimited.RetryAfter.Seconds()) + 1
		ginCtx.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		ginCtx.JSON(http.StatusTooManyRequests, errorResponse("rate_limited", "too many transfers, retry later"))
		return
	}
	var notAged vault.FundsNotAgedError
	if errors.As(err, &notAged) {
		ginCtx.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{
				"code":              "funds_not_aged",
				"message":           "deposited funds have not aged long enough to borrow against",
				"remaining_seconds": int64(notAged.Remaining.Seconds()),
			},
		})
		return
	}
	var exceedsMax vault.ExceedsMaxLoanError
	if errors.As(err, &exceedsMax) {
		ginCtx.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{
				"code":         "exceeds_max_loan",
				"message":      "principal exceeds the collateral-ratio cap",
				"max_centavos": exceedsMax.Max.Int64(),
			},
		})
		return
	}

	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		server.logFailure(ginCtx, err)
	}
	ginCtx.JSON(status, errorResponse(code, message))
}

func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount", "amount out of range"
	case errors.Is(err, vault.ErrInvalidMemberID):
		return http.StatusBadRequest, "invalid_member_id", "member id is malformed"
	case errors.Is(err, vault.ErrInvalidDestination):
		return http.StatusBadRequest, "invalid_destination", "transfer destination is invalid"
	case errors.Is(err, vault.ErrUnknownMember):
		return http.StatusNotFound, "unknown_member", "member not found"
	case errors.Is(err, vault.ErrUnknownEntry):
		return http.StatusNotFound, "unknown_entry", "ledger entry not found"
	case errors.Is(err, vault.ErrUnknownLoan):
		return http.StatusNotFound, "unknown_loan", "loan not found"
	case errors.Is(err, vault.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds", "balance too low for this operation"
	case errors.Is(err, vault.ErrInsufficientReserve):
		return http.StatusConflict, "insufficient_reserve", "reserve fund cannot cover this operation"
	case errors.Is(err, vault.ErrEntryNotReviewable):
		return http.StatusConflict, "entry_not_reviewable", "entry is not in a reviewable state"
	case errors.Is(err, vault.ErrLoanNotOpen):
		return http.StatusConflict, "loan_not_open", "loan is no longer open"
	case errors.Is(err, vault.ErrLoanNotFunded):
		return http.StatusConflict, "loan_not_funded", "loan is not in a funded state"
	case errors.Is(err, vault.ErrNotBorrower):
		return http.StatusConflict, "not_borrower", "only the borrower may perform this action"
	case errors.Is(err, vault.ErrSelfFunding):
		return http.StatusConflict, "self_funding", "borrower cannot fund own loan"
	case errors.Is(err, vault.ErrAlreadyPosted):
		return http.StatusConflict, "already_posted", "accrual already posted for this day"
	case errors.Is(err, vault.ErrAlreadyCredited):
		return http.StatusConflict, "already_credited", "referral commission already credited"
	case errors.Is(err, vault.ErrNoReferrer):
		return http.StatusUnprocessableEntity, "no_referrer", "member has no referrer"
	case errors.Is(err, vault.ErrSystemFrozen):
		return http.StatusServiceUnavailable, "system_frozen", "system is frozen"
	case errors.Is(err, vault.ErrMaintenanceMode):
		return http.StatusServiceUnavailable, "maintenance", "system is in maintenance mode"
	default:
		return http.StatusInternalServerError, "internal_error", "internal error"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
