package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

func (server *Server) handleEnroll(ginCtx *gin.Context) {
	var request enrollRequest
	if err := ginCtx.ShouldBindJSON(&request); err != nil {
		ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with member_id"))
		return
	}
	memberID, err := vault.NewMemberID(request.MemberID)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	var referrerID vault.MemberID
	if request.ReferrerID != "" {
		referrerID, err = vault.NewMemberID(request.ReferrerID)
		if err != nil {
			server.respondError(ginCtx, err)
			return
		}
	}
	member, err := server.engine.EnrollMember(ginCtx.Request.Context(), memberID, referrerID)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusCreated, gin.H{"member": memberToPayload(member)})
}

func (server *Server) handleBalances(ginCtx *gin.Context) {
	memberID, ok := server.pathMemberID(ginCtx)
	if !ok {
		return
	}
	payload, err := server.gate.Fetch(ginCtx.Request.Context(), "balances:"+memberID.String(), func(ctx context.Context) ([]byte, error) {
		balances, err := server.engine.GetBalances(ctx, memberID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(gin.H{"balances": balancesToPayload(balances)})
	})
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (server *Server) handleLedger(ginCtx *gin.Context) {
	memberID, ok := server.pathMemberID(ginCtx)
	if !ok {
		return
	}
	limit := queryInt(ginCtx, "limit", defaultHistoryLimit)
	before := time.Time{}
	if raw := ginCtx.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be RFC3339"))
			return
		}
		before = parsed
	}
	entries, err := server.engine.History(ginCtx.Request.Context(), memberID, before, limit)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, entryToPayload(entry))
	}
	ginCtx.JSON(http.StatusOK, gin.H{"entries": payloads})
}

func (server *Server) handleDeposit(ginCtx *gin.Context) {
	memberID, ok := server.pathMemberID(ginCtx)
	if !ok {
		return
	}
	amount, ok := server.bindAmount(ginCtx)
	if !ok {
		return
	}
	receipt, err := server.engine.Deposit(ginCtx.Request.Context(), memberID, amount)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusAccepted, gin.H{
		"reference":        receipt.Reference,
		"status":           vault.StatusClearing.String(),
		"clearing_ends_at": receipt.ClearingEndsAt,
	})
}

func (server *Server) handleWithdraw(ginCtx *gin.Context) {
	memberID, ok := server.pathMemberID(ginCtx)
	if !ok {
		return
	}
	amount, ok := server.bindAmount(ginCtx)
	if !ok {
		return
	}
	receipt, err := server.engine.Withdraw(ginCtx.Request.Context(), memberID, amount)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	server.respondReceipt(ginCtx, receipt)
}

func (server *Server) handleTransfer(ginCtx *gin.Context) {
	memberID, ok := server.pathMemberID(ginCtx)
	if !ok {
		return
	}
	var request transferRequest
	if err := ginCtx.ShouldBindJSON(&request); err != nil {
		ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with amount_centavos and destination"))
		return
	}
	amount, err := vault.NewAmount(request.AmountCentavos)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	receipt, err := server.engine.Transfer(ginCtx.Request.Context(), memberID, amount,
		request.Destination, vault.TransferDestinationType(request.DestinationType))
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	server.respondReceipt(ginCtx, receipt)
}

func (server *Server) handleRequestLoan(ginCtx *gin.Context) {
	memberID, ok := server.pathMemberID(ginCtx)
	if !ok {
		return
	}
	var request loanRequest
	if err := ginCtx.ShouldBindJSON(&request); err != nil {
		ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with principal_centavos"))
		return
	}
	principal, err := vault.NewAmount(request.PrincipalCentavos)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	loan, err := server.engine.RequestLoan(ginCtx.Request.Context(), memberID, principal)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusCreated, gin.H{"loan": loanToPayload(loan)})
}

func (server *Server) handleOpenLoans(ginCtx *gin.Context) {
	limit := queryInt(ginCtx, "limit", defaultLoanListLimit)
	loans, err := server.engine.OpenLoans(ginCtx.Request.Context(), limit)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	payloads := make([]loanPayload, 0, len(loans))
	for _, loan := range loans {
		payloads = append(payloads, loanToPayload(loan))
	}
	ginCtx.JSON(http.StatusOK, gin.H{"loans": payloads})
}

func (server *Server) handleGetLoan(ginCtx *gin.Context) {
	loan, err := server.engine.GetLoan(ginCtx.Request.Context(), ginCtx.Param("loan_id"))
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"loan": loanToPayload(loan)})
}

func (server *Server) handleFundLoan(ginCtx *gin.Context) {
	var request fundLoanRequest
	if err := ginCtx.ShouldBindJSON(&request); err != nil {
		ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with lender_id"))
		return
	}
	lenderID, err := vault.NewMemberID(request.LenderID)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	loan, err := server.engine.FundLoan(ginCtx.Request.Context(), lenderID, ginCtx.Param("loan_id"))
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"loan": loanToPayload(loan)})
}

func (server *Server) handleRepayLoan(ginCtx *gin.Context) {
	released, err := server.engine.RepayLoan(ginCtx.Request.Context(), ginCtx.Param("loan_id"))
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"collateral_released_centavos": released.Int64()})
}

func (server *Server) handleCancelLoan(ginCtx *gin.Context) {
	var request cancelLoanRequest
	if err := ginCtx.ShouldBindJSON(&request); err != nil {
		ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with borrower_id"))
		return
	}
	borrowerID, err := vault.NewMemberID(request.BorrowerID)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	if err := server.engine.CancelLoan(ginCtx.Request.Context(), borrowerID, ginCtx.Param("loan_id")); err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (server *Server) handleLiquidity(ginCtx *gin.Context) {
	index, err := server.engine.ComputeLiquidityIndex(ginCtx.Request.Context())
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	if server.metrics != nil {
		server.metrics.LiquidityRatio.Set(float64(index.Ratio))
	}
	ginCtx.JSON(http.StatusOK, gin.H{"liquidity": liquidityPayload{
		Ratio:           index.Ratio,
		Level:           string(index.Level),
		VaultCentavos:   index.VaultTotal.Int64(),
		FrozenCentavos:  index.FrozenTotal.Int64(),
		LendingCentavos: index.LendingTotal.Int64(),
	}})
}

func (server *Server) handleSnapshots(ginCtx *gin.Context) {
	limit := queryInt(ginCtx, "limit", defaultSnapshotLimit)
	snapshots, err := server.engine.Snapshots(ginCtx.Request.Context(), limit)
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	payloads := make([]snapshotPayload, 0, len(snapshots))
	for _, snapshot := range snapshots {
		payloads = append(payloads, snapshotPayload{
			PeriodStart:     snapshot.PeriodStart,
			Open:            snapshot.Open,
			High:            snapshot.High,
			Low:             snapshot.Low,
			Close:           snapshot.Close,
			NetFlowCentavos: snapshot.NetFlow.Int64(),
		})
	}
	ginCtx.JSON(http.StatusOK, gin.H{"snapshots": payloads})
}

func (server *Server) handleApprove(ginCtx *gin.Context) {
	if err := server.engine.ApproveReview(ginCtx.Request.Context(), ginCtx.Param("reference")); err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"status": vault.StatusClearing.String()})
}

func (server *Server) handleReject(ginCtx *gin.Context) {
	var request rejectRequest
	_ = ginCtx.ShouldBindJSON(&request)
	if request.Reason == "" {
		request.Reason = "rejected by reviewer"
	}
	if err := server.engine.RejectReview(ginCtx.Request.Context(), ginCtx.Param("reference"), request.Reason); err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"status": vault.StatusReversed.String()})
}

func (server *Server) handleReserveBalance(ginCtx *gin.Context) {
	balance, err := server.engine.ReserveBalance(ginCtx.Request.Context())
	if err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"reserve_centavos": balance.Int64()})
}

func (server *Server) handleFundReserve(ginCtx *gin.Context) {
	amount, ok := server.bindAmount(ginCtx)
	if !ok {
		return
	}
	if err := server.engine.FundReserve(ginCtx.Request.Context(), amount); err != nil {
		server.respondError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, gin.H{"status": "funded"})
}

func (server *Server) pathMemberID(ginCtx *gin.Context) (vault.MemberID, bool) {
	memberID, err := vault.NewMemberID(ginCtx.Param("id"))
	if err != nil {
		server.respondError(ginCtx, err)
		return "", false
	}
	return memberID, true
}

func (server *Server) bindAmount(ginCtx *gin.Context) (vault.Centavos, bool) {
	var request amountRequest
	if err := ginCtx.ShouldBindJSON(&request); err != nil {
		ginCtx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with amount_centavos"))
		return 0, false
	}
	amount, err := vault.NewAmount(request.AmountCentavos)
	if err != nil {
		server.respondError(ginCtx, err)
		return 0, false
	}
	return amount, true
}

func (server *Server) respondReceipt(ginCtx *gin.Context, receipt vault.TransferReceipt) {
	ginCtx.JSON(http.StatusAccepted, gin.H{
		"reference":        receipt.Reference,
		"status":           receipt.Status.String(),
		"clearing_ends_at": receipt.ClearingEndsAt,
	})
}

func queryInt(ginCtx *gin.Context, name string, fallback int) int {
	raw := ginCtx.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (server *Server) logFailure(ginCtx *gin.Context, err error) {
	server.logger.Warn("request failed",
		zap.String("route", ginCtx.FullPath()),
		zap.String("method", ginCtx.Request.Method),
		zap.Error(err),
	)
}
