// Package httpapi is the gin facade over the vault engine. It maps
// domain errors onto HTTP status codes and keeps response messages
// sanitized; full error detail goes to the structured log only.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/maharlikacoop/vaultledger/internal/metrics"
	"github.com/maharlikacoop/vaultledger/internal/refreshgate"
	"github.com/maharlikacoop/vaultledger/pkg/vault"
)

const (
	defaultHistoryLimit  = 50
	defaultLoanListLimit = 100
	defaultSnapshotLimit = 96
	shutdownGracePeriod  = 5 * time.Second
)

// Engine is the subset of the vault service the facade calls. Tests
// substitute a fake.
type Engine interface {
	EnrollMember(ctx context.Context, memberID vault.MemberID, referrerID vault.MemberID) (vault.Member, error)
	GetBalances(ctx context.Context, memberID vault.MemberID) (vault.Balances, error)
	History(ctx context.Context, memberID vault.MemberID, before time.Time, limit int) ([]vault.Entry, error)
	Deposit(ctx context.Context, memberID vault.MemberID, amount vault.Centavos) (vault.DepositReceipt, error)
	Withdraw(ctx context.Context, memberID vault.MemberID, amount vault.Centavos) (vault.TransferReceipt, error)
	Transfer(ctx context.Context, memberID vault.MemberID, amount vault.Centavos, destination string, destinationType vault.TransferDestinationType) (vault.TransferReceipt, error)
	RequestLoan(ctx context.Context, borrowerID vault.MemberID, principal vault.Centavos) (vault.Loan, error)
	FundLoan(ctx context.Context, lenderID vault.MemberID, loanID string) (vault.Loan, error)
	RepayLoan(ctx context.Context, loanID string) (vault.Centavos, error)
	CancelLoan(ctx context.Context, borrowerID vault.MemberID, loanID string) error
	OpenLoans(ctx context.Context, limit int) ([]vault.Loan, error)
	GetLoan(ctx context.Context, loanID string) (vault.Loan, error)
	ApproveReview(ctx context.Context, reference string) error
	RejectReview(ctx context.Context, reference string, reason string) error
	ComputeLiquidityIndex(ctx context.Context) (vault.LiquidityIndex, error)
	Snapshots(ctx context.Context, limit int) ([]vault.LiquiditySnapshot, error)
	ReserveBalance(ctx context.Context) (vault.Centavos, error)
	FundReserve(ctx context.Context, amount vault.Centavos) error
}

// Config controls the HTTP listener.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Server hosts the facade.
type Server struct {
	config  Config
	engine  Engine
	gate    *refreshgate.Gate
	metrics *metrics.Collectors
	logger  *zap.Logger
	router  *gin.Engine
}

// New wires the facade. The refresh gate and metrics are optional.
func New(config Config, engine Engine, gate *refreshgate.Gate, collectors *metrics.Collectors, logger *zap.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: engine dependency is nil", vault.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		config:  config,
		engine:  engine,
		gate:    gate,
		metrics: collectors,
		logger:  logger,
	}
	server.router = server.setupRouter()
	return server, nil
}

// Router exposes the gin engine for tests.
func (server *Server) Router() *gin.Engine {
	return server.router
}

// Run serves until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.config.ListenAddr,
		Handler: server.router,
	}
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http facade listening", zap.String("addr", server.config.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.config.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if server.metrics != nil {
		router.Use(server.observe)
		router.GET("/metrics", gin.WrapH(server.metrics.Handler()))
	}

	router.GET("/healthz", func(ginCtx *gin.Context) {
		ginCtx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/members", server.handleEnroll)
	api.GET("/members/:id/balances", server.handleBalances)
	api.GET("/members/:id/ledger", server.handleLedger)
	api.POST("/members/:id/deposits", server.handleDeposit)
	api.POST("/members/:id/withdrawals", server.handleWithdraw)
	api.POST("/members/:id/transfers", server.handleTransfer)
	api.POST("/members/:id/loans", server.handleRequestLoan)

	api.GET("/loans/open", server.handleOpenLoans)
	api.GET("/loans/:loan_id", server.handleGetLoan)
	api.POST("/loans/:loan_id/fund", server.handleFundLoan)
	api.POST("/loans/:loan_id/repay", server.handleRepayLoan)
	api.POST("/loans/:loan_id/cancel", server.handleCancelLoan)

	api.GET("/liquidity", server.handleLiquidity)
	api.GET("/liquidity/snapshots", server.handleSnapshots)

	admin := api.Group("/admin")
	admin.POST("/review/:reference/approve", server.handleApprove)
	admin.POST("/review/:reference/reject", server.handleReject)
	admin.GET("/reserve", server.handleReserveBalance)
	admin.POST("/reserve/fund", server.handleFundReserve)

	return router
}

// observe records request latency per route and status.
func (server *Server) observe(ginCtx *gin.Context) {
	startedAt := time.Now()
	ginCtx.Next()
	route := ginCtx.FullPath()
	if route == "" {
		route = "unmatched"
	}
	server.metrics.RequestDuration.
		WithLabelValues(route, strconv.Itoa(ginCtx.Writer.Status())).
		Observe(time.Since(startedAt).Seconds())
}
