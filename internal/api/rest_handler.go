package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"wallet_ledger/internal/processor"
	"wallet_ledger/internal/repository"
	"wallet_ledger/pkg/validator"

	"github.com/gin-gonic/gin"
)

type APIHandler struct {
	engine         *processor.TransferEngine
	logger         *slog.Logger
	requestTimeout time.Duration
	startedAt      time.Time
}

func NewAPIHandler(engine *processor.TransferEngine, requestTimeout time.Duration, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &APIHandler{
		engine:         engine,
		logger:         logger,
		requestTimeout: requestTimeout,
		startedAt:      time.Now(),
	}
}

type OnboardRequest struct {
	EntityID       int64  `json:"entityId"`
	EntityMetadata string `json:"entityMetadata"`
	Value          int64  `json:"value"`
}

type TransferRequest struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Value int64 `json:"value"`
}

type RoleTransferRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value int64  `json:"value"`
}

type RoleOnboardRequest struct {
	User   int64 `json:"user"`
	Seller int64 `json:"seller"`
	Bank   int64 `json:"bank"`
}

type CommitResponse struct {
	TxHash string `json:"txHash"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	// TxHash is set when the ledger committed but the local store did not
	// record it; retrying would commit a second time.
	TxHash string `json:"txHash,omitempty"`
}

// Register mounts every route on r. Mutating routes go through auth when it
// is non-nil.
func (h *APIHandler) Register(r gin.IRouter, auth gin.HandlerFunc) {
	mutating := []gin.HandlerFunc{}
	if auth != nil {
		mutating = append(mutating, auth)
	}
	with := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, mutating...), handler)
	}

	r.GET("/api/health", h.HealthCheckHandler)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/wallets", h.LogHandler)
		v1.GET("/wallets/:id", h.GetWalletHandler)
		v1.GET("/wallets/:id/history", h.HistoryHandler)
		v1.POST("/wallets/onboard", with(h.OnboardHandler)...)
		v1.POST("/wallets/transfer", with(h.TransferHandler)...)

		v1.GET("/roles", h.RoleLatestHandler)
		v1.GET("/roles/history", h.RoleLogHandler)
		v1.POST("/roles/onboard", with(h.RoleOnboardHandler)...)
		v1.POST("/roles/transfer", with(h.RoleTransferHandler)...)

		v1.GET("/operations/:id", h.GetOperationHandler)
	}

	trade := r.Group("/trade")
	{
		trade.GET("/getWallet", h.GetWalletHandler)
		trade.GET("/getWalletTransactionLogs", h.LogHandler)
		trade.POST("/transfer", with(h.TransferHandler)...)
		trade.POST("/onboardWallet", with(h.OnboardHandler)...)
	}
}

func (h *APIHandler) OnboardHandler(c *gin.Context) {
	var req OnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	commitID, err := h.engine.Onboard(ctx, req.EntityID, req.EntityMetadata, req.Value)
	h.sendCommit(c, commitID, err)
}

func (h *APIHandler) TransferHandler(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	commitID, err := h.engine.Transfer(ctx, req.From, req.To, req.Value)
	h.sendCommit(c, commitID, err)
}

func (h *APIHandler) RoleTransferHandler(c *gin.Context) {
	var req RoleTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	commitID, err := h.engine.TransferRoles(ctx, req.From, req.To, req.Value)
	h.sendCommit(c, commitID, err)
}

func (h *APIHandler) RoleOnboardHandler(c *gin.Context) {
	var req RoleOnboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendError(c, "Invalid request body", http.StatusBadRequest, "INVALID_REQUEST")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.requestTimeout)
	defer cancel()

	commitID, err := h.engine.OnboardRoles(ctx, req.User, req.Seller, req.Bank)
	h.sendCommit(c, commitID, err)
}

// GetWalletHandler serves both /wallets/:id and the legacy ?id= form.
func (h *APIHandler) GetWalletHandler(c *gin.Context) {
	raw := c.Param("id")
	if raw == "" {
		raw = c.Query("id")
	}
	accountID, ok := h.parseAccountID(c, raw)
	if !ok {
		return
	}

	rec, err := h.engine.Latest(c.Request.Context(), accountID)
	if err != nil {
		h.sendLookupError(c, err, "Wallet not found")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *APIHandler) HistoryHandler(c *gin.Context) {
	accountID, ok := h.parseAccountID(c, c.Param("id"))
	if !ok {
		return
	}

	history, err := h.engine.History(c.Request.Context(), accountID)
	if err != nil {
		h.sendLookupError(c, err, "Wallet not found")
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *APIHandler) LogHandler(c *gin.Context) {
	records, err := h.engine.Log(c.Request.Context())
	if err != nil {
		h.sendLookupError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *APIHandler) RoleLatestHandler(c *gin.Context) {
	balances, err := h.engine.RoleLatest(c.Request.Context())
	if err != nil {
		h.sendLookupError(c, err, "Role balances not onboarded")
		return
	}
	c.JSON(http.StatusOK, balances)
}

func (h *APIHandler) RoleLogHandler(c *gin.Context) {
	log, err := h.engine.RoleLog(c.Request.Context())
	if err != nil {
		h.sendLookupError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, log)
}

func (h *APIHandler) GetOperationHandler(c *gin.Context) {
	op, err := h.engine.GetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sendLookupError(c, err, "Operation not found")
		return
	}
	c.JSON(http.StatusOK, op)
}

func (h *APIHandler) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *APIHandler) parseAccountID(c *gin.Context, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.sendError(c, "Wallet id must be an integer", http.StatusBadRequest, "INVALID_ID")
		return 0, false
	}
	return id, true
}

func (h *APIHandler) sendCommit(c *gin.Context, commitID string, err error) {
	if err != nil && commitID != "" {
		h.logger.Error("Ledger commit not recorded locally",
			slog.String("path", c.FullPath()),
			slog.String("tx_hash", commitID),
			slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Error:  err.Error(),
			Code:   "COMMIT_NOT_RECORDED",
			TxHash: commitID,
		})
		return
	}
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Ledger operation failed",
				slog.String("path", c.FullPath()),
				slog.String("error", err.Error()))
		}
		h.sendError(c, err.Error(), status, code)
		return
	}
	c.JSON(http.StatusCreated, CommitResponse{TxHash: commitID})
}

func (h *APIHandler) sendLookupError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, repository.ErrNotFound) && notFound != "" {
		h.sendError(c, notFound, http.StatusNotFound, "NOT_FOUND")
		return
	}
	h.logger.Error("Ledger read failed",
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()))
	h.sendError(c, "Failed to read ledger", http.StatusInternalServerError, "SERVER_ERROR")
}

func (h *APIHandler) sendError(c *gin.Context, message string, statusCode int, code string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, validator.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT"
	case errors.Is(err, validator.ErrInvalidAccount):
		return http.StatusBadRequest, "INVALID_ACCOUNT"
	case errors.Is(err, validator.ErrInvalidRole):
		return http.StatusBadRequest, "INVALID_ROLE"
	case errors.Is(err, validator.ErrSameAccount):
		return http.StatusBadRequest, "SAME_ACCOUNT"
	case errors.Is(err, validator.ErrInvalidLabel):
		return http.StatusBadRequest, "INVALID_LABEL"
	case errors.Is(err, processor.ErrGatewayFailure):
		return http.StatusBadRequest, "GATEWAY_FAILURE"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "PROCESSING_ERROR"
	}
}
