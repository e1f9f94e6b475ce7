// Package handler contains the HTTP handlers of the devcoins API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devflow/devcoins/internal/middleware"
	"github.com/devflow/devcoins/internal/model"
	"github.com/devflow/devcoins/internal/repository"
	"github.com/devflow/devcoins/internal/service"
)

// Service defines the business logic contract used by the HTTP handlers.
type Service interface {
	GetBalance(ctx context.Context, id service.Identity) (int64, error)
	GetTransactions(ctx context.Context, email string) ([]model.Transaction, error)
	RedeemCoupon(ctx context.Context, id service.Identity, code string) (int64, error)
	SubmitTransfer(ctx context.Context, id service.Identity, in service.TransferInput) (*service.TransferResult, error)
	AddCoins(ctx context.Context, adminEmail string, targetID, amount int64) error
	ToggleAdmin(ctx context.Context, adminEmail string, targetID int64, isAdmin bool) error
	GenerateCoupons(ctx context.Context, adminEmail string, coinsPerCoupon int64, count int) ([]model.Coupon, error)
	DeleteCoupon(ctx context.Context, adminEmail string, couponID int64) error
	ListUsers(ctx context.Context, adminEmail string, page int, search string) (*service.UserPage, error)
	ListCoupons(ctx context.Context, adminEmail string, page int) (*service.CouponPage, error)
	ListTransactions(ctx context.Context, adminEmail string, page int, search string) (*service.TransactionPage, error)
	Stats(ctx context.Context, adminEmail string) (*model.Stats, error)
}

// Handler implements the HTTP handlers of the devcoins API.
type Handler struct {
	service           Service
	logger            *zap.Logger
	sessionMiddleware *middleware.SessionMiddleware
}

// NewHandler creates a new HTTP handler instance.
func NewHandler(s Service, logger *zap.Logger, session *middleware.SessionMiddleware) *Handler {
	return &Handler{
		service:           s,
		logger:            logger,
		sessionMiddleware: session,
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) respondMessage(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, messageResponse{Message: message})
}

// handleError maps service and storage errors to structured responses.
// Storage failures are logged with context and reported generically.
func (h *Handler) handleError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	var insufficientErr *service.InsufficientCoinsError
	var upstreamErr *service.UpstreamError

	switch {
	case errors.Is(err, service.ErrForbidden):
		h.respondMessage(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, service.ErrInvalidAmount):
		h.respondMessage(w, http.StatusBadRequest, "Invalid coin amount")
	case errors.Is(err, service.ErrInvalidCount):
		h.respondMessage(w, http.StatusBadRequest, "Invalid coupon count")
	case errors.Is(err, service.ErrInvalidRepoURL):
		h.respondMessage(w, http.StatusBadRequest, "Invalid destination repository URL")
	case errors.Is(err, service.ErrOwnershipMismatch):
		h.respondMessage(w, http.StatusBadRequest, "Destination repository must belong to your GitHub account")
	case errors.Is(err, repository.ErrCouponInvalidOrExpired):
		h.respondMessage(w, http.StatusBadRequest, "Invalid or expired coupon code")
	case errors.Is(err, repository.ErrCouponNotFoundOrRedeemed):
		h.respondMessage(w, http.StatusNotFound, "Coupon not found or already redeemed")
	case errors.Is(err, repository.ErrUserNotFound):
		h.respondMessage(w, http.StatusNotFound, "User not found")
	case errors.As(err, &insufficientErr):
		h.respondJSON(w, http.StatusPaymentRequired, insufficientCoinsResponse{
			Message:       "Not enough coins for this operation",
			RequiredCoins: insufficientErr.Required,
			UserCoins:     insufficientErr.Current,
		})
	case errors.As(err, &upstreamErr):
		h.respondJSON(w, http.StatusBadGateway, upstreamFailureResponse{
			Message: "Failed to trigger rewrite process",
			Error:   upstreamErr.Payload,
		})
	default:
		h.logger.Error(op, append(fields, zap.Error(err))...)
		h.respondMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

type insufficientCoinsResponse struct {
	Message       string `json:"message"`
	RequiredCoins int64  `json:"requiredCoins"`
	UserCoins     int64  `json:"userCoins"`
}

type upstreamFailureResponse struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (middleware.Session, bool) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		h.respondMessage(w, http.StatusUnauthorized, "Unauthorized")
		return middleware.Session{}, false
	}
	return session, true
}

func identityFromSession(s middleware.Session) service.Identity {
	return service.Identity{
		Email:       s.Email,
		Name:        s.Name,
		AccessToken: s.AccessToken,
	}
}

type balanceResponse struct {
	Coins int64 `json:"coins"`
}

// GetCoins returns the current user's coin balance, creating the account
// on first read.
func (h *Handler) GetCoins(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	coins, err := h.service.GetBalance(r.Context(), identityFromSession(session))
	if err != nil {
		h.handleError(w, err, "get balance", zap.String("user", session.Email))
		return
	}

	h.respondJSON(w, http.StatusOK, balanceResponse{Coins: coins})
}

type transactionResponse struct {
	ID        int64   `json:"id"`
	UserID    string  `json:"userId"`
	Amount    int64   `json:"amount"`
	Reason    string  `json:"reason"`
	CouponID  *int64  `json:"couponId,omitempty"`
	AdminID   *string `json:"adminId,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func toTransactionResponse(t model.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		UserID:    t.UserID,
		Amount:    t.Amount,
		Reason:    t.Reason,
		CouponID:  t.CouponID,
		AdminID:   t.AdminID,
		Timestamp: t.Timestamp.Format(time.RFC3339),
	}
}

type transactionsResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

// GetTransactions returns the current user's most recent ledger entries,
// newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	transactions, err := h.service.GetTransactions(r.Context(), session.Email)
	if err != nil {
		h.handleError(w, err, "get transactions", zap.String("user", session.Email))
		return
	}

	resp := transactionsResponse{Transactions: make([]transactionResponse, 0, len(transactions))}
	for _, t := range transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(t))
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type redeemRequest struct {
	Code string `json:"code"`
}

type redeemResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CoinsAdded int64  `json:"coinsAdded"`
}

// RedeemCoupon redeems a coupon code for the current user.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if strings.TrimSpace(req.Code) == "" {
		h.respondMessage(w, http.StatusBadRequest, "Coupon code is required")
		return
	}

	coins, err := h.service.RedeemCoupon(r.Context(), identityFromSession(session), req.Code)
	if err != nil {
		h.handleError(w, err, "redeem coupon", zap.String("user", session.Email))
		return
	}

	h.respondJSON(w, http.StatusOK, redeemResponse{
		Success:    true,
		Message:    "Coupon redeemed successfully",
		CoinsAdded: coins,
	})
}

type transferRequest struct {
	SourceRepo        string   `json:"source_repo"`
	DestRepo          string   `json:"dest_repo"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date"`
	KeepOriginalDates bool     `json:"keep_original_dates"`
	Contributors      []string `json:"contributors"`
}

type transferResponse struct {
	Message    string `json:"message"`
	ID         string `json:"id"`
	CoinsSpent int64  `json:"coinsSpent"`
}

// TransferRepo submits a repository history transfer request.
func (h *Handler) TransferRepo(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	result, err := h.service.SubmitTransfer(r.Context(), identityFromSession(session), service.TransferInput{
		SourceRepo:        req.SourceRepo,
		DestRepo:          req.DestRepo,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		KeepOriginalDates: req.KeepOriginalDates,
		Contributors:      req.Contributors,
	})
	if err != nil {
		if errors.Is(err, service.ErrMissingField) {
			h.respondMessage(w, http.StatusBadRequest, "Source and destination repositories are required")
			return
		}
		h.handleError(w, err, "submit transfer", zap.String("user", session.Email))
		return
	}

	h.respondJSON(w, http.StatusOK, transferResponse{
		Message:    "Repository transfer request submitted successfully",
		ID:         result.ID,
		CoinsSpent: result.CoinsSpent,
	})
}
