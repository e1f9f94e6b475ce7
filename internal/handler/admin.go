package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/devflow/devcoins/internal/model"
)

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

type statsResponse struct {
	TotalUsers     int64 `json:"totalUsers"`
	TotalCoupons   int64 `json:"totalCoupons"`
	ActiveCoupons  int64 `json:"activeCoupons"`
	TotalCoins     int64 `json:"totalCoins"`
	TotalTransfers int64 `json:"totalTransfers"`
}

// AdminStats returns the aggregate counters for the admin dashboard.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), session.Email)
	if err != nil {
		h.handleError(w, err, "admin stats", zap.String("admin", session.Email))
		return
	}

	h.respondJSON(w, http.StatusOK, statsResponse{
		TotalUsers:     stats.TotalUsers,
		TotalCoupons:   stats.TotalCoupons,
		ActiveCoupons:  stats.ActiveCoupons,
		TotalCoins:     stats.TotalCoins,
		TotalTransfers: stats.TotalTransfers,
	})
}

type userResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Coins     int64  `json:"coins"`
	IsAdmin   bool   `json:"isAdmin"`
	CreatedAt string `json:"createdAt"`
}

type userListResponse struct {
	Users      []userResponse `json:"users"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages"`
	Total      int64          `json:"total"`
}

// AdminListUsers returns one page of accounts, optionally filtered by a
// substring match on email or name.
func (h *Handler) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	page := pageParam(r)
	search := r.URL.Query().Get("search")

	result, err := h.service.ListUsers(r.Context(), session.Email, page, search)
	if err != nil {
		h.handleError(w, err, "admin list users", zap.String("admin", session.Email))
		return
	}

	resp := userListResponse{
		Users:      make([]userResponse, 0, len(result.Users)),
		Page:       result.Page,
		TotalPages: result.TotalPages,
		Total:      result.Total,
	}
	for _, u := range result.Users {
		resp.Users = append(resp.Users, userResponse{
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.Name,
			Coins:     u.Coins,
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt.Format(time.RFC3339),
		})
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type addCoinsRequest struct {
	UserID int64 `json:"userId"`
	Amount int64 `json:"amount"`
}

// AdminAddCoins credits the target account directly.
func (h *Handler) AdminAddCoins(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req addCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if err := h.service.AddCoins(r.Context(), session.Email, req.UserID, req.Amount); err != nil {
		h.handleError(w, err, "admin add coins",
			zap.String("admin", session.Email),
			zap.Int64("targetID", req.UserID),
		)
		return
	}

	h.respondMessage(w, http.StatusOK, "Coins added successfully")
}

type toggleAdminRequest struct {
	UserID  int64 `json:"userId"`
	IsAdmin bool  `json:"isAdmin"`
}

// AdminToggleAdmin sets the target account's admin flag.
func (h *Handler) AdminToggleAdmin(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req toggleAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	if err := h.service.ToggleAdmin(r.Context(), session.Email, req.UserID, req.IsAdmin); err != nil {
		h.handleError(w, err, "admin toggle admin",
			zap.String("admin", session.Email),
			zap.Int64("targetID", req.UserID),
		)
		return
	}

	h.respondMessage(w, http.StatusOK, "User admin status updated")
}

type couponResponse struct {
	ID         int64   `json:"id"`
	Code       string  `json:"code"`
	Coins      int64   `json:"coins"`
	IsRedeemed bool    `json:"isRedeemed"`
	RedeemedBy *string `json:"redeemedBy,omitempty"`
	RedeemedAt *string `json:"redeemedAt,omitempty"`
	CreatedAt  string  `json:"createdAt"`
	ExpiresAt  string  `json:"expiresAt"`
	CreatedBy  string  `json:"createdBy"`
}

func toCouponResponse(c model.Coupon) couponResponse {
	resp := couponResponse{
		ID:         c.ID,
		Code:       c.Code,
		Coins:      c.Coins,
		IsRedeemed: c.IsRedeemed,
		RedeemedBy: c.RedeemedBy,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
		ExpiresAt:  c.ExpiresAt.Format(time.RFC3339),
		CreatedBy:  c.CreatedBy,
	}
	if c.RedeemedAt != nil {
		at := c.RedeemedAt.Format(time.RFC3339)
		resp.RedeemedAt = &at
	}
	return resp
}

type couponListResponse struct {
	Coupons    []couponResponse `json:"coupons"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
	Total      int64            `json:"total"`
}

// AdminListCoupons returns one page of coupons, newest first.
func (h *Handler) AdminListCoupons(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	result, err := h.service.ListCoupons(r.Context(), session.Email, pageParam(r))
	if err != nil {
		h.handleError(w, err, "admin list coupons", zap.String("admin", session.Email))
		return
	}

	resp := couponListResponse{
		Coupons:    make([]couponResponse, 0, len(result.Coupons)),
		Page:       result.Page,
		TotalPages: result.TotalPages,
		Total:      result.Total,
	}
	for _, c := range result.Coupons {
		resp.Coupons = append(resp.Coupons, toCouponResponse(c))
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type generateCouponsRequest struct {
	Coins int64 `json:"coins"`
	Count int   `json:"count"`
}

type generateCouponsResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Coupons []couponResponse `json:"coupons"`
}

// AdminGenerateCoupons creates a batch of coupons.
func (h *Handler) AdminGenerateCoupons(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	var req generateCouponsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondMessage(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}

	coupons, err := h.service.GenerateCoupons(r.Context(), session.Email, req.Coins, req.Count)
	if err != nil {
		h.handleError(w, err, "admin generate coupons", zap.String("admin", session.Email))
		return
	}

	resp := generateCouponsResponse{
		Success: true,
		Message: "Generated " + strconv.Itoa(len(coupons)) + " coupons",
		Coupons: make([]couponResponse, 0, len(coupons)),
	}
	for _, c := range coupons {
		resp.Coupons = append(resp.Coupons, toCouponResponse(c))
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// AdminDeleteCoupon deletes an unredeemed coupon.
func (h *Handler) AdminDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	couponID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.respondMessage(w, http.StatusBadRequest, "Invalid coupon id")
		return
	}

	if err := h.service.DeleteCoupon(r.Context(), session.Email, couponID); err != nil {
		h.handleError(w, err, "admin delete coupon",
			zap.String("admin", session.Email),
			zap.Int64("couponID", couponID),
		)
		return
	}

	h.respondMessage(w, http.StatusOK, "Coupon deleted successfully")
}

type adminTransactionResponse struct {
	transactionResponse
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
}

type adminTransactionListResponse struct {
	Transactions []adminTransactionResponse `json:"transactions"`
	Page         int                        `json:"page"`
	TotalPages   int                        `json:"totalPages"`
	Total        int64                      `json:"total"`
}

// AdminListTransactions returns one page of ledger entries across all
// users, optionally filtered by a substring match on user id or reason.
func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	page := pageParam(r)
	search := r.URL.Query().Get("search")

	result, err := h.service.ListTransactions(r.Context(), session.Email, page, search)
	if err != nil {
		h.handleError(w, err, "admin list transactions", zap.String("admin", session.Email))
		return
	}

	resp := adminTransactionListResponse{
		Transactions: make([]adminTransactionResponse, 0, len(result.Transactions)),
		Page:         result.Page,
		TotalPages:   result.TotalPages,
		Total:        result.Total,
	}
	for _, t := range result.Transactions {
		resp.Transactions = append(resp.Transactions, adminTransactionResponse{
			transactionResponse: toTransactionResponse(t.Transaction),
			UserName:            t.UserName,
			UserEmail:           t.UserID,
		})
	}

	h.respondJSON(w, http.StatusOK, resp)
}
