package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/devflow/devcoins/internal/middleware"
	"github.com/devflow/devcoins/internal/model"
	"github.com/devflow/devcoins/internal/repository"
	"github.com/devflow/devcoins/internal/service"
)

type stubService struct {
	balance    int64
	balanceErr error

	transactions    []model.Transaction
	transactionsErr error

	redeemCoins int64
	redeemErr   error
	redeemCode  string

	transferResult *service.TransferResult
	transferErr    error
	transferInput  service.TransferInput

	addCoinsErr error

	stats    *model.Stats
	statsErr error

	deleteCouponErr error
}

func (s *stubService) GetBalance(ctx context.Context, id service.Identity) (int64, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) GetTransactions(ctx context.Context, email string) ([]model.Transaction, error) {
	return s.transactions, s.transactionsErr
}

func (s *stubService) RedeemCoupon(ctx context.Context, id service.Identity, code string) (int64, error) {
	s.redeemCode = code
	return s.redeemCoins, s.redeemErr
}

func (s *stubService) SubmitTransfer(ctx context.Context, id service.Identity, in service.TransferInput) (*service.TransferResult, error) {
	s.transferInput = in
	return s.transferResult, s.transferErr
}

func (s *stubService) AddCoins(ctx context.Context, adminEmail string, targetID, amount int64) error {
	return s.addCoinsErr
}

func (s *stubService) ToggleAdmin(ctx context.Context, adminEmail string, targetID int64, isAdmin bool) error {
	return nil
}

func (s *stubService) GenerateCoupons(ctx context.Context, adminEmail string, coinsPerCoupon int64, count int) ([]model.Coupon, error) {
	return nil, nil
}

func (s *stubService) DeleteCoupon(ctx context.Context, adminEmail string, couponID int64) error {
	return s.deleteCouponErr
}

func (s *stubService) ListUsers(ctx context.Context, adminEmail string, page int, search string) (*service.UserPage, error) {
	return &service.UserPage{Users: []model.User{}, Page: page}, nil
}

func (s *stubService) ListCoupons(ctx context.Context, adminEmail string, page int) (*service.CouponPage, error) {
	return &service.CouponPage{Coupons: []model.Coupon{}, Page: page}, nil
}

func (s *stubService) ListTransactions(ctx context.Context, adminEmail string, page int, search string) (*service.TransactionPage, error) {
	return &service.TransactionPage{Transactions: []model.AdminTransaction{}, Page: page}, nil
}

func (s *stubService) Stats(ctx context.Context, adminEmail string) (*model.Stats, error) {
	return s.stats, s.statsErr
}

func newTestHandler(t *testing.T, svc Service) (*Handler, *middleware.SessionMiddleware) {
	t.Helper()
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	sm := middleware.NewSessionMiddleware("test-secret")
	return NewHandler(svc, logger, sm), sm
}

func sessionCookie(t *testing.T, sm *middleware.SessionMiddleware, session middleware.Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := sm.SetSessionCookie(rec, session); err != nil {
		t.Fatalf("set session cookie: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(cookies))
	}
	return cookies[0]
}

func doRequest(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestGetCoins_Unauthorized(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/user/coins", nil)
	rec := doRequest(h, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetCoins_RejectsTamperedCookie(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{balance: 42})

	cookie := sessionCookie(t, sm, middleware.Session{Email: "a@example.com"})
	cookie.Value += "x"

	req := httptest.NewRequest(http.MethodGet, "/api/user/coins", nil)
	req.AddCookie(cookie)
	rec := doRequest(h, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetCoins(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{balance: 42})

	req := httptest.NewRequest(http.MethodGet, "/api/user/coins", nil)
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com", Name: "alice"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Coins int64 `json:"coins"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Coins != 42 {
		t.Fatalf("coins = %d, want 42", resp.Coins)
	}
}

func TestRedeemCoupon_MissingCode(t *testing.T) {
	svc := &stubService{}
	h, sm := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`{"code":"  "}`))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if svc.redeemCode != "" {
		t.Fatalf("service must not be called for a blank code")
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Coupon code is required" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestRedeemCoupon_InvalidCode(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{redeemErr: repository.ErrCouponInvalidOrExpired})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`{"code":"DEV-0000-0000-0000"}`))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Invalid or expired coupon code" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestRedeemCoupon_Success(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{redeemCoins: 25})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/redeem", bytes.NewBufferString(`{"code":"DEV-AAAA-BBBB-CCCC"}`))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Success    bool   `json:"success"`
		Message    string `json:"message"`
		CoinsAdded int64  `json:"coinsAdded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.CoinsAdded != 25 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestTransferRepo_MissingRepos(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{transferErr: service.ErrMissingField})

	req := httptest.NewRequest(http.MethodPost, "/api/transfer-repo", bytes.NewBufferString(`{"source_repo":""}`))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message != "Source and destination repositories are required" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestTransferRepo_InsufficientCoins(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{
		transferErr: &service.InsufficientCoinsError{Required: 6, Current: 3},
	})

	body := `{"source_repo":"https://github.com/a/src","dest_repo":"https://github.com/a/dst","start_date":"2023-01-01"}`
	req := httptest.NewRequest(http.MethodPost, "/api/transfer-repo", bytes.NewBufferString(body))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	var resp struct {
		Message       string `json:"message"`
		RequiredCoins int64  `json:"requiredCoins"`
		UserCoins     int64  `json:"userCoins"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequiredCoins != 6 || resp.UserCoins != 3 {
		t.Fatalf("response = %+v, want 6/3", resp)
	}
}

func TestTransferRepo_UpstreamFailure(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{
		transferErr: &service.UpstreamError{StatusCode: 502, Payload: []byte(`{"error":"worker down"}`)},
	})

	body := `{"source_repo":"https://github.com/a/src","dest_repo":"https://github.com/a/dst"}`
	req := httptest.NewRequest(http.MethodPost, "/api/transfer-repo", bytes.NewBufferString(body))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var resp struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if string(resp.Error) != `{"error":"worker down"}` {
		t.Fatalf("error payload = %s", resp.Error)
	}
}

func TestTransferRepo_Success(t *testing.T) {
	svc := &stubService{transferResult: &service.TransferResult{ID: "transfer-id", CoinsSpent: 4}}
	h, sm := newTestHandler(t, svc)

	body := `{"source_repo":"https://github.com/a/src","dest_repo":"https://github.com/a/dst","start_date":"2023-01-01","contributors":["bob"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/transfer-repo", bytes.NewBufferString(body))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "a@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	if svc.transferInput.StartDate != "2023-01-01" || len(svc.transferInput.Contributors) != 1 {
		t.Fatalf("transfer input = %+v", svc.transferInput)
	}

	var resp struct {
		ID         string `json:"id"`
		CoinsSpent int64  `json:"coinsSpent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "transfer-id" || resp.CoinsSpent != 4 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAdminStats_Forbidden(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{statsErr: service.ErrForbidden})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "user@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdminStats(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{
		stats: &model.Stats{TotalUsers: 3, TotalCoupons: 5, ActiveCoupons: 2, TotalCoins: 120, TotalTransfers: 7},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "admin@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		TotalUsers     int64 `json:"totalUsers"`
		ActiveCoupons  int64 `json:"activeCoupons"`
		TotalTransfers int64 `json:"totalTransfers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalUsers != 3 || resp.ActiveCoupons != 2 || resp.TotalTransfers != 7 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAdminDeleteCoupon_InvalidID(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/coupons/abc", nil)
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "admin@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminDeleteCoupon_NotFound(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{deleteCouponErr: repository.ErrCouponNotFoundOrRedeemed})

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/coupons/7", nil)
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "admin@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminAddCoins_InvalidAmount(t *testing.T) {
	h, sm := newTestHandler(t, &stubService{addCoinsErr: service.ErrInvalidAmount})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/users/add-coins", bytes.NewBufferString(`{"userId":1,"amount":0}`))
	req.AddCookie(sessionCookie(t, sm, middleware.Session{Email: "admin@example.com"}))
	rec := doRequest(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
