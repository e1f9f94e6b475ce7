// Package service implements the business logic of the devcoins service:
// the coin ledger, coupon redemption, transfer submission and admin
// adjustments.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devflow/devcoins/internal/metrics"
	"github.com/devflow/devcoins/internal/model"
	"github.com/devflow/devcoins/internal/pricing"
	"github.com/devflow/devcoins/internal/repository"
	"github.com/devflow/devcoins/internal/rewrite"
	"github.com/devflow/devcoins/internal/validation"
)

const (
	historyLimit        = 50
	userPageSize        = 10
	couponPageSize      = 10
	transactionPageSize = 20

	maxCouponBatch = 100
	couponLifetime = 1 // years

	couponCodePrefix = "DEV"

	transferDebitReason  = "Repository transfer with premium features: "
	transferRefundReason = "Refund for failed repository transfer"
)

// Repository describes the persistence contract used by the service.
type Repository interface {
	Close() error
	EnsureUser(ctx context.Context, email, name string) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	AdjustBalance(ctx context.Context, email string, delta int64, reason string, couponID *int64, adminID *string) error
	RedeemCoupon(ctx context.Context, code, email string, now time.Time) (int64, error)
	CreateCoupons(ctx context.Context, coupons []model.Coupon) error
	ListCoupons(ctx context.Context, page, pageSize int) ([]model.Coupon, int64, error)
	DeleteCoupon(ctx context.Context, id int64) error
	GetTransactionsByUser(ctx context.Context, email string, limit int) ([]model.Transaction, error)
	ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]model.AdminTransaction, int64, error)
	ListUsers(ctx context.Context, filter repository.UserFilter) ([]model.User, int64, error)
	SetAdmin(ctx context.Context, userID int64, isAdmin bool) error
	CreateTransfer(ctx context.Context, t *model.Transfer) error
	Stats(ctx context.Context) (*model.Stats, error)
}

// RewriteClient submits transfer requests to the external rewrite worker.
type RewriteClient interface {
	Submit(ctx context.Context, req *rewrite.TransferRequest) error
}

// ProfileClient resolves the provider login of an access token holder.
type ProfileClient interface {
	Username(ctx context.Context, accessToken string) (string, error)
}

// Identity is the resolved caller identity handed over by the session
// collaborator. The service never issues or validates sessions itself.
type Identity struct {
	Email       string
	Name        string
	AccessToken string
}

// TransferInput is the payload of a transfer submission.
type TransferInput struct {
	SourceRepo        string
	DestRepo          string
	StartDate         string
	EndDate           string
	KeepOriginalDates bool
	Contributors      []string
}

// TransferResult reports a successfully submitted transfer.
type TransferResult struct {
	ID         string
	CoinsSpent int64
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users      []model.User
	Page       int
	TotalPages int
	Total      int64
}

// CouponPage is one page of the admin coupon listing.
type CouponPage struct {
	Coupons    []model.Coupon
	Page       int
	TotalPages int
	Total      int64
}

// TransactionPage is one page of the admin transaction listing.
type TransactionPage struct {
	Transactions []model.AdminTransaction
	Page         int
	TotalPages   int
	Total        int64
}

// Service contains the business logic of the devcoins service.
type Service struct {
	repo    Repository
	rewrite RewriteClient
	github  ProfileClient
	logger  *zap.Logger
}

// NewService creates a service with the given repository and clients.
func NewService(repo Repository, rewriteClient RewriteClient, profileClient ProfileClient, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		rewrite: rewriteClient,
		github:  profileClient,
		logger:  logger,
	}
}

// Close releases the service's resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// GetBalance returns the caller's current coin balance. The account is
// created on first read with the welcome grant; creation is idempotent so
// concurrent first reads cannot grant the bonus twice.
func (s *Service) GetBalance(ctx context.Context, id Identity) (int64, error) {
	if err := s.repo.EnsureUser(ctx, id.Email, id.Name); err != nil {
		return 0, err
	}

	u, err := s.repo.GetUserByEmail(ctx, id.Email)
	if err != nil {
		return 0, err
	}

	return u.Coins, nil
}

// GetTransactions returns the caller's most recent ledger entries,
// newest first.
func (s *Service) GetTransactions(ctx context.Context, email string) ([]model.Transaction, error) {
	return s.repo.GetTransactionsByUser(ctx, email, historyLimit)
}

// credit increments the balance and appends the matching ledger entry.
func (s *Service) credit(ctx context.Context, email string, amount int64, reason string, couponID *int64, adminID *string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if err := s.repo.AdjustBalance(ctx, email, amount, reason, couponID, adminID); err != nil {
		return err
	}

	metrics.CoinsCredited.Add(float64(amount))
	return nil
}

// debit decrements the balance and appends the matching ledger entry. It
// performs no balance floor check; callers must pre-check sufficiency.
func (s *Service) debit(ctx context.Context, email string, amount int64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if err := s.repo.AdjustBalance(ctx, email, -amount, reason, nil, nil); err != nil {
		return err
	}

	metrics.CoinsDebited.Add(float64(amount))
	return nil
}

// RedeemCoupon validates and atomically consumes a coupon, crediting the
// caller with its value. Returns the number of coins added. A concurrent
// redemption of the same code succeeds for exactly one caller.
func (s *Service) RedeemCoupon(ctx context.Context, id Identity, code string) (int64, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, ErrMissingField
	}

	if err := s.repo.EnsureUser(ctx, id.Email, id.Name); err != nil {
		return 0, err
	}

	coins, err := s.repo.RedeemCoupon(ctx, code, id.Email, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrCouponInvalidOrExpired) {
			metrics.CouponRedemptions.WithLabelValues("rejected").Inc()
		}
		return 0, err
	}

	metrics.CouponRedemptions.WithLabelValues("success").Inc()
	metrics.CoinsCredited.Add(float64(coins))

	return coins, nil
}

// SubmitTransfer prices a transfer request, debits the ledger, persists
// the request record and submits it to the rewrite worker. A failed
// submission refunds the debited cost.
func (s *Service) SubmitTransfer(ctx context.Context, id Identity, in TransferInput) (*TransferResult, error) {
	if strings.TrimSpace(in.SourceRepo) == "" || strings.TrimSpace(in.DestRepo) == "" {
		return nil, ErrMissingField
	}

	destRef, isGitHub, err := validation.ParseGitHubRepo(in.DestRepo)
	if err != nil {
		return nil, ErrInvalidRepoURL
	}

	if isGitHub {
		if err := s.checkOwnership(ctx, id, destRef.Owner); err != nil {
			return nil, err
		}
	}

	cost, features := pricing.Price(pricing.Options{
		KeepOriginalDates: in.KeepOriginalDates,
		StartDate:         in.StartDate,
		Contributors:      in.Contributors,
	})

	if cost > 0 {
		if err := s.repo.EnsureUser(ctx, id.Email, id.Name); err != nil {
			return nil, err
		}

		u, err := s.repo.GetUserByEmail(ctx, id.Email)
		if err != nil {
			return nil, err
		}

		if u.Coins < cost {
			return nil, &InsufficientCoinsError{Required: cost, Current: u.Coins}
		}

		if err := s.debit(ctx, id.Email, cost, transferDebitReason+strings.Join(features, ", ")); err != nil {
			return nil, err
		}
	}

	destRepo := in.DestRepo
	userName := ""
	if isGitHub {
		userName = destRef.Owner
		if id.AccessToken != "" {
			destRepo = authenticatedDestURL(destRef, id.AccessToken)
		}
	}

	transfer := &model.Transfer{
		ID:                uuid.NewString(),
		UserID:            id.Email,
		SourceRepo:        in.SourceRepo,
		DestRepo:          destRepo,
		OriginalDestRepo:  in.DestRepo,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		KeepOriginalDates: in.KeepOriginalDates,
		Contributors:      in.Contributors,
		CoinCost:          cost,
		Features:          features,
		Status:            model.TransferStatusPending,
		CreatedAt:         time.Now().UTC(),
	}

	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	err = s.rewrite.Submit(ctx, &rewrite.TransferRequest{
		TransferID:        transfer.ID,
		SourceRepo:        in.SourceRepo,
		DestRepo:          destRepo,
		OriginalDestRepo:  in.DestRepo,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		KeepOriginalDates: in.KeepOriginalDates,
		Contributors:      in.Contributors,
		UserID:            id.Email,
		UserName:          userName,
	})
	if err != nil {
		metrics.TransferSubmissions.WithLabelValues("failed").Inc()

		if cost > 0 {
			if refundErr := s.credit(ctx, id.Email, cost, transferRefundReason, nil, nil); refundErr != nil {
				// The original upstream failure is reported to the caller;
				// a failed refund must not disappear with it.
				s.logger.Error("refund after failed transfer submission failed",
					zap.String("user", id.Email),
					zap.Int64("amount", cost),
					zap.Error(refundErr),
				)
			}
		}

		var submitErr *rewrite.SubmitError
		if errors.As(err, &submitErr) {
			return nil, &UpstreamError{StatusCode: submitErr.StatusCode, Payload: submitErr.Payload, Err: err}
		}
		return nil, &UpstreamError{Err: err}
	}

	metrics.TransferSubmissions.WithLabelValues("success").Inc()

	return &TransferResult{ID: transfer.ID, CoinsSpent: cost}, nil
}

// checkOwnership verifies that the destination repository owner matches
// the caller's provider login. When no login can be resolved the request
// is allowed through; the reference deployment fails open here.
func (s *Service) checkOwnership(ctx context.Context, id Identity, owner string) error {
	username := strings.ToLower(strings.TrimSpace(id.Name))

	if username == "" && id.AccessToken != "" && s.github != nil {
		login, err := s.github.Username(ctx, id.AccessToken)
		if err != nil {
			s.logger.Warn("provider username lookup failed, allowing transfer",
				zap.String("user", id.Email),
				zap.Error(err),
			)
		} else {
			username = strings.ToLower(login)
		}
	}

	if username != "" && strings.ToLower(owner) != username {
		return ErrOwnershipMismatch
	}

	return nil
}

// authenticatedDestURL embeds the access token as URL userinfo for the
// rewrite worker's push. The result is never displayed back to the user.
func authenticatedDestURL(ref validation.GitHubRepo, accessToken string) string {
	repoName := ref.Name
	if !strings.HasSuffix(repoName, ".git") {
		repoName += ".git"
	}
	return fmt.Sprintf("https://%s:%s@github.com/%s/%s", ref.Owner, accessToken, ref.Owner, repoName)
}

// requireAdmin verifies the acting identity's admin flag with a fresh
// lookup. Admin status is never cached across requests.
func (s *Service) requireAdmin(ctx context.Context, email string) error {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrForbidden
		}
		return err
	}

	if !u.IsAdmin {
		return ErrForbidden
	}

	return nil
}

// AddCoins credits the target account directly, logging the acting admin.
func (s *Service) AddCoins(ctx context.Context, adminEmail string, targetID int64, amount int64) error {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return err
	}

	if amount <= 0 {
		return ErrInvalidAmount
	}

	target, err := s.repo.GetUserByID(ctx, targetID)
	if err != nil {
		return err
	}

	reason := fmt.Sprintf("Admin added %d coins", amount)
	return s.credit(ctx, target.Email, amount, reason, nil, &adminEmail)
}

// ToggleAdmin sets the target account's admin flag. There is no
// self-protection: an admin may revoke their own status.
func (s *Service) ToggleAdmin(ctx context.Context, adminEmail string, targetID int64, isAdmin bool) error {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return err
	}

	return s.repo.SetAdmin(ctx, targetID, isAdmin)
}

// GenerateCoupons creates a batch of single-use coupons, each carrying a
// unique code and expiring one year after creation.
func (s *Service) GenerateCoupons(ctx context.Context, adminEmail string, coinsPerCoupon int64, count int) ([]model.Coupon, error) {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return nil, err
	}

	if coinsPerCoupon <= 0 {
		return nil, ErrInvalidAmount
	}
	if count < 1 || count > maxCouponBatch {
		return nil, ErrInvalidCount
	}

	now := time.Now().UTC()
	coupons := make([]model.Coupon, 0, count)
	for i := 0; i < count; i++ {
		code, err := generateCouponCode()
		if err != nil {
			return nil, err
		}

		coupons = append(coupons, model.Coupon{
			Code:      code,
			Coins:     coinsPerCoupon,
			CreatedAt: now,
			ExpiresAt: now.AddDate(couponLifetime, 0, 0),
			CreatedBy: adminEmail,
		})
	}

	if err := s.repo.CreateCoupons(ctx, coupons); err != nil {
		return nil, err
	}

	return coupons, nil
}

// generateCouponCode builds a code of the form DEV-XXXX-XXXX-XXXX from a
// cryptographically-random 9-byte value.
func generateCouponCode() (string, error) {
	var buf [9]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	h := strings.ToUpper(hex.EncodeToString(buf[:]))
	return fmt.Sprintf("%s-%s-%s-%s", couponCodePrefix, h[0:4], h[4:8], h[8:12]), nil
}

// DeleteCoupon deletes an unredeemed coupon.
func (s *Service) DeleteCoupon(ctx context.Context, adminEmail string, couponID int64) error {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return err
	}

	return s.repo.DeleteCoupon(ctx, couponID)
}

// ListUsers returns one page of the admin user listing.
func (s *Service) ListUsers(ctx context.Context, adminEmail string, page int, search string) (*UserPage, error) {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return nil, err
	}

	page = normalizePage(page)
	users, total, err := s.repo.ListUsers(ctx, repository.UserFilter{
		Search:   search,
		Page:     page,
		PageSize: userPageSize,
	})
	if err != nil {
		return nil, err
	}

	return &UserPage{
		Users:      users,
		Page:       page,
		TotalPages: totalPages(total, userPageSize),
		Total:      total,
	}, nil
}

// ListCoupons returns one page of the admin coupon listing.
func (s *Service) ListCoupons(ctx context.Context, adminEmail string, page int) (*CouponPage, error) {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return nil, err
	}

	page = normalizePage(page)
	coupons, total, err := s.repo.ListCoupons(ctx, page, couponPageSize)
	if err != nil {
		return nil, err
	}

	return &CouponPage{
		Coupons:    coupons,
		Page:       page,
		TotalPages: totalPages(total, couponPageSize),
		Total:      total,
	}, nil
}

// ListTransactions returns one page of the admin transaction listing.
func (s *Service) ListTransactions(ctx context.Context, adminEmail string, page int, search string) (*TransactionPage, error) {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return nil, err
	}

	page = normalizePage(page)
	transactions, total, err := s.repo.ListTransactions(ctx, repository.TransactionFilter{
		Search:   search,
		Page:     page,
		PageSize: transactionPageSize,
	})
	if err != nil {
		return nil, err
	}

	return &TransactionPage{
		Transactions: transactions,
		Page:         page,
		TotalPages:   totalPages(total, transactionPageSize),
		Total:        total,
	}, nil
}

// Stats returns the aggregate counters for the admin dashboard.
func (s *Service) Stats(ctx context.Context, adminEmail string) (*model.Stats, error) {
	if err := s.requireAdmin(ctx, adminEmail); err != nil {
		return nil, err
	}

	return s.repo.Stats(ctx)
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func totalPages(total int64, pageSize int) int {
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
