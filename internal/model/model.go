// Package model contains the domain entities of the devcoins service.
package model

import "time"

// User represents an account known to the coin ledger. Accounts are
// created lazily on the first balance read with a welcome grant.
type User struct {
	ID        int64
	Email     string
	Name      string
	Coins     int64
	IsAdmin   bool
	CreatedAt time.Time
}

// Transaction is a single append-only ledger entry. A positive amount
// is a credit, a negative amount a debit. CouponID and AdminID link the
// entry to its cause when one exists.
type Transaction struct {
	ID        int64
	UserID    string
	Amount    int64
	Reason    string
	CouponID  *int64
	AdminID   *string
	Timestamp time.Time
}

// AdminTransaction is a ledger entry enriched with the display name of
// the user it belongs to, for the admin transaction listing.
type AdminTransaction struct {
	Transaction
	UserName string
}

// Coupon is a single-use code redeemable for a fixed coin amount
// before its expiry.
type Coupon struct {
	ID         int64
	Code       string
	Coins      int64
	IsRedeemed bool
	RedeemedBy *string
	RedeemedAt *time.Time
	CreatedAt  time.Time
	ExpiresAt  time.Time
	CreatedBy  string
}

// TransferStatus describes the processing state of a transfer request.
// Only the initial state is set by this service; the rewrite worker
// updates the record out-of-band.
type TransferStatus string

// TransferStatusPending marks a freshly submitted transfer request.
const TransferStatusPending TransferStatus = "pending"

// Transfer is a persisted repository transfer request. DestRepo embeds
// the requester's access token and must never be exposed through read
// endpoints; OriginalDestRepo keeps the clean form for display.
type Transfer struct {
	ID                string
	UserID            string
	SourceRepo        string
	DestRepo          string
	OriginalDestRepo  string
	StartDate         string
	EndDate           string
	KeepOriginalDates bool
	Contributors      []string
	CoinCost          int64
	Features          []string
	Status            TransferStatus
	CreatedAt         time.Time
}

// Stats aggregates the counters shown on the admin dashboard.
type Stats struct {
	TotalUsers     int64
	TotalCoupons   int64
	ActiveCoupons  int64
	TotalCoins     int64
	TotalTransfers int64
}
