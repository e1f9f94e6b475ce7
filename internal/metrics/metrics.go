// Package metrics exposes Prometheus instrumentation for the coin ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CoinsCredited counts coins credited to user balances, including coupon
// redemptions, refunds and admin grants.
var CoinsCredited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "devcoins_coins_credited_total",
	Help: "Total coins credited to user balances.",
})

// CoinsDebited counts coins debited from user balances.
var CoinsDebited = promauto.NewCounter(prometheus.CounterOpts{
	Name: "devcoins_coins_debited_total",
	Help: "Total coins debited from user balances.",
})

// CouponRedemptions counts coupon redemption attempts by result.
var CouponRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devcoins_coupon_redemptions_total",
	Help: "Coupon redemption attempts by result.",
}, []string{"result"})

// TransferSubmissions counts transfer request submissions by result.
var TransferSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "devcoins_transfer_submissions_total",
	Help: "Transfer request submissions by result.",
}, []string{"result"})
