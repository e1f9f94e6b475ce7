// Package repository implements PostgreSQL persistence for the coin
// ledger, the coupon registry and transfer request records.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/devflow/devcoins/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound is returned when no account exists for the given identifier.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrCouponInvalidOrExpired covers every failed redemption: unknown code,
	// already redeemed or past expiry. Callers must not distinguish the cases.
	ErrCouponInvalidOrExpired = errors.New("coupon invalid or expired")
	// ErrCouponNotFoundOrRedeemed is returned when deleting a coupon that does
	// not exist or has already been redeemed.
	ErrCouponNotFoundOrRedeemed = errors.New("coupon not found or already redeemed")
)

const (
	welcomeGrant  = 10
	welcomeReason = "Welcome bonus - First login reward"
)

// UserFilter enumerates the recognized filters of the admin user listing.
type UserFilter struct {
	Search   string
	Page     int
	PageSize int
}

// TransactionFilter enumerates the recognized filters of the admin
// transaction listing.
type TransactionFilter struct {
	Search   string
	Page     int
	PageSize int
}

// PostgresRepository provides access to the PostgreSQL data store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository and initializes the schema
// through embedded migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry retries transient storage failures: serialization failures,
// deadlocks and broken connections. Everything else fails immediately.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// EnsureUser creates the account for the given identity if it does not
// exist yet, together with the welcome bonus ledger entry. The insert is
// conditional, so concurrent first touches cannot grant the bonus twice.
func (r *PostgresRepository) EnsureUser(ctx context.Context, email, name string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO users (email, name, coins) VALUES ($1, $2, $3) ON CONFLICT (email) DO NOTHING`,
			email, name, welcomeGrant,
		)
		if err != nil {
			return fmt.Errorf("insert user: %w", err)
		}

		if cmdTag.RowsAffected() == 1 {
			_, err = tx.Exec(ctx,
				`INSERT INTO transactions (user_id, amount, reason) VALUES ($1, $2, $3)`,
				email, welcomeGrant, welcomeReason,
			)
			if err != nil {
				return fmt.Errorf("insert welcome transaction: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetUserByEmail returns the account with the given email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, coins, is_admin, created_at FROM users WHERE email = $1`,
		email,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Coins, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	return &u, nil
}

// GetUserByID returns the account with the given numeric identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, coins, is_admin, created_at FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Coins, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return &u, nil
}

// AdjustBalance applies a relative balance change and appends the matching
// ledger entry in one database transaction. The adjustment is expressed as
// `coins = coins + delta` so concurrent adjustments never lose updates.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, email string, delta int64, reason string, couponID *int64, adminID *string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE users SET coins = coins + $2 WHERE email = $1`,
			email, delta,
		)
		if err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrUserNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, amount, reason, coupon_id, admin_id) VALUES ($1, $2, $3, $4, $5)`,
			email, delta, reason, couponID, adminID,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// RedeemCoupon atomically consumes the coupon with the given code and
// credits the redeeming account. The redeemed transition is a conditional
// update on (code, is_redeemed = FALSE, unexpired); losing the race with a
// concurrent redemption reports ErrCouponInvalidOrExpired and leaves the
// balance untouched.
func (r *PostgresRepository) RedeemCoupon(ctx context.Context, code, email string, now time.Time) (int64, error) {
	var coins int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var couponID int64
		err = tx.QueryRow(ctx,
			`UPDATE coupons
			 SET is_redeemed = TRUE, redeemed_by = $2, redeemed_at = $3
			 WHERE code = $1 AND is_redeemed = FALSE AND expires_at > $3
			 RETURNING id, coins`,
			code, email, now,
		).Scan(&couponID, &coins)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCouponInvalidOrExpired
			}
			return fmt.Errorf("redeem coupon: %w", err)
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE users SET coins = coins + $2 WHERE email = $1`,
			email, coins,
		)
		if err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrUserNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (user_id, amount, reason, coupon_id) VALUES ($1, $2, $3, $4)`,
			email, coins, "Redeemed coupon: "+code, couponID,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return coins, nil
}

// CreateCoupons inserts a batch of coupons and fills in their identifiers.
func (r *PostgresRepository) CreateCoupons(ctx context.Context, coupons []model.Coupon) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for i := range coupons {
			c := &coupons[i]
			err := tx.QueryRow(ctx,
				`INSERT INTO coupons (code, coins, created_at, expires_at, created_by)
				 VALUES ($1, $2, $3, $4, $5)
				 RETURNING id`,
				c.Code, c.Coins, c.CreatedAt, c.ExpiresAt, c.CreatedBy,
			).Scan(&c.ID)
			if err != nil {
				return fmt.Errorf("insert coupon: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// ListCoupons returns one page of coupons, newest first, and the total count.
func (r *PostgresRepository) ListCoupons(ctx context.Context, page, pageSize int) ([]model.Coupon, int64, error) {
	offset := (page - 1) * pageSize

	rows, err := r.pool.Query(ctx,
		`SELECT id, code, coins, is_redeemed, redeemed_by, redeemed_at, created_at, expires_at, created_by
		 FROM coupons
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		pageSize, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select coupons: %w", err)
	}
	defer rows.Close()

	var coupons []model.Coupon
	for rows.Next() {
		var c model.Coupon
		if err := rows.Scan(&c.ID, &c.Code, &c.Coins, &c.IsRedeemed, &c.RedeemedBy, &c.RedeemedAt, &c.CreatedAt, &c.ExpiresAt, &c.CreatedBy); err != nil {
			return nil, 0, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM coupons`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count coupons: %w", err)
	}

	return coupons, total, nil
}

// DeleteCoupon deletes a coupon only while it is still unredeemed.
func (r *PostgresRepository) DeleteCoupon(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM coupons WHERE id = $1 AND is_redeemed = FALSE`,
		id,
	)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFoundOrRedeemed
	}

	return nil
}

// GetTransactionsByUser returns the most recent ledger entries of one user,
// newest first.
func (r *PostgresRepository) GetTransactionsByUser(ctx context.Context, email string, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, amount, reason, coupon_id, admin_id, created_at
		 FROM transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		email, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.CouponID, &t.AdminID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListTransactions returns one page of ledger entries across all users,
// newest first, each joined with the user's display name. Search matches a
// substring of the user id or the reason.
func (r *PostgresRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.AdminTransaction, int64, error) {
	offset := (filter.Page - 1) * filter.PageSize
	pattern := "%" + filter.Search + "%"

	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.user_id, t.amount, t.reason, t.coupon_id, t.admin_id, t.created_at,
		        COALESCE(u.name, '')
		 FROM transactions t
		 LEFT JOIN users u ON u.email = t.user_id
		 WHERE $1 = '' OR t.user_id ILIKE $2 OR t.reason ILIKE $2
		 ORDER BY t.created_at DESC
		 LIMIT $3 OFFSET $4`,
		filter.Search, pattern, filter.PageSize, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.AdminTransaction
	for rows.Next() {
		var t model.AdminTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.CouponID, &t.AdminID, &t.Timestamp, &t.UserName); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	var total int64
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE $1 = '' OR user_id ILIKE $2 OR reason ILIKE $2`,
		filter.Search, pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	return res, total, nil
}

// ListUsers returns one page of accounts, newest first. Search matches a
// substring of the email or display name.
func (r *PostgresRepository) ListUsers(ctx context.Context, filter UserFilter) ([]model.User, int64, error) {
	offset := (filter.Page - 1) * filter.PageSize
	pattern := "%" + filter.Search + "%"

	rows, err := r.pool.Query(ctx,
		`SELECT id, email, name, coins, is_admin, created_at
		 FROM users
		 WHERE $1 = '' OR email ILIKE $2 OR name ILIKE $2
		 ORDER BY created_at DESC
		 LIMIT $3 OFFSET $4`,
		filter.Search, pattern, filter.PageSize, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Coins, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	var total int64
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE $1 = '' OR email ILIKE $2 OR name ILIKE $2`,
		filter.Search, pattern,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// SetAdmin sets the admin flag of the given account.
func (r *PostgresRepository) SetAdmin(ctx context.Context, userID int64, isAdmin bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_admin = $2 WHERE id = $1`,
		userID, isAdmin,
	)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	return nil
}

// CreateTransfer persists a transfer request record.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO transfers
			 (id, user_id, source_repo, dest_repo, original_dest_repo, start_date, end_date,
			  keep_original_dates, contributors, coin_cost, features, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, t.UserID, t.SourceRepo, t.DestRepo, t.OriginalDestRepo, t.StartDate, t.EndDate,
			t.KeepOriginalDates, t.Contributors, t.CoinCost, t.Features, string(t.Status), t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		return nil
	})
}

// Stats returns the aggregate counters for the admin dashboard.
func (r *PostgresRepository) Stats(ctx context.Context) (*model.Stats, error) {
	var s model.Stats
	err := r.pool.QueryRow(ctx,
		`SELECT
		     (SELECT COUNT(*) FROM users),
		     (SELECT COUNT(*) FROM coupons),
		     (SELECT COUNT(*) FROM coupons WHERE is_redeemed = FALSE),
		     (SELECT COALESCE(SUM(coins), 0) FROM users),
		     (SELECT COUNT(*) FROM transfers)`,
	).Scan(&s.TotalUsers, &s.TotalCoupons, &s.ActiveCoupons, &s.TotalCoins, &s.TotalTransfers)
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}

	return &s, nil
}
