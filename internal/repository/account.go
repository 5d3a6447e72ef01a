package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/store"
)

// AccountStore implements store.KeyStore on the accounts table.
type AccountStore struct {
	pool *pgxpool.Pool
}

var _ store.KeyStore = (*AccountStore)(nil)

// Put inserts or overwrites the account stored under a key digest.
func (s *AccountStore) Put(ctx context.Context, key string, account *model.Account) error {
	query := `
		INSERT INTO accounts (key_digest, id, email, plan, rate_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key_digest) DO UPDATE SET
			id = EXCLUDED.id,
			email = EXCLUDED.email,
			plan = EXCLUDED.plan,
			rate_limit = EXCLUDED.rate_limit,
			created_at = EXCLUDED.created_at
	`

	_, err := s.pool.Exec(ctx, query,
		key,
		account.ID,
		account.Email,
		account.Plan,
		account.RateLimit,
		account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}

	return nil
}

// Get retrieves the account for a key digest. Returns nil, nil when absent.
func (s *AccountStore) Get(ctx context.Context, key string) (*model.Account, error) {
	query := `
		SELECT id, email, plan, rate_limit, created_at
		FROM accounts
		WHERE key_digest = $1
	`

	var account model.Account
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&account.ID,
		&account.Email,
		&account.Plan,
		&account.RateLimit,
		&account.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

// CountByPlan returns the number of issued accounts per plan.
func (s *AccountStore) CountByPlan(ctx context.Context) (map[string]int64, error) {
	query := `
		SELECT plan, COUNT(*)
		FROM accounts
		GROUP BY plan
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var plan string
		var n int64
		if err := rows.Scan(&plan, &n); err != nil {
			return nil, fmt.Errorf("failed to scan account count: %w", err)
		}
		counts[plan] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account counts: %w", err)
	}

	return counts, nil
}
