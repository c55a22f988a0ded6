package postgres

import (
	"context"
	"fmt"

	"github.com/corkboard/server/internal/domain/users"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ users.Repository = (*UserRepository)(nil)

// DeleteUserData removes dependent rows before the user row, in foreign key
// order, inside one transaction.
func (r *UserRepository) DeleteUserData(ctx context.Context, userID string) (users.ErasureCounts, error) {
	var counts users.ErasureCounts
	err := runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		steps := []struct {
			table string
			sql   string
			count *int64
		}{
			{"queue_jobs", `DELETE FROM queue_jobs WHERE user_id = $1`, &counts.QueueJobs},
			{"tastings", `DELETE FROM tastings WHERE user_id = $1`, &counts.Tastings},
			{"scans", `DELETE FROM scans WHERE user_id = $1`, &counts.Scans},
			{"user_preferences", `DELETE FROM user_preferences WHERE user_id = $1`, &counts.Preferences},
		}
		for _, step := range steps {
			tag, err := tx.Exec(ctx, step.sql, userID)
			if err != nil {
				return fmt.Errorf("delete %s: %w", step.table, err)
			}
			*step.count = tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return users.ErrUserNotFound
		}
		return nil
	})
	if err != nil {
		return users.ErasureCounts{}, err
	}
	return counts, nil
}
