package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

const purgeDeleted = `
DELETE FROM secret_tags
 WHERE deleted = true
   AND updated_at < $1
`

// StartSoftDeleteCleaner purges secret tags that were soft-deleted more than
// retention ago, once per interval, until ctx is done.
func StartSoftDeleteCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				PurgeSoftDeleted(ctx, db, time.Now().Add(-retention), log)
			}
		}
	}()
}

// PurgeSoftDeleted removes soft-deleted tags last touched before cutoff and
// returns how many went.
func PurgeSoftDeleted(ctx context.Context, db *sql.DB, cutoff time.Time, log *zap.Logger) int64 {
	res, err := db.ExecContext(ctx, purgeDeleted, cutoff)
	if err != nil {
		log.Error("failed to clean soft-deleted secret tags", zap.Error(err))
		return 0
	}
	rows, _ := res.RowsAffected()
	if rows > 0 {
		log.Info("cleaned soft-deleted secret tags", zap.Int64("removed", rows))
	}
	return rows
}
