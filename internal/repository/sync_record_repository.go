package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edulab/proctor-bridge/internal/model"
)

// SyncRecordRepository handles last-pushed-checksum bookkeeping.
// One row per module, plus one per (module, user) for per-user payloads.
type SyncRecordRepository struct {
	pool *pgxpool.Pool
}

// NewSyncRecordRepository creates a new SyncRecordRepository.
func NewSyncRecordRepository(pool *pgxpool.Pool) *SyncRecordRepository {
	return &SyncRecordRepository{pool: pool}
}

// Get retrieves the sync record for a module, or for one user within the
// module when userID is non-nil. Returns pgx.ErrNoRows when never pushed.
func (r *SyncRecordRepository) Get(ctx context.Context, moduleID int64, userID *int64) (*model.SyncRecord, error) {
	rec := &model.SyncRecord{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, module_id, user_id, last_checksum, time_uploaded
		 FROM proctor_sync_records
		 WHERE module_id = $1 AND user_id IS NOT DISTINCT FROM $2`,
		moduleID, userID,
	).Scan(&rec.ID, &rec.CourseID, &rec.ModuleID, &rec.UserID, &rec.LastChecksum, &rec.TimeUploaded)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Upsert records a freshly computed checksum. The record is written before
// the remote push so a failed push is retried only when the configuration
// changes again.
func (r *SyncRecordRepository) Upsert(ctx context.Context, courseID, moduleID int64, userID *int64, checksum string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_sync_records (id, course_id, module_id, user_id, last_checksum, time_uploaded)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (module_id, COALESCE(user_id, 0))
		 DO UPDATE SET last_checksum = EXCLUDED.last_checksum, time_uploaded = EXCLUDED.time_uploaded`,
		uuid.New(), courseID, moduleID, userID, checksum, time.Now(),
	)
	return err
}

// DeleteByModule removes all sync records for a module. Called only when
// the module itself is deleted.
func (r *SyncRecordRepository) DeleteByModule(ctx context.Context, moduleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM proctor_sync_records WHERE module_id = $1`, moduleID)
	return err
}
