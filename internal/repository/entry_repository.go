package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edulab/proctor-bridge/internal/model"
)

// ErrLiveEntryExists is returned by Insert when another live entry already
// holds the (user, module) scope. The partial unique index on live statuses
// is the arbiter; callers re-fetch the winner instead of failing.
var ErrLiveEntryExists = errors.New("a live entry already exists for this scope")

const entryColumns = `id, user_id, course_id, module_id, access_code, status, attempt_id,
	 time_created, time_modified, time_scheduled,
	 session_start, session_end, score, threshold, comment, warnings, warning_titles, review_link`

// EntryRepository handles exam entry data access.
type EntryRepository struct {
	pool *pgxpool.Pool
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{pool: pool}
}

func scanEntry(row pgx.Row) (*model.ExamEntry, error) {
	e := &model.ExamEntry{}
	err := row.Scan(
		&e.ID, &e.UserID, &e.CourseID, &e.ModuleID, &e.AccessCode, &e.Status, &e.AttemptID,
		&e.TimeCreated, &e.TimeModified, &e.TimeScheduled,
		&e.SessionStart, &e.SessionEnd, &e.Score, &e.Threshold, &e.Comment,
		&e.Warnings, &e.WarningTitles, &e.ReviewLink,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *EntryRepository) queryEntries(ctx context.Context, query string, args ...any) ([]model.ExamEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ExamEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Insert persists a new entry. The entry's ID and timestamps must already
// be set. A conflict on the single-live-entry index is reported as
// ErrLiveEntryExists; an access code collision bubbles up as-is since
// codes are generated unique and a collision indicates a real bug.
func (r *EntryRepository) Insert(ctx context.Context, e *model.ExamEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_entries
		 (id, user_id, course_id, module_id, access_code, status, attempt_id,
		  time_created, time_modified, time_scheduled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.UserID, e.CourseID, e.ModuleID, e.AccessCode, e.Status, e.AttemptID,
		e.TimeCreated, e.TimeModified, e.TimeScheduled,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "proctor_entries_one_live_idx" {
		return ErrLiveEntryExists
	}
	return err
}

// Update persists every mutable field of an existing entry.
func (r *EntryRepository) Update(ctx context.Context, e *model.ExamEntry) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE proctor_entries
		 SET status = $1, attempt_id = $2, time_modified = $3, time_scheduled = $4,
		     session_start = $5, session_end = $6, score = $7, threshold = $8,
		     comment = $9, warnings = $10, warning_titles = $11, review_link = $12
		 WHERE id = $13`,
		e.Status, e.AttemptID, e.TimeModified, e.TimeScheduled,
		e.SessionStart, e.SessionEnd, e.Score, e.Threshold,
		e.Comment, e.Warnings, e.WarningTitles, e.ReviewLink,
		e.ID,
	)
	return err
}

// GetByID retrieves one entry by its row id.
func (r *EntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries WHERE id = $1`, id))
}

// GetByAccessCode retrieves the entry bound to a remote session token.
func (r *EntryRepository) GetByAccessCode(ctx context.Context, accessCode string) (*model.ExamEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries WHERE access_code = $1`, accessCode))
}

// GetByAttempt retrieves the entry bound to a platform attempt within a module.
func (r *EntryRepository) GetByAttempt(ctx context.Context, moduleID, attemptID int64) (*model.ExamEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries
		 WHERE module_id = $1 AND attempt_id = $2
		 ORDER BY time_created DESC
		 LIMIT 1`, moduleID, attemptID))
}

// ListByScope retrieves every entry for a (user, course, module) scope,
// oldest first.
func (r *EntryRepository) ListByScope(ctx context.Context, scope model.Scope) ([]model.ExamEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries
		 WHERE user_id = $1 AND course_id = $2 AND module_id = $3
		 ORDER BY time_created ASC, id ASC`,
		scope.UserID, scope.CourseID, scope.ModuleID)
}

// ListStartedByScope retrieves a scope's entries in status started,
// most recent first.
func (r *EntryRepository) ListStartedByScope(ctx context.Context, scope model.Scope) ([]model.ExamEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries
		 WHERE user_id = $1 AND course_id = $2 AND module_id = $3 AND status = $4
		 ORDER BY time_created DESC, id DESC`,
		scope.UserID, scope.CourseID, scope.ModuleID, model.EntryStatusStarted)
}

// ListNewByScope retrieves a scope's entries in status new, oldest first.
func (r *EntryRepository) ListNewByScope(ctx context.Context, scope model.Scope) ([]model.ExamEntry, error) {
	return r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries
		 WHERE user_id = $1 AND course_id = $2 AND module_id = $3 AND status = $4
		 ORDER BY time_created ASC, id ASC`,
		scope.UserID, scope.CourseID, scope.ModuleID, model.EntryStatusNew)
}

// MostRecentNewByScope returns the newest 'new' entry for a scope, or
// pgx.ErrNoRows if there is none.
func (r *EntryRepository) MostRecentNewByScope(ctx context.Context, scope model.Scope) (*model.ExamEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM proctor_entries
		 WHERE user_id = $1 AND course_id = $2 AND module_id = $3 AND status = $4
		 ORDER BY time_created DESC, id DESC
		 LIMIT 1`,
		scope.UserID, scope.CourseID, scope.ModuleID, model.EntryStatusNew))
}

// DeleteNew removes never-started placeholder entries for a user in a
// course, optionally narrowed to one module. Entries with history stay
// for audit.
func (r *EntryRepository) DeleteNew(ctx context.Context, userID, courseID int64, moduleID *int64) error {
	var err error
	if moduleID != nil {
		_, err = r.pool.Exec(ctx,
			`DELETE FROM proctor_entries
			 WHERE user_id = $1 AND course_id = $2 AND module_id = $3 AND status = $4`,
			userID, courseID, *moduleID, model.EntryStatusNew)
	} else {
		_, err = r.pool.Exec(ctx,
			`DELETE FROM proctor_entries
			 WHERE user_id = $1 AND course_id = $2 AND status = $3`,
			userID, courseID, model.EntryStatusNew)
	}
	return err
}

// DeleteByModule removes all entries for a module, of any status.
func (r *EntryRepository) DeleteByModule(ctx context.Context, moduleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM proctor_entries WHERE module_id = $1`, moduleID)
	return err
}

// ListRecent retrieves entries for the admin log view, newest first,
// optionally filtered by user and module.
func (r *EntryRepository) ListRecent(ctx context.Context, userID, moduleID *int64, limit int) ([]model.ExamEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM proctor_entries WHERE true`
	args := []any{}
	if userID != nil {
		args = append(args, *userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if moduleID != nil {
		args = append(args, *moduleID)
		query += fmt.Sprintf(" AND module_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time_created DESC LIMIT $%d", len(args))
	return r.queryEntries(ctx, query, args...)
}
