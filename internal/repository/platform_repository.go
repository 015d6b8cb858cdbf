package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edulab/proctor-bridge/internal/model"
)

// PlatformRepository reads the host platform's course/module/enrollment
// tables. Strictly read-only: the bridge never mutates platform data.
type PlatformRepository struct {
	pool *pgxpool.Pool
}

// NewPlatformRepository creates a new PlatformRepository.
func NewPlatformRepository(pool *pgxpool.Pool) *PlatformRepository {
	return &PlatformRepository{pool: pool}
}

func scanModule(row interface{ Scan(...any) error }) (*model.ModuleInfo, error) {
	m := &model.ModuleInfo{}
	var conditionRaw []byte
	err := row.Scan(
		&m.ID, &m.CourseID, &m.Name, &m.CourseName, &m.Type,
		&m.MaxAttempts, &m.TimeOpen, &m.TimeClose, &conditionRaw,
	)
	if err != nil {
		return nil, err
	}
	cond, err := model.ParseCondition(conditionRaw)
	if err != nil {
		return nil, err
	}
	m.Condition = cond
	return m, nil
}

// ModuleInfo retrieves metadata and proctoring condition for one module.
func (r *PlatformRepository) ModuleInfo(ctx context.Context, moduleID int64) (*model.ModuleInfo, error) {
	return scanModule(r.pool.QueryRow(ctx,
		`SELECT cm.id, cm.course_id, cm.name, c.full_name, cm.module_type,
		        COALESCE(cm.max_attempts, 0), cm.time_open, cm.time_close, cm.proctor_condition
		 FROM course_modules cm
		 JOIN courses c ON c.id = cm.course_id
		 WHERE cm.id = $1`, moduleID))
}

// ListProctoredModules retrieves every module with a proctoring condition
// configured. Used by the reconciliation sweep.
func (r *PlatformRepository) ListProctoredModules(ctx context.Context) ([]model.ModuleInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT cm.id, cm.course_id, cm.name, c.full_name, cm.module_type,
		        COALESCE(cm.max_attempts, 0), cm.time_open, cm.time_close, cm.proctor_condition
		 FROM course_modules cm
		 JOIN courses c ON c.id = cm.course_id
		 WHERE cm.proctor_condition IS NOT NULL
		 ORDER BY cm.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []model.ModuleInfo
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, *m)
	}
	return modules, rows.Err()
}

// EnrolledUserIDs retrieves the ids of users enrolled in a course.
func (r *PlatformRepository) EnrolledUserIDs(ctx context.Context, courseID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM enrolments WHERE course_id = $1 ORDER BY user_id`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserInfo retrieves identity data for one user.
func (r *PlatformRepository) UserInfo(ctx context.Context, userID int64) (*model.UserInfo, error) {
	u := &model.UserInfo{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name,
		        COALESCE(middle_name, ''), COALESCE(email, ''), COALESCE(language, '')
		 FROM users WHERE id = $1`, userID,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.MiddleName, &u.Email, &u.Language)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ExistingGroupIDs filters a configured group id set down to groups that
// still exist in the course. Deleted groups must not silently exempt users.
func (r *PlatformRepository) ExistingGroupIDs(ctx context.Context, courseID int64, groupIDs []int64) ([]int64, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM groups WHERE course_id = $1 AND id = ANY($2)`, courseID, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UserGroupIDs retrieves the ids of the course groups a user belongs to.
func (r *PlatformRepository) UserGroupIDs(ctx context.Context, courseID, userID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id
		 FROM groups g
		 JOIN group_members gm ON gm.group_id = g.id
		 WHERE g.course_id = $1 AND gm.user_id = $2`, courseID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
