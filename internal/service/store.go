package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/edulab/proctor-bridge/internal/model"
)

// EntryStore is the persistence abstraction for exam entries. The pgx
// implementation lives in internal/repository; tests use in-memory fakes.
// Lookups that match nothing return pgx.ErrNoRows.
type EntryStore interface {
	Insert(ctx context.Context, e *model.ExamEntry) error
	Update(ctx context.Context, e *model.ExamEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamEntry, error)
	GetByAccessCode(ctx context.Context, accessCode string) (*model.ExamEntry, error)
	GetByAttempt(ctx context.Context, moduleID, attemptID int64) (*model.ExamEntry, error)
	ListByScope(ctx context.Context, scope model.Scope) ([]model.ExamEntry, error)
	ListStartedByScope(ctx context.Context, scope model.Scope) ([]model.ExamEntry, error)
	ListNewByScope(ctx context.Context, scope model.Scope) ([]model.ExamEntry, error)
	MostRecentNewByScope(ctx context.Context, scope model.Scope) (*model.ExamEntry, error)
	DeleteNew(ctx context.Context, userID, courseID int64, moduleID *int64) error
	DeleteByModule(ctx context.Context, moduleID int64) error
}

// SyncRecordStore persists last-pushed checksums for the reconciler.
type SyncRecordStore interface {
	Get(ctx context.Context, moduleID int64, userID *int64) (*model.SyncRecord, error)
	Upsert(ctx context.Context, courseID, moduleID int64, userID *int64, checksum string) error
	DeleteByModule(ctx context.Context, moduleID int64) error
}

// ModuleProvider exposes platform-owned course module metadata.
type ModuleProvider interface {
	ModuleInfo(ctx context.Context, moduleID int64) (*model.ModuleInfo, error)
	ListProctoredModules(ctx context.Context) ([]model.ModuleInfo, error)
}

// PlatformDirectory exposes platform-owned enrollment, group and user data.
type PlatformDirectory interface {
	EnrolledUserIDs(ctx context.Context, courseID int64) ([]int64, error)
	UserInfo(ctx context.Context, userID int64) (*model.UserInfo, error)
	ExistingGroupIDs(ctx context.Context, courseID int64, groupIDs []int64) ([]int64, error)
	UserGroupIDs(ctx context.Context, courseID, userID int64) ([]int64, error)
}

// RemoteTransport is the proctoring provider's API surface as the engine
// sees it: push a configuration payload, notify a session finish, and
// build the user-facing finish redirect URL.
type RemoteTransport interface {
	PushExam(ctx context.Context, payload map[string]any) error
	FinishSession(ctx context.Context, accessCode, redirectURL string) error
	FinishURL(accessCode, redirectURL string) string
}
