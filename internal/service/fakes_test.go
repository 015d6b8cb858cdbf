package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/edulab/proctor-bridge/internal/model"
	"github.com/edulab/proctor-bridge/internal/repository"
)

// memEntryStore is an in-memory EntryStore that mimics the partial unique
// index: inserting a second live entry for a scope fails the same way the
// database does.
type memEntryStore struct {
	mu      sync.Mutex
	entries []model.ExamEntry

	// afterGet, when set, runs once after the next successful lookup.
	// Lets tests interleave a concurrent mutation between an operation's
	// initial resolve and its locked section.
	afterGet func()
}

func (s *memEntryStore) fireAfterGet() {
	s.mu.Lock()
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func newMemEntryStore() *memEntryStore {
	return &memEntryStore{}
}

func (s *memEntryStore) Insert(_ context.Context, e *model.ExamEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].UserID == e.UserID && s.entries[i].ModuleID == e.ModuleID &&
			s.entries[i].Status.Live() && e.Status.Live() {
			return repository.ErrLiveEntryExists
		}
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *memEntryStore) Update(_ context.Context, e *model.ExamEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = *e
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (s *memEntryStore) GetByID(_ context.Context, id uuid.UUID) (*model.ExamEntry, error) {
	s.mu.Lock()
	var found *model.ExamEntry
	for i := range s.entries {
		if s.entries[i].ID == id {
			e := s.entries[i]
			found = &e
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return nil, pgx.ErrNoRows
	}
	s.fireAfterGet()
	return found, nil
}

func (s *memEntryStore) GetByAccessCode(_ context.Context, code string) (*model.ExamEntry, error) {
	s.mu.Lock()
	var found *model.ExamEntry
	for i := range s.entries {
		if s.entries[i].AccessCode == code {
			e := s.entries[i]
			found = &e
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return nil, pgx.ErrNoRows
	}
	s.fireAfterGet()
	return found, nil
}

func (s *memEntryStore) GetByAttempt(_ context.Context, moduleID, attemptID int64) (*model.ExamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ModuleID == moduleID &&
			s.entries[i].AttemptID != nil && *s.entries[i].AttemptID == attemptID {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memEntryStore) ListByScope(_ context.Context, scope model.Scope) ([]model.ExamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamEntry
	for i := range s.entries {
		if s.entries[i].Scope() == scope {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memEntryStore) ListStartedByScope(_ context.Context, scope model.Scope) ([]model.ExamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Scope() == scope && s.entries[i].Status == model.EntryStatusStarted {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memEntryStore) ListNewByScope(_ context.Context, scope model.Scope) ([]model.ExamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExamEntry
	for i := range s.entries {
		if s.entries[i].Scope() == scope && s.entries[i].Status == model.EntryStatusNew {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *memEntryStore) MostRecentNewByScope(_ context.Context, scope model.Scope) (*model.ExamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Scope() == scope && s.entries[i].Status == model.EntryStatusNew {
			e := s.entries[i]
			return &e, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *memEntryStore) DeleteNew(_ context.Context, userID, courseID int64, moduleID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		drop := e.UserID == userID && e.CourseID == courseID && e.Status == model.EntryStatusNew &&
			(moduleID == nil || e.ModuleID == *moduleID)
		if !drop {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

func (s *memEntryStore) DeleteByModule(_ context.Context, moduleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.ModuleID != moduleID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

// all returns a copy of every stored entry, insertion-ordered.
func (s *memEntryStore) all() []model.ExamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ExamEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

type recordKey struct {
	moduleID int64
	userID   int64 // 0 marks the module-level record
}

type memRecordStore struct {
	mu      sync.Mutex
	records map[recordKey]model.SyncRecord
}

func newMemRecordStore() *memRecordStore {
	return &memRecordStore{records: make(map[recordKey]model.SyncRecord)}
}

func (s *memRecordStore) key(moduleID int64, userID *int64) recordKey {
	k := recordKey{moduleID: moduleID}
	if userID != nil {
		k.userID = *userID
	}
	return k
}

func (s *memRecordStore) Get(_ context.Context, moduleID int64, userID *int64) (*model.SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[s.key(moduleID, userID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &rec, nil
}

func (s *memRecordStore) Upsert(_ context.Context, courseID, moduleID int64, userID *int64, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[s.key(moduleID, userID)] = model.SyncRecord{
		ID:           uuid.New(),
		CourseID:     courseID,
		ModuleID:     moduleID,
		UserID:       userID,
		LastChecksum: checksum,
	}
	return nil
}

func (s *memRecordStore) DeleteByModule(_ context.Context, moduleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if k.moduleID == moduleID {
			delete(s.records, k)
		}
	}
	return nil
}

type fakeModules struct {
	modules map[int64]*model.ModuleInfo
}

func (f *fakeModules) ModuleInfo(_ context.Context, moduleID int64) (*model.ModuleInfo, error) {
	m, ok := f.modules[moduleID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m, nil
}

func (f *fakeModules) ListProctoredModules(_ context.Context) ([]model.ModuleInfo, error) {
	var out []model.ModuleInfo
	for _, m := range f.modules {
		if m.Condition != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakeDirectory struct {
	enrolled   map[int64][]int64 // courseID -> userIDs
	users      map[int64]*model.UserInfo
	groups     map[int64][]int64 // courseID -> existing group ids
	membership map[int64][]int64 // userID -> group ids
}

func (f *fakeDirectory) EnrolledUserIDs(_ context.Context, courseID int64) ([]int64, error) {
	return f.enrolled[courseID], nil
}

func (f *fakeDirectory) UserInfo(_ context.Context, userID int64) (*model.UserInfo, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (f *fakeDirectory) ExistingGroupIDs(_ context.Context, courseID int64, groupIDs []int64) ([]int64, error) {
	var out []int64
	for _, g := range groupIDs {
		for _, existing := range f.groups[courseID] {
			if g == existing {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (f *fakeDirectory) UserGroupIDs(_ context.Context, _ int64, userID int64) ([]int64, error) {
	return f.membership[userID], nil
}

type fakeRemote struct {
	mu         sync.Mutex
	pushed     []map[string]any
	finished   []string
	pushErr    error
	finishErr  error
	finishBase string
}

func (f *fakeRemote) PushExam(_ context.Context, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, payload)
	return nil
}

func (f *fakeRemote) FinishSession(_ context.Context, accessCode, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finishErr != nil {
		return f.finishErr
	}
	f.finished = append(f.finished, accessCode)
	return nil
}

func (f *fakeRemote) FinishURL(accessCode, redirectURL string) string {
	return f.finishBase + "/finish/" + accessCode + "/?redirectUrl=" + redirectURL
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}
