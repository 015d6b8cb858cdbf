package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edulab/proctor-bridge/internal/model"
	"github.com/edulab/proctor-bridge/internal/repository"
)

// RescheduleSlack is the grace period past the scheduled time before a
// scheduled-but-never-started entry is considered missed.
const RescheduleSlack = 15 * time.Minute

// ErrEntryNotFound is returned when an access code or selector matches no
// entry in a context where one is required.
var ErrEntryNotFound = errors.New("entry not found")

// EntryLifecycle owns all exam entry creation and mutation. Operations on
// the same (user, module) scope are serialized through an in-process keyed
// mutex; the store's single-live-entry unique index is the backstop when
// several bridge instances share a database.
type EntryLifecycle struct {
	entries         EntryStore
	records         SyncRecordStore
	modules         ModuleProvider
	remote          RemoteTransport
	platformBaseURL string
	locks           *scopeLocks
	log             zerolog.Logger
	now             func() time.Time
}

// NewEntryLifecycle creates a new EntryLifecycle.
func NewEntryLifecycle(entries EntryStore, records SyncRecordStore, modules ModuleProvider, remote RemoteTransport, platformBaseURL string, log zerolog.Logger) *EntryLifecycle {
	return &EntryLifecycle{
		entries:         entries,
		records:         records,
		modules:         modules,
		remote:          remote,
		platformBaseURL: platformBaseURL,
		locks:           newScopeLocks(),
		log:             log.With().Str("component", "entry_lifecycle").Logger(),
		now:             time.Now,
	}
}

// EntrySelector identifies the entry a reset targets. Exactly one way of
// selecting should be set; they are tried in field order.
type EntrySelector struct {
	ID         *uuid.UUID
	AccessCode *string
	// ModuleID+AttemptID selects the entry bound to a platform attempt.
	ModuleID  *int64
	AttemptID *int64
}

// StartResult reports the outcome of an attempt-start trigger.
type StartResult struct {
	Entry *model.ExamEntry `json:"entry"`
	// InhibitRedirect is set when the learner arrived through the
	// provider: the caller must not splice a redirect to the provider
	// into the response.
	InhibitRedirect bool `json:"inhibit_redirect"`
	// NeedsManualReset is set when the remote session the learner arrived
	// with has gone stale; the learner has to restart from the provider.
	NeedsManualReset bool `json:"needs_manual_reset"`
}

// SubmitResult reports the outcome of an attempt-submit trigger.
type SubmitResult struct {
	Entry *model.ExamEntry `json:"entry"`
	// RedirectURL sends the learner through the provider's finish page
	// back to the platform's attempt review. The calling layer applies it
	// however its transport allows.
	RedirectURL string `json:"redirect_url"`
}

// ArrivalResult reports where to send a learner arriving with an access code.
type ArrivalResult struct {
	Entry       *model.ExamEntry `json:"entry"`
	RedirectURL string           `json:"redirect_url"`
	// Reset signals that the session the learner arrived with is no longer
	// the one to use and a fresh start is required.
	Reset bool `json:"reset"`
}

func (l *EntryLifecycle) newEntry(scope model.Scope) *model.ExamEntry {
	now := l.now()
	return &model.ExamEntry{
		ID:           uuid.New(),
		UserID:       scope.UserID,
		CourseID:     scope.CourseID,
		ModuleID:     scope.ModuleID,
		AccessCode:   uuid.NewString(),
		Status:       model.EntryStatusNew,
		TimeCreated:  now,
		TimeModified: now,
	}
}

// FindOrCreateEntry returns the scope's single live entry, creating one if
// permitted. Safe under duplicate delivery and concurrent callers: repeated
// calls with no intervening state change return the same entry.
func (l *EntryLifecycle) FindOrCreateEntry(ctx context.Context, userID int64, mod *model.ModuleInfo) (*model.ExamEntry, error) {
	unlock := l.locks.Lock(userID, mod.ID)
	defer unlock()
	return l.findOrCreateLocked(ctx, userID, mod)
}

func (l *EntryLifecycle) findOrCreateLocked(ctx context.Context, userID int64, mod *model.ModuleInfo) (*model.ExamEntry, error) {
	scope := model.Scope{UserID: userID, CourseID: mod.CourseID, ModuleID: mod.ID}

	entries, err := l.entries.ListByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	for i := range entries {
		if entries[i].Status.Live() {
			return l.maybeReschedule(ctx, &entries[i], mod)
		}
	}

	limit, bounded := attemptLimit(mod)
	if !bounded || UsedEntryCount(entries) < limit {
		return l.createLocked(ctx, scope)
	}

	// Attempt slots exhausted: hand back the most recent entry, whatever
	// its status, so the caller can present an "exam unavailable" outcome.
	last := entries[len(entries)-1]
	return &last, nil
}

// maybeReschedule handles a live entry that was scheduled but never
// started and whose slot expired: it is marked rescheduled (not counted
// against the attempt limit) and replaced with a fresh entry.
func (l *EntryLifecycle) maybeReschedule(ctx context.Context, entry *model.ExamEntry, mod *model.ModuleInfo) (*model.ExamEntry, error) {
	cond := mod.Condition
	if cond == nil || !cond.AutoRescheduling {
		return entry, nil
	}
	if entry.Status != model.EntryStatusScheduled || entry.AttemptID != nil || entry.TimeScheduled == nil {
		return entry, nil
	}
	if l.now().Before(entry.TimeScheduled.Add(RescheduleSlack)) {
		return entry, nil
	}

	entry.Status = model.EntryStatusRescheduled
	entry.TimeModified = l.now()
	if err := l.entries.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("mark rescheduled: %w", err)
	}

	l.log.Info().
		Int64("user_id", entry.UserID).
		Int64("module_id", entry.ModuleID).
		Str("access_code", entry.AccessCode).
		Msg("Expired scheduled entry rescheduled")

	return l.createLocked(ctx, entry.Scope())
}

// createLocked inserts a fresh entry, yielding to a concurrent winner if
// the store reports the live slot already taken.
func (l *EntryLifecycle) createLocked(ctx context.Context, scope model.Scope) (*model.ExamEntry, error) {
	entry := l.newEntry(scope)
	err := l.entries.Insert(ctx, entry)
	if errors.Is(err, repository.ErrLiveEntryExists) {
		existing, ferr := l.entries.ListByScope(ctx, scope)
		if ferr != nil {
			return nil, fmt.Errorf("refetch after conflict: %w", ferr)
		}
		for i := range existing {
			if existing[i].Status.Live() {
				return &existing[i], nil
			}
		}
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return entry, nil
}

// ResetEntry marks the selected entry force-reset and creates a fresh one,
// keeping the single-live-entry invariant. A selector matching nothing is
// a no-op. An entry already in status new is only recycled when force is
// set. Returns the fresh entry, or nil when nothing needed resetting.
func (l *EntryLifecycle) ResetEntry(ctx context.Context, sel EntrySelector, force bool) (*model.ExamEntry, error) {
	old, err := l.resolve(ctx, sel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	unlock := l.locks.Lock(old.UserID, old.ModuleID)
	defer unlock()

	// Re-read under the lock: a trigger may have committed between the
	// selector resolve and lock acquisition, and Update writes every
	// mutable column.
	old, err = l.entries.GetByID(ctx, old.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reload entry: %w", err)
	}
	return l.resetLocked(ctx, old, force)
}

func (l *EntryLifecycle) resetLocked(ctx context.Context, old *model.ExamEntry, force bool) (*model.ExamEntry, error) {
	notInited := old.Status == model.EntryStatusNew

	if !notInited {
		old.Status = model.EntryStatusForceReset
		old.TimeModified = l.now()
		if err := l.entries.Update(ctx, old); err != nil {
			return nil, fmt.Errorf("mark force_reset: %w", err)
		}
	}

	if notInited && !force {
		return nil, nil
	}

	fresh, err := l.replaceLocked(ctx, old.Scope(), force)
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		l.log.Info().
			Int64("user_id", old.UserID).
			Int64("module_id", old.ModuleID).
			Str("old_access_code", old.AccessCode).
			Str("new_access_code", fresh.AccessCode).
			Bool("force", force).
			Msg("Entry reset")
	}
	return fresh, nil
}

// replaceLocked creates the replacement 'new' entry for a reset, ensuring
// a scope never accumulates more than one. With force, every lingering
// 'new' entry is force-reset first.
func (l *EntryLifecycle) replaceLocked(ctx context.Context, scope model.Scope, force bool) (*model.ExamEntry, error) {
	pending, err := l.entries.ListNewByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list new entries: %w", err)
	}

	if len(pending) > 0 && !force {
		return nil, nil
	}
	for i := range pending {
		pending[i].Status = model.EntryStatusForceReset
		pending[i].TimeModified = l.now()
		if err := l.entries.Update(ctx, &pending[i]); err != nil {
			return nil, fmt.Errorf("force_reset pending entry: %w", err)
		}
	}

	return l.createLocked(ctx, scope)
}

// OnAttemptStarted binds a platform attempt to the scope's entry and moves
// it to started. When the learner arrived through the provider
// (incomingAccessCode set) and the entry turns out to be bound to a
// different attempt, the stale remote session must not be redirected into:
// a fresh entry is created and the result flags a manual restart.
func (l *EntryLifecycle) OnAttemptStarted(ctx context.Context, userID int64, mod *model.ModuleInfo, attemptID int64, incomingAccessCode string) (*StartResult, error) {
	unlock := l.locks.Lock(userID, mod.ID)
	defer unlock()

	res := &StartResult{}

	var entry *model.ExamEntry
	if incomingAccessCode != "" {
		res.InhibitRedirect = true
		found, err := l.entries.GetByAccessCode(ctx, incomingAccessCode)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get entry by access code: %w", err)
		}
		entry = found
	}

	if entry != nil {
		if entry.AttemptID == nil {
			entry.AttemptID = &attemptID
			entry.TimeModified = l.now()
		}
		if entry.Status.Live() {
			entry.Status = model.EntryStatusStarted
			entry.TimeModified = l.now()
		}
		if err := l.entries.Update(ctx, entry); err != nil {
			return nil, fmt.Errorf("update entry: %w", err)
		}

		if entry.Status == model.EntryStatusStarted && *entry.AttemptID != attemptID {
			// The platform attempt was restarted outside the normal reset
			// path; the entry belongs to the old attempt.
			fresh, err := l.findOrCreateLocked(ctx, userID, mod)
			if err != nil {
				return nil, err
			}
			res.Entry = fresh
			if incomingAccessCode != "" {
				res.InhibitRedirect = true
				res.NeedsManualReset = true
			} else {
				res.InhibitRedirect = false
			}
			return res, nil
		}

		res.Entry = entry
		return res, nil
	}

	entry, err := l.findOrCreateLocked(ctx, userID, mod)
	if err != nil {
		return nil, err
	}
	if entry.Status.Live() || entry.AttemptID == nil {
		entry.AttemptID = &attemptID
		entry.Status = model.EntryStatusStarted
		entry.TimeModified = l.now()
		if err := l.entries.Update(ctx, entry); err != nil {
			return nil, fmt.Errorf("update entry: %w", err)
		}
	}

	res.Entry = entry
	if incomingAccessCode != "" {
		// Arrived from the provider but the code matched nothing we know.
		res.InhibitRedirect = true
		res.NeedsManualReset = true
	}
	return res, nil
}

// OnAttemptSubmitted concludes every started entry in the scope, plus the
// entry bound to the session's access code if one was supplied. The remote
// finish notification is best-effort: its failure never rolls back the
// local transition. Returns nil when the scope has nothing started.
func (l *EntryLifecycle) OnAttemptSubmitted(ctx context.Context, userID int64, mod *model.ModuleInfo, attemptID int64, incomingAccessCode string) (*SubmitResult, error) {
	unlock := l.locks.Lock(userID, mod.ID)
	defer unlock()

	scope := model.Scope{UserID: userID, CourseID: mod.CourseID, ModuleID: mod.ID}

	entries, err := l.entries.ListStartedByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list started entries: %w", err)
	}

	if incomingAccessCode != "" {
		found, err := l.entries.GetByAccessCode(ctx, incomingAccessCode)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get entry by access code: %w", err)
		}
		if found != nil {
			seen := false
			for i := range entries {
				if entries[i].ID == found.ID {
					seen = true
					break
				}
			}
			if !seen {
				entries = append(entries, *found)
			}
		}
	}

	if len(entries) == 0 {
		return nil, nil
	}

	for i := range entries {
		entries[i].Status = model.EntryStatusFinished
		if entries[i].AttemptID == nil {
			entries[i].AttemptID = &attemptID
		}
		entries[i].TimeModified = l.now()
		if err := l.entries.Update(ctx, &entries[i]); err != nil {
			return nil, fmt.Errorf("finish entry: %w", err)
		}
	}

	primary := entries[0]
	reviewURL := fmt.Sprintf("%s/mod/quiz/review.php?attempt=%d&cmid=%d", l.platformBaseURL, attemptID, mod.ID)

	if err := l.remote.FinishSession(ctx, primary.AccessCode, reviewURL); err != nil {
		l.log.Warn().Err(err).
			Str("access_code", primary.AccessCode).
			Msg("Finish notification failed; entry stays finished")
	}

	return &SubmitResult{
		Entry:       &primary,
		RedirectURL: l.remote.FinishURL(primary.AccessCode, reviewURL),
	}, nil
}

// OnAttemptDeleted resets the entry bound to a deleted platform attempt.
// No matching entry is a no-op.
func (l *EntryLifecycle) OnAttemptDeleted(ctx context.Context, moduleID, attemptID int64) (*model.ExamEntry, error) {
	return l.ResetEntry(ctx, EntrySelector{ModuleID: &moduleID, AttemptID: &attemptID}, false)
}

// OnEnrollmentRemoved deletes never-started placeholder entries for the
// user in the course (optionally one module). Entries with history are
// kept for audit.
func (l *EntryLifecycle) OnEnrollmentRemoved(ctx context.Context, userID, courseID int64, moduleID *int64) error {
	if err := l.entries.DeleteNew(ctx, userID, courseID, moduleID); err != nil {
		return fmt.Errorf("delete new entries: %w", err)
	}
	return nil
}

// OnModuleDeleted removes every entry and sync record for the module.
func (l *EntryLifecycle) OnModuleDeleted(ctx context.Context, moduleID int64) error {
	if err := l.entries.DeleteByModule(ctx, moduleID); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if err := l.records.DeleteByModule(ctx, moduleID); err != nil {
		return fmt.Errorf("delete sync records: %w", err)
	}
	return nil
}

// HandleArrival resolves an access code a learner arrived with from the
// provider and yields the platform URL to send them to. A newer pending
// entry in the same scope supersedes the one the code names; a terminal
// entry is resurrected through the normal find-or-create path. Both cases
// flag Reset so the caller can tell the learner the old session is stale.
func (l *EntryLifecycle) HandleArrival(ctx context.Context, accessCode string) (*ArrivalResult, error) {
	entry, err := l.entries.GetByAccessCode(ctx, accessCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry by access code: %w", err)
	}

	mod, err := l.modules.ModuleInfo(ctx, entry.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("load module: %w", err)
	}

	res := &ArrivalResult{}

	newer, err := l.entries.MostRecentNewByScope(ctx, entry.Scope())
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find newer entry: %w", err)
	}
	if newer != nil && newer.ID != entry.ID {
		entry = newer
		res.Reset = true
	}

	if !entry.Status.Live() {
		unlock := l.locks.Lock(entry.UserID, mod.ID)
		fresh, cerr := l.findOrCreateLocked(ctx, entry.UserID, mod)
		unlock()
		if cerr != nil {
			return nil, cerr
		}
		entry = fresh
		res.Reset = true
	}

	res.Entry = entry
	res.RedirectURL = fmt.Sprintf("%s/mod/quiz/view.php?id=%d", l.platformBaseURL, mod.ID)
	return res, nil
}

func (l *EntryLifecycle) resolve(ctx context.Context, sel EntrySelector) (*model.ExamEntry, error) {
	switch {
	case sel.ID != nil:
		return l.entries.GetByID(ctx, *sel.ID)
	case sel.AccessCode != nil:
		return l.entries.GetByAccessCode(ctx, *sel.AccessCode)
	case sel.ModuleID != nil && sel.AttemptID != nil:
		return l.entries.GetByAttempt(ctx, *sel.ModuleID, *sel.AttemptID)
	}
	return nil, pgx.ErrNoRows
}

// attemptLimit mirrors EligibilityPolicy.AttemptLimit without needing the
// directory; the cap lives entirely on the module metadata.
func attemptLimit(mod *model.ModuleInfo) (int, bool) {
	if mod.Type != model.ModuleTypeQuiz || mod.MaxAttempts <= 0 {
		return 0, false
	}
	return mod.MaxAttempts, true
}
