package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edulab/proctor-bridge/internal/model"
)

// SyncScheduler reconciles module proctoring configuration with the
// provider: checksum-gated, so an unchanged module costs one database read
// and no remote traffic.
type SyncScheduler struct {
	records   SyncRecordStore
	modules   ModuleProvider
	directory PlatformDirectory
	lifecycle *EntryLifecycle
	policy    *EligibilityPolicy
	snap      *Snapshotter
	remote    RemoteTransport
	log       zerolog.Logger
}

// NewSyncScheduler creates a new SyncScheduler.
func NewSyncScheduler(
	records SyncRecordStore,
	modules ModuleProvider,
	directory PlatformDirectory,
	lifecycle *EntryLifecycle,
	policy *EligibilityPolicy,
	snap *Snapshotter,
	remote RemoteTransport,
	log zerolog.Logger,
) *SyncScheduler {
	return &SyncScheduler{
		records:   records,
		modules:   modules,
		directory: directory,
		lifecycle: lifecycle,
		policy:    policy,
		snap:      snap,
		remote:    remote,
		log:       log.With().Str("component", "sync_scheduler").Logger(),
	}
}

// ReconcileOutcome summarizes one reconciliation unit.
type ReconcileOutcome struct {
	ModuleID     int64 `json:"module_id"`
	Changed      bool  `json:"changed"`
	UsersPushed  int   `json:"users_pushed"`
	UsersSkipped int   `json:"users_skipped"`
}

// ListSweepTargets returns the modules the periodic sweep should enqueue:
// proctoring enabled, scheduling required, and a concrete time window.
func (s *SyncScheduler) ListSweepTargets(ctx context.Context) ([]model.ModuleInfo, error) {
	modules, err := s.modules.ListProctoredModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list proctored modules: %w", err)
	}

	targets := modules[:0]
	for _, m := range modules {
		if m.Condition == nil || !m.Condition.SchedulingRequired {
			continue
		}
		if !m.HasKnownWindow() {
			continue
		}
		targets = append(targets, m)
	}
	return targets, nil
}

// ReconcileModuleID loads the module and its enrollment and reconciles it.
func (s *SyncScheduler) ReconcileModuleID(ctx context.Context, moduleID int64) (*ReconcileOutcome, error) {
	mod, err := s.modules.ModuleInfo(ctx, moduleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("module %d: %w", moduleID, err)
		}
		return nil, fmt.Errorf("load module %d: %w", moduleID, err)
	}
	if mod.Condition == nil {
		return &ReconcileOutcome{ModuleID: moduleID}, nil
	}

	userIDs, err := s.directory.EnrolledUserIDs(ctx, mod.CourseID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled users: %w", err)
	}
	return s.Reconcile(ctx, mod, userIDs)
}

// Reconcile runs one reconciliation unit. The module-level checksum (sync
// record with no user) gates the whole pass; only when it differs does the
// per-user loop run. Checksums are recorded before pushing: a failed push
// is logged, not retried here, so a flapping provider cannot wedge the
// sweep into hammering it with the same payload.
func (s *SyncScheduler) Reconcile(ctx context.Context, mod *model.ModuleInfo, userIDs []int64) (*ReconcileOutcome, error) {
	outcome := &ReconcileOutcome{ModuleID: mod.ID}

	moduleSnap := s.snap.ModuleSnapshot(mod, userIDs)
	moduleSum := moduleSnap.Checksum()

	record, err := s.records.Get(ctx, mod.ID, nil)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get module sync record: %w", err)
	}
	if record != nil && record.LastChecksum == moduleSum {
		return outcome, nil
	}
	outcome.Changed = true

	if err := s.records.Upsert(ctx, mod.CourseID, mod.ID, nil, moduleSum); err != nil {
		return nil, fmt.Errorf("record module checksum: %w", err)
	}

	for _, userID := range userIDs {
		pushed, err := s.reconcileUser(ctx, mod, userID)
		if err != nil {
			// One broken user must not abandon the rest of the roster.
			s.log.Error().Err(err).
				Int64("module_id", mod.ID).
				Int64("user_id", userID).
				Msg("User reconciliation failed")
			continue
		}
		if pushed {
			outcome.UsersPushed++
		} else {
			outcome.UsersSkipped++
		}
	}

	s.log.Info().
		Int64("module_id", mod.ID).
		Int("pushed", outcome.UsersPushed).
		Int("skipped", outcome.UsersSkipped).
		Msg("Module reconciled")
	return outcome, nil
}

func (s *SyncScheduler) reconcileUser(ctx context.Context, mod *model.ModuleInfo, userID int64) (bool, error) {
	inScope, err := s.policy.InScope(ctx, mod.Condition, mod.CourseID, userID)
	if err != nil {
		return false, err
	}
	if !inScope {
		return false, nil
	}

	entry, err := s.lifecycle.FindOrCreateEntry(ctx, userID, mod)
	if err != nil {
		return false, err
	}
	if !entry.Status.Live() {
		// Attempt slots exhausted; nothing to push for this user.
		return false, nil
	}

	user, err := s.directory.UserInfo(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}

	snap := s.snap.UserSnapshot(mod, user, entry)
	sum := snap.Checksum()

	record, err := s.records.Get(ctx, mod.ID, &userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("get user sync record: %w", err)
	}
	if record != nil && record.LastChecksum == sum {
		return false, nil
	}

	if err := s.records.Upsert(ctx, mod.CourseID, mod.ID, &userID, sum); err != nil {
		return false, fmt.Errorf("record user checksum: %w", err)
	}

	if err := s.remote.PushExam(ctx, snap.Payload()); err != nil {
		s.log.Warn().Err(err).
			Int64("module_id", mod.ID).
			Int64("user_id", userID).
			Str("access_code", entry.AccessCode).
			Msg("Exam push failed; checksum kept, will resend on next change")
		return false, nil
	}
	return true, nil
}
