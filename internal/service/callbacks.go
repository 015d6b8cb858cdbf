package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edulab/proctor-bridge/internal/model"
)

// ReviewUpdate carries the provider's session verdict for one access code.
// Everything except the conclusion is stored opaquely on the entry.
type ReviewUpdate struct {
	AccessCode    string
	Conclusion    string
	Score         *float64
	Threshold     json.RawMessage
	Comment       *string
	Warnings      json.RawMessage
	WarningTitles json.RawMessage
	SessionStart  *string
	SessionEnd    *string
	ReportURL     *string
}

// ScheduleUpdate carries the provider's scheduling notification.
type ScheduleUpdate struct {
	AccessCode string
	Event      string
	StartAt    *string
}

var conclusionStatus = map[string]model.EntryStatus{
	"accepted": model.EntryStatusFinished,
	"finished": model.EntryStatusFinished,
	"rejected": model.EntryStatusCanceled,
	"canceled": model.EntryStatusCanceled,
}

// parseRemoteTime accepts the provider's ISO-8601 timestamps, with or
// without fractional seconds or an explicit zone. Zoneless values are UTC.
func parseRemoteTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", value)
}

// ApplyReview stores the verdict on the entry the access code names and
// moves the status to the conclusion's terminal state. An unknown
// conclusion updates the metadata but leaves the status alone.
func (l *EntryLifecycle) ApplyReview(ctx context.Context, upd ReviewUpdate) (*model.ExamEntry, error) {
	entry, err := l.entries.GetByAccessCode(ctx, upd.AccessCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry by access code: %w", err)
	}

	unlock := l.locks.Lock(entry.UserID, entry.ModuleID)
	defer unlock()

	// Re-read under the lock so a trigger committed in the meantime is
	// not overwritten by the stale copy.
	entry, err = l.entries.GetByID(ctx, entry.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("reload entry: %w", err)
	}

	if status, ok := conclusionStatus[strings.ToLower(upd.Conclusion)]; ok {
		entry.Status = status
	} else {
		l.log.Warn().
			Str("access_code", upd.AccessCode).
			Str("conclusion", upd.Conclusion).
			Msg("Unknown review conclusion; keeping current status")
	}

	if upd.Score != nil {
		entry.Score = upd.Score
	}
	if len(upd.Threshold) > 0 {
		entry.Threshold = upd.Threshold
	}
	if upd.Comment != nil {
		entry.Comment = upd.Comment
	}
	if len(upd.Warnings) > 0 {
		entry.Warnings = upd.Warnings
	}
	if len(upd.WarningTitles) > 0 {
		entry.WarningTitles = upd.WarningTitles
	}
	if upd.ReportURL != nil {
		entry.ReviewLink = upd.ReportURL
	}
	if upd.SessionStart != nil {
		t, err := parseRemoteTime(*upd.SessionStart)
		if err != nil {
			return nil, err
		}
		entry.SessionStart = &t
	}
	if upd.SessionEnd != nil {
		t, err := parseRemoteTime(*upd.SessionEnd)
		if err != nil {
			return nil, err
		}
		entry.SessionEnd = &t
	}

	entry.TimeModified = l.now()
	if err := l.entries.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("store review: %w", err)
	}

	l.log.Info().
		Str("access_code", upd.AccessCode).
		Str("conclusion", upd.Conclusion).
		Str("status", string(entry.Status)).
		Msg("Review applied")
	return entry, nil
}

// ApplySchedule records the provider's scheduling decision. Event
// "scheduled" moves the entry to scheduled with the slot time; any other
// event for an entry not yet bound to a platform attempt resets it so a
// fresh session can be booked.
func (l *EntryLifecycle) ApplySchedule(ctx context.Context, upd ScheduleUpdate) (*model.ExamEntry, error) {
	entry, err := l.entries.GetByAccessCode(ctx, upd.AccessCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("get entry by access code: %w", err)
	}

	unlock := l.locks.Lock(entry.UserID, entry.ModuleID)
	defer unlock()

	entry, err = l.entries.GetByID(ctx, entry.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("reload entry: %w", err)
	}

	if strings.EqualFold(upd.Event, "scheduled") {
		entry.Status = model.EntryStatusScheduled
		if upd.StartAt != nil {
			t, err := parseRemoteTime(*upd.StartAt)
			if err != nil {
				return nil, err
			}
			entry.TimeScheduled = &t
		}
		entry.TimeModified = l.now()
		if err := l.entries.Update(ctx, entry); err != nil {
			return nil, fmt.Errorf("store schedule: %w", err)
		}
		l.log.Info().
			Str("access_code", upd.AccessCode).
			Msg("Entry scheduled")
		return entry, nil
	}

	if entry.AttemptID != nil {
		return entry, nil
	}
	return l.resetLocked(ctx, entry, false)
}
