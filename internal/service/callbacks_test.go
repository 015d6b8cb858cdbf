package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulab/proctor-bridge/internal/model"
)

func strp(s string) *string { return &s }

func floatp(v float64) *float64 { return &v }

func TestApplyReview_StoresVerdict(t *testing.T) {
	l, entries, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)

	updated, err := l.ApplyReview(ctx, ReviewUpdate{
		AccessCode:   entry.AccessCode,
		Conclusion:   "accepted",
		Score:        floatp(12.5),
		Comment:      strp("two warnings"),
		Warnings:     json.RawMessage(`[{"type":"phone"}]`),
		SessionStart: strp("2026-03-10T09:00:00.123456Z"),
		SessionEnd:   strp("2026-03-10T10:05:00Z"),
		ReportURL:    strp("https://proctor.test/report/1"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusFinished, updated.Status)
	require.NotNil(t, updated.Score)
	assert.Equal(t, 12.5, *updated.Score)
	require.NotNil(t, updated.SessionStart)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 123456000, time.UTC), updated.SessionStart.UTC())
	require.NotNil(t, updated.ReviewLink)

	stored, err := entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusFinished, stored.Status)
	assert.JSONEq(t, `[{"type":"phone"}]`, string(stored.Warnings))
}

func TestApplyReview_RejectedCancelsEntry(t *testing.T) {
	l, _, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)

	updated, err := l.ApplyReview(ctx, ReviewUpdate{AccessCode: entry.AccessCode, Conclusion: "rejected"})
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusCanceled, updated.Status)
}

func TestApplyReview_UnknownConclusionKeepsStatus(t *testing.T) {
	l, _, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)

	updated, err := l.ApplyReview(ctx, ReviewUpdate{
		AccessCode: entry.AccessCode,
		Conclusion: "mysterious",
		Score:      floatp(3),
	})
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusNew, updated.Status)
	require.NotNil(t, updated.Score)
}

func TestApplyReview_ConcurrentStartNotLost(t *testing.T) {
	l, entries, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)

	// Attempt binding lands between the callback's lookup and its locked
	// section; the verdict must not erase it.
	entries.afterGet = func() {
		_, serr := l.OnAttemptStarted(ctx, 7, mod, 77, entry.AccessCode)
		assert.NoError(t, serr)
	}

	updated, err := l.ApplyReview(ctx, ReviewUpdate{AccessCode: entry.AccessCode, Conclusion: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusFinished, updated.Status)
	require.NotNil(t, updated.AttemptID)
	assert.Equal(t, int64(77), *updated.AttemptID)
}

func TestApplyReview_UnknownAccessCode(t *testing.T) {
	l, _, _, _ := newTestLifecycle(t)

	_, err := l.ApplyReview(context.Background(), ReviewUpdate{AccessCode: "nope"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestApplySchedule_ScheduledEventSetsSlot(t *testing.T) {
	l, _, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)

	updated, err := l.ApplySchedule(ctx, ScheduleUpdate{
		AccessCode: entry.AccessCode,
		Event:      "scheduled",
		StartAt:    strp("2026-03-11T14:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusScheduled, updated.Status)
	require.NotNil(t, updated.TimeScheduled)
	assert.Equal(t, time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC), updated.TimeScheduled.UTC())
}

func TestApplySchedule_OtherEventResetsUnboundEntry(t *testing.T) {
	l, entries, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)
	slot := strp("2026-03-11T14:00:00Z")
	_, err = l.ApplySchedule(ctx, ScheduleUpdate{AccessCode: entry.AccessCode, Event: "scheduled", StartAt: slot})
	require.NoError(t, err)

	fresh, err := l.ApplySchedule(ctx, ScheduleUpdate{AccessCode: entry.AccessCode, Event: "canceled"})
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, model.EntryStatusNew, fresh.Status)
	assert.NotEqual(t, entry.ID, fresh.ID)

	old, err := entries.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EntryStatusForceReset, old.Status)
}

func TestApplySchedule_ConcurrentStartSkipsReset(t *testing.T) {
	l, entries, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)

	// The entry looks unbound when the callback resolves it, but an
	// attempt binds it before the lock is taken. The reset branch must
	// see the bound row and leave it alone.
	entries.afterGet = func() {
		_, serr := l.OnAttemptStarted(ctx, 7, mod, 77, entry.AccessCode)
		assert.NoError(t, serr)
	}

	got, err := l.ApplySchedule(ctx, ScheduleUpdate{AccessCode: entry.AccessCode, Event: "canceled"})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, model.EntryStatusStarted, got.Status)
	assert.Len(t, entries.all(), 1)
}

func TestApplySchedule_BoundEntryUntouched(t *testing.T) {
	l, _, _, _ := newTestLifecycle(t)
	mod := quizModule(10, 1, 0)
	ctx := context.Background()

	entry, err := l.FindOrCreateEntry(ctx, 7, mod)
	require.NoError(t, err)
	_, err = l.OnAttemptStarted(ctx, 7, mod, 500, entry.AccessCode)
	require.NoError(t, err)

	got, err := l.ApplySchedule(ctx, ScheduleUpdate{AccessCode: entry.AccessCode, Event: "canceled"})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, model.EntryStatusStarted, got.Status)
}

func TestParseRemoteTime_AcceptsZonelessValues(t *testing.T) {
	got, err := parseRemoteTime("2026-03-10T09:00:00.5")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 0, 500000000, time.UTC), got)

	_, err = parseRemoteTime("not-a-date")
	assert.Error(t, err)
}
