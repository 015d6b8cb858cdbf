package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntryStatus enumerates exam entry lifecycle states.
type EntryStatus string

const (
	EntryStatusNew         EntryStatus = "new"
	EntryStatusScheduled   EntryStatus = "scheduled"
	EntryStatusStarted     EntryStatus = "started"
	EntryStatusFinished    EntryStatus = "finished"
	EntryStatusRescheduled EntryStatus = "rescheduled"
	EntryStatusForceReset  EntryStatus = "force_reset"
	EntryStatusCanceled    EntryStatus = "canceled"
)

// Live reports whether the status still represents an active,
// un-concluded attempt slot.
func (s EntryStatus) Live() bool {
	switch s {
	case EntryStatusNew, EntryStatusScheduled, EntryStatusStarted:
		return true
	}
	return false
}

// Discarded reports whether the slot ended without consuming an attempt:
// it was rescheduled, canceled, or force-reset rather than used.
func (s EntryStatus) Discarded() bool {
	switch s {
	case EntryStatusRescheduled, EntryStatusCanceled, EntryStatusForceReset:
		return true
	}
	return false
}

// ExamEntry tracks one proctoring attempt-slot for a (user, module) pair.
// The access code is the opaque token correlating the entry with the
// remote proctoring session; it is assigned once and never reused.
type ExamEntry struct {
	ID         uuid.UUID   `json:"id"`
	UserID     int64       `json:"user_id"`
	CourseID   int64       `json:"course_id"`
	ModuleID   int64       `json:"module_id"`
	AccessCode string      `json:"access_code"`
	Status     EntryStatus `json:"status"`
	AttemptID  *int64      `json:"attempt_id,omitempty"`

	TimeCreated   time.Time  `json:"time_created"`
	TimeModified  time.Time  `json:"time_modified"`
	TimeScheduled *time.Time `json:"time_scheduled,omitempty"`

	// Review metadata reported back by the proctoring provider.
	// Stored opaquely; never interpreted by the lifecycle engine.
	SessionStart  *time.Time      `json:"session_start,omitempty"`
	SessionEnd    *time.Time      `json:"session_end,omitempty"`
	Score         *float64        `json:"score,omitempty"`
	Threshold     json.RawMessage `json:"threshold,omitempty"`
	Comment       *string         `json:"comment,omitempty"`
	Warnings      json.RawMessage `json:"warnings,omitempty"`
	WarningTitles json.RawMessage `json:"warning_titles,omitempty"`
	ReviewLink    *string         `json:"review_link,omitempty"`
}

// Scope identifies the (user, course, module) an entry belongs to.
type Scope struct {
	UserID   int64
	CourseID int64
	ModuleID int64
}

// Scope returns the entry's scope key.
func (e *ExamEntry) Scope() Scope {
	return Scope{UserID: e.UserID, CourseID: e.CourseID, ModuleID: e.ModuleID}
}
