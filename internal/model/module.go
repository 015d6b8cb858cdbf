package model

import "time"

// ModuleType distinguishes how a course module exposes its time window
// and attempt limit.
type ModuleType string

const (
	ModuleTypeQuiz       ModuleType = "quiz"
	ModuleTypeAssignment ModuleType = "assign"
)

// Fallback window applied when a module has no open/close configured.
// The provider requires a concrete bracket, so an unconfigured module is
// treated as open from the far past to the far future.
var (
	FallbackWindowStart = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	FallbackWindowEnd   = time.Date(2032, 1, 1, 0, 0, 0, 0, time.UTC)
)

// TimeWindow is the eligibility bracket a proctored session must fall in.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ModuleInfo is the platform-owned metadata the engine needs about one
// course module. Read, never written.
type ModuleInfo struct {
	ID         int64      `json:"id"`
	CourseID   int64      `json:"course_id"`
	Name       string     `json:"name"`
	CourseName string     `json:"course_name"`
	Type       ModuleType `json:"type"`

	// MaxAttempts is the module's configured attempt cap.
	// Zero means unbounded; only quiz-type modules carry a cap at all.
	MaxAttempts int `json:"max_attempts"`

	TimeOpen  *time.Time `json:"time_open,omitempty"`
	TimeClose *time.Time `json:"time_close,omitempty"`

	// Condition is nil when proctoring is not enabled for this module.
	Condition *ProctorCondition `json:"condition,omitempty"`
}

// Window returns the module's eligibility window, substituting the
// documented fallback bounds for missing open/close times.
func (m *ModuleInfo) Window() TimeWindow {
	w := TimeWindow{Start: FallbackWindowStart, End: FallbackWindowEnd}
	if m.TimeOpen != nil && !m.TimeOpen.IsZero() {
		w.Start = *m.TimeOpen
	}
	if m.TimeClose != nil && !m.TimeClose.IsZero() {
		w.End = *m.TimeClose
	}
	return w
}

// HasKnownWindow reports whether both bounds were actually configured.
// The sweep only reconciles modules with a real window.
func (m *ModuleInfo) HasKnownWindow() bool {
	return m.TimeOpen != nil && !m.TimeOpen.IsZero() &&
		m.TimeClose != nil && !m.TimeClose.IsZero()
}

// UserInfo is the platform-owned identity data included in per-user
// payloads sent to the provider.
type UserInfo struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	MiddleName string `json:"middle_name,omitempty"`
	Email      string `json:"email,omitempty"`
	Language   string `json:"language,omitempty"`
}
