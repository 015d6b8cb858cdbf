package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulab/proctor-bridge/internal/model"
)

func testSnapshotter() *Snapshotter {
	return NewSnapshotter("acc-1", "EduLab", false, "https://bridge.test/")
}

func intp(v int) *int { return &v }

func TestChecksum_StableAcrossMapOrder(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)

	// Maps iterate in random order; repeated builds must agree.
	sums := map[string]struct{}{}
	for i := 0; i < 20; i++ {
		sums[snap.ModuleSnapshot(mod, []int64{7, 8, 9}).Checksum()] = struct{}{}
	}
	assert.Len(t, sums, 1)
}

func TestChecksum_ChangesWithConfiguration(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)
	base := snap.ModuleSnapshot(mod, []int64{7}).Checksum()

	changed := quizModule(10, 1, 0)
	changed.Condition.Duration = 90
	assert.NotEqual(t, base, snap.ModuleSnapshot(changed, []int64{7}).Checksum())

	scored := quizModule(10, 1, 0)
	scored.Condition.Scoring.CheaterLevel = intp(80)
	assert.NotEqual(t, base, snap.ModuleSnapshot(scored, []int64{7}).Checksum())

	// Roster changes count as configuration changes too.
	assert.NotEqual(t, base, snap.ModuleSnapshot(mod, []int64{7, 8}).Checksum())
}

func TestExamData_ScoringClampedAndNilOmitted(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)
	mod.Condition.Scoring = model.Scoring{
		CheaterLevel: intp(150),
		LookAway:     intp(-3),
	}

	data := snap.ExamData(mod)
	score, ok := data["scoreConfig"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 100, score["cheater_level"])
	assert.Equal(t, 0, score["look_away"])
	_, hasVoice := score["voice"]
	assert.False(t, hasVoice)
}

func TestExamData_RulesMergedOverDefaults(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)
	mod.Condition.Rules = map[string]bool{"allow_to_use_books": true}
	mod.Condition.CustomRules = "No headphones."

	data := snap.ExamData(mod)
	rules, ok := data["rules"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, rules["allow_to_use_books"])
	assert.Equal(t, true, rules["allow_to_use_paper"])
	assert.Equal(t, false, rules["allow_to_use_messengers"])
	assert.Equal(t, "No headphones.", rules["custom_rules"])
}

func TestExamData_VisibleWarningsSorted(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)
	mod.Condition.Warnings = map[string]bool{
		"warning_phone":   true,
		"warning_absence": true,
		"warning_voice":   false,
	}

	data := snap.ExamData(mod)
	assert.Equal(t, []string{"warning_absence", "warning_phone"}, data["visibleWarnings"])
}

func TestTimeData_FallbackWindow(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)
	mod.TimeOpen = nil
	mod.TimeClose = nil

	data := snap.TimeData(mod)
	assert.Equal(t, "2022-01-01T00:00:00Z", data["startDate"])
	assert.Equal(t, "2032-01-01T00:00:00Z", data["endDate"])
}

func TestUserData_EmailGatedAndLanguageNormalized(t *testing.T) {
	user := &model.UserInfo{
		ID:        7,
		Username:  "jdoe",
		FirstName: "Jo",
		LastName:  "Doe",
		Email:     "jo@example.com",
		Language:  "pt_BR",
	}

	withoutEmail := testSnapshotter().UserData(user)
	_, hasEmail := withoutEmail["email"]
	assert.False(t, hasEmail)
	assert.Equal(t, "jdoe", withoutEmail["userId"])
	assert.Equal(t, "pt", withoutEmail["language"])

	withEmail := NewSnapshotter("acc-1", "EduLab", true, "https://bridge.test").UserData(user)
	assert.Equal(t, "jo@example.com", withEmail["email"])

	user.Language = "xx"
	assert.Equal(t, "en", testSnapshotter().UserData(user)["language"])
}

func TestUserSnapshot_CarriesSessionLink(t *testing.T) {
	snap := testSnapshotter()
	mod := quizModule(10, 1, 0)
	user := &model.UserInfo{ID: 7, Username: "jdoe", FirstName: "Jo", LastName: "Doe"}
	entry := &model.ExamEntry{AccessCode: "code-123"}

	payload := snap.UserSnapshot(mod, user, entry).Payload()
	assert.Equal(t, "code-123", payload["sessionId"])
	assert.Equal(t, "https://bridge.test/api/v1/arrival?access_code=code-123", payload["sessionUrl"])
	assert.Equal(t, "10", payload["examId"])
	assert.Equal(t, "jdoe", payload["userId"])
}
