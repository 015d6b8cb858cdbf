package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edulab/proctor-bridge/internal/model"
	"github.com/edulab/proctor-bridge/internal/response"
	"github.com/edulab/proctor-bridge/internal/service"
)

func postJSON(w *httptest.ResponseRecorder, path, body string) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c
}

func TestAttemptStarted_BindsLiveEntry(t *testing.T) {
	mod := cappedQuiz(10, 1)
	store := &stubEntryStore{entries: []model.ExamEntry{{
		ID:         uuid.New(),
		UserID:     7,
		CourseID:   1,
		ModuleID:   10,
		AccessCode: "pending",
		Status:     model.EntryStatusNew,
	}}}
	mods := &stubModules{modules: map[int64]*model.ModuleInfo{10: mod}}
	lifecycle := service.NewEntryLifecycle(store, nil, mods, nil, "https://lms.test", zerolog.Nop())
	h := NewEventHandler(lifecycle, mods, service.NewEligibilityPolicy(nil))

	w := httptest.NewRecorder()
	c := postJSON(w, "/api/v1/events/attempt-started", `{"user_id":7,"module_id":10,"attempt_id":77}`)
	h.AttemptStarted(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.EntryStatusStarted, store.entries[0].Status)
}

func TestAttemptStarted_ExhaustedSlotsConflict(t *testing.T) {
	mod := cappedQuiz(10, 1)
	spent := int64(12)
	store := &stubEntryStore{entries: []model.ExamEntry{{
		ID:         uuid.New(),
		UserID:     7,
		CourseID:   1,
		ModuleID:   10,
		AccessCode: "used-up",
		Status:     model.EntryStatusFinished,
		AttemptID:  &spent,
	}}}
	mods := &stubModules{modules: map[int64]*model.ModuleInfo{10: mod}}
	lifecycle := service.NewEntryLifecycle(store, nil, mods, nil, "https://lms.test", zerolog.Nop())
	h := NewEventHandler(lifecycle, mods, service.NewEligibilityPolicy(nil))

	w := httptest.NewRecorder()
	c := postJSON(w, "/api/v1/events/attempt-started", `{"user_id":7,"module_id":10,"attempt_id":77}`)
	h.AttemptStarted(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), string(response.ErrExamUnavailable))
}

func TestAttemptStarted_UnknownModuleAcknowledged(t *testing.T) {
	mods := &stubModules{modules: map[int64]*model.ModuleInfo{}}
	h := NewEventHandler(nil, mods, service.NewEligibilityPolicy(nil))

	w := httptest.NewRecorder()
	c := postJSON(w, "/api/v1/events/attempt-started", `{"user_id":7,"module_id":99,"attempt_id":77}`)
	h.AttemptStarted(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"handled":false`)
}
