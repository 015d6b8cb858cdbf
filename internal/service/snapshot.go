package service

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"time"

	"github.com/edulab/proctor-bridge/internal/model"
)

// supportedLanguages are the interface languages the provider accepts.
// Platform language codes are normalized (region suffix dropped) and fall
// back to English when unsupported.
var supportedLanguages = map[string]struct{}{
	"en": {}, "ru": {}, "es": {}, "fr": {}, "de": {},
	"it": {}, "pt": {}, "tr": {}, "kk": {}, "uk": {},
	"zh": {}, "ar": {}, "id": {},
}

func providerLanguage(code string) string {
	code = strings.ToLower(code)
	if i := strings.IndexAny(code, "_-"); i > 0 {
		code = code[:i]
	}
	if _, ok := supportedLanguages[code]; ok {
		return code
	}
	return "en"
}

// Snapshot is one fully-built provider payload plus its change-detection
// checksum.
type Snapshot struct {
	payload map[string]any
}

// Payload returns the payload map to send to the provider.
func (s *Snapshot) Payload() map[string]any {
	return s.payload
}

// Checksum returns the CRC-32 (IEEE) of the payload's key-sorted
// flattening, as fixed-width hex. Deliberately a weak hash: it only has to
// answer "did the configuration change since the last push".
func (s *Snapshot) Checksum() string {
	lines := flatten("", s.payload)
	sort.Strings(lines)
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(strings.Join(lines, "\n"))))
}

func flatten(prefix string, value any) []string {
	switch v := value.(type) {
	case map[string]any:
		var lines []string
		for key, child := range v {
			p := key
			if prefix != "" {
				p = prefix + "." + key
			}
			lines = append(lines, flatten(p, child)...)
		}
		return lines
	case map[string]bool:
		var lines []string
		for key, child := range v {
			lines = append(lines, flatten(prefix+"."+key, child)...)
		}
		return lines
	case map[string]int:
		var lines []string
		for key, child := range v {
			lines = append(lines, flatten(prefix+"."+key, child)...)
		}
		return lines
	case []string:
		var lines []string
		for i, child := range v {
			lines = append(lines, flatten(fmt.Sprintf("%s.%d", prefix, i), child)...)
		}
		return lines
	default:
		return []string{fmt.Sprintf("%s=%v", prefix, v)}
	}
}

// Snapshotter builds the provider payloads for modules and individual
// sessions.
type Snapshotter struct {
	accountID     string
	accountName   string
	includeEmails bool
	publicBaseURL string
}

// NewSnapshotter creates a new Snapshotter.
func NewSnapshotter(accountID, accountName string, includeEmails bool, publicBaseURL string) *Snapshotter {
	return &Snapshotter{
		accountID:     accountID,
		accountName:   accountName,
		includeEmails: includeEmails,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// ExamData builds the module-level exam configuration block.
func (s *Snapshotter) ExamData(mod *model.ModuleInfo) map[string]any {
	cond := mod.Condition

	data := map[string]any{
		"accountId":      s.accountID,
		"accountName":    s.accountName,
		"examId":         fmt.Sprintf("%d", mod.ID),
		"examName":       mod.Name,
		"courseName":     mod.CourseName,
		"duration":       cond.Duration,
		"schedule":       false,
		"proctoring":     cond.Mode,
		"identification": cond.IdentificationMode,
		"trial":          cond.IsTrial,
	}

	if cond.UserAgreementURL != "" {
		data["userAgreementUrl"] = cond.UserAgreementURL
	}

	data["auxiliaryCamera"] = cond.AuxiliaryCamera
	if cond.AuxiliaryCameraMode != "" {
		data["auxiliaryCameraMode"] = cond.AuxiliaryCameraMode
	}

	if scoring := cond.Scoring.Clamped().Map(); len(scoring) > 0 {
		data["scoreConfig"] = scoring
	}

	if len(cond.Warnings) > 0 {
		visible := make([]string, 0, len(cond.Warnings))
		for key, shown := range cond.Warnings {
			if shown {
				visible = append(visible, key)
			}
		}
		sort.Strings(visible)
		data["visibleWarnings"] = visible
	}

	data["ldb"] = cond.SecureBrowser
	if cond.SecureBrowser && cond.SecureBrowserLevel != "" {
		data["ldbLevel"] = cond.SecureBrowserLevel
	}

	rules := map[string]any{}
	for key, allowed := range cond.EffectiveRules() {
		rules[key] = allowed
	}
	if cond.CustomRules != "" {
		rules["custom_rules"] = cond.CustomRules
	}
	data["rules"] = rules

	return data
}

// TimeData builds the ISO-8601 UTC window block.
func (s *Snapshotter) TimeData(mod *model.ModuleInfo) map[string]any {
	w := mod.Window()
	return map[string]any{
		"startDate": w.Start.UTC().Format(time.RFC3339),
		"endDate":   w.End.UTC().Format(time.RFC3339),
	}
}

// UserData builds the learner identity block. Email is included only when
// the deployment opted in.
func (s *Snapshotter) UserData(user *model.UserInfo) map[string]any {
	data := map[string]any{
		"userId":    user.Username,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"language":  providerLanguage(user.Language),
	}
	if user.MiddleName != "" {
		data["thirdName"] = user.MiddleName
	}
	if s.includeEmails && user.Email != "" {
		data["email"] = user.Email
	}
	return data
}

// AttemptData builds the session block: the provider addresses the session
// by the entry's access code, and sends the learner back through the
// bridge's arrival endpoint.
func (s *Snapshotter) AttemptData(entry *model.ExamEntry) map[string]any {
	return map[string]any{
		"sessionId":  entry.AccessCode,
		"sessionUrl": fmt.Sprintf("%s/api/v1/arrival?access_code=%s", s.publicBaseURL, entry.AccessCode),
	}
}

// ModuleSnapshot builds the module-level payload covering every in-scope
// user. Its checksum gates the per-user pass.
func (s *Snapshotter) ModuleSnapshot(mod *model.ModuleInfo, userIDs []int64) *Snapshot {
	payload := s.ExamData(mod)
	for k, v := range s.TimeData(mod) {
		payload[k] = v
	}

	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	payload["userids"] = strings.Join(ids, ",")

	return &Snapshot{payload: payload}
}

// UserSnapshot builds the per-user payload actually pushed to the provider.
func (s *Snapshotter) UserSnapshot(mod *model.ModuleInfo, user *model.UserInfo, entry *model.ExamEntry) *Snapshot {
	payload := s.ExamData(mod)
	for k, v := range s.TimeData(mod) {
		payload[k] = v
	}
	for k, v := range s.UserData(user) {
		payload[k] = v
	}
	for k, v := range s.AttemptData(entry) {
		payload[k] = v
	}
	return &Snapshot{payload: payload}
}
