package model

import "encoding/json"

// Proctoring modes accepted by the provider.
const (
	ModeOnline         = "online"
	ModeOffline        = "offline"
	ModeAuto           = "auto"
	ModeIdentification = "identification"
)

// DefaultRules are the provider rule flags and their defaults. A module's
// condition may override any subset; unknown flags are passed through.
var DefaultRules = map[string]bool{
	"allow_to_use_websites":        false,
	"allow_to_use_books":           false,
	"allow_to_use_paper":           true,
	"allow_to_use_messengers":      false,
	"allow_to_use_calculator":      true,
	"allow_to_use_excel":           false,
	"allow_to_use_human_assistant": false,
	"allow_absence_in_frame":       false,
	"allow_voices":                 false,
	"allow_wrong_gaze_direction":   false,
}

const (
	// ScoreMin and ScoreMax bound every scoring threshold. Values outside
	// the range are clamped, never rejected.
	ScoreMin = 0
	ScoreMax = 100
)

// Scoring holds per-violation thresholds. Nil fields mean "not configured"
// and are omitted from payloads sent to the provider, which distinguishes
// unset from zero.
type Scoring struct {
	CheaterLevel        *int `json:"cheater_level,omitempty"`
	ExtraUser           *int `json:"extra_user,omitempty"`
	UserReplaced        *int `json:"user_replaced,omitempty"`
	AbsentUser          *int `json:"absent_user,omitempty"`
	LookAway            *int `json:"look_away,omitempty"`
	ActiveWindowChanged *int `json:"active_window_changed,omitempty"`
	ForbiddenDevice     *int `json:"forbidden_device,omitempty"`
	Voice               *int `json:"voice,omitempty"`
	Phone               *int `json:"phone,omitempty"`
}

// Clamped returns a copy with every configured threshold clamped
// to [ScoreMin, ScoreMax].
func (s Scoring) Clamped() Scoring {
	clamp := func(v *int) *int {
		if v == nil {
			return nil
		}
		n := *v
		if n < ScoreMin {
			n = ScoreMin
		}
		if n > ScoreMax {
			n = ScoreMax
		}
		return &n
	}
	return Scoring{
		CheaterLevel:        clamp(s.CheaterLevel),
		ExtraUser:           clamp(s.ExtraUser),
		UserReplaced:        clamp(s.UserReplaced),
		AbsentUser:          clamp(s.AbsentUser),
		LookAway:            clamp(s.LookAway),
		ActiveWindowChanged: clamp(s.ActiveWindowChanged),
		ForbiddenDevice:     clamp(s.ForbiddenDevice),
		Voice:               clamp(s.Voice),
		Phone:               clamp(s.Phone),
	}
}

// Map returns the configured thresholds as a flat map, nil fields omitted.
func (s Scoring) Map() map[string]int {
	out := map[string]int{}
	put := func(key string, v *int) {
		if v != nil {
			out[key] = *v
		}
	}
	put("cheater_level", s.CheaterLevel)
	put("extra_user", s.ExtraUser)
	put("user_replaced", s.UserReplaced)
	put("absent_user", s.AbsentUser)
	put("look_away", s.LookAway)
	put("active_window_changed", s.ActiveWindowChanged)
	put("forbidden_device", s.ForbiddenDevice)
	put("voice", s.Voice)
	put("phone", s.Phone)
	return out
}

// ProctorCondition is the per-module proctoring configuration, stored by
// the host platform as JSON on the module row. A nil condition means
// proctoring is disabled for the module.
type ProctorCondition struct {
	// Duration of the proctored session in minutes.
	Duration int    `json:"duration"`
	Mode     string `json:"mode"`
	// IdentificationMode: face_and_passport, passport, face or skip.
	IdentificationMode string `json:"identification_mode"`

	AutoRescheduling   bool `json:"auto_rescheduling"`
	SchedulingRequired bool `json:"scheduling_required"`
	IsTrial            bool `json:"is_trial"`

	AuxiliaryCamera     bool   `json:"auxiliary_camera"`
	AuxiliaryCameraMode string `json:"auxiliary_camera_mode,omitempty"`

	SecureBrowser      bool   `json:"secure_browser"`
	SecureBrowserLevel string `json:"secure_browser_level,omitempty"`

	Rules       map[string]bool `json:"rules,omitempty"`
	CustomRules string          `json:"custom_rules,omitempty"`
	Scoring     Scoring         `json:"scoring"`
	// Warnings maps provider AI alert keys to their learner visibility.
	Warnings map[string]bool `json:"warnings,omitempty"`

	UserAgreementURL string `json:"user_agreement_url,omitempty"`

	// Groups restricts proctoring to users in at least one of the listed
	// platform groups. Empty means everyone is in scope.
	Groups []int64 `json:"groups,omitempty"`
}

// ParseCondition decodes a condition JSON blob. Empty input yields nil,
// meaning proctoring is not enabled for the module.
func ParseCondition(raw []byte) (*ProctorCondition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var c ProctorCondition
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// EffectiveRules merges the condition's rule overrides over DefaultRules.
func (c *ProctorCondition) EffectiveRules() map[string]bool {
	rules := make(map[string]bool, len(DefaultRules)+len(c.Rules))
	for k, v := range DefaultRules {
		rules[k] = v
	}
	for k, v := range c.Rules {
		rules[k] = v
	}
	return rules
}
