package service

import (
	"context"
	"fmt"

	"github.com/edulab/proctor-bridge/internal/model"
)

// EligibilityPolicy decides whether a user is in scope for proctoring and
// how many attempt slots a module grants.
type EligibilityPolicy struct {
	directory PlatformDirectory
}

// NewEligibilityPolicy creates a new EligibilityPolicy.
func NewEligibilityPolicy(directory PlatformDirectory) *EligibilityPolicy {
	return &EligibilityPolicy{directory: directory}
}

// InScope reports whether proctoring applies to the user under the given
// condition. Group restriction fails open: an empty configured set, or a
// set whose every group has since been deleted, means everyone is
// proctored. A deleted group must not silently exempt users.
func (p *EligibilityPolicy) InScope(ctx context.Context, cond *model.ProctorCondition, courseID, userID int64) (bool, error) {
	if cond == nil {
		return false, nil
	}
	if len(cond.Groups) == 0 {
		return true, nil
	}

	existing, err := p.directory.ExistingGroupIDs(ctx, courseID, cond.Groups)
	if err != nil {
		return false, fmt.Errorf("resolve configured groups: %w", err)
	}
	if len(existing) == 0 {
		return true, nil
	}

	userGroups, err := p.directory.UserGroupIDs(ctx, courseID, userID)
	if err != nil {
		return false, fmt.Errorf("resolve user groups: %w", err)
	}
	for _, g := range existing {
		for _, ug := range userGroups {
			if g == ug {
				return true, nil
			}
		}
	}
	return false, nil
}

// AttemptLimit returns the module's attempt cap and whether a cap applies.
// Only quiz-type modules carry a cap, and a configured zero means
// unlimited attempts.
func (p *EligibilityPolicy) AttemptLimit(mod *model.ModuleInfo) (int, bool) {
	if mod.Type != model.ModuleTypeQuiz {
		return 0, false
	}
	if mod.MaxAttempts <= 0 {
		return 0, false
	}
	return mod.MaxAttempts, true
}

// UsedEntryCount counts the entries that consumed an attempt slot:
// everything except entries discarded by rescheduling, cancelation or a
// forced reset.
func UsedEntryCount(entries []model.ExamEntry) int {
	used := 0
	for i := range entries {
		if !entries[i].Status.Discarded() {
			used++
		}
	}
	return used
}
