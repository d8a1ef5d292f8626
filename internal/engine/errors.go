package engine

import (
	"errors"
	"fmt"
	"strings"

	"checkline/internal/domain"
)

// ErrConcurrentGeneration is observed by a generator run that lost the
// schedule claim race. The winning run produced the instance; callers see
// no new instance and no failure.
var ErrConcurrentGeneration = errors.New("schedule claimed by concurrent generator")

// InvalidTransitionError reports a lifecycle operation applied in the wrong
// state.
type InvalidTransitionError struct {
	From domain.InstanceStatus
	To   domain.InstanceStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid instance transition %s -> %s", e.From, e.To)
}

// IncompleteRequiredItemsError blocks completion while required items are
// unchecked.
type IncompleteRequiredItemsError struct {
	Missing []string
}

func (e IncompleteRequiredItemsError) Error() string {
	return fmt.Sprintf("required items not checked: %s", strings.Join(e.Missing, ", "))
}

// TemplateMissingError marks a schedule whose template cannot be loaded.
// Generation logs it, degrades the schedule, and moves on.
type TemplateMissingError struct {
	TemplateID string
	ScheduleID string
}

func (e TemplateMissingError) Error() string {
	return fmt.Sprintf("template %s missing for schedule %s", e.TemplateID, e.ScheduleID)
}
