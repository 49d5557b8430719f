package project

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mazoezi/core"
)

var (
	priorityTag  = "priority"
	priorityText = "invalid priority; must be one of: low, medium, high"

	statusTag  = "progressstatus"
	statusText = "invalid status; must be one of: todo, inprogress, complete"

	dueDateTag  = "duedate"
	dueDateText = "invalid due date; expected YYYY-MM-DD"
)

func init() {
	_ = core.Validate.RegisterValidation(priorityTag, priorityValidation)
	core.RegisterCustomTranslation(priorityTag, priorityText)

	_ = core.Validate.RegisterValidation(statusTag, statusValidation)
	core.RegisterCustomTranslation(statusTag, statusText)

	_ = core.Validate.RegisterValidation(dueDateTag, dueDateValidation)
	core.RegisterCustomTranslation(dueDateTag, dueDateText)
}

func priorityValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, p := range AllPriorities {
		if val == p {
			return true
		}
	}
	return false
}

func statusValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, s := range AllStatuses {
		if val == s {
			return true
		}
	}
	return false
}

func dueDateValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, format := range dueDateFormats {
		if _, err := time.Parse(format, val); err == nil {
			return true
		}
	}
	return false
}
