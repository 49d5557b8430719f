package project

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/user"
)

// Priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Progress statuses. This is a flat enumeration: any value may transition
// to any other, there is no enforced ordering.
const (
	StatusTodo       = "todo"
	StatusInProgress = "inprogress"
	StatusComplete   = "complete"
)

var (
	AllPriorities = []string{PriorityLow, PriorityMedium, PriorityHigh}
	AllStatuses   = []string{StatusTodo, StatusInProgress, StatusComplete}
)

type Project struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Priority    string      `json:"priority"`
	DueDate     null.Time   `json:"due_date"`
	CreatedBy   null.String `json:"created_by"` // survives creator deletion
	CreatedAt   time.Time   `json:"created_at"` // UTC
	UpdatedAt   time.Time   `json:"updated_at"` // UTC

	// materialized relations; no lazy loading across layers
	AssigneeIDs     []string    `json:"assigned_to"`
	Assignees       []user.User `json:"assigned_to_details"`
	ProgressEntries []Progress  `json:"progress_entries"`
}

// IsAssigned reports whether usrID is in the project's assigned set.
func (p *Project) IsAssigned(usrID string) bool {
	for _, id := range p.AssigneeIDs {
		if id == usrID {
			return true
		}
	}
	return false
}

type Progress struct {
	ID             string      `json:"id"`
	TraineeID      string      `json:"trainee"`
	ProjectID      string      `json:"project"`
	Trainee        user.User   `json:"trainee_details"`
	Status         string      `json:"status"`
	Report         null.String `json:"report"`
	ReportURL      null.String `json:"report_url"`
	DeploymentLink null.String `json:"deployment_link"`
	GithubLink     null.String `json:"github_link"`
	TrainerComment null.String `json:"trainer_comment"`
	CompletedAt    null.Time   `json:"completed_at"`
	UpdatedAt      time.Time   `json:"updated_at"` // UTC
}

// NewProject contains information needed to create a new Project.
type NewProject struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description"`
	Priority    string   `json:"priority" validate:"omitempty,priority"`
	DueDate     string   `json:"due_date" validate:"omitempty,duedate"`
	AssignedTo  []string `json:"assigned_to"`
}

func (np *NewProject) Validate() error {
	np.Title = core.CleanString(np.Title)
	np.Description = core.CleanString(np.Description)
	np.Priority = core.CleanString(np.Priority, true /* lower */)
	np.DueDate = core.CleanString(np.DueDate)
	if np.Priority == "" {
		np.Priority = PriorityMedium
	}
	return core.Validate.Struct(np)
}

// UpdateProject defines what information may be provided to modify an existing Project.
// Blank fields keep their stored values after Validate.
// A nil AssignedTo leaves the assigned set unchanged; an empty one clears it.
type UpdateProject struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority" validate:"omitempty,priority"`
	DueDate     string   `json:"due_date" validate:"omitempty,duedate"`
	AssignedTo  []string `json:"assigned_to"`
}

func (up *UpdateProject) Validate(orig Project) error {
	if title := core.CleanString(up.Title); title != "" {
		up.Title = title
	} else {
		up.Title = orig.Title
	}
	if desc := core.CleanString(up.Description); desc != "" {
		up.Description = desc
	} else {
		up.Description = orig.Description
	}
	up.Priority = core.CleanString(up.Priority, true /* lower */)
	if up.Priority == "" {
		up.Priority = orig.Priority
	}
	up.DueDate = core.CleanString(up.DueDate)
	if up.DueDate == "" && orig.DueDate.Valid {
		up.DueDate = orig.DueDate.Time.Format(time.RFC3339)
	}
	return core.Validate.Struct(up)
}

// ProgressUpdate defines the trainee-writable subset of a Progress entry.
// Pointer fields distinguish "absent" from "set to empty".
type ProgressUpdate struct {
	Status         *string `json:"status" validate:"omitempty,progressstatus"`
	Report         *string `json:"report"`
	DeploymentLink *string `json:"deployment_link" validate:"omitempty,url"`
	GithubLink     *string `json:"github_link" validate:"omitempty,url"`
	CompletedAt    *string `json:"completed_at"`
}

func (pu *ProgressUpdate) Validate() error {
	if pu.Status != nil {
		status := core.CleanString(*pu.Status, true /* lower */)
		pu.Status = &status
	}
	return core.Validate.Struct(pu)
}

// CommentInput is a trainer's comment on a trainee's progress.
type CommentInput struct {
	Trainee string `json:"trainee" validate:"required"`
	Comment string `json:"comment" validate:"required"`
}

func (ci *CommentInput) Validate() error {
	ci.Comment = core.CleanString(ci.Comment)
	return core.Validate.Struct(ci)
}

type QueryFilter struct {
	Status     string `query:"status"`
	Priority   string `query:"priority"`
	DueDate    string `query:"due_date"`
	AssignedTo string `query:"assigned_to"`
	Search     string `query:"search"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Status == "" && qf.Priority == "" && qf.DueDate == "" && qf.AssignedTo == "" && qf.Search == ""
}

func (qf *QueryFilter) Clean() {
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Priority = core.CleanString(qf.Priority, true /* lower */)
	qf.DueDate = core.CleanString(qf.DueDate)
	qf.AssignedTo = core.CleanString(qf.AssignedTo)
	qf.Search = core.CleanString(qf.Search)
}

var dueDateFormats = []string{"2006-01-02", time.RFC3339}

// ParseDueDate parses a project due date; an empty value yields a null time.
func ParseDueDate(val string) null.Time {
	for _, format := range dueDateFormats {
		if t, err := time.Parse(format, val); err == nil {
			return null.TimeFrom(t.UTC())
		}
	}
	return null.Time{}
}
