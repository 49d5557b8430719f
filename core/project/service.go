package project

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/user"
)

var (
	ErrNotFound        = errors.New("project not found")
	ErrNotAssigned     = errors.New("not assigned to this project")
	ErrTraineeNotFound = errors.New("trainee not found")
)

type (
	// Scope restricts a project query to what the actor may see.
	Scope struct {
		// AssignedTo limits results to projects having this user in their
		// assigned set; empty means no restriction.
		AssignedTo string
		// StatusOwner limits the QueryFilter.Status match to this trainee's
		// own entry; empty matches any trainee's entry.
		StatusOwner string
	}

	Repository interface {
		// CreateProject persists the project fields and its assigned set as
		// one atomic unit.
		CreateProject(ctx context.Context, proj Project) (Project, error)
		GetProject(ctx context.Context, id string) (Project, error)
		// QueryProjects applies AND operation on available QueryFilter fields
		// within the given scope. Results are deduplicated: a project with
		// several qualifying progress entries appears once.
		QueryProjects(ctx context.Context, scope Scope, filter *QueryFilter, ordering []core.DBOrdering) ([]Project, error)
		// UpdateProject persists the project fields and, when assignees is
		// non-nil, replaces the assigned set, as one atomic unit.
		UpdateProject(ctx context.Context, proj Project, assignees []string) (Project, error)
		DeleteProjectsByID(ctx context.Context, ids ...string) error
		// GetOrCreateProgress returns the unique entry for (trainee, project),
		// creating it with default status if absent. Creation is idempotent:
		// concurrent first touches yield exactly one row.
		GetOrCreateProgress(ctx context.Context, projectID, traineeID string) (Progress, error)
		UpdateProgress(ctx context.Context, prog Progress) (Progress, error)
	}

	Service struct {
		repo    Repository
		usrRepo user.Repository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

func NewService(repo Repository, usrRepo user.Repository, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		usrRepo: usrRepo,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

// Query returns the projects visible to actor, role-scoped:
// trainers see all projects; trainees only those they are assigned to.
// A status filter restricts trainers to projects having any entry with that
// status, and trainees to projects where their own entry has it.
func (svc *Service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Project, error) {
	var scope Scope
	switch actor.Role {
	case user.RoleTrainer:
	case user.RoleTrainee:
		scope = Scope{AssignedTo: actor.ID, StatusOwner: actor.ID}
	default:
		// unauthenticated or unknown role: empty result, not an error
		return []Project{}, nil
	}
	return svc.repo.QueryProjects(ctx, scope, filter, ordering)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Project, error) {
	return svc.repo.GetProject(ctx, id)
}

func (svc *Service) Create(ctx context.Context, actor user.User, np NewProject) (Project, error) {
	now := time.Now().UTC()
	proj := Project{
		Title:       np.Title,
		Description: np.Description,
		Priority:    np.Priority,
		DueDate:     ParseDueDate(np.DueDate),
		CreatedBy:   null.StringFrom(actor.ID),
		CreatedAt:   now,
		UpdatedAt:   now,
		AssigneeIDs: np.AssignedTo,
	}
	proj, err := svc.repo.CreateProject(ctx, proj)
	if err != nil {
		return Project{}, errors.Wrap(err, "creating project")
	}
	svc.notifyAssignment(proj)
	return proj, nil
}

// Update persists a validated UpdateProject; a nil up.AssignedTo leaves the
// assigned set unchanged, an empty one clears it.
func (svc *Service) Update(ctx context.Context, id string, up UpdateProject) (Project, error) {
	proj := Project{
		ID:          id,
		Title:       up.Title,
		Description: up.Description,
		Priority:    up.Priority,
		DueDate:     ParseDueDate(up.DueDate),
		UpdatedAt:   time.Now().UTC(),
	}
	return svc.repo.UpdateProject(ctx, proj, up.AssignedTo)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteProjectsByID(ctx, ids...)
}

// GetMyProgress returns the actor's progress entry for the project,
// creating it with default status if absent.
// The actor must be in the project's assigned set.
func (svc *Service) GetMyProgress(ctx context.Context, actor user.User, projectID string) (Progress, error) {
	if err := svc.checkAssigned(ctx, actor, projectID); err != nil {
		return Progress{}, err
	}
	return svc.repo.GetOrCreateProgress(ctx, projectID, actor.ID)
}

// UpdateMyProgress applies a trainee-writable update to the actor's progress
// entry; route-level field scoping is re-checked upstream, assignment is
// re-checked here.
func (svc *Service) UpdateMyProgress(ctx context.Context, actor user.User, projectID string, pu ProgressUpdate) (Progress, error) {
	if err := svc.checkAssigned(ctx, actor, projectID); err != nil {
		return Progress{}, err
	}

	prog, err := svc.repo.GetOrCreateProgress(ctx, projectID, actor.ID)
	if err != nil {
		return Progress{}, err
	}

	if pu.Status != nil {
		prog.Status = *pu.Status
	}
	if pu.Report != nil {
		prog.Report = null.NewString(*pu.Report, *pu.Report != "")
	}
	if pu.DeploymentLink != nil {
		prog.DeploymentLink = null.NewString(*pu.DeploymentLink, *pu.DeploymentLink != "")
	}
	if pu.GithubLink != nil {
		prog.GithubLink = null.NewString(*pu.GithubLink, *pu.GithubLink != "")
	}

	if pu.CompletedAt != nil && *pu.CompletedAt != "" {
		// unparseable values leave the stored timestamp unchanged, no error
		if parsed := ParseCompletedAt(*pu.CompletedAt); parsed.Valid {
			prog.CompletedAt = parsed
		}
	} else if prog.Status == StatusComplete && !prog.CompletedAt.Valid {
		prog.CompletedAt = null.TimeFrom(time.Now().UTC())
	}

	prog.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateProgress(ctx, prog)
}

// Comment stores a trainer's comment on a trainee's progress entry for the
// project, creating the entry if absent. Comments are single-slot: the
// previous text is overwritten.
func (svc *Service) Comment(ctx context.Context, actor user.User, projectID string, ci CommentInput) (Progress, error) {
	// only trainers reach this via route permissions; keep defensive check
	if !actor.IsTrainer() {
		return Progress{}, ErrNotAssigned
	}
	if err := ci.Validate(); err != nil {
		return Progress{}, err
	}

	trainee, err := svc.usrRepo.GetUser(ctx, user.GetFilter{ID: ci.Trainee})
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Progress{}, ErrTraineeNotFound
		}
		return Progress{}, errors.Wrap(err, "finding trainee")
	}

	proj, err := svc.repo.GetProject(ctx, projectID)
	if err != nil {
		return Progress{}, err
	}
	if !proj.IsAssigned(trainee.ID) {
		return Progress{}, core.NewValidationError(
			nil, core.FieldError{Field: "trainee", Error: "trainee is not assigned to this project"})
	}

	prog, err := svc.repo.GetOrCreateProgress(ctx, projectID, trainee.ID)
	if err != nil {
		return Progress{}, err
	}
	prog.TrainerComment = null.StringFrom(ci.Comment)
	prog.UpdatedAt = time.Now().UTC()

	prog, err = svc.repo.UpdateProgress(ctx, prog)
	if err != nil {
		return Progress{}, err
	}
	svc.notifyComment(proj, trainee)
	return prog, nil
}

func (svc *Service) checkAssigned(ctx context.Context, actor user.User, projectID string) error {
	proj, err := svc.repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !proj.IsAssigned(actor.ID) {
		return ErrNotAssigned
	}
	return nil
}

func (svc *Service) notifyAssignment(proj Project) {
	msgs := make([]*core.EmailMessage, 0, len(proj.Assignees))
	for _, usr := range proj.Assignees {
		if usr.Email == "" {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject: "New mini-project assignment",
			BodyStr: fmt.Sprintf("Hi %s,\n\nYou have been assigned to the mini-project %q.", usr.Name, proj.Title),
		})
	}
	svc.mailSvc.SendMessages(msgs...)
}

func (svc *Service) notifyComment(proj Project, trainee user.User) {
	if trainee.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: trainee.Name, Address: trainee.Email}},
		Subject: "New trainer comment",
		BodyStr: fmt.Sprintf("Hi %s,\n\nA trainer commented on your progress for the mini-project %q.", trainee.Name, proj.Title),
	})
}

var completedAtFormats = []string{time.RFC3339, "2006-01-02T15:04:05"}

// ParseCompletedAt parses a client-sent completion timestamp. Shortened
// "date+hour+minute" values (datetime-local inputs) gain a zero-seconds
// suffix before parsing. An unparseable value yields a null time.
func ParseCompletedAt(val string) null.Time {
	for attempt := 0; attempt < 2; attempt++ {
		for _, format := range completedAtFormats {
			if t, err := time.Parse(format, val); err == nil {
				return null.TimeFrom(t.UTC())
			}
		}
		if len(val) != 16 {
			break
		}
		val += ":00"
	}
	return null.Time{}
}
