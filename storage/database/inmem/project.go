package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
)

type projectRepository struct {
	db *DB
}

var _ project.Repository = (*projectRepository)(nil)

func NewProjectRepository(db *DB) *projectRepository {
	return &projectRepository{db: db}
}

// materialize returns a detached copy of the project with its assigned set
// and progress entries filled in. Callers must hold the db lock.
func (repo *projectRepository) materialize(proj project.Project) project.Project {
	proj.AssigneeIDs = []string{}
	proj.Assignees = []user.User{}
	proj.ProgressEntries = []project.Progress{}

	for _, usrID := range repo.db.assignees[proj.ID] {
		usr, ok := repo.db.users[usrID]
		if !ok {
			continue
		}
		proj.AssigneeIDs = append(proj.AssigneeIDs, usrID)
		proj.Assignees = append(proj.Assignees, *usr)
	}

	for key, prog := range repo.db.progress {
		if key.projectID != proj.ID {
			continue
		}
		entry := *prog
		if usr, ok := repo.db.users[entry.TraineeID]; ok {
			entry.Trainee = *usr
		}
		proj.ProgressEntries = append(proj.ProgressEntries, entry)
	}
	sort.Slice(proj.ProgressEntries, func(i, j int) bool {
		return proj.ProgressEntries[i].TraineeID < proj.ProgressEntries[j].TraineeID
	})
	return proj
}

func (repo *projectRepository) CreateProject(_ context.Context, proj project.Project) (project.Project, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	proj.ID = uuid.New().String()
	assignees := proj.AssigneeIDs
	proj.AssigneeIDs = nil

	stored := proj
	repo.db.projects[proj.ID] = &stored
	for _, usrID := range assignees {
		repo.addAssignee(proj.ID, usrID)
	}
	return repo.materialize(stored), nil
}

func (repo *projectRepository) GetProject(_ context.Context, id string) (project.Project, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if proj, ok := repo.db.projects[id]; ok {
		return repo.materialize(*proj), nil
	}
	return project.Project{}, project.ErrNotFound
}

func (repo *projectRepository) QueryProjects(
	_ context.Context,
	scope project.Scope,
	filter *project.QueryFilter,
	ordering []core.DBOrdering,
) ([]project.Project, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	projs := make([]project.Project, 0)
	for _, proj := range repo.db.projects {
		p := repo.materialize(*proj)
		if scope.AssignedTo != "" && !p.IsAssigned(scope.AssignedTo) {
			continue
		}
		if filter != nil && !repo.match(p, scope, filter) {
			continue
		}
		projs = append(projs, p)
	}

	sortProjects(projs, ordering)
	return projs, nil
}

func (repo *projectRepository) match(proj project.Project, scope project.Scope, filter *project.QueryFilter) bool {
	if filter.Status != "" {
		var found bool
		for _, entry := range proj.ProgressEntries {
			if entry.Status != filter.Status {
				continue
			}
			if scope.StatusOwner != "" && entry.TraineeID != scope.StatusOwner {
				continue
			}
			found = true
			break
		}
		if !found {
			return false
		}
	}
	if filter.Priority != "" && proj.Priority != filter.Priority {
		return false
	}
	if filter.DueDate != "" {
		due := project.ParseDueDate(filter.DueDate)
		if !proj.DueDate.Valid || !due.Valid {
			return false
		}
		y1, m1, d1 := proj.DueDate.Time.UTC().Date()
		y2, m2, d2 := due.Time.UTC().Date()
		if y1 != y2 || m1 != m2 || d1 != d2 {
			return false
		}
	}
	if filter.AssignedTo != "" && !proj.IsAssigned(filter.AssignedTo) {
		return false
	}
	if filter.Search != "" {
		kw := strings.ToLower(filter.Search)
		if !(strings.Contains(strings.ToLower(proj.Title), kw) ||
			strings.Contains(strings.ToLower(proj.Description), kw)) {
			return false
		}
	}
	return true
}

func (repo *projectRepository) UpdateProject(_ context.Context, proj project.Project, assignees []string) (project.Project, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.projects[proj.ID]
	if !ok {
		return project.Project{}, project.ErrNotFound
	}
	orig.Title = proj.Title
	orig.Description = proj.Description
	orig.Priority = proj.Priority
	orig.DueDate = proj.DueDate
	orig.UpdatedAt = proj.UpdatedAt

	// nil leaves the assigned set unchanged; empty clears it
	if assignees != nil {
		repo.db.assignees[proj.ID] = nil
		for _, usrID := range assignees {
			repo.addAssignee(proj.ID, usrID)
		}
	}
	return repo.materialize(*orig), nil
}

func (repo *projectRepository) DeleteProjectsByID(_ context.Context, ids ...string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, id := range ids {
		delete(repo.db.projects, id)
		delete(repo.db.assignees, id)
		for key := range repo.db.progress {
			if key.projectID == id {
				delete(repo.db.progress, key)
			}
		}
	}
	return nil
}

func (repo *projectRepository) GetOrCreateProgress(_ context.Context, projectID, traineeID string) (project.Progress, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := progressKey{traineeID: traineeID, projectID: projectID}
	if prog, ok := repo.db.progress[key]; ok {
		return repo.withTrainee(*prog), nil
	}

	prog := project.Progress{
		ID:        uuid.New().String(),
		TraineeID: traineeID,
		ProjectID: projectID,
		Status:    project.StatusTodo,
		UpdatedAt: time.Now().UTC(),
	}
	repo.db.progress[key] = &prog
	return repo.withTrainee(prog), nil
}

func (repo *projectRepository) UpdateProgress(_ context.Context, prog project.Progress) (project.Progress, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := progressKey{traineeID: prog.TraineeID, projectID: prog.ProjectID}
	orig, ok := repo.db.progress[key]
	if !ok {
		return project.Progress{}, project.ErrNotFound
	}
	orig.Status = prog.Status
	orig.Report = prog.Report
	orig.DeploymentLink = prog.DeploymentLink
	orig.GithubLink = prog.GithubLink
	orig.TrainerComment = prog.TrainerComment
	orig.CompletedAt = prog.CompletedAt
	orig.UpdatedAt = prog.UpdatedAt
	return repo.withTrainee(*orig), nil
}

func (repo *projectRepository) withTrainee(prog project.Progress) project.Progress {
	if usr, ok := repo.db.users[prog.TraineeID]; ok {
		prog.Trainee = *usr
	}
	return prog
}

func (repo *projectRepository) addAssignee(projectID, usrID string) {
	for _, id := range repo.db.assignees[projectID] {
		if id == usrID {
			return
		}
	}
	repo.db.assignees[projectID] = append(repo.db.assignees[projectID], usrID)
}

func sortProjects(projs []project.Project, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}} // latest first
	}
	ord := ordering[0]
	sort.Slice(projs, func(i, j int) bool {
		var less bool
		switch ord.Field {
		case "due_date":
			less = projs[i].DueDate.Time.Before(projs[j].DueDate.Time)
		case "priority":
			less = projs[i].Priority < projs[j].Priority
		default:
			less = projs[i].CreatedAt.Before(projs[j].CreatedAt)
		}
		if ord.Ascending {
			return less
		}
		return !less
	})
}
