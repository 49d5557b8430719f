package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
)

type projectRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	Priority    string      `db:"priority"`
	DueDate     null.Time   `db:"due_date"`
	CreatedBy   null.String `db:"created_by"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r projectRow) unpack() project.Project {
	return project.Project{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		DueDate:     r.DueDate,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type progressRow struct {
	ID             string      `db:"id"`
	TraineeID      string      `db:"trainee_id"`
	ProjectID      string      `db:"project_id"`
	Status         string      `db:"status"`
	Report         null.String `db:"report"`
	DeploymentLink null.String `db:"deployment_link"`
	GithubLink     null.String `db:"github_link"`
	TrainerComment null.String `db:"trainer_comment"`
	CompletedAt    null.Time   `db:"completed_at"`
	UpdatedAt      time.Time   `db:"updated_at"`

	// trainee details, joined
	TraineeName     null.String `db:"trainee_name"`
	TraineeUsername null.String `db:"trainee_username"`
	TraineeEmail    null.String `db:"trainee_email"`
}

func (r progressRow) unpack() project.Progress {
	return project.Progress{
		ID:        r.ID,
		TraineeID: r.TraineeID,
		ProjectID: r.ProjectID,
		Trainee: user.User{
			ID:       r.TraineeID,
			Name:     r.TraineeName.String,
			Username: r.TraineeUsername.String,
			Email:    r.TraineeEmail.String,
		},
		Status:         r.Status,
		Report:         r.Report,
		DeploymentLink: r.DeploymentLink,
		GithubLink:     r.GithubLink,
		TrainerComment: r.TrainerComment,
		CompletedAt:    r.CompletedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const progressSelect = `
	SELECT tp.*, u.name AS trainee_name, u.username AS trainee_username, u.email AS trainee_email
	FROM trainee_progress tp
	JOIN "user" u ON u.id = tp.trainee_id`

type projectRepository struct {
	db *sqlx.DB
}

var _ project.Repository = (*projectRepository)(nil) // interface compliance check

func NewProjectRepository(db *sqlx.DB) *projectRepository {
	return &projectRepository{db: db}
}

func (repo projectRepository) CreateProject(ctx context.Context, proj project.Project) (project.Project, error) {
	proj.ID = uuid.New().String()

	// project fields and assigned set are one atomic unit
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	query := tx.Rebind(`
		INSERT INTO project (id, title, description, priority, due_date, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(
		ctx, query,
		proj.ID, proj.Title, proj.Description, proj.Priority,
		proj.DueDate, proj.CreatedBy, proj.CreatedAt.UTC(), proj.UpdatedAt.UTC(),
	)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "inserting project")
	}

	if err = setAssignees(ctx, tx, proj.ID, proj.AssigneeIDs); err != nil {
		return project.Project{}, err
	}

	if err = tx.Commit(); err != nil {
		return project.Project{}, errors.Wrap(err, "committing tx")
	}
	return repo.GetProject(ctx, proj.ID)
}

func (repo projectRepository) GetProject(ctx context.Context, id string) (project.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return project.Project{}, project.ErrNotFound
	}

	var row projectRow
	if err := repo.db.GetContext(ctx, &row, repo.db.Rebind(`SELECT * FROM project WHERE id = ?`), id); err != nil {
		if err == sql.ErrNoRows {
			return project.Project{}, project.ErrNotFound
		}
		return project.Project{}, errors.Wrap(err, "finding project")
	}

	projs, err := repo.loadRelations(ctx, []project.Project{row.unpack()})
	if err != nil {
		return project.Project{}, err
	}
	return projs[0], nil
}

func (repo projectRepository) QueryProjects(
	ctx context.Context,
	scope project.Scope,
	filter *project.QueryFilter,
	ordering []core.DBOrdering,
) ([]project.Project, error) {
	query := `SELECT DISTINCT p.* FROM project p`
	var conds []string
	var args []interface{}

	if scope.AssignedTo != "" {
		query += ` JOIN project_assignee pa ON pa.project_id = p.id`
		conds = append(conds, "pa.user_id = ?")
		args = append(args, scope.AssignedTo)
	}

	if filter != nil {
		if filter.Status != "" {
			query += ` JOIN trainee_progress tp ON tp.project_id = p.id`
			conds = append(conds, "tp.status = ?")
			args = append(args, filter.Status)
			if scope.StatusOwner != "" {
				conds = append(conds, "tp.trainee_id = ?")
				args = append(args, scope.StatusOwner)
			}
		}
		if filter.Priority != "" {
			conds = append(conds, "p.priority = ?")
			args = append(args, filter.Priority)
		}
		if filter.DueDate != "" {
			conds = append(conds, "p.due_date::date = ?::date")
			args = append(args, filter.DueDate)
		}
		if filter.AssignedTo != "" {
			conds = append(conds, "EXISTS (SELECT 1 FROM project_assignee fa WHERE fa.project_id = p.id AND fa.user_id = ?)")
			args = append(args, filter.AssignedTo)
		}
		if filter.Search != "" {
			conds = append(conds, "(p.title ILIKE ? OR p.description ILIKE ?)")
			val := "%" + filter.Search + "%"
			args = append(args, val, val)
		}
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + orderingSQL(prefixOrdering(ordering), "p.created_at DESC")

	var rows []projectRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying projects")
	}

	projs := make([]project.Project, 0, len(rows))
	for _, row := range rows {
		projs = append(projs, row.unpack())
	}
	return repo.loadRelations(ctx, projs)
}

func (repo projectRepository) UpdateProject(ctx context.Context, proj project.Project, assignees []string) (project.Project, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	query := tx.Rebind(`
		UPDATE project SET title = ?, description = ?, priority = ?, due_date = ?, updated_at = ?
		WHERE id = ?`)
	res, err := tx.ExecContext(ctx, query, proj.Title, proj.Description, proj.Priority, proj.DueDate, proj.UpdatedAt.UTC(), proj.ID)
	if err != nil {
		return project.Project{}, errors.Wrap(err, "updating project")
	}
	if cnt, err := res.RowsAffected(); err == nil && cnt == 0 {
		return project.Project{}, project.ErrNotFound
	}

	// nil leaves the assigned set unchanged; empty clears it
	if assignees != nil {
		if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM project_assignee WHERE project_id = ?`), proj.ID); err != nil {
			return project.Project{}, errors.Wrap(err, "clearing assignees")
		}
		if err = setAssignees(ctx, tx, proj.ID, assignees); err != nil {
			return project.Project{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return project.Project{}, errors.Wrap(err, "committing tx")
	}
	return repo.GetProject(ctx, proj.ID)
}

func (repo projectRepository) DeleteProjectsByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM project WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "deleting projects")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting projects")
	}
	return nil
}

func (repo projectRepository) GetOrCreateProgress(ctx context.Context, projectID, traineeID string) (project.Progress, error) {
	// the (trainee, project) unique constraint makes this race-free across
	// concurrent handler instances: losers no-op and refetch the winner's row
	query := repo.db.Rebind(`
		INSERT INTO trainee_progress (id, trainee_id, project_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trainee_id, project_id) DO NOTHING`)
	_, err := repo.db.ExecContext(ctx, query, uuid.New().String(), traineeID, projectID, project.StatusTodo, time.Now().UTC())
	if err != nil {
		return project.Progress{}, errors.Wrap(err, "inserting progress")
	}

	var row progressRow
	query = repo.db.Rebind(progressSelect + ` WHERE tp.trainee_id = ? AND tp.project_id = ?`)
	if err = repo.db.GetContext(ctx, &row, query, traineeID, projectID); err != nil {
		return project.Progress{}, errors.Wrap(err, "finding progress")
	}
	return row.unpack(), nil
}

func (repo projectRepository) UpdateProgress(ctx context.Context, prog project.Progress) (project.Progress, error) {
	query := repo.db.Rebind(`
		UPDATE trainee_progress
		SET status = ?, report = ?, deployment_link = ?, github_link = ?, trainer_comment = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`)
	_, err := repo.db.ExecContext(
		ctx, query,
		prog.Status, prog.Report, prog.DeploymentLink, prog.GithubLink,
		prog.TrainerComment, prog.CompletedAt, prog.UpdatedAt.UTC(), prog.ID,
	)
	if err != nil {
		return project.Progress{}, errors.Wrap(err, "updating progress")
	}

	var row progressRow
	if err = repo.db.GetContext(ctx, &row, repo.db.Rebind(progressSelect+` WHERE tp.id = ?`), prog.ID); err != nil {
		return project.Progress{}, errors.Wrap(err, "finding progress")
	}
	return row.unpack(), nil
}

// loadRelations materializes assignees and progress entries for the given
// projects in two queries; no lazy loading leaks across layers.
func (repo projectRepository) loadRelations(ctx context.Context, projs []project.Project) ([]project.Project, error) {
	if len(projs) == 0 {
		return projs, nil
	}
	ids := make([]string, 0, len(projs))
	idx := make(map[string]int, len(projs))
	for i, p := range projs {
		ids = append(ids, p.ID)
		idx[p.ID] = i
		projs[i].AssigneeIDs = []string{}
		projs[i].Assignees = []user.User{}
		projs[i].ProgressEntries = []project.Progress{}
	}

	// assignees
	type assigneeRow struct {
		ProjectID string `db:"project_id"`
		userRow
	}
	query, args, err := sqlx.In(`
		SELECT pa.project_id, u.* FROM project_assignee pa
		JOIN "user" u ON u.id = pa.user_id
		WHERE pa.project_id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "loading assignees")
	}
	var aRows []assigneeRow
	if err = repo.db.SelectContext(ctx, &aRows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "loading assignees")
	}
	for _, row := range aRows {
		i := idx[row.ProjectID]
		projs[i].AssigneeIDs = append(projs[i].AssigneeIDs, row.ID)
		projs[i].Assignees = append(projs[i].Assignees, row.unpack())
	}

	// progress entries
	query, args, err = sqlx.In(progressSelect+` WHERE tp.project_id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "loading progress entries")
	}
	var pRows []progressRow
	if err = repo.db.SelectContext(ctx, &pRows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "loading progress entries")
	}
	for _, row := range pRows {
		i := idx[row.ProjectID]
		projs[i].ProgressEntries = append(projs[i].ProgressEntries, row.unpack())
	}

	return projs, nil
}

func setAssignees(ctx context.Context, tx *sqlx.Tx, projectID string, userIDs []string) error {
	for _, usrID := range userIDs {
		query := tx.Rebind(`INSERT INTO project_assignee (project_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
		if _, err := tx.ExecContext(ctx, query, projectID, usrID); err != nil {
			return errors.Wrap(err, "assigning user")
		}
	}
	return nil
}

func prefixOrdering(ordering []core.DBOrdering) []core.DBOrdering {
	prefixed := make([]core.DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		prefixed = append(prefixed, core.DBOrdering{Field: fmt.Sprintf("p.%s", ord.Field), Ascending: ord.Ascending})
	}
	return prefixed
}
