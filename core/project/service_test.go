package project_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mazoezi/core"
	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
	emailsvc "github.com/trezcool/mazoezi/services/email"
	inmemdb "github.com/trezcool/mazoezi/storage/database/inmem"
	testutil "github.com/trezcool/mazoezi/tests"
)

func setup(t *testing.T) (*project.Service, project.Repository, user.Repository) {
	t.Helper()
	db := inmemdb.NewDB()
	usrRepo := inmemdb.NewUserRepository(db)
	projRepo := inmemdb.NewProjectRepository(db)
	conf := &core.Config{TestMode: true}
	svc := project.NewService(projRepo, usrRepo, emailsvc.NewConsoleServiceMock(), conf)
	return svc, projRepo, usrRepo
}

func strPtr(s string) *string { return &s }

func Test_Service_Query_roleScoping(t *testing.T) {
	svc, projRepo, usrRepo := setup(t)
	ctx := context.Background()

	trainer := testutil.CreateUser(t, usrRepo, "Trainer", "trainer1", "t1@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)

	now := time.Now().UTC()
	shared := testutil.CreateProject(t, projRepo, "Shared", project.PriorityHigh, trainer, []user.User{alice, bob}, now.Add(-2*time.Hour))
	bobOnly := testutil.CreateProject(t, projRepo, "Bob only", project.PriorityLow, trainer, []user.User{bob}, now.Add(-time.Hour))
	unassigned := testutil.CreateProject(t, projRepo, "Unassigned", project.PriorityMedium, trainer, nil, now)

	ids := func(projs []project.Project) []string {
		out := make([]string, len(projs))
		for i, p := range projs {
			out[i] = p.ID
		}
		return out
	}

	t.Run("trainer sees all", func(t *testing.T) {
		projs, err := svc.Query(ctx, trainer, &project.QueryFilter{}, nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{shared.ID, bobOnly.ID, unassigned.ID}, ids(projs))
	})

	t.Run("trainee sees only assigned", func(t *testing.T) {
		projs, err := svc.Query(ctx, alice, &project.QueryFilter{}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{shared.ID}, ids(projs))
	})

	t.Run("unknown role sees nothing", func(t *testing.T) {
		projs, err := svc.Query(ctx, user.User{ID: "x", Role: "ghost"}, &project.QueryFilter{}, nil)
		require.NoError(t, err)
		assert.Empty(t, projs)
	})

	t.Run("status filter deduplicates and scopes to own entry", func(t *testing.T) {
		testutil.CreateProgress(t, projRepo, shared, alice, project.StatusInProgress)
		testutil.CreateProgress(t, projRepo, shared, bob, project.StatusInProgress)
		testutil.CreateProgress(t, projRepo, bobOnly, bob, project.StatusComplete)

		// two qualifying entries, one project row
		projs, err := svc.Query(ctx, trainer, &project.QueryFilter{Status: project.StatusInProgress}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{shared.ID}, ids(projs))

		// bob's complete entry does not leak into alice's results
		projs, err = svc.Query(ctx, alice, &project.QueryFilter{Status: project.StatusComplete}, nil)
		require.NoError(t, err)
		assert.Empty(t, projs)

		projs, err = svc.Query(ctx, bob, &project.QueryFilter{Status: project.StatusComplete}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{bobOnly.ID}, ids(projs))
	})
}

func Test_Service_UpdateMyProgress(t *testing.T) {
	svc, projRepo, usrRepo := setup(t)
	ctx := context.Background()

	trainer := testutil.CreateUser(t, usrRepo, "Trainer", "trainer1", "t1@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)
	proj := testutil.CreateProject(t, projRepo, "API", project.PriorityMedium, trainer, []user.User{alice})

	t.Run("entry created on first touch with default status", func(t *testing.T) {
		prog, err := svc.GetMyProgress(ctx, alice, proj.ID)
		require.NoError(t, err)
		assert.Equal(t, project.StatusTodo, prog.Status)
		assert.Equal(t, alice.ID, prog.TraineeID)

		// repeated touches reuse the same entry
		again, err := svc.GetMyProgress(ctx, alice, proj.ID)
		require.NoError(t, err)
		assert.Equal(t, prog.ID, again.ID)
	})

	t.Run("not assigned", func(t *testing.T) {
		_, err := svc.UpdateMyProgress(ctx, bob, proj.ID, project.ProgressUpdate{Status: strPtr(project.StatusTodo)})
		assert.Equal(t, project.ErrNotAssigned, err)

		// the denied update must not create an entry
		refreshed, err := svc.GetByID(ctx, proj.ID)
		require.NoError(t, err)
		for _, entry := range refreshed.ProgressEntries {
			assert.NotEqual(t, bob.ID, entry.TraineeID)
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		_, err := svc.UpdateMyProgress(ctx, alice, "nope", project.ProgressUpdate{Status: strPtr(project.StatusTodo)})
		assert.Equal(t, project.ErrNotFound, err)
	})

	t.Run("completed_at auto-set on completion", func(t *testing.T) {
		prog, err := svc.UpdateMyProgress(ctx, alice, proj.ID, project.ProgressUpdate{Status: strPtr(project.StatusComplete)})
		require.NoError(t, err)
		require.True(t, prog.CompletedAt.Valid)
		assert.WithinDuration(t, time.Now().UTC(), prog.CompletedAt.Time, 5*time.Second)

		// an already-set timestamp is never overwritten by the automatic rule
		first := prog.CompletedAt.Time
		prog, err = svc.UpdateMyProgress(ctx, alice, proj.ID, project.ProgressUpdate{Report: strPtr("reports/api.pdf")})
		require.NoError(t, err)
		assert.Equal(t, first, prog.CompletedAt.Time)
		assert.Equal(t, "reports/api.pdf", prog.Report.String)
	})

	t.Run("explicit completed_at", func(t *testing.T) {
		prog, err := svc.UpdateMyProgress(ctx, alice, proj.ID, project.ProgressUpdate{CompletedAt: strPtr("2021-03-01T10:30:00Z")})
		require.NoError(t, err)
		require.True(t, prog.CompletedAt.Valid)
		assert.Equal(t, time.Date(2021, 3, 1, 10, 30, 0, 0, time.UTC), prog.CompletedAt.Time)

		// datetime-local values come without seconds
		prog, err = svc.UpdateMyProgress(ctx, alice, proj.ID, project.ProgressUpdate{CompletedAt: strPtr("2021-04-02T08:15")})
		require.NoError(t, err)
		assert.Equal(t, time.Date(2021, 4, 2, 8, 15, 0, 0, time.UTC), prog.CompletedAt.Time)

		// unparseable values leave the stored timestamp unchanged
		before := prog.CompletedAt.Time
		prog, err = svc.UpdateMyProgress(ctx, alice, proj.ID, project.ProgressUpdate{CompletedAt: strPtr("soon")})
		require.NoError(t, err)
		assert.Equal(t, before, prog.CompletedAt.Time)
	})

	t.Run("status transitions are unordered", func(t *testing.T) {
		prog, err := svc.UpdateMyProgress(ctx, alice, proj.ID, project.ProgressUpdate{Status: strPtr(project.StatusTodo)})
		require.NoError(t, err)
		assert.Equal(t, project.StatusTodo, prog.Status)
		// completion timestamp survives moving back
		assert.True(t, prog.CompletedAt.Valid)
	})
}

func Test_Service_Comment(t *testing.T) {
	svc, projRepo, usrRepo := setup(t)
	ctx := context.Background()

	trainer := testutil.CreateUser(t, usrRepo, "Trainer", "trainer1", "t1@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)
	proj := testutil.CreateProject(t, projRepo, "API", project.PriorityMedium, trainer, []user.User{alice})

	t.Run("comment creates missing entry", func(t *testing.T) {
		prog, err := svc.Comment(ctx, trainer, proj.ID, project.CommentInput{Trainee: alice.ID, Comment: "keep going"})
		require.NoError(t, err)
		assert.Equal(t, alice.ID, prog.TraineeID)
		assert.Equal(t, "keep going", prog.TrainerComment.String)
		assert.Equal(t, project.StatusTodo, prog.Status)
	})

	t.Run("comment is single-slot", func(t *testing.T) {
		prog, err := svc.Comment(ctx, trainer, proj.ID, project.CommentInput{Trainee: alice.ID, Comment: "well done"})
		require.NoError(t, err)
		assert.Equal(t, "well done", prog.TrainerComment.String)
	})

	t.Run("trainee cannot comment", func(t *testing.T) {
		_, err := svc.Comment(ctx, alice, proj.ID, project.CommentInput{Trainee: alice.ID, Comment: "self-review"})
		assert.Error(t, err)
	})

	t.Run("unknown trainee", func(t *testing.T) {
		_, err := svc.Comment(ctx, trainer, proj.ID, project.CommentInput{Trainee: "nope", Comment: "hi"})
		assert.Equal(t, project.ErrTraineeNotFound, err)
	})

	t.Run("trainee not assigned", func(t *testing.T) {
		_, err := svc.Comment(ctx, trainer, proj.ID, project.CommentInput{Trainee: bob.ID, Comment: "hi"})
		vErr, ok := err.(*core.ValidationError)
		require.True(t, ok, "expected *core.ValidationError, got %v", err)
		require.Len(t, vErr.Fields, 1)
		assert.Equal(t, "trainee", vErr.Fields[0].Field)
	})
}

func Test_Service_Update_assignedSet(t *testing.T) {
	svc, projRepo, usrRepo := setup(t)
	ctx := context.Background()

	trainer := testutil.CreateUser(t, usrRepo, "Trainer", "trainer1", "t1@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)
	proj := testutil.CreateProject(t, projRepo, "API", project.PriorityMedium, trainer, []user.User{alice})

	t.Run("partial update keeps description and due date", func(t *testing.T) {
		np := project.NewProject{
			Title:       "Mini blog API",
			Description: "Build a small REST API",
			DueDate:     "2021-06-30",
			AssignedTo:  []string{alice.ID},
		}
		require.NoError(t, np.Validate())
		created, err := svc.Create(ctx, trainer, np)
		require.NoError(t, err)
		require.True(t, created.DueDate.Valid)

		up := project.UpdateProject{Priority: project.PriorityHigh}
		require.NoError(t, up.Validate(created))
		updated, err := svc.Update(ctx, created.ID, up)
		require.NoError(t, err)
		assert.Equal(t, project.PriorityHigh, updated.Priority)
		assert.Equal(t, "Build a small REST API", updated.Description)
		require.True(t, updated.DueDate.Valid)
		assert.Equal(t, created.DueDate.Time, updated.DueDate.Time)
	})

	t.Run("nil keeps the assigned set", func(t *testing.T) {
		up := project.UpdateProject{Title: "API v2"}
		require.NoError(t, up.Validate(proj))
		updated, err := svc.Update(ctx, proj.ID, up)
		require.NoError(t, err)
		assert.Equal(t, "API v2", updated.Title)
		assert.Equal(t, []string{alice.ID}, updated.AssigneeIDs)
	})

	t.Run("replace the assigned set", func(t *testing.T) {
		up := project.UpdateProject{AssignedTo: []string{bob.ID}}
		require.NoError(t, up.Validate(proj))
		updated, err := svc.Update(ctx, proj.ID, up)
		require.NoError(t, err)
		assert.Equal(t, []string{bob.ID}, updated.AssigneeIDs)
	})

	t.Run("empty clears the assigned set", func(t *testing.T) {
		up := project.UpdateProject{AssignedTo: []string{}}
		require.NoError(t, up.Validate(proj))
		updated, err := svc.Update(ctx, proj.ID, up)
		require.NoError(t, err)
		assert.Empty(t, updated.AssigneeIDs)
	})
}

func Test_NewProject_Validate(t *testing.T) {
	t.Run("defaults priority to medium", func(t *testing.T) {
		np := project.NewProject{Title: "  API  "}
		require.NoError(t, np.Validate())
		assert.Equal(t, "API", np.Title)
		assert.Equal(t, project.PriorityMedium, np.Priority)
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		np := project.NewProject{Title: "API", Priority: "urgent"}
		assert.Error(t, np.Validate())
	})

	t.Run("rejects missing title", func(t *testing.T) {
		np := project.NewProject{}
		assert.Error(t, np.Validate())
	})

	t.Run("rejects malformed due date", func(t *testing.T) {
		np := project.NewProject{Title: "API", DueDate: "31-12-2021"}
		assert.Error(t, np.Validate())
	})
}
