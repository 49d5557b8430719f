package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
	testutil "github.com/trezcool/mazoezi/tests"
)

func Test_projectApi_create(t *testing.T) {
	app := setup(t)

	trainer := testutil.CreateUser(t, usrRepo, "Coach", "coach1", "coach@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)

	trainerToken := getToken(t, trainer)
	traineeToken := getToken(t, alice)

	tests := []httpTest{
		{name: "Auth required", body: []byte(`{}`), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Trainer required", body: []byte(`{"title": "API"}`), token: traineeToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "required fields", body: []byte(`{}`), token: trainerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]map[string]string{"detail": {"title": "title is a required field"}}),
		},
		{
			name: "invalid priority", body: []byte(`{"title": "API", "priority": "urgent"}`), token: trainerToken,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]map[string]string{"detail": {"priority": "invalid priority; must be one of: low, medium, high"}}),
		},
		{name: "Created", token: trainerToken, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "Created" {
				tt.body = marchallObj(t, map[string]interface{}{
					"title":       "Mini blog API",
					"description": "Build a small REST API",
					"due_date":    "2021-06-30",
					"assigned_to": []string{alice.ID},
				})
			}
			req, rec := newAuthRequest(http.MethodPost, "/api/mini-projects", tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var proj project.Project
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
				assert.Equal(t, "Mini blog API", proj.Title)
				assert.Equal(t, project.PriorityMedium, proj.Priority) // defaulted
				assert.Equal(t, trainer.ID, proj.CreatedBy.String)
				assert.Equal(t, []string{alice.ID}, proj.AssigneeIDs)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_projectApi_queryAndRetrieve(t *testing.T) {
	app := setup(t)

	trainer := testutil.CreateUser(t, usrRepo, "Coach", "coach1", "coach@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)

	shared := testutil.CreateProject(t, projRepo, "Shared", project.PriorityHigh, trainer, []user.User{alice, bob})
	bobOnly := testutil.CreateProject(t, projRepo, "Bob only", project.PriorityLow, trainer, []user.User{bob})
	testutil.CreateProgress(t, projRepo, shared, alice, project.StatusInProgress)
	testutil.CreateProgress(t, projRepo, shared, bob, project.StatusComplete)

	trainerToken := getToken(t, trainer)
	aliceToken := getToken(t, alice)

	listProjects := func(t *testing.T, path, token string) []project.Project {
		t.Helper()
		req, rec := newAuthRequest(http.MethodGet, path, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var projs []project.Project
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projs))
		return projs
	}

	t.Run("trainer sees all projects and all entries", func(t *testing.T) {
		projs := listProjects(t, "/api/mini-projects", trainerToken)
		require.Len(t, projs, 2)
		for _, proj := range projs {
			if proj.ID == shared.ID {
				assert.Len(t, proj.ProgressEntries, 2)
			}
		}
	})

	t.Run("trainee sees only assigned projects and own entries", func(t *testing.T) {
		projs := listProjects(t, "/api/mini-projects", aliceToken)
		require.Len(t, projs, 1)
		assert.Equal(t, shared.ID, projs[0].ID)
		require.Len(t, projs[0].ProgressEntries, 1)
		assert.Equal(t, alice.ID, projs[0].ProgressEntries[0].TraineeID)
	})

	t.Run("status filter scoped to own entry", func(t *testing.T) {
		// bob's complete entry does not surface shared for alice
		projs := listProjects(t, "/api/mini-projects?status=complete", aliceToken)
		assert.Empty(t, projs)

		projs = listProjects(t, "/api/mini-projects?status=complete", trainerToken)
		require.Len(t, projs, 1)
		assert.Equal(t, shared.ID, projs[0].ID)
	})

	t.Run("priority filter", func(t *testing.T) {
		projs := listProjects(t, "/api/mini-projects?priority=low", trainerToken)
		require.Len(t, projs, 1)
		assert.Equal(t, bobOnly.ID, projs[0].ID)
	})

	t.Run("retrieve redacts other trainees' entries", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/mini-projects/"+shared.ID, aliceToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var proj project.Project
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &proj))
		require.Len(t, proj.ProgressEntries, 1)
		assert.Equal(t, alice.ID, proj.ProgressEntries[0].TraineeID)
	})

	t.Run("retrieve hides unassigned projects from trainees", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Detail: "not found"})}
		req, rec := newAuthRequest(http.MethodGet, "/api/mini-projects/"+bobOnly.ID, aliceToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("retrieve unknown project", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Detail: "not found"})}
		req, rec := newAuthRequest(http.MethodGet, "/api/mini-projects/nope", trainerToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})
}

func Test_projectApi_updateAndDelete(t *testing.T) {
	app := setup(t)

	trainer := testutil.CreateUser(t, usrRepo, "Coach", "coach1", "coach@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)
	proj := testutil.CreateProject(t, projRepo, "API", project.PriorityMedium, trainer, []user.User{alice})

	trainerToken := getToken(t, trainer)
	aliceToken := getToken(t, alice)

	t.Run("trainee cannot update", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}
		req, rec := newAuthRequest(http.MethodPatch, "/api/mini-projects/"+proj.ID, aliceToken, []byte(`{"title": "hacked"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("partial update keeps unset fields", func(t *testing.T) {
		body := []byte(`{"description": "Build a small REST API", "due_date": "2021-06-30"}`)
		req, rec := newAuthRequest(http.MethodPatch, "/api/mini-projects/"+proj.ID, trainerToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		req, rec = newAuthRequest(http.MethodPatch, "/api/mini-projects/"+proj.ID, trainerToken, []byte(`{"priority": "high"}`))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated project.Project
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Equal(t, "API", updated.Title)
		assert.Equal(t, project.PriorityHigh, updated.Priority)
		assert.Equal(t, "Build a small REST API", updated.Description)
		assert.True(t, updated.DueDate.Valid)
		assert.Equal(t, []string{alice.ID}, updated.AssigneeIDs)
	})

	t.Run("reassignment replaces the assigned set", func(t *testing.T) {
		body := marchallObj(t, map[string]interface{}{"assigned_to": []string{bob.ID}})
		req, rec := newAuthRequest(http.MethodPatch, "/api/mini-projects/"+proj.ID, trainerToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated project.Project
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		assert.Equal(t, []string{bob.ID}, updated.AssigneeIDs)
	})

	t.Run("trainee cannot delete", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)}
		req, rec := newAuthRequest(http.MethodDelete, "/api/mini-projects/"+proj.ID, aliceToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("trainer deletes", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodDelete, "/api/mini-projects/"+proj.ID, trainerToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		req, rec = newAuthRequest(http.MethodGet, "/api/mini-projects/"+proj.ID, trainerToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_projectApi_myProgress(t *testing.T) {
	app := setup(t)

	trainer := testutil.CreateUser(t, usrRepo, "Coach", "coach1", "coach@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)
	proj := testutil.CreateProject(t, projRepo, "API", project.PriorityMedium, trainer, []user.User{alice, trainer})

	aliceToken := getToken(t, alice)
	bobToken := getToken(t, bob)
	trainerToken := getToken(t, trainer)
	path := "/api/mini-projects/" + proj.ID + "/my_progress"

	t.Run("get creates the entry on first touch", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, path, aliceToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var prog project.Progress
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prog))
		assert.Equal(t, project.StatusTodo, prog.Status)
		assert.Equal(t, alice.ID, prog.TraineeID)
	})

	t.Run("not assigned", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Detail: "not assigned to this project"})}
		req, rec := newAuthRequest(http.MethodGet, path, bobToken)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("update allowed fields", func(t *testing.T) {
		body := []byte(`{"status": "complete", "report": "reports/api.pdf", "github_link": "https://github.com/alice/api"}`)
		req, rec := newAuthRequest(http.MethodPatch, path, aliceToken, body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var prog project.Progress
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prog))
		assert.Equal(t, project.StatusComplete, prog.Status)
		assert.True(t, prog.CompletedAt.Valid) // auto-set
		assert.Equal(t, "https://github.com/alice/api", prog.GithubLink.String)
		// relative report resolved against the request host
		assert.Equal(t, "http://example.com/media/reports/api.pdf", prog.ReportURL.String)
	})

	t.Run("restricted field denied", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Detail: "fields not allowed: trainer_comment"})}
		req, rec := newAuthRequest(http.MethodPatch, path, aliceToken, []byte(`{"status": "todo", "trainer_comment": "gold star"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("empty body denied", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Detail: "no updatable fields provided"})}
		req, rec := newAuthRequest(http.MethodPatch, path, aliceToken, []byte(`{}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("transport artifact key alone denied", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Detail: "no updatable fields provided"})}
		req, rec := newAuthRequest(http.MethodPatch, path, aliceToken, []byte(`{"csrfmiddlewaretoken": "tok"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("invalid status", func(t *testing.T) {
		tt := httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]map[string]string{"detail": {"status": "invalid status; must be one of: todo, inprogress, complete"}}),
		}
		req, rec := newAuthRequest(http.MethodPatch, path, aliceToken, []byte(`{"status": "done"}`))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, tt, rec)
	})

	t.Run("trainer bypasses the field restriction", func(t *testing.T) {
		// unknown keys are simply ignored by binding
		req, rec := newAuthRequest(http.MethodPatch, path, trainerToken, []byte(`{"status": "inprogress", "trainer_comment": "x"}`))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func Test_projectApi_comment(t *testing.T) {
	app := setup(t)

	trainer := testutil.CreateUser(t, usrRepo, "Coach", "coach1", "coach@test.cd", "", user.RoleTrainer, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice1", "alice@test.cd", "", user.RoleTrainee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob123", "bob@test.cd", "", user.RoleTrainee, true)
	proj := testutil.CreateProject(t, projRepo, "API", project.PriorityMedium, trainer, []user.User{alice})

	trainerToken := getToken(t, trainer)
	aliceToken := getToken(t, alice)
	path := "/api/mini-projects/" + proj.ID + "/comment"

	comment := func(traineeID, text string) []byte {
		return marchallObj(t, map[string]string{"trainee": traineeID, "comment": text})
	}

	tests := []httpTest{
		{name: "Auth required", body: comment(alice.ID, "hi"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Trainer required", body: comment(alice.ID, "hi"), token: aliceToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "required fields", body: []byte(`{}`), token: trainerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]map[string]string{
				"detail": {"trainee": "trainee is a required field", "comment": "comment is a required field"},
			}),
		},
		{
			name: "unknown trainee", body: comment("nope", "hi"), token: trainerToken, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Detail: "trainee not found"}),
		},
		{
			name: "trainee not assigned", body: comment(bob.ID, "hi"), token: trainerToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]map[string]string{"detail": {"trainee": "trainee is not assigned to this project"}}),
		},
		{name: "Commented", body: comment(alice.ID, "keep going"), token: trainerToken, wantCode: http.StatusOK},
		{name: "Overwritten", body: comment(alice.ID, "well done"), token: trainerToken, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var prog project.Progress
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prog))
				assert.Equal(t, alice.ID, prog.TraineeID)
				if tt.name == "Overwritten" {
					assert.Equal(t, "well done", prog.TrainerComment.String)
				} else {
					assert.Equal(t, "keep going", prog.TrainerComment.String)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}
