package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	role user.Role,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateProject(
	t *testing.T,
	repo project.Repository,
	title string,
	priority string,
	createdBy user.User,
	assignees []user.User,
	createdAt ...time.Time,
) project.Project {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	ids := make([]string, len(assignees))
	for i, usr := range assignees {
		ids[i] = usr.ID
	}
	proj := project.Project{
		Title:       title,
		Priority:    priority,
		CreatedBy:   null.StringFrom(createdBy.ID),
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
		AssigneeIDs: ids,
	}
	proj, err := repo.CreateProject(context.Background(), proj)
	if err != nil {
		t.Fatalf("CreateProject() failed: %v", err)
	}
	return proj
}

func CreateProgress(
	t *testing.T,
	repo project.Repository,
	proj project.Project,
	trainee user.User,
	status string,
) project.Progress {
	t.Helper()

	prog, err := repo.GetOrCreateProgress(context.Background(), proj.ID, trainee.ID)
	if err != nil {
		t.Fatalf("CreateProgress() failed: %v", err)
	}
	if status != "" && status != prog.Status {
		prog.Status = status
		prog.UpdatedAt = time.Now().UTC()
		if prog, err = repo.UpdateProgress(context.Background(), prog); err != nil {
			t.Fatalf("CreateProgress() failed: %v", err)
		}
	}
	return prog
}
