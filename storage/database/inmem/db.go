// Package inmemdb provides in-memory repository implementations used in
// tests and for dependency-free local hacking.
package inmemdb

import (
	"sync"

	"github.com/trezcool/mazoezi/core/project"
	"github.com/trezcool/mazoezi/core/user"
)

type progressKey struct {
	traineeID string
	projectID string
}

type DB struct {
	mutex sync.RWMutex

	users     map[string]*user.User
	projects  map[string]*project.Project
	assignees map[string][]string // projectID -> userIDs, insertion order
	progress  map[progressKey]*project.Progress
}

func NewDB() *DB {
	return &DB{
		users:     make(map[string]*user.User),
		projects:  make(map[string]*project.Project),
		assignees: make(map[string][]string),
		progress:  make(map[progressKey]*project.Progress),
	}
}

// Reset drops all rows; handy between test cases.
func (db *DB) Reset() {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.users = make(map[string]*user.User)
	db.projects = make(map[string]*project.Project)
	db.assignees = make(map[string][]string)
	db.progress = make(map[progressKey]*project.Progress)
}
