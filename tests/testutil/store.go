package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// Fixture is a small directory: two employees and one project with one
// task assigned to Bob.
type Fixture struct {
	Alice   model.Employee
	Bob     model.Employee
	Project model.Project
	Task    model.Task
}

// Seed fills s with a Fixture.
func Seed(t *testing.T, s store.DirectoryStore) Fixture {
	t.Helper()
	ctx := context.Background()

	alice, err := s.CreateEmployee(ctx, model.Employee{Name: "Alice", Email: "alice@example.com", Role: "lead"})
	if err != nil {
		t.Fatalf("seeding alice: %v", err)
	}
	bob, err := s.CreateEmployee(ctx, model.Employee{Name: "Bob", Email: "bob@example.com", Role: "engineer"})
	if err != nil {
		t.Fatalf("seeding bob: %v", err)
	}
	project, err := s.CreateProject(ctx, model.Project{Name: "Portal", OwnerID: &alice.ID})
	if err != nil {
		t.Fatalf("seeding project: %v", err)
	}
	task, err := s.CreateTask(ctx, model.Task{ProjectID: project.ID, Title: "Ship notifications", AssigneeID: &bob.ID})
	if err != nil {
		t.Fatalf("seeding task: %v", err)
	}

	return Fixture{Alice: alice, Bob: bob, Project: project, Task: task}
}

// Change is one record handed to a RecordingSink.
type Change struct {
	Table     string
	SubjectID string
	Record    any
}

// RecordingSink is a store.ChangeSink that remembers every publish.
type RecordingSink struct {
	mu      sync.Mutex
	changes []Change
}

func (r *RecordingSink) Publish(table, subjectID string, record any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, Change{Table: table, SubjectID: subjectID, Record: record})
}

// Changes returns the publishes seen so far.
func (r *RecordingSink) Changes() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}
