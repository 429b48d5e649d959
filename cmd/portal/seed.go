package main

import (
	"context"
	"fmt"

	"github.com/nhle/portal/internal/model"
	"github.com/nhle/portal/internal/store"
)

// seed creates a small demo directory and prints the employee ids.
func seed(ctx context.Context, cfg *model.AppConfig) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	employees, err := seedDirectory(ctx, s)
	if err != nil {
		return err
	}

	fmt.Println("Seeded employees:")
	for _, e := range employees {
		fmt.Printf("  %-8s %s  %s\n", e.Name, e.ID, e.Email)
	}
	fmt.Println("\nSet identity.user_id to one of these ids to sign in locally.")
	return nil
}

func seedDirectory(ctx context.Context, s store.DirectoryStore) ([]model.Employee, error) {
	people := []model.Employee{
		{Name: "Alice", Email: "alice@example.com", Role: "lead", Department: "Engineering"},
		{Name: "Bob", Email: "bob@example.com", Role: "engineer", Department: "Engineering"},
		{Name: "Carol", Email: "carol@example.com", Role: "designer", Department: "Product"},
	}
	for i := range people {
		e, err := s.CreateEmployee(ctx, people[i])
		if err != nil {
			return nil, fmt.Errorf("seeding %s: %w", people[i].Name, err)
		}
		people[i] = e
	}
	alice, bob, carol := people[0], people[1], people[2]

	project, err := s.CreateProject(ctx, model.Project{Name: "Portal launch", OwnerID: &alice.ID})
	if err != nil {
		return nil, fmt.Errorf("seeding project: %w", err)
	}

	tasks := []struct {
		title    string
		priority int
		assignee model.Employee
	}{
		{"Wire notification inbox", model.PriorityHigh, bob},
		{"Design comment thread", model.PriorityMedium, carol},
		{"Write launch checklist", model.PriorityLow, alice},
	}
	for _, t := range tasks {
		task, err := s.CreateTask(ctx, model.Task{
			ProjectID: project.ID,
			Title:     t.title,
			Status:    model.StatusOpen,
			Priority:  t.priority,
		})
		if err != nil {
			return nil, fmt.Errorf("seeding task %q: %w", t.title, err)
		}
		// Assigning through the store generates the first notifications.
		if t.assignee.ID != alice.ID {
			if err := s.AssignTask(ctx, task.ID, t.assignee.ID, alice.ID); err != nil {
				return nil, fmt.Errorf("assigning %q: %w", t.title, err)
			}
		}
	}
	return people, nil
}
