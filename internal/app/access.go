package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/store"
)

// ProjectView is a project annotated with the caller's effective role.
type ProjectView struct {
	store.Project
	Role     rbac.Role `json:"role"`
	CanWrite bool      `json:"canWrite"`
}

func newProjectView(project store.Project, access rbac.Access) ProjectView {
	return ProjectView{Project: project, Role: access.Role, CanWrite: access.CanWrite}
}

// Evaluate resolves the caller's role on a project. A missing project is
// ErrNotFound; a stranger gets RoleNone without error.
func (s *Service) Evaluate(ctx context.Context, userID, projectID string) (store.Project, rbac.Access, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Project{}, rbac.Access{Role: rbac.RoleNone}, notFoundError("project")
		}
		return store.Project{}, rbac.Access{}, fmt.Errorf("load project: %w", err)
	}
	if project.OwnerUserID == userID {
		return project, rbac.Evaluate(project.OwnerUserID, userID, ""), nil
	}

	role, err := s.store.GetCollaboratorRole(ctx, projectID, userID)
	if err != nil {
		return store.Project{}, rbac.Access{}, err
	}
	return project, rbac.Evaluate(project.OwnerUserID, userID, rbac.Role(role)), nil
}

func (s *Service) authorize(ctx context.Context, userID, projectID string, perm rbac.Permission) (store.Project, rbac.Access, error) {
	project, access, err := s.Evaluate(ctx, userID, projectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Printf("access: project %s not found for user %s", projectID, userID)
		}
		return store.Project{}, access, err
	}
	if !rbac.Can(access.Role, perm) {
		log.Printf("access: denied %s on project %s for user %s (role %s)", perm, projectID, userID, access.Role)
		return store.Project{}, access, &AccessError{ProjectID: projectID, Role: access.Role, Required: string(perm)}
	}
	return project, access, nil
}

func (s *Service) authorizeOwner(ctx context.Context, userID, projectID string) (store.Project, error) {
	project, access, err := s.authorize(ctx, userID, projectID, rbac.PermRead)
	if err != nil {
		return store.Project{}, err
	}
	if access.Role != rbac.RoleOwner {
		log.Printf("access: denied owner action on project %s for user %s (role %s)", projectID, userID, access.Role)
		return store.Project{}, &AccessError{ProjectID: projectID, Role: access.Role, Required: string(rbac.RoleOwner)}
	}
	return project, nil
}

// ListAccessibleProjects merges owned and collaborated projects, most recently
// updated first.
func (s *Service) ListAccessibleProjects(ctx context.Context, caller store.User) ([]ProjectView, error) {
	owned, err := s.store.ListOwnedProjects(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list owned projects: %w", err)
	}
	collaborated, err := s.store.ListCollaboratedProjects(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list collaborated projects: %w", err)
	}

	items := make([]ProjectView, 0, len(owned)+len(collaborated))
	for _, project := range owned {
		items = append(items, newProjectView(project, rbac.Evaluate(project.OwnerUserID, caller.ID, "")))
	}
	for _, item := range collaborated {
		items = append(items, newProjectView(item.Project, rbac.Evaluate(item.OwnerUserID, caller.ID, rbac.Role(item.Role))))
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}
