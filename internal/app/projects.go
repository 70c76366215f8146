package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/store"
	"github.com/johnobriendev/notionesqueServer/internal/util"
)

const (
	maxProjectNameLength        = 255
	maxProjectDescriptionLength = 5000
)

type CreateProjectInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (s *Service) CreateProject(ctx context.Context, caller store.User, input CreateProjectInput) (ProjectView, error) {
	name, err := validateProjectName(input.Name)
	if err != nil {
		return ProjectView{}, err
	}
	if err := validateLength("description", input.Description, maxProjectDescriptionLength); err != nil {
		return ProjectView{}, err
	}

	project, err := s.store.CreateProject(ctx, store.Project{
		ID:          util.NewID(),
		Name:        name,
		Description: input.Description,
		OwnerUserID: caller.ID,
	})
	if err != nil {
		return ProjectView{}, fmt.Errorf("create project: %w", err)
	}
	return newProjectView(project, rbac.Evaluate(project.OwnerUserID, caller.ID, "")), nil
}

func (s *Service) GetProject(ctx context.Context, caller store.User, projectID string) (ProjectView, error) {
	project, access, err := s.authorize(ctx, caller.ID, projectID, rbac.PermRead)
	if err != nil {
		return ProjectView{}, err
	}
	return newProjectView(project, access), nil
}

func (s *Service) UpdateProject(ctx context.Context, caller store.User, projectID string, patch store.ProjectPatch) (ProjectView, error) {
	if _, err := s.authorizeOwner(ctx, caller.ID, projectID); err != nil {
		return ProjectView{}, err
	}
	if !patch.Name.Set && !patch.Description.Set {
		return ProjectView{}, validationError("no fields to update", nil)
	}
	if patch.Name.Set {
		if patch.Name.Null {
			return ProjectView{}, validationError("name cannot be null", nil)
		}
		name, err := validateProjectName(patch.Name.Value)
		if err != nil {
			return ProjectView{}, err
		}
		patch.Name = store.Some(name)
	}
	if err := validateLength("description", patch.Description.Ptr(), maxProjectDescriptionLength); err != nil {
		return ProjectView{}, err
	}

	project, err := s.store.UpdateProject(ctx, projectID, patch)
	if err != nil {
		return ProjectView{}, fmt.Errorf("update project: %w", err)
	}
	return newProjectView(project, rbac.Access{Role: rbac.RoleOwner, CanWrite: true}), nil
}

func (s *Service) DeleteProject(ctx context.Context, caller store.User, projectID string) error {
	if _, err := s.authorizeOwner(ctx, caller.ID, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func validateProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("name is required", nil)
	}
	if utf8.RuneCountInString(name) > maxProjectNameLength {
		return "", validationError(fmt.Sprintf("name must be at most %d characters", maxProjectNameLength), nil)
	}
	return name, nil
}

func validateLength(field string, value *string, max int) error {
	if value != nil && utf8.RuneCountInString(*value) > max {
		return validationError(fmt.Sprintf("%s must be at most %d characters", field, max), nil)
	}
	return nil
}
