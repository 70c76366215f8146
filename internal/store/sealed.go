package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// FieldCodec seals and opens individual column values.
type FieldCodec interface {
	Encode(value string) (string, error)
	Decode(stored string) string
}

// decodeParallelism bounds concurrent envelope decoding for list reads. Key
// derivation dominates the cost of each decode.
const decodeParallelism = 8

// SealedStore keeps project names and descriptions and task titles and
// descriptions encrypted at rest. Every other call goes straight to the
// embedded PostgresStore.
type SealedStore struct {
	*PostgresStore
	codec FieldCodec
}

func NewSealedStore(inner *PostgresStore, codec FieldCodec) *SealedStore {
	return &SealedStore{PostgresStore: inner, codec: codec}
}

func (s *SealedStore) encodePtr(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	sealed, err := s.codec.Encode(*value)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

func (s *SealedStore) decodePtr(value *string) *string {
	if value == nil {
		return nil
	}
	opened := s.codec.Decode(*value)
	return &opened
}

func (s *SealedStore) encodeOptional(value Optional[string]) (Optional[string], error) {
	if !value.Set || value.Null {
		return value, nil
	}
	sealed, err := s.codec.Encode(value.Value)
	if err != nil {
		return Optional[string]{}, err
	}
	return Some(sealed), nil
}

func (s *SealedStore) openProject(project Project) Project {
	project.Name = s.codec.Decode(project.Name)
	project.Description = s.decodePtr(project.Description)
	return project
}

func (s *SealedStore) openTask(task Task) Task {
	task.Title = s.codec.Decode(task.Title)
	task.Description = s.decodePtr(task.Description)
	return task
}

// openAll decodes items in place with bounded concurrency.
func openAll[T any](items []T, open func(T) T) {
	var group errgroup.Group
	group.SetLimit(decodeParallelism)
	for i := range items {
		i := i
		group.Go(func() error {
			items[i] = open(items[i])
			return nil
		})
	}
	_ = group.Wait()
}

// sealTaskError decodes the current task carried by a version mismatch.
func (s *SealedStore) sealTaskError(err error) error {
	var mismatch *VersionMismatchError
	if errors.As(err, &mismatch) {
		return &VersionMismatchError{Current: s.openTask(mismatch.Current)}
	}
	return err
}

func (s *SealedStore) CreateProject(ctx context.Context, project Project) (Project, error) {
	name, err := s.codec.Encode(project.Name)
	if err != nil {
		return Project{}, fmt.Errorf("seal project name: %w", err)
	}
	description, err := s.encodePtr(project.Description)
	if err != nil {
		return Project{}, fmt.Errorf("seal project description: %w", err)
	}
	project.Name, project.Description = name, description

	created, err := s.PostgresStore.CreateProject(ctx, project)
	if err != nil {
		return Project{}, err
	}
	return s.openProject(created), nil
}

func (s *SealedStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	project, err := s.PostgresStore.GetProject(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	return s.openProject(project), nil
}

func (s *SealedStore) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (Project, error) {
	var err error
	if patch.Name, err = s.encodeOptional(patch.Name); err != nil {
		return Project{}, fmt.Errorf("seal project name: %w", err)
	}
	if patch.Description, err = s.encodeOptional(patch.Description); err != nil {
		return Project{}, fmt.Errorf("seal project description: %w", err)
	}
	project, err := s.PostgresStore.UpdateProject(ctx, projectID, patch)
	if err != nil {
		return Project{}, err
	}
	return s.openProject(project), nil
}

func (s *SealedStore) ListOwnedProjects(ctx context.Context, userID string) ([]Project, error) {
	items, err := s.PostgresStore.ListOwnedProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	openAll(items, s.openProject)
	return items, nil
}

func (s *SealedStore) ListCollaboratedProjects(ctx context.Context, userID string) ([]CollaboratedProject, error) {
	items, err := s.PostgresStore.ListCollaboratedProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	openAll(items, func(item CollaboratedProject) CollaboratedProject {
		item.Project = s.openProject(item.Project)
		return item
	})
	return items, nil
}

func (s *SealedStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	items, err := s.PostgresStore.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	openAll(items, s.openTask)
	return items, nil
}

func (s *SealedStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	task, err := s.PostgresStore.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	return s.openTask(task), nil
}

func (s *SealedStore) CreateTask(ctx context.Context, task Task) (Task, error) {
	title, err := s.codec.Encode(task.Title)
	if err != nil {
		return Task{}, fmt.Errorf("seal task title: %w", err)
	}
	description, err := s.encodePtr(task.Description)
	if err != nil {
		return Task{}, fmt.Errorf("seal task description: %w", err)
	}
	task.Title, task.Description = title, description

	created, err := s.PostgresStore.CreateTask(ctx, task)
	if err != nil {
		return Task{}, err
	}
	return s.openTask(created), nil
}

func (s *SealedStore) UpdateTask(ctx context.Context, taskID string, expectedVersion int, patch TaskPatch, updatedBy string) (Task, error) {
	var err error
	if patch.Title, err = s.encodeOptional(patch.Title); err != nil {
		return Task{}, fmt.Errorf("seal task title: %w", err)
	}
	if patch.Description, err = s.encodeOptional(patch.Description); err != nil {
		return Task{}, fmt.Errorf("seal task description: %w", err)
	}
	task, err := s.PostgresStore.UpdateTask(ctx, taskID, expectedVersion, patch, updatedBy)
	if err != nil {
		return Task{}, s.sealTaskError(err)
	}
	return s.openTask(task), nil
}

func (s *SealedStore) BulkUpdateTasks(ctx context.Context, projectID string, taskIDs []string, update BulkTaskUpdate, updatedBy string) ([]Task, error) {
	items, err := s.PostgresStore.BulkUpdateTasks(ctx, projectID, taskIDs, update, updatedBy)
	if err != nil {
		return nil, err
	}
	openAll(items, s.openTask)
	return items, nil
}

func (s *SealedStore) openInvitations(items []InvitationDetail) {
	openAll(items, func(item InvitationDetail) InvitationDetail {
		item.ProjectName = s.codec.Decode(item.ProjectName)
		return item
	})
}

func (s *SealedStore) ListPendingInvitationsForEmail(ctx context.Context, email string) ([]InvitationDetail, error) {
	items, err := s.PostgresStore.ListPendingInvitationsForEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	s.openInvitations(items)
	return items, nil
}

func (s *SealedStore) ListPendingInvitationsForProject(ctx context.Context, projectID string) ([]InvitationDetail, error) {
	items, err := s.PostgresStore.ListPendingInvitationsForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	s.openInvitations(items)
	return items, nil
}
