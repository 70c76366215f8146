package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/store"
	"github.com/johnobriendev/notionesqueServer/internal/util"
)

const (
	maxTaskTitleLength       = 500
	maxTaskDescriptionLength = 10000
	maxCustomFieldKeys       = 50
	maxCustomFieldBytes      = 8 * 1024
	maxBatchSize             = 500
	// Attempts for an update that carries no expected version before the
	// caller is told about the conflict.
	maxUpdateAttempts = 3
)

var allowedTaskStatuses = map[string]struct{}{
	store.TaskStatusNotStarted: {},
	store.TaskStatusInProgress: {},
	store.TaskStatusCompleted:  {},
}

var allowedTaskPriorities = map[string]struct{}{
	store.TaskPriorityNone:   {},
	store.TaskPriorityLow:    {},
	store.TaskPriorityMedium: {},
	store.TaskPriorityHigh:   {},
	store.TaskPriorityUrgent: {},
}

type CreateTaskInput struct {
	Title        string         `json:"title"`
	Description  *string        `json:"description"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority"`
	Position     *int           `json:"position"`
	CustomFields map[string]any `json:"customFields"`
}

func (s *Service) ListTasks(ctx context.Context, caller store.User, projectID string) ([]store.Task, error) {
	if _, _, err := s.authorize(ctx, caller.ID, projectID, rbac.PermRead); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// loadProjectTask returns the task only if it belongs to projectID and the
// caller holds perm on that project.
func (s *Service) loadProjectTask(ctx context.Context, caller store.User, projectID, taskID string, perm rbac.Permission) (store.Task, error) {
	if _, _, err := s.authorize(ctx, caller.ID, projectID, perm); err != nil {
		return store.Task{}, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, notFoundError("task")
		}
		return store.Task{}, fmt.Errorf("load task: %w", err)
	}
	if task.ProjectID != projectID {
		return store.Task{}, notFoundError("task")
	}
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, caller store.User, projectID, taskID string) (store.Task, error) {
	return s.loadProjectTask(ctx, caller, projectID, taskID, rbac.PermRead)
}

func (s *Service) CreateTask(ctx context.Context, caller store.User, projectID string, input CreateTaskInput) (store.Task, error) {
	if _, _, err := s.authorize(ctx, caller.ID, projectID, rbac.PermWrite); err != nil {
		return store.Task{}, err
	}

	title, err := validateTaskTitle(input.Title)
	if err != nil {
		return store.Task{}, err
	}
	if err := validateLength("description", input.Description, maxTaskDescriptionLength); err != nil {
		return store.Task{}, err
	}
	status := firstNonBlank(input.Status, store.TaskStatusNotStarted)
	if err := validateStatus(status); err != nil {
		return store.Task{}, err
	}
	priority := firstNonBlank(input.Priority, store.TaskPriorityNone)
	if err := validatePriority(priority); err != nil {
		return store.Task{}, err
	}
	position := -1
	if input.Position != nil {
		if *input.Position < 0 {
			return store.Task{}, validationError("position must be non-negative", nil)
		}
		position = *input.Position
	}
	if err := validateCustomFields(input.CustomFields); err != nil {
		return store.Task{}, err
	}

	updatedBy := caller.ID
	task, err := s.store.CreateTask(ctx, store.Task{
		ID:           util.NewID(),
		ProjectID:    projectID,
		Title:        title,
		Description:  input.Description,
		Status:       status,
		Priority:     priority,
		Position:     position,
		CustomFields: input.CustomFields,
		UpdatedBy:    &updatedBy,
	})
	if err != nil {
		return store.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// UpdateTask applies a partial update under optimistic concurrency. With an
// expectedVersion a stale caller gets a *VersionConflictError and nothing is
// written. Without one the latest version is retried a few times.
func (s *Service) UpdateTask(ctx context.Context, caller store.User, projectID, taskID string, expectedVersion *int, patch store.TaskPatch) (store.Task, error) {
	task, err := s.loadProjectTask(ctx, caller, projectID, taskID, rbac.PermWrite)
	if err != nil {
		return store.Task{}, err
	}
	if err := validateTaskPatch(&patch); err != nil {
		return store.Task{}, err
	}
	if expectedVersion != nil && *expectedVersion != task.Version {
		return store.Task{}, versionConflict(*expectedVersion, task)
	}

	version := task.Version
	var current store.Task
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		updated, err := s.store.UpdateTask(ctx, taskID, version, patch, caller.ID)
		if err == nil {
			return updated, nil
		}
		var mismatch *store.VersionMismatchError
		if !errors.As(err, &mismatch) {
			if errors.Is(err, store.ErrNotFound) {
				return store.Task{}, notFoundError("task")
			}
			return store.Task{}, fmt.Errorf("update task: %w", err)
		}
		if expectedVersion != nil {
			return store.Task{}, versionConflict(*expectedVersion, mismatch.Current)
		}
		current = mismatch.Current
		version = current.Version
	}
	return store.Task{}, versionConflict(task.Version, current)
}

func (s *Service) UpdateTaskPriority(ctx context.Context, caller store.User, projectID, taskID, priority string, expectedVersion *int) (store.Task, error) {
	return s.UpdateTask(ctx, caller, projectID, taskID, expectedVersion, store.TaskPatch{Priority: store.Some(priority)})
}

func (s *Service) DeleteTask(ctx context.Context, caller store.User, projectID, taskID string) error {
	if _, err := s.loadProjectTask(ctx, caller, projectID, taskID, rbac.PermWrite); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("task")
		}
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Service) BulkUpdateTasks(ctx context.Context, caller store.User, projectID string, taskIDs []string, update store.BulkTaskUpdate) ([]store.Task, error) {
	if _, _, err := s.authorize(ctx, caller.ID, projectID, rbac.PermWrite); err != nil {
		return nil, err
	}
	ids, err := normalizeTaskIDs(taskIDs)
	if err != nil {
		return nil, err
	}
	if update.Status == nil && update.Priority == nil {
		return nil, validationError("status or priority is required", nil)
	}
	if update.Status != nil {
		if err := validateStatus(*update.Status); err != nil {
			return nil, err
		}
	}
	if update.Priority != nil {
		if err := validatePriority(*update.Priority); err != nil {
			return nil, err
		}
	}

	tasks, err := s.store.BulkUpdateTasks(ctx, projectID, ids, update, caller.ID)
	if err != nil {
		return nil, batchError(err)
	}
	return tasks, nil
}

func (s *Service) ReorderTasks(ctx context.Context, caller store.User, projectID string, positions []store.TaskPosition) error {
	if _, _, err := s.authorize(ctx, caller.ID, projectID, rbac.PermWrite); err != nil {
		return err
	}
	if len(positions) == 0 {
		return validationError("tasks are required", nil)
	}
	if len(positions) > maxBatchSize {
		return validationError(fmt.Sprintf("at most %d tasks per request", maxBatchSize), nil)
	}
	seen := make(map[string]struct{}, len(positions))
	for _, item := range positions {
		if strings.TrimSpace(item.ID) == "" {
			return validationError("task id is required", nil)
		}
		if item.Position < 0 {
			return validationError("position must be non-negative", map[string]any{"taskId": item.ID})
		}
		if _, dup := seen[item.ID]; dup {
			return validationError("duplicate task id", map[string]any{"taskId": item.ID})
		}
		seen[item.ID] = struct{}{}
	}

	if err := s.store.ReorderTasks(ctx, projectID, positions, caller.ID); err != nil {
		return batchError(err)
	}
	return nil
}

func (s *Service) DeleteTasks(ctx context.Context, caller store.User, projectID string, taskIDs []string) (int, error) {
	if _, _, err := s.authorize(ctx, caller.ID, projectID, rbac.PermWrite); err != nil {
		return 0, err
	}
	ids, err := normalizeTaskIDs(taskIDs)
	if err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteTasks(ctx, projectID, ids)
	if err != nil {
		return 0, batchError(err)
	}
	return deleted, nil
}

// normalizeTaskIDs drops duplicates, keeping first-seen order.
func normalizeTaskIDs(taskIDs []string) ([]string, error) {
	if len(taskIDs) == 0 {
		return nil, validationError("taskIds are required", nil)
	}
	seen := make(map[string]struct{}, len(taskIDs))
	ids := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, validationError("task id is required", nil)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) > maxBatchSize {
		return nil, validationError(fmt.Sprintf("at most %d tasks per request", maxBatchSize), nil)
	}
	return ids, nil
}

func validateTaskPatch(patch *store.TaskPatch) error {
	if patch.Empty() {
		return validationError("no fields to update", nil)
	}
	if patch.Title.Set {
		if patch.Title.Null {
			return validationError("title cannot be null", nil)
		}
		title, err := validateTaskTitle(patch.Title.Value)
		if err != nil {
			return err
		}
		patch.Title = store.Some(title)
	}
	if err := validateLength("description", patch.Description.Ptr(), maxTaskDescriptionLength); err != nil {
		return err
	}
	if patch.Status.Set {
		if patch.Status.Null {
			return validationError("status cannot be null", nil)
		}
		if err := validateStatus(patch.Status.Value); err != nil {
			return err
		}
	}
	if patch.Priority.Set {
		if patch.Priority.Null {
			return validationError("priority cannot be null", nil)
		}
		if err := validatePriority(patch.Priority.Value); err != nil {
			return err
		}
	}
	if patch.Position.Set {
		if patch.Position.Null {
			return validationError("position cannot be null", nil)
		}
		if patch.Position.Value < 0 {
			return validationError("position must be non-negative", nil)
		}
	}
	if patch.CustomFields.Set && !patch.CustomFields.Null {
		if err := validateCustomFields(patch.CustomFields.Value); err != nil {
			return err
		}
	}
	return nil
}

func validateTaskTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", validationError("title is required", nil)
	}
	if utf8.RuneCountInString(title) > maxTaskTitleLength {
		return "", validationError(fmt.Sprintf("title must be at most %d characters", maxTaskTitleLength), nil)
	}
	return title, nil
}

func validateStatus(status string) error {
	if _, ok := allowedTaskStatuses[status]; !ok {
		return validationError("invalid status", map[string]any{"allowed": []string{store.TaskStatusNotStarted, store.TaskStatusInProgress, store.TaskStatusCompleted}})
	}
	return nil
}

func validatePriority(priority string) error {
	if _, ok := allowedTaskPriorities[priority]; !ok {
		return validationError("invalid priority", map[string]any{"allowed": []string{store.TaskPriorityNone, store.TaskPriorityLow, store.TaskPriorityMedium, store.TaskPriorityHigh, store.TaskPriorityUrgent}})
	}
	return nil
}

// validateCustomFields accepts a flat map of scalar values within size bounds.
func validateCustomFields(fields map[string]any) error {
	if fields == nil {
		return nil
	}
	if len(fields) > maxCustomFieldKeys {
		return validationError(fmt.Sprintf("customFields may have at most %d keys", maxCustomFieldKeys), nil)
	}
	for key, value := range fields {
		if strings.TrimSpace(key) == "" {
			return validationError("customFields keys must not be blank", nil)
		}
		switch value.(type) {
		case nil, string, bool, float64, json.Number:
		default:
			return validationError("customFields values must be scalars", map[string]any{"key": key})
		}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return validationError("customFields must be valid JSON", nil)
	}
	if len(encoded) > maxCustomFieldBytes {
		return validationError(fmt.Sprintf("customFields must encode to at most %d bytes", maxCustomFieldBytes), nil)
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
