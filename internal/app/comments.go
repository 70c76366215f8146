package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/store"
	"github.com/johnobriendev/notionesqueServer/internal/util"
)

const maxCommentLength = 5000

// taskAccess loads a task by id and checks perm on its project.
func (s *Service) taskAccess(ctx context.Context, caller store.User, taskID string, perm rbac.Permission) (store.Task, rbac.Access, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, rbac.Access{}, notFoundError("task")
		}
		return store.Task{}, rbac.Access{}, fmt.Errorf("load task: %w", err)
	}
	_, access, err := s.authorize(ctx, caller.ID, task.ProjectID, perm)
	if err != nil {
		return store.Task{}, access, err
	}
	return task, access, nil
}

func (s *Service) ListComments(ctx context.Context, caller store.User, taskID string) ([]store.Comment, error) {
	if _, _, err := s.taskAccess(ctx, caller, taskID, rbac.PermRead); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

func (s *Service) CreateComment(ctx context.Context, caller store.User, taskID, content string) (store.Comment, error) {
	if _, _, err := s.taskAccess(ctx, caller, taskID, rbac.PermWrite); err != nil {
		return store.Comment{}, err
	}
	content, err := validateCommentContent(content)
	if err != nil {
		return store.Comment{}, err
	}
	comment, err := s.store.CreateComment(ctx, store.Comment{
		ID:      util.NewID(),
		TaskID:  taskID,
		UserID:  caller.ID,
		Content: content,
	})
	if err != nil {
		return store.Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

func (s *Service) loadTaskComment(ctx context.Context, taskID, commentID string) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Comment{}, notFoundError("comment")
		}
		return store.Comment{}, fmt.Errorf("load comment: %w", err)
	}
	if comment.TaskID != taskID {
		return store.Comment{}, notFoundError("comment")
	}
	return comment, nil
}

// UpdateComment lets only the author edit, provided they can still read the
// project.
func (s *Service) UpdateComment(ctx context.Context, caller store.User, taskID, commentID, content string) (store.Comment, error) {
	if _, _, err := s.taskAccess(ctx, caller, taskID, rbac.PermRead); err != nil {
		return store.Comment{}, err
	}
	comment, err := s.loadTaskComment(ctx, taskID, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if !rbac.CanEditComment(comment.UserID, caller.ID) {
		return store.Comment{}, forbiddenError("Only the author can edit this comment")
	}
	content, err = validateCommentContent(content)
	if err != nil {
		return store.Comment{}, err
	}

	updated, err := s.store.UpdateComment(ctx, commentID, content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Comment{}, notFoundError("comment")
		}
		return store.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return updated, nil
}

func (s *Service) DeleteComment(ctx context.Context, caller store.User, taskID, commentID string) error {
	_, access, err := s.taskAccess(ctx, caller, taskID, rbac.PermRead)
	if err != nil {
		return err
	}
	comment, err := s.loadTaskComment(ctx, taskID, commentID)
	if err != nil {
		return err
	}
	if !rbac.CanDeleteComment(comment.UserID, caller.ID, access.Role) {
		return forbiddenError("Only the author or the project owner can delete this comment")
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("comment")
		}
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func validateCommentContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", validationError("content is required", nil)
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return "", validationError(fmt.Sprintf("content must be at most %d characters", maxCommentLength), nil)
	}
	return content, nil
}
