package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Users

const userColumns = `id, email, name, external_auth_id, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.ExternalAuthID, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

// ResolveUser finds the user for an external identity or creates it. The
// unique constraint on external_auth_id makes concurrent first calls converge
// on one row; an existing user keeps its stored email.
func (s *PostgresStore) ResolveUser(ctx context.Context, id, externalAuthID, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, external_auth_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_auth_id) DO UPDATE SET external_auth_id=EXCLUDED.external_auth_id
		RETURNING `+userColumns, id, email, externalAuthID)
	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, patch UserPatch) (User, error) {
	sets, args := []string{}, []any{userID}
	if patch.Name.Set {
		args = append(args, patch.Name.Ptr())
		sets = append(sets, fmt.Sprintf("name=$%d", len(args)))
	}
	if len(sets) == 0 {
		return s.GetUser(ctx, userID)
	}
	sets = append(sets, "updated_at=NOW()")

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 RETURNING ` + userColumns
	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return User{}, fmt.Errorf("update user: %w", notFound(err))
	}
	return user, nil
}

// Projects

const projectColumns = `p.id, p.name, p.description, p.owner_user_id, p.created_at, p.updated_at`

func scanProject(row rowScanner, extra ...any) (Project, error) {
	var project Project
	dest := []any{&project.ID, &project.Name, &project.Description, &project.OwnerUserID, &project.CreatedAt, &project.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	return project, err
}

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO projects AS p (id, name, description, owner_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+projectColumns, project.ID, project.Name, project.Description, project.OwnerUserID)
	created, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id=$1`, projectID))
	if err != nil {
		return Project{}, notFound(err)
	}
	return project, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (Project, error) {
	sets, args := []string{}, []any{projectID}
	if patch.Name.Set && !patch.Name.Null {
		args = append(args, patch.Name.Value)
		sets = append(sets, fmt.Sprintf("name=$%d", len(args)))
	}
	if patch.Description.Set {
		args = append(args, patch.Description.Ptr())
		sets = append(sets, fmt.Sprintf("description=$%d", len(args)))
	}
	if len(sets) == 0 {
		return s.GetProject(ctx, projectID)
	}
	sets = append(sets, "updated_at=NOW()")

	query := `UPDATE projects AS p SET ` + strings.Join(sets, ", ") + ` WHERE p.id=$1 RETURNING ` + projectColumns
	project, err := scanProject(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", notFound(err))
	}
	return project, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

func (s *PostgresStore) ListOwnedProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects p
		WHERE p.owner_user_id=$1
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, project)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListCollaboratedProjects(ctx context.Context, userID string) ([]CollaboratedProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`, pc.role
		FROM projects p
		JOIN project_collaborators pc ON pc.project_id = p.id
		WHERE pc.user_id=$1 AND p.owner_user_id <> $1
		ORDER BY p.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list collaborated projects: %w", err)
	}
	defer rows.Close()

	items := make([]CollaboratedProject, 0)
	for rows.Next() {
		var role string
		project, err := scanProject(rows, &role)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, CollaboratedProject{Project: project, Role: role})
	}
	return items, rows.Err()
}

// GetCollaboratorRole returns "" when the user is not a collaborator.
func (s *PostgresStore) GetCollaboratorRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM project_collaborators WHERE project_id=$1 AND user_id=$2`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read collaborator role: %w", err)
	}
	return role, nil
}

// Tasks

const taskColumns = `id, project_id, title, description, status, priority, position, custom_fields, version, updated_by, created_at, updated_at`

func scanTask(row rowScanner) (Task, error) {
	var task Task
	var customFields []byte
	err := row.Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.Position, &customFields, &task.Version, &task.UpdatedBy, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	if len(customFields) > 0 {
		if err := json.Unmarshal(customFields, &task.CustomFields); err != nil {
			return Task{}, fmt.Errorf("decode custom fields: %w", err)
		}
	}
	return task, nil
}

func encodeCustomFields(fields map[string]any) (*string, error) {
	if fields == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode custom fields: %w", err)
	}
	value := string(encoded)
	return &value, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE project_id=$1
		ORDER BY position ASC, created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, notFound(err)
	}
	return task, nil
}

// CreateTask inserts a task at version 1. A negative position appends the task
// after the project's current last position.
func (s *PostgresStore) CreateTask(ctx context.Context, task Task) (Task, error) {
	customFields, err := encodeCustomFields(task.CustomFields)
	if err != nil {
		return Task{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, priority, position, custom_fields, version, updated_by)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			CASE WHEN $7::int >= 0 THEN $7::int
				ELSE COALESCE((SELECT MAX(position) + 1 FROM tasks WHERE project_id=$2), 0) END,
			$8::jsonb, 1, $9
		)
		RETURNING `+taskColumns,
		task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority,
		task.Position, customFields, task.UpdatedBy,
	)
	created, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

// UpdateTask applies patch only if the stored version still equals
// expectedVersion, bumping the version and stamping updatedBy. When another
// writer got there first the current row is returned in a
// *VersionMismatchError.
func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, expectedVersion int, patch TaskPatch, updatedBy string) (Task, error) {
	sets, args := []string{}, []any{taskID, expectedVersion}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title.Set {
		add("title", patch.Title.Value)
	}
	if patch.Description.Set {
		add("description", patch.Description.Ptr())
	}
	if patch.Status.Set {
		add("status", patch.Status.Value)
	}
	if patch.Priority.Set {
		add("priority", patch.Priority.Value)
	}
	if patch.Position.Set {
		add("position", patch.Position.Value)
	}
	if patch.CustomFields.Set {
		var fields map[string]any
		if !patch.CustomFields.Null {
			fields = patch.CustomFields.Value
		}
		encoded, err := encodeCustomFields(fields)
		if err != nil {
			return Task{}, err
		}
		args = append(args, encoded)
		sets = append(sets, fmt.Sprintf("custom_fields=$%d::jsonb", len(args)))
	}
	add("updated_by", updatedBy)
	sets = append(sets, "version=version+1", "updated_at=NOW()")

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id=$1 AND version=$2 RETURNING ` + taskColumns

	var updated Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		task, err := scanTask(tx.QueryRowContext(ctx, query, args...))
		if err == nil {
			updated = task
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update task: %w", err)
		}
		current, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
		if err != nil {
			return notFound(err)
		}
		return &VersionMismatchError{Current: current}
	})
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

// BulkUpdateTasks sets status and/or priority on every listed task of the
// project. Either all ids match or nothing changes.
func (s *PostgresStore) BulkUpdateTasks(ctx context.Context, projectID string, taskIDs []string, update BulkTaskUpdate, updatedBy string) ([]Task, error) {
	items := make([]Task, 0, len(taskIDs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			UPDATE tasks
			SET status=COALESCE($3::text, status),
				priority=COALESCE($4::text, priority),
				version=version+1,
				updated_by=$5,
				updated_at=NOW()
			WHERE project_id=$1 AND id = ANY($2)
			RETURNING `+taskColumns,
			projectID, taskIDs, update.Status, update.Priority, updatedBy,
		)
		if err != nil {
			return fmt.Errorf("bulk update tasks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return fmt.Errorf("scan task: %w", err)
			}
			items = append(items, task)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("bulk update tasks: %w", err)
		}
		if len(items) != len(taskIDs) {
			return &BatchMismatchError{Requested: len(taskIDs), Matched: len(items)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ReorderTasks writes every position in one transaction.
func (s *PostgresStore) ReorderTasks(ctx context.Context, projectID string, positions []TaskPosition, updatedBy string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		matched := 0
		for _, item := range positions {
			result, err := tx.ExecContext(ctx, `
				UPDATE tasks
				SET position=$3, version=version+1, updated_by=$4, updated_at=NOW()
				WHERE id=$1 AND project_id=$2
			`, item.ID, projectID, item.Position, updatedBy)
			if err != nil {
				return fmt.Errorf("reorder task %s: %w", item.ID, err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("reorder task %s: %w", item.ID, err)
			}
			matched += int(affected)
		}
		if matched != len(positions) {
			return &BatchMismatchError{Requested: len(positions), Matched: matched}
		}
		return nil
	})
}

func (s *PostgresStore) DeleteTasks(ctx context.Context, projectID string, taskIDs []string) (int, error) {
	var deleted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id=$1 AND id = ANY($2)`, projectID, taskIDs)
		if err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		if int(affected) != len(taskIDs) {
			return &BatchMismatchError{Requested: len(taskIDs), Matched: int(affected)}
		}
		deleted = int(affected)
		return nil
	})
	return deleted, err
}

// Comments

const commentSelect = `
	SELECT c.id, c.task_id, c.user_id, c.content, c.created_at, c.updated_at, u.id, u.email, u.name
	FROM task_comments c
	JOIN users u ON u.id = c.user_id
`

func scanComment(row rowScanner) (Comment, error) {
	var comment Comment
	err := row.Scan(
		&comment.ID, &comment.TaskID, &comment.UserID, &comment.Content, &comment.CreatedAt, &comment.UpdatedAt,
		&comment.Author.ID, &comment.Author.Email, &comment.Author.Name,
	)
	return comment, err
}

func (s *PostgresStore) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+` WHERE c.task_id=$1 ORDER BY c.created_at ASC, c.id ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	comment, err := scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.id=$1`, commentID))
	if err != nil {
		return Comment{}, notFound(err)
	}
	return comment, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) (Comment, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO task_comments (id, task_id, user_id, content)
		VALUES ($1, $2, $3, $4)
	`, comment.ID, comment.TaskID, comment.UserID, comment.Content); err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return s.GetComment(ctx, comment.ID)
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, content string) (Comment, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE task_comments SET content=$2, updated_at=NOW() WHERE id=$1`, commentID, content)
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if err := expectAffected(result, ErrNotFound); err != nil {
		return Comment{}, err
	}
	return s.GetComment(ctx, commentID)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM task_comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

// Team

func (s *PostgresStore) ListCollaborators(ctx context.Context, projectID string) ([]TeamMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pc.user_id, u.email, u.name, pc.role, pc.joined_at
		FROM project_collaborators pc
		JOIN users u ON u.id = pc.user_id
		WHERE pc.project_id=$1
		ORDER BY pc.joined_at ASC, pc.user_id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]TeamMember, 0)
	for rows.Next() {
		var member TeamMember
		if err := rows.Scan(&member.UserID, &member.Email, &member.Name, &member.Role, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, member)
	}
	return items, rows.Err()
}

// IsTeamMemberEmail reports whether email belongs to the owner or a
// collaborator of the project.
func (s *PostgresStore) IsTeamMemberEmail(ctx context.Context, projectID, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM project_collaborators pc
			JOIN users u ON u.id = pc.user_id
			WHERE pc.project_id=$1 AND LOWER(u.email)=LOWER($2)
		) OR EXISTS (
			SELECT 1 FROM projects p
			JOIN users u ON u.id = p.owner_user_id
			WHERE p.id=$1 AND LOWER(u.email)=LOWER($2)
		)
	`, projectID, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check team member: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateCollaboratorRole(ctx context.Context, projectID, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE project_collaborators SET role=$3 WHERE project_id=$1 AND user_id=$2`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("update collaborator role: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

func (s *PostgresStore) RemoveCollaborator(ctx context.Context, projectID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_collaborators WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

// Invitations

const invitationColumns = `i.id, i.project_id, i.sender_user_id, i.receiver_email, i.role, i.token, i.status, i.expires_at, i.created_at`

func scanInvitation(row rowScanner, extra ...any) (Invitation, error) {
	var inv Invitation
	dest := []any{&inv.ID, &inv.ProjectID, &inv.SenderUserID, &inv.ReceiverEmail, &inv.Role, &inv.Token, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	return inv, err
}

// CreateInvitation returns ErrDuplicate when a pending invitation already
// exists for the project and email.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO project_invitations AS i (id, project_id, sender_user_id, receiver_email, role, token, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
		RETURNING `+invitationColumns,
		inv.ID, inv.ProjectID, inv.SenderUserID, inv.ReceiverEmail, inv.Role, inv.Token, inv.ExpiresAt,
	)
	created, err := scanInvitation(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Invitation{}, ErrDuplicate
		}
		return Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}
	return created, nil
}

// ExpireInvitations marks every pending invitation past its expiry as expired.
func (s *PostgresStore) ExpireInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_invitations
		SET status='expired'
		WHERE status='pending' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return result.RowsAffected()
}

const invitationDetailSelect = `
	SELECT ` + invitationColumns + `, p.name, u.email, u.name
	FROM project_invitations i
	JOIN projects p ON p.id = i.project_id
	JOIN users u ON u.id = i.sender_user_id
`

func (s *PostgresStore) listInvitationDetails(ctx context.Context, where string, args ...any) ([]InvitationDetail, error) {
	rows, err := s.db.QueryContext(ctx, invitationDetailSelect+where+` ORDER BY i.created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]InvitationDetail, 0)
	for rows.Next() {
		var detail InvitationDetail
		inv, err := scanInvitation(rows, &detail.ProjectName, &detail.SenderEmail, &detail.SenderName)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		detail.Invitation = inv
		items = append(items, detail)
	}
	return items, rows.Err()
}

func (s *PostgresStore) ListPendingInvitationsForEmail(ctx context.Context, email string) ([]InvitationDetail, error) {
	return s.listInvitationDetails(ctx, ` WHERE i.receiver_email=LOWER($1) AND i.status='pending'`, email)
}

func (s *PostgresStore) ListPendingInvitationsForProject(ctx context.Context, projectID string) ([]InvitationDetail, error) {
	return s.listInvitationDetails(ctx, ` WHERE i.project_id=$1 AND i.status='pending'`, projectID)
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM project_invitations i WHERE i.id=$1`, invitationID))
	if err != nil {
		return Invitation{}, notFound(err)
	}
	return inv, nil
}

func (s *PostgresStore) GetInvitationByToken(ctx context.Context, token string) (Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM project_invitations i WHERE i.token=$1`, token))
	if err != nil {
		return Invitation{}, notFound(err)
	}
	return inv, nil
}

// AcceptInvitation marks inv accepted and grants its role to userID in one
// transaction. ErrNotFound means the invitation stopped being pending or
// expired in the meantime.
func (s *PostgresStore) AcceptInvitation(ctx context.Context, inv Invitation, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE project_invitations
			SET status='accepted'
			WHERE id=$1 AND status='pending' AND expires_at > NOW()
		`, inv.ID)
		if err != nil {
			return fmt.Errorf("mark invitation accepted: %w", err)
		}
		if err := expectAffected(result, ErrNotFound); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM project_invitations
			WHERE project_id=$1 AND receiver_email=$2 AND status='accepted' AND id <> $3
		`, inv.ProjectID, inv.ReceiverEmail, inv.ID); err != nil {
			return fmt.Errorf("clear accepted invitations: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_collaborators (project_id, user_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, user_id) DO UPDATE SET role=EXCLUDED.role
		`, inv.ProjectID, userID, inv.Role); err != nil {
			return fmt.Errorf("upsert collaborator: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) DeclineInvitation(ctx context.Context, invitationID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE project_invitations SET status='declined' WHERE id=$1 AND status='pending'`, invitationID)
	if err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	return expectAffected(result, ErrNotFound)
}

func expectAffected(result sql.Result, missing error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}
