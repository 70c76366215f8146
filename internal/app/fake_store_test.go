package app

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johnobriendev/notionesqueServer/internal/store"
)

type fakeCollaborator struct {
	role     string
	joinedAt time.Time
}

// fakeStore is an in-memory DataStore with the same conditional-write
// semantics as the Postgres store.
type fakeStore struct {
	mu            sync.Mutex
	clock         time.Time
	now           func() time.Time
	pingErr       error
	users         map[string]store.User
	projects      map[string]store.Project
	collaborators map[string]map[string]fakeCollaborator
	tasks         map[string]store.Task
	comments      map[string]store.Comment
	invitations   map[string]store.Invitation

	// beforeUpdate runs inside UpdateTask before the version check.
	beforeUpdate func(taskID string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		now:           time.Now,
		users:         map[string]store.User{},
		projects:      map[string]store.Project{},
		collaborators: map[string]map[string]fakeCollaborator{},
		tasks:         map[string]store.Task{},
		comments:      map[string]store.Comment{},
		invitations:   map[string]store.Invitation{},
	}
}

// tick returns strictly increasing timestamps so orderings are stable.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ResolveUser(_ context.Context, id, externalAuthID, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.ExternalAuthID == externalAuthID {
			return user, nil
		}
	}
	now := f.tick()
	user := store.User{ID: id, ExternalAuthID: externalAuthID, Email: email, CreatedAt: now, UpdatedAt: now}
	f.users[id] = user
	return user, nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) UpdateUser(_ context.Context, userID string, patch store.UserPatch) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	if patch.Name.Set {
		user.Name = patch.Name.Ptr()
	}
	user.UpdatedAt = f.tick()
	f.users[userID] = user
	return user, nil
}

func (f *fakeStore) CreateProject(_ context.Context, project store.Project) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	project.CreatedAt, project.UpdatedAt = now, now
	f.projects[project.ID] = project
	return project, nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	return project, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, projectID string, patch store.ProjectPatch) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, store.ErrNotFound
	}
	if patch.Name.Set {
		project.Name = patch.Name.Value
	}
	if patch.Description.Set {
		project.Description = patch.Description.Ptr()
	}
	project.UpdatedAt = f.tick()
	f.projects[projectID] = project
	return project, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return store.ErrNotFound
	}
	delete(f.projects, projectID)
	delete(f.collaborators, projectID)
	for id, task := range f.tasks {
		if task.ProjectID == projectID {
			delete(f.tasks, id)
		}
	}
	for id, inv := range f.invitations {
		if inv.ProjectID == projectID {
			delete(f.invitations, id)
		}
	}
	return nil
}

func (f *fakeStore) ListOwnedProjects(_ context.Context, userID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Project, 0)
	for _, project := range f.projects {
		if project.OwnerUserID == userID {
			items = append(items, project)
		}
	}
	return items, nil
}

func (f *fakeStore) ListCollaboratedProjects(_ context.Context, userID string) ([]store.CollaboratedProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.CollaboratedProject, 0)
	for projectID, members := range f.collaborators {
		if member, ok := members[userID]; ok {
			items = append(items, store.CollaboratedProject{Project: f.projects[projectID], Role: member.role})
		}
	}
	return items, nil
}

func (f *fakeStore) GetCollaboratorRole(_ context.Context, projectID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collaborators[projectID][userID].role, nil
}

func (f *fakeStore) sortedTasks(projectID string) []store.Task {
	items := make([]store.Task, 0)
	for _, task := range f.tasks {
		if task.ProjectID == projectID {
			items = append(items, task)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (f *fakeStore) ListTasks(_ context.Context, projectID string) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedTasks(projectID), nil
}

func (f *fakeStore) GetTask(_ context.Context, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) CreateTask(_ context.Context, task store.Task) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task.Position < 0 {
		task.Position = 0
		for _, existing := range f.sortedTasks(task.ProjectID) {
			if existing.Position >= task.Position {
				task.Position = existing.Position + 1
			}
		}
	}
	now := f.tick()
	task.Version = 1
	task.CreatedAt, task.UpdatedAt = now, now
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, taskID string, expectedVersion int, patch store.TaskPatch, updatedBy string) (store.Task, error) {
	if f.beforeUpdate != nil {
		f.beforeUpdate(taskID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok {
		return store.Task{}, store.ErrNotFound
	}
	if task.Version != expectedVersion {
		return store.Task{}, &store.VersionMismatchError{Current: task}
	}
	if patch.Title.Set {
		task.Title = patch.Title.Value
	}
	if patch.Description.Set {
		task.Description = patch.Description.Ptr()
	}
	if patch.Status.Set {
		task.Status = patch.Status.Value
	}
	if patch.Priority.Set {
		task.Priority = patch.Priority.Value
	}
	if patch.Position.Set {
		task.Position = patch.Position.Value
	}
	if patch.CustomFields.Set {
		task.CustomFields = patch.CustomFields.Value
	}
	task.Version++
	task.UpdatedBy = &updatedBy
	task.UpdatedAt = f.tick()
	f.tasks[taskID] = task
	return task, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[taskID]; !ok {
		return store.ErrNotFound
	}
	delete(f.tasks, taskID)
	return nil
}

func (f *fakeStore) matchTasks(projectID string, taskIDs []string) error {
	matched := 0
	for _, id := range taskIDs {
		if task, ok := f.tasks[id]; ok && task.ProjectID == projectID {
			matched++
		}
	}
	if matched != len(taskIDs) {
		return &store.BatchMismatchError{Requested: len(taskIDs), Matched: matched}
	}
	return nil
}

func (f *fakeStore) BulkUpdateTasks(_ context.Context, projectID string, taskIDs []string, update store.BulkTaskUpdate, updatedBy string) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.matchTasks(projectID, taskIDs); err != nil {
		return nil, err
	}
	items := make([]store.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		task := f.tasks[id]
		if update.Status != nil {
			task.Status = *update.Status
		}
		if update.Priority != nil {
			task.Priority = *update.Priority
		}
		task.Version++
		task.UpdatedBy = &updatedBy
		f.tasks[id] = task
		items = append(items, task)
	}
	return items, nil
}

func (f *fakeStore) ReorderTasks(_ context.Context, projectID string, positions []store.TaskPosition, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(positions))
	for _, item := range positions {
		ids = append(ids, item.ID)
	}
	if err := f.matchTasks(projectID, ids); err != nil {
		return err
	}
	for _, item := range positions {
		task := f.tasks[item.ID]
		task.Position = item.Position
		task.Version++
		task.UpdatedBy = &updatedBy
		f.tasks[item.ID] = task
	}
	return nil
}

func (f *fakeStore) DeleteTasks(_ context.Context, projectID string, taskIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.matchTasks(projectID, taskIDs); err != nil {
		return 0, err
	}
	for _, id := range taskIDs {
		delete(f.tasks, id)
	}
	return len(taskIDs), nil
}

func (f *fakeStore) withAuthor(comment store.Comment) store.Comment {
	user := f.users[comment.UserID]
	comment.Author = store.CommentAuthor{ID: user.ID, Email: user.Email, Name: user.Name}
	return comment
}

func (f *fakeStore) ListComments(_ context.Context, taskID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Comment, 0)
	for _, comment := range f.comments {
		if comment.TaskID == taskID {
			items = append(items, f.withAuthor(comment))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) GetComment(_ context.Context, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, store.ErrNotFound
	}
	return f.withAuthor(comment), nil
}

func (f *fakeStore) CreateComment(_ context.Context, comment store.Comment) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	comment.CreatedAt, comment.UpdatedAt = now, now
	f.comments[comment.ID] = comment
	return f.withAuthor(comment), nil
}

func (f *fakeStore) UpdateComment(_ context.Context, commentID, content string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment, ok := f.comments[commentID]
	if !ok {
		return store.Comment{}, store.ErrNotFound
	}
	comment.Content = content
	comment.UpdatedAt = f.tick()
	f.comments[commentID] = comment
	return f.withAuthor(comment), nil
}

func (f *fakeStore) DeleteComment(_ context.Context, commentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.comments[commentID]; !ok {
		return store.ErrNotFound
	}
	delete(f.comments, commentID)
	return nil
}

func (f *fakeStore) ListCollaborators(_ context.Context, projectID string) ([]store.TeamMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TeamMember, 0)
	for userID, member := range f.collaborators[projectID] {
		user := f.users[userID]
		items = append(items, store.TeamMember{UserID: userID, Email: user.Email, Name: user.Name, Role: member.role, JoinedAt: member.joinedAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].JoinedAt.Before(items[j].JoinedAt) })
	return items, nil
}

func (f *fakeStore) IsTeamMemberEmail(_ context.Context, projectID, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if project, ok := f.projects[projectID]; ok && strings.EqualFold(f.users[project.OwnerUserID].Email, email) {
		return true, nil
	}
	for userID := range f.collaborators[projectID] {
		if strings.EqualFold(f.users[userID].Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) UpdateCollaboratorRole(_ context.Context, projectID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.collaborators[projectID][userID]
	if !ok {
		return store.ErrNotFound
	}
	member.role = role
	f.collaborators[projectID][userID] = member
	return nil
}

func (f *fakeStore) RemoveCollaborator(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collaborators[projectID][userID]; !ok {
		return store.ErrNotFound
	}
	delete(f.collaborators[projectID], userID)
	return nil
}

func (f *fakeStore) CreateInvitation(_ context.Context, inv store.Invitation) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.invitations {
		if existing.ProjectID == inv.ProjectID && existing.ReceiverEmail == inv.ReceiverEmail && existing.Status == store.InvitationPending {
			return store.Invitation{}, store.ErrDuplicate
		}
	}
	inv.Status = store.InvitationPending
	inv.CreatedAt = f.tick()
	f.invitations[inv.ID] = inv
	return inv, nil
}

func (f *fakeStore) ExpireInvitations(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired int64
	now := f.now()
	for id, inv := range f.invitations {
		if inv.Status == store.InvitationPending && !inv.ExpiresAt.After(now) {
			inv.Status = store.InvitationExpired
			f.invitations[id] = inv
			expired++
		}
	}
	return expired, nil
}

func (f *fakeStore) listInvitations(match func(store.Invitation) bool) []store.InvitationDetail {
	items := make([]store.InvitationDetail, 0)
	for _, inv := range f.invitations {
		if inv.Status != store.InvitationPending || !match(inv) {
			continue
		}
		sender := f.users[inv.SenderUserID]
		items = append(items, store.InvitationDetail{
			Invitation:  inv,
			ProjectName: f.projects[inv.ProjectID].Name,
			SenderEmail: sender.Email,
			SenderName:  sender.Name,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

func (f *fakeStore) ListPendingInvitationsForEmail(_ context.Context, email string) ([]store.InvitationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listInvitations(func(inv store.Invitation) bool { return strings.EqualFold(inv.ReceiverEmail, email) }), nil
}

func (f *fakeStore) ListPendingInvitationsForProject(_ context.Context, projectID string) ([]store.InvitationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listInvitations(func(inv store.Invitation) bool { return inv.ProjectID == projectID }), nil
}

func (f *fakeStore) GetInvitation(_ context.Context, invitationID string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok {
		return store.Invitation{}, store.ErrNotFound
	}
	return inv, nil
}

func (f *fakeStore) GetInvitationByToken(_ context.Context, token string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invitations {
		if inv.Token == token {
			return inv, nil
		}
	}
	return store.Invitation{}, store.ErrNotFound
}

func (f *fakeStore) AcceptInvitation(_ context.Context, inv store.Invitation, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.invitations[inv.ID]
	if !ok || current.Status != store.InvitationPending || !current.ExpiresAt.After(f.now()) {
		return store.ErrNotFound
	}
	current.Status = store.InvitationAccepted
	f.invitations[inv.ID] = current
	if f.collaborators[inv.ProjectID] == nil {
		f.collaborators[inv.ProjectID] = map[string]fakeCollaborator{}
	}
	f.collaborators[inv.ProjectID][userID] = fakeCollaborator{role: inv.Role, joinedAt: f.tick()}
	return nil
}

func (f *fakeStore) DeclineInvitation(_ context.Context, invitationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invitations[invitationID]
	if !ok || inv.Status != store.InvitationPending {
		return store.ErrNotFound
	}
	inv.Status = store.InvitationDeclined
	f.invitations[invitationID] = inv
	return nil
}
