package store

import "time"

const (
	TaskStatusNotStarted = "not started"
	TaskStatusInProgress = "in progress"
	TaskStatusCompleted  = "completed"

	TaskPriorityNone   = "none"
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
	TaskPriorityUrgent = "urgent"

	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
	InvitationExpired  = "expired"
)

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           *string   `json:"name"`
	ExternalAuthID string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	OwnerUserID string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CollaboratedProject is a project the user joined through an invitation.
type CollaboratedProject struct {
	Project
	Role string `json:"role"`
}

type TeamMember struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	Name     *string   `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

type Invitation struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	SenderUserID  string    `json:"senderId"`
	ReceiverEmail string    `json:"receiverEmail"`
	Role          string    `json:"role"`
	Token         string    `json:"token,omitempty"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
}

// InvitationDetail carries the project and sender context shown to invitees.
type InvitationDetail struct {
	Invitation
	ProjectName string  `json:"projectName"`
	SenderEmail string  `json:"senderEmail"`
	SenderName  *string `json:"senderName"`
}

type Task struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectId"`
	Title        string         `json:"title"`
	Description  *string        `json:"description"`
	Status       string         `json:"status"`
	Priority     string         `json:"priority"`
	Position     int            `json:"position"`
	CustomFields map[string]any `json:"customFields"`
	Version      int            `json:"version"`
	UpdatedBy    *string        `json:"updatedBy"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

type Comment struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"taskId"`
	UserID    string        `json:"userId"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Author    CommentAuthor `json:"user"`
}

type CommentAuthor struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// TaskPatch is a partial task update. Unset fields are left untouched.
type TaskPatch struct {
	Title        Optional[string]         `json:"title"`
	Description  Optional[string]         `json:"description"`
	Status       Optional[string]         `json:"status"`
	Priority     Optional[string]         `json:"priority"`
	Position     Optional[int]            `json:"position"`
	CustomFields Optional[map[string]any] `json:"customFields"`
}

func (p TaskPatch) Empty() bool {
	return !p.Title.Set && !p.Description.Set && !p.Status.Set &&
		!p.Priority.Set && !p.Position.Set && !p.CustomFields.Set
}

type ProjectPatch struct {
	Name        Optional[string] `json:"name"`
	Description Optional[string] `json:"description"`
}

// UserPatch holds the profile fields a user may change. Email follows the
// identity provider and is not patchable.
type UserPatch struct {
	Name Optional[string] `json:"name"`
}

// BulkTaskUpdate applies the same status and/or priority to many tasks.
type BulkTaskUpdate struct {
	Status   *string `json:"status"`
	Priority *string `json:"priority"`
}

type TaskPosition struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}
