package app

import (
	"context"
	"log"
	"time"

	"github.com/johnobriendev/notionesqueServer/internal/auth"
	"github.com/johnobriendev/notionesqueServer/internal/config"
	"github.com/johnobriendev/notionesqueServer/internal/email"
	"github.com/johnobriendev/notionesqueServer/internal/ratelimit"
	"github.com/johnobriendev/notionesqueServer/internal/store"
)

// DataStore is the persistence surface the service depends on. In production it
// is a *store.SealedStore so encrypted columns arrive here as plaintext.
type DataStore interface {
	Ping(context.Context) error

	ResolveUser(ctx context.Context, id, externalAuthID, email string) (store.User, error)
	GetUser(ctx context.Context, userID string) (store.User, error)
	UpdateUser(ctx context.Context, userID string, patch store.UserPatch) (store.User, error)

	CreateProject(ctx context.Context, project store.Project) (store.Project, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	UpdateProject(ctx context.Context, projectID string, patch store.ProjectPatch) (store.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	ListOwnedProjects(ctx context.Context, userID string) ([]store.Project, error)
	ListCollaboratedProjects(ctx context.Context, userID string) ([]store.CollaboratedProject, error)
	GetCollaboratorRole(ctx context.Context, projectID, userID string) (string, error)

	ListTasks(ctx context.Context, projectID string) ([]store.Task, error)
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	CreateTask(ctx context.Context, task store.Task) (store.Task, error)
	UpdateTask(ctx context.Context, taskID string, expectedVersion int, patch store.TaskPatch, updatedBy string) (store.Task, error)
	DeleteTask(ctx context.Context, taskID string) error
	BulkUpdateTasks(ctx context.Context, projectID string, taskIDs []string, update store.BulkTaskUpdate, updatedBy string) ([]store.Task, error)
	ReorderTasks(ctx context.Context, projectID string, positions []store.TaskPosition, updatedBy string) error
	DeleteTasks(ctx context.Context, projectID string, taskIDs []string) (int, error)

	ListComments(ctx context.Context, taskID string) ([]store.Comment, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	CreateComment(ctx context.Context, comment store.Comment) (store.Comment, error)
	UpdateComment(ctx context.Context, commentID, content string) (store.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error

	ListCollaborators(ctx context.Context, projectID string) ([]store.TeamMember, error)
	IsTeamMemberEmail(ctx context.Context, projectID, email string) (bool, error)
	UpdateCollaboratorRole(ctx context.Context, projectID, userID, role string) error
	RemoveCollaborator(ctx context.Context, projectID, userID string) error

	CreateInvitation(ctx context.Context, inv store.Invitation) (store.Invitation, error)
	ExpireInvitations(ctx context.Context) (int64, error)
	ListPendingInvitationsForEmail(ctx context.Context, email string) ([]store.InvitationDetail, error)
	ListPendingInvitationsForProject(ctx context.Context, projectID string) ([]store.InvitationDetail, error)
	GetInvitation(ctx context.Context, invitationID string) (store.Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (store.Invitation, error)
	AcceptInvitation(ctx context.Context, inv store.Invitation, userID string) error
	DeclineInvitation(ctx context.Context, invitationID string) error
}

type invitationMailer interface {
	IsConfigured() bool
	SendInvitation(to string, data email.Invitation) error
}

type Service struct {
	cfg      config.Config
	store    DataStore
	verifier *auth.Verifier
	limiter  *ratelimit.Limiter
	mailer   invitationMailer
	now      func() time.Time
}

// New wires the service. limiter and mailer may be nil to disable rate
// limiting and invitation emails.
func New(cfg config.Config, dataStore DataStore, limiter *ratelimit.Limiter, mailer invitationMailer) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		verifier: auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience),
		limiter:  limiter,
		mailer:   mailer,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CheckRateLimit counts one request of class for identity. A counter store
// failure is logged and the request allowed.
func (s *Service) CheckRateLimit(ctx context.Context, class ratelimit.Class, identity string) (ratelimit.Decision, error) {
	if s.limiter == nil {
		return ratelimit.Decision{Allowed: true}, nil
	}
	decision, err := s.limiter.Allow(ctx, class, identity)
	if err != nil {
		log.Printf("rate limiter unavailable, allowing request: %v", err)
		return ratelimit.Decision{Allowed: true}, nil
	}
	if !decision.Allowed {
		return decision, &RateLimitError{Class: class, RetryAfter: decision.RetryAfterSeconds()}
	}
	return decision, nil
}
