package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/johnobriendev/notionesqueServer/internal/email"
	"github.com/johnobriendev/notionesqueServer/internal/rbac"
	"github.com/johnobriendev/notionesqueServer/internal/store"
	"github.com/johnobriendev/notionesqueServer/internal/util"
)

const invitationTTL = 7 * 24 * time.Hour

type InviteInput struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteUser creates a pending invitation and, when mail is configured, sends
// the accept link. The returned invitation carries its token.
func (s *Service) InviteUser(ctx context.Context, caller store.User, projectID string, input InviteInput) (store.Invitation, error) {
	project, err := s.authorizeOwner(ctx, caller.ID, projectID)
	if err != nil {
		return store.Invitation{}, err
	}
	receiver, err := normalizeEmail(input.Email)
	if err != nil {
		return store.Invitation{}, err
	}
	role, ok := rbac.ParseCollaboratorRole(input.Role)
	if !ok {
		return store.Invitation{}, validationError("role must be editor or viewer", nil)
	}

	member, err := s.store.IsTeamMemberEmail(ctx, projectID, receiver)
	if err != nil {
		return store.Invitation{}, fmt.Errorf("check team member: %w", err)
	}
	if member {
		return store.Invitation{}, validationError("User is already a team member", nil)
	}
	s.sweepInvitations(ctx)

	inv, err := s.store.CreateInvitation(ctx, store.Invitation{
		ID:            util.NewID(),
		ProjectID:     projectID,
		SenderUserID:  caller.ID,
		ReceiverEmail: receiver,
		Role:          string(role),
		Token:         util.NewToken(),
		ExpiresAt:     s.now().Add(invitationTTL).UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Invitation{}, validationError("User already has a pending invitation", nil)
		}
		return store.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}

	s.sendInvitationEmail(inv, project, caller)
	return inv, nil
}

func (s *Service) sendInvitationEmail(inv store.Invitation, project store.Project, sender store.User) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	err := s.mailer.SendInvitation(inv.ReceiverEmail, email.Invitation{
		ProjectName:  project.Name,
		InviterEmail: sender.Email,
		Role:         inv.Role,
		AcceptURL:    s.cfg.AppBaseURL + "/invitations/" + url.PathEscape(inv.Token),
		ExpiresAt:    inv.ExpiresAt,
	})
	if err != nil {
		log.Printf("invitation %s: send email to %s failed: %v", inv.ID, inv.ReceiverEmail, err)
	}
}

// sweepInvitations expires overdue invitations. A failure only delays expiry
// since accept re-checks the deadline itself.
func (s *Service) sweepInvitations(ctx context.Context) {
	expired, err := s.store.ExpireInvitations(ctx)
	if err != nil {
		log.Printf("invitations: expiry sweep failed: %v", err)
		return
	}
	if expired > 0 {
		log.Printf("invitations: expired %d pending invitations", expired)
	}
}

func (s *Service) ListMyInvitations(ctx context.Context, caller store.User) ([]store.InvitationDetail, error) {
	s.sweepInvitations(ctx)
	items, err := s.store.ListPendingInvitationsForEmail(ctx, strings.ToLower(caller.Email))
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return items, nil
}

func (s *Service) ListProjectInvitations(ctx context.Context, caller store.User, projectID string) ([]store.InvitationDetail, error) {
	if _, err := s.authorizeOwner(ctx, caller.ID, projectID); err != nil {
		return nil, err
	}
	s.sweepInvitations(ctx)
	items, err := s.store.ListPendingInvitationsForProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project invitations: %w", err)
	}
	for i := range items {
		items[i].Token = ""
	}
	return items, nil
}

// openInvitationFor rejects an invitation caller may not act on. Anything
// other than a live invitation addressed to caller reads as not found.
func (s *Service) openInvitationFor(inv store.Invitation, caller store.User) error {
	switch {
	case inv.Status != store.InvitationPending:
		log.Printf("invitation %s: not pending (%s)", inv.ID, inv.Status)
	case !inv.ExpiresAt.After(s.now()):
		log.Printf("invitation %s: expired at %s", inv.ID, inv.ExpiresAt.Format(time.RFC3339))
	case !strings.EqualFold(inv.ReceiverEmail, caller.Email):
		log.Printf("invitation %s: addressed to another user, caller %s", inv.ID, caller.ID)
	default:
		return nil
	}
	return notFoundError("invitation")
}

func (s *Service) AcceptInvitation(ctx context.Context, caller store.User, token string) (ProjectView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ProjectView{}, notFoundError("invitation")
	}
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProjectView{}, notFoundError("invitation")
		}
		return ProjectView{}, fmt.Errorf("load invitation: %w", err)
	}
	if err := s.openInvitationFor(inv, caller); err != nil {
		return ProjectView{}, err
	}
	project, err := s.store.GetProject(ctx, inv.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProjectView{}, notFoundError("invitation")
		}
		return ProjectView{}, fmt.Errorf("load invitation project: %w", err)
	}
	// The owner is never stored as a collaborator.
	if project.OwnerUserID == caller.ID {
		log.Printf("invitation %s: caller %s owns project %s", inv.ID, caller.ID, project.ID)
		return ProjectView{}, notFoundError("invitation")
	}

	if err := s.store.AcceptInvitation(ctx, inv, caller.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ProjectView{}, notFoundError("invitation")
		}
		return ProjectView{}, fmt.Errorf("accept invitation: %w", err)
	}
	return s.GetProject(ctx, caller, inv.ProjectID)
}

func (s *Service) DeclineInvitation(ctx context.Context, caller store.User, invitationID string) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("invitation")
		}
		return fmt.Errorf("load invitation: %w", err)
	}
	if err := s.openInvitationFor(inv, caller); err != nil {
		return err
	}
	if err := s.store.DeclineInvitation(ctx, invitationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("invitation")
		}
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}

// ListTeam returns the owner first, then collaborators in join order.
func (s *Service) ListTeam(ctx context.Context, caller store.User, projectID string) ([]store.TeamMember, error) {
	project, _, err := s.authorize(ctx, caller.ID, projectID, rbac.PermRead)
	if err != nil {
		return nil, err
	}
	owner, err := s.store.GetUser(ctx, project.OwnerUserID)
	if err != nil {
		return nil, fmt.Errorf("load project owner: %w", err)
	}
	collaborators, err := s.store.ListCollaborators(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}

	team := make([]store.TeamMember, 0, len(collaborators)+1)
	team = append(team, store.TeamMember{
		UserID:   owner.ID,
		Email:    owner.Email,
		Name:     owner.Name,
		Role:     string(rbac.RoleOwner),
		JoinedAt: project.CreatedAt,
	})
	return append(team, collaborators...), nil
}

func (s *Service) RemoveMember(ctx context.Context, caller store.User, projectID, userID string) error {
	project, err := s.authorizeOwner(ctx, caller.ID, projectID)
	if err != nil {
		return err
	}
	if userID == project.OwnerUserID {
		return validationError("The project owner cannot be removed", nil)
	}
	if err := s.store.RemoveCollaborator(ctx, projectID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("team member")
		}
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, caller store.User, projectID, userID, role string) error {
	project, err := s.authorizeOwner(ctx, caller.ID, projectID)
	if err != nil {
		return err
	}
	if userID == project.OwnerUserID {
		return validationError("The project owner's role cannot be changed", nil)
	}
	parsed, ok := rbac.ParseCollaboratorRole(role)
	if !ok {
		return validationError("role must be editor or viewer", nil)
	}
	if err := s.store.UpdateCollaboratorRole(ctx, projectID, userID, string(parsed)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError("team member")
		}
		return fmt.Errorf("update member role: %w", err)
	}
	return nil
}
