package app

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/johnobriendev/notionesqueServer/internal/auth"
	"github.com/johnobriendev/notionesqueServer/internal/store"
	"github.com/johnobriendev/notionesqueServer/internal/util"
)

const maxUserNameLength = 100

// Authenticate verifies the bearer token and resolves the caller's user row,
// creating it on first sight.
func (s *Service) Authenticate(ctx context.Context, token, headerEmail string) (store.User, error) {
	claims, err := s.verifier.Parse(token)
	if err != nil {
		return store.User{}, err
	}
	return s.ResolveCaller(ctx, claims.Subject, auth.ResolveEmail(claims, headerEmail, s.cfg.TrustEmailHeader))
}

func (s *Service) ResolveCaller(ctx context.Context, externalAuthID, emailAddress string) (store.User, error) {
	externalAuthID = strings.TrimSpace(externalAuthID)
	if externalAuthID == "" {
		return store.User{}, ErrUnauthenticated
	}
	user, err := s.store.ResolveUser(ctx, util.NewID(), externalAuthID, strings.ToLower(strings.TrimSpace(emailAddress)))
	if err != nil {
		return store.User{}, fmt.Errorf("resolve caller: %w", err)
	}
	return user, nil
}

// ProfileUpdate is the PATCH /api/users/me body. Email is decoded only so a
// request that tries to change it can be rejected.
type ProfileUpdate struct {
	Name  store.Optional[string] `json:"name"`
	Email store.Optional[string] `json:"email"`
}

// UpdateProfile changes the caller's display name. The email is owned by the
// identity provider; invitations are matched against it.
func (s *Service) UpdateProfile(ctx context.Context, caller store.User, update ProfileUpdate) (store.User, error) {
	if update.Email.Set {
		return store.User{}, validationError("email cannot be changed", nil)
	}
	patch := store.UserPatch{Name: update.Name}
	if patch.Name.Set && !patch.Name.Null {
		name := strings.TrimSpace(patch.Name.Value)
		if utf8.RuneCountInString(name) > maxUserNameLength {
			return store.User{}, validationError(fmt.Sprintf("name must be at most %d characters", maxUserNameLength), nil)
		}
		if name == "" {
			patch.Name = store.Null[string]()
		} else {
			patch.Name = store.Some(name)
		}
	}

	user, err := s.store.UpdateUser(ctx, caller.ID, patch)
	if err != nil {
		return store.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

func normalizeEmail(value string) (string, error) {
	value = strings.TrimSpace(value)
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return "", validationError("a valid email address is required", nil)
	}
	return strings.ToLower(addr.Address), nil
}
