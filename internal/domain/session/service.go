package session

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Service creates and updates browser sessions.
type Service struct {
	sessions Repository
	now      func() time.Time
}

// NewService creates a session Service.
func NewService(sessions Repository) *Service {
	return &Service{sessions: sessions, now: time.Now}
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Start creates a new anonymous session.
func (s *Service) Start(ctx context.Context) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: s.now(),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return sess, nil
}

// Get returns the session with id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	return sess, nil
}

// SignIn replaces the session with id by a new signed-in session holding
// the backend token and user profile, and returns it. The previous id stops
// resolving, so a cookie planted before sign-in never becomes
// authenticated. An already expired token is refused.
func (s *Service) SignIn(ctx context.Context, id, token string, profile Profile) (*Session, error) {
	if profile.Role == "" {
		profile.Role = RoleCustomer
	}
	if !profile.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	sess := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		Profile:   &profile,
		CreatedAt: s.now(),
	}
	if _, err := sess.BearerToken(s.now()); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return nil, errors.Wrap(err, "delete previous session")
	}
	return sess, nil
}

// SignOut drops the user from the session, keeping the session itself so
// its cart survives.
func (s *Service) SignOut(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	sess.Token = ""
	sess.Profile = nil
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return sess, nil
}

// UpdateRole rewrites the role of every session signed in as userID and
// returns how many were updated.
func (s *Service) UpdateRole(ctx context.Context, userID string, role Role) (int, error) {
	if !role.Valid() {
		return 0, ErrInvalidRole
	}
	list, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "list user sessions")
	}
	for i := range list {
		sess := &list[i]
		if sess.Profile == nil {
			continue
		}
		sess.Profile.Role = role
		if err := s.sessions.Save(ctx, sess); err != nil {
			return i, errors.Wrapf(err, "save session %s", sess.ID)
		}
	}
	return len(list), nil
}
