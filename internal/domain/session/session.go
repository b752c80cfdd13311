// Package session holds the per-browser state of the storefront: the
// backend bearer token, the signed-in user profile and its role.
package session

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/storefront-gateway/internal/apperr"
)

// Role is a user role as assigned by the backend.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleDelivery Role = "delivery_man"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleDelivery:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no session exists for an id.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden is returned when the signed-in user lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidRole is returned for a role outside the known set.
	ErrInvalidRole = errors.New("invalid role")
)

// Profile is the signed-in user as returned by the backend login.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Session is the state kept for one browser.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token,omitempty"`
	Profile   *Profile  `json:"profile,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SignedIn reports whether the session carries a user.
func (s *Session) SignedIn() bool {
	return s != nil && s.Token != "" && s.Profile != nil
}

// UserID returns the signed-in user id, or "".
func (s *Session) UserID() string {
	if s == nil || s.Profile == nil {
		return ""
	}
	return s.Profile.ID
}

// BearerToken returns the backend token if it is present and not expired
// at now, and an auth error otherwise.
func (s *Session) BearerToken(now time.Time) (string, error) {
	if !s.SignedIn() {
		return "", apperr.Auth("Please log in to continue")
	}
	exp, ok, err := TokenExpiry(s.Token)
	if err != nil {
		return "", &apperr.Error{Kind: apperr.KindAuth, Message: "Invalid session token", Err: err}
	}
	if ok && !now.Before(exp) {
		return "", apperr.Auth("Session expired, please log in again")
	}
	return s.Token, nil
}

// RequireRole checks that the session is signed in with one of roles.
func (s *Session) RequireRole(now time.Time, roles ...Role) error {
	if _, err := s.BearerToken(now); err != nil {
		return err
	}
	if !slices.Contains(roles, s.Profile.Role) {
		return ErrForbidden
	}
	return nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature;
// the backend verifies tokens. ok is false when the token has no exp.
func TokenExpiry(token string) (exp time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, errors.Wrap(err, "parse token")
	}
	nd, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "read exp")
	}
	if nd == nil {
		return time.Time{}, false, nil
	}
	return nd.Time, true, nil
}

// Repository persists sessions.
type Repository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// ListByUser returns the sessions signed in as userID.
	ListByUser(ctx context.Context, userID string) ([]Session, error)
}
