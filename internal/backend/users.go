package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-gateway/internal/domain/session"
)

type userDTO struct {
	ID      string `json:"_id"`
	AltID   string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (u userDTO) profile() session.Profile {
	id := u.ID
	if id == "" {
		id = u.AltID
	}
	return session.Profile{
		ID:      id,
		Name:    u.Name,
		Email:   u.Email,
		Role:    session.Role(u.Role),
		Phone:   u.Phone,
		Address: u.Address,
	}
}

// Users signs users in and manages their roles.
type Users struct{ c *Client }

// Users returns the user endpoints.
func (c *Client) Users() *Users { return &Users{c: c} }

// Login exchanges credentials for a bearer token and the user profile.
func (u *Users) Login(ctx context.Context, email, password string) (string, session.Profile, error) {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}
	var resp struct {
		Token string  `json:"token"`
		User  userDTO `json:"user"`
	}
	if err := u.c.call(ctx, "auth.login", http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		return "", session.Profile{}, err
	}
	if resp.Token == "" {
		return "", session.Profile{}, errors.New("backend returned no token")
	}
	return resp.Token, resp.User.profile(), nil
}

// SetRole changes the role of a user.
func (u *Users) SetRole(ctx context.Context, userID string, role session.Role) error {
	req := struct {
		Role session.Role `json:"role"`
	}{Role: role}
	return u.c.call(ctx, "user.role", http.MethodPut, "/api/users/"+url.PathEscape(userID)+"/role", req, nil)
}
