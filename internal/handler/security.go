package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-gateway/internal/backend"
	"github.com/xenking/storefront-gateway/internal/domain/session"
)

// loadSession returns the session named by the request cookie, or nil when
// there is none.
func (h *Handler) loadSession(r *http.Request) (*session.Session, error) {
	c, err := r.Cookie(h.cookieName)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	sess, err := h.sessions.Get(r.Context(), c.Value)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ensureSession returns the request's session, starting an anonymous one
// and setting its cookie when the request has none.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	sess, err := h.loadSession(r)
	if err != nil || sess != nil {
		return sess, err
	}
	sess, err = h.sessions.Start(r.Context())
	if err != nil {
		return nil, err
	}
	h.setCookie(w, sess.ID)
	return sess, nil
}

func (h *Handler) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// authorize resolves a signed-in session holding one of roles and returns a
// context whose backend calls carry the session token. Without roles any
// signed-in user passes.
func (h *Handler) authorize(r *http.Request, roles ...session.Role) (*session.Session, context.Context, error) {
	sess, err := h.loadSession(r)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		sess = &session.Session{}
	}
	now := h.sessions.Now()
	token, err := sess.BearerToken(now)
	if err != nil {
		return nil, nil, err
	}
	if len(roles) > 0 {
		if err := sess.RequireRole(now, roles...); err != nil {
			return nil, nil, err
		}
	}
	return sess, backend.WithToken(r.Context(), token), nil
}
