package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// GetSession returns the caller's session, starting an anonymous one.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.ensureSession(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// SignIn logs in through the backend and issues a fresh session id for the
// signed-in user. The cart and coupon selection move over to the new id and
// the previous id stops resolving.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, r, badRequest("Email and password are required"))
		return
	}

	ctx := r.Context()
	token, profile, err := h.users.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	prev, err := h.loadSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if prev == nil {
		if prev, err = h.sessions.Start(ctx); err != nil {
			writeError(w, r, err)
			return
		}
	}
	sess, err := h.sessions.SignIn(ctx, prev.ID, token, profile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.setCookie(w, sess.ID)
	if err := h.carts.Move(ctx, prev.ID, sess.ID); err != nil {
		zctx.From(ctx).Warn("Move cart to signed-in session failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// SignOut drops the user from the session and closes their support chat.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	sess, err := h.loadSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if uid := sess.UserID(); uid != "" {
		h.hub.CloseChat(uid)
	}
	if _, err := h.sessions.SignOut(r.Context(), sess.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
