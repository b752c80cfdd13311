package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-gateway/internal/domain/session"
	"github.com/xenking/storefront-gateway/internal/domain/support"
)

const supportReadLimit = 16 << 10

var errSubscriberDropped = errors.New("subscriber dropped")

// SupportSocket upgrades to the support chat WebSocket. Customers join their
// own room, admins additionally join the admin room.
func (h *Handler) SupportSocket(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.authorize(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lg := zctx.From(r.Context())

	isAdmin := sess.Profile.Role == session.RoleAdmin
	rooms := []string{support.UserRoom(sess.UserID())}
	if isAdmin {
		rooms = append(rooms, support.AdminRoom)
	}
	// Join before the handshake completes so no event published after the
	// client sees the upgrade is missed.
	sub := h.hub.Subscribe(rooms...)

	// Server read and write timeouts would otherwise carry over to the
	// hijacked connection.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.wsOrigins,
	})
	if err != nil {
		h.hub.Unsubscribe(sub)
		lg.Debug("Websocket accept failed", zap.Error(err))
		return
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(supportReadLimit)

	lg = lg.With(zap.String("subscriber", sub.ID()), zap.String("user_id", sess.UserID()))
	lg.Debug("Support socket connected")

	from := support.Sender{ID: sess.UserID(), Name: sess.Profile.Name}
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-sub.Events():
				if !ok {
					return errSubscriberDropped
				}
				if err := c.Write(ctx, websocket.MessageText, support.EncodeEvent(ev)); err != nil {
					return errors.Wrap(err, "write event")
				}
			}
		}
	})
	g.Go(func() error {
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return errors.Wrap(err, "read")
			}
			if typ != websocket.MessageText {
				continue
			}
			if err := h.dispatchSupport(ctx, from, isAdmin, data); err != nil {
				_, msg := statusOf(err)
				var unknown *support.UnknownEventError
				if errors.As(err, &unknown) {
					msg = unknown.Error()
				}
				if err := c.Write(ctx, websocket.MessageText, support.EncodeError(msg)); err != nil {
					return errors.Wrap(err, "write error")
				}
			}
		}
	})
	err = g.Wait()
	dropped := h.hub.Unsubscribe(sub)

	switch {
	case dropped || errors.Is(err, errSubscriberDropped):
		// Lagging subscribers and hub shutdown both end here; clients reconnect.
		lg.Info("Support subscription closed", zap.Bool("lagging", dropped))
		_ = c.Close(websocket.StatusTryAgainLater, "reconnect")
	case websocket.CloseStatus(err) != -1:
		lg.Debug("Support socket closed by client", zap.Stringer("code", websocket.CloseStatus(err)))
	default:
		lg.Debug("Support socket finished", zap.Error(err))
		_ = c.Close(websocket.StatusNormalClosure, "")
	}
}

func (h *Handler) dispatchSupport(ctx context.Context, from support.Sender, isAdmin bool, data []byte) error {
	cmd, err := support.DecodeCommand(data)
	if err != nil {
		var unknown *support.UnknownEventError
		if errors.As(err, &unknown) {
			return err
		}
		return badRequest("Malformed message")
	}
	switch cmd.Name {
	case support.EventAdminSupportMessage:
		if !isAdmin {
			return session.ErrForbidden
		}
		_, err = h.hub.SendAdminMessage(ctx, from, cmd.CustomerID, cmd.Message)
	default:
		_, err = h.hub.SendCustomerMessage(ctx, from, cmd.Message)
	}
	return err
}
