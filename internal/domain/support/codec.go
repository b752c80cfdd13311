package support

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Command is an inbound client frame.
type Command struct {
	Name       string
	CustomerID string
	Message    string
}

// EncodeEvent encodes ev as {"event": name, "data": {...}}.
func EncodeEvent(ev Event) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("event", func(e *jx.Encoder) { e.Str(ev.Name) })
		e.Field("data", func(e *jx.Encoder) {
			switch {
			case ev.Message != nil:
				encodeMessage(e, ev.Message)
			case ev.Role != nil:
				encodeRoleUpdate(e, ev.Role)
			default:
				e.ObjEmpty()
			}
		})
	})
	return append([]byte(nil), e.Bytes()...)
}

// EncodeError encodes an error frame carrying a user-facing message.
func EncodeError(msg string) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("event", func(e *jx.Encoder) { e.Str(EventError) })
		e.Field("data", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			})
		})
	})
	return append([]byte(nil), e.Bytes()...)
}

func encodeMessage(e *jx.Encoder, m *Message) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(m.ID) })
		e.Field("customerId", func(e *jx.Encoder) { e.Str(m.CustomerID) })
		e.Field("senderId", func(e *jx.Encoder) { e.Str(m.SenderID) })
		e.Field("senderName", func(e *jx.Encoder) { e.Str(m.SenderName) })
		e.Field("message", func(e *jx.Encoder) { e.Str(m.Message) })
		e.Field("isAdmin", func(e *jx.Encoder) { e.Bool(m.IsAdmin) })
		e.Field("timestamp", func(e *jx.Encoder) { e.Str(m.Timestamp.UTC().Format(time.RFC3339Nano)) })
	})
}

func encodeRoleUpdate(e *jx.Encoder, u *RoleUpdate) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("userId", func(e *jx.Encoder) { e.Str(u.UserID) })
		e.Field("role", func(e *jx.Encoder) { e.Str(u.Role) })
		e.Field("message", func(e *jx.Encoder) { e.Str(u.Message) })
	})
}

// UnknownEventError is returned by DecodeCommand for an event clients may
// not send.
type UnknownEventError struct {
	Name string
}

func (e *UnknownEventError) Error() string { return "unknown event " + e.Name }

// DecodeCommand decodes an inbound frame. Sender identity fields in the
// payload are ignored; the connection's session decides who is speaking.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "event":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "event")
			}
			cmd.Name = v
		case "data":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "message":
					v, err := d.Str()
					if err != nil {
						return errors.Wrap(err, "message")
					}
					cmd.Message = v
				case "customerId":
					v, err := d.Str()
					if err != nil {
						return errors.Wrap(err, "customerId")
					}
					cmd.CustomerID = v
				default:
					return d.Skip()
				}
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return Command{}, errors.Wrap(err, "decode command")
	}

	switch cmd.Name {
	case EventSendSupportMessage, EventAdminSupportMessage:
		return cmd, nil
	default:
		return Command{}, &UnknownEventError{Name: cmd.Name}
	}
}
