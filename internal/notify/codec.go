package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go-notify/internal/model"
)

// Channel names the notify triggers publish on.
const (
	ChannelChatUpdated        = "chat_updated"
	ChannelChatMessageCreated = "chat_message_created"
)

// Channels is the fixed set of channels the Listener subscribes to.
var Channels = []string{ChannelChatUpdated, ChannelChatMessageCreated}

var (
	ErrUnknownChannel = errors.New("unknown notification channel")
	ErrUnknownOp      = errors.New("unknown chat operation")
	ErrMissingChat    = errors.New("chat snapshot missing for operation")
	ErrMissingMessage = errors.New("message missing from payload")
	ErrMissingMembers = errors.New("members missing from payload")
	ErrMissingField   = errors.New("required field missing")
)

// DecodeError wraps a failure to turn a single notification into an event.
type DecodeError struct {
	Channel string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s notification: %v", e.Channel, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type chatUpdatedPayload struct {
	Op  string          `json:"op"`
	Old json.RawMessage `json:"old"`
	New json.RawMessage `json:"new"`
}

type chatMessageCreatedPayload struct {
	Message json.RawMessage `json:"message"`
	Members *[]int64        `json:"members"`
}

// chatRequired and messageRequired see which row columns were present;
// encoding/json would otherwise zero-fill them.
type chatRequired struct {
	ID      *int64          `json:"id"`
	Type    *model.ChatType `json:"type"`
	Members *[]int64        `json:"members"`
}

type messageRequired struct {
	ID       *int64 `json:"id"`
	ChatID   *int64 `json:"chat_id"`
	SenderID *int64 `json:"sender_id"`
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func missing(kind string, fields map[string]bool) error {
	for _, name := range []string{"id", "chat_id", "sender_id", "type", "members"} {
		if present, ok := fields[name]; ok && !present {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, kind, name)
		}
	}
	return nil
}

// decodeChat returns nil for an absent or null snapshot.
func decodeChat(raw json.RawMessage) (*model.Chat, error) {
	if isNull(raw) {
		return nil, nil
	}
	var r chatRequired
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if err := missing("chat", map[string]bool{
		"id":      r.ID != nil,
		"type":    r.Type != nil,
		"members": r.Members != nil,
	}); err != nil {
		return nil, err
	}
	var c model.Chat
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func decodeMessage(raw json.RawMessage) (*model.Message, error) {
	var r messageRequired
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if err := missing("message", map[string]bool{
		"id":        r.ID != nil,
		"chat_id":   r.ChatID != nil,
		"sender_id": r.SenderID != nil,
	}); err != nil {
		return nil, err
	}
	var m model.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UserSet is a set of user ids.
type UserSet map[int64]struct{}

func NewUserSet(ids ...int64) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s UserSet) Sorted() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Notification is a decoded change notification: the event and who gets it.
type Notification struct {
	Event Event
	Users UserSet
}

// Decode turns a raw (channel, payload) pair into a Notification.
func Decode(channel, payload string) (*Notification, error) {
	var (
		n   *Notification
		err error
	)
	switch channel {
	case ChannelChatUpdated:
		n, err = decodeChatUpdated(payload)
	case ChannelChatMessageCreated:
		n, err = decodeMessageCreated(payload)
	default:
		err = ErrUnknownChannel
	}
	if err != nil {
		return nil, &DecodeError{Channel: channel, Err: err}
	}
	return n, nil
}

func decodeChatUpdated(payload string) (*Notification, error) {
	var p chatUpdatedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, err
	}
	before, err := decodeChat(p.Old)
	if err != nil {
		return nil, fmt.Errorf("old: %w", err)
	}
	after, err := decodeChat(p.New)
	if err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}

	var ev Event
	switch p.Op {
	case "INSERT":
		if after == nil {
			return nil, fmt.Errorf("%w: INSERT without new", ErrMissingChat)
		}
		ev = &NewChat{Chat: *after}
	case "UPDATE":
		if after == nil {
			return nil, fmt.Errorf("%w: UPDATE without new", ErrMissingChat)
		}
		ev = &AddToChat{Chat: *after}
	case "DELETE":
		if before == nil {
			return nil, fmt.Errorf("%w: DELETE without old", ErrMissingChat)
		}
		ev = &RemoveFromChat{Chat: *before}
	case "":
		return nil, fmt.Errorf("%w: op missing", ErrUnknownOp)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, p.Op)
	}

	return &Notification{Event: ev, Users: AffectedUsers(before, after)}, nil
}

func decodeMessageCreated(payload string) (*Notification, error) {
	var p chatMessageCreatedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, err
	}
	if isNull(p.Message) {
		return nil, ErrMissingMessage
	}
	if p.Members == nil {
		return nil, ErrMissingMembers
	}
	msg, err := decodeMessage(p.Message)
	if err != nil {
		return nil, err
	}
	// members is the chat membership at insert time; it is not re-derived
	// from the current chat row.
	return &Notification{
		Event: &NewMessage{Message: *msg},
		Users: NewUserSet(*p.Members...),
	}, nil
}

// AffectedUsers returns who must hear about a chat change. An update that
// leaves membership untouched affects nobody; any other update affects the
// union of old and new members so removed users learn about it too.
func AffectedUsers(before, after *model.Chat) UserSet {
	switch {
	case before != nil && after != nil:
		if before.SameMembers(after) {
			return UserSet{}
		}
		users := NewUserSet(before.Members...)
		for _, id := range after.Members {
			users[id] = struct{}{}
		}
		return users
	case after != nil:
		return NewUserSet(after.Members...)
	case before != nil:
		return NewUserSet(before.Members...)
	default:
		return UserSet{}
	}
}
