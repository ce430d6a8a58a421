package notify

import "go-notify/internal/model"

// Event is one of NewChat, AddToChat, RemoveFromChat or NewMessage.
// Events are immutable once decoded; the same pointer is handed to every
// recipient of a notification.
type Event interface {
	// Name is the wire tag used as the SSE event name.
	Name() string
	// Payload is the value serialized into the frame body.
	Payload() any

	sealed()
}

type NewChat struct{ Chat model.Chat }

type AddToChat struct{ Chat model.Chat }

type RemoveFromChat struct{ Chat model.Chat }

type NewMessage struct{ Message model.Message }

func (*NewChat) Name() string        { return "new_chat" }
func (*AddToChat) Name() string      { return "add_to_chat" }
func (*RemoveFromChat) Name() string { return "remove_from_chat" }
func (*NewMessage) Name() string     { return "new_message" }

func (e *NewChat) Payload() any        { return e.Chat }
func (e *AddToChat) Payload() any      { return e.Chat }
func (e *RemoveFromChat) Payload() any { return e.Chat }
func (e *NewMessage) Payload() any     { return e.Message }

func (*NewChat) sealed()        {}
func (*AddToChat) sealed()      {}
func (*RemoveFromChat) sealed() {}
func (*NewMessage) sealed()     {}
