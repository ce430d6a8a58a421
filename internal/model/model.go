package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ---------------------------------------------
// 🗄️ Database Row Models (as emitted by the notify triggers)
// ---------------------------------------------

type ChatType string

const (
	ChatSingle         ChatType = "single"
	ChatGroup          ChatType = "group"
	ChatPrivateChannel ChatType = "privateChannel"
	ChatPublicChannel  ChatType = "publicChannel"
)

// UnmarshalJSON accepts the camelCase wire names as well as the snake_case
// enum labels Postgres puts into row_to_json output.
func (t *ChatType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "single", "Single":
		*t = ChatSingle
	case "group", "Group":
		*t = ChatGroup
	case "privateChannel", "private_channel", "PrivateChannel":
		*t = ChatPrivateChannel
	case "publicChannel", "public_channel", "PublicChannel":
		*t = ChatPublicChannel
	default:
		return fmt.Errorf("unknown chat type %q", s)
	}
	return nil
}

type Chat struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	Type      ChatType  `json:"type"`
	WsID      int64     `json:"ws_id"`
	Members   []int64   `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// SameMembers reports whether both chats list exactly the same members in
// the same order. Members are stored as an ordered array column.
func (c *Chat) SameMembers(other *Chat) bool {
	return slices.Equal(c.Members, other.Members)
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Content   *string   `json:"content"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// ---------------------------------------------
// 🔑 Identity (carried in the access token)
// ---------------------------------------------

type User struct {
	ID       int64  `json:"id"`
	WsID     int64  `json:"ws_id"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
}
