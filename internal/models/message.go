package models

import (
	"fmt"
	"time"
)

// Message is one chat line in a channel.
type Message struct {
	ID        string    `bson:"_id" json:"id"`
	ChannelID string    `bson:"channel_id" json:"channel_id"`
	ServerID  string    `bson:"server_id,omitempty" json:"server_id,omitempty"`
	SenderUID string    `bson:"sender_uid" json:"sender_uid"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

func (m *Message) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: message missing id", ErrInvalidRecord)
	case m.ChannelID == "":
		return fmt.Errorf("%w: message %s missing channel_id", ErrInvalidRecord, m.ID)
	case m.SenderUID == "":
		return fmt.Errorf("%w: message %s missing sender_uid", ErrInvalidRecord, m.ID)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("%w: message %s missing created_at", ErrInvalidRecord, m.ID)
	}
	return nil
}

// Before orders messages by creation time, then id.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}
