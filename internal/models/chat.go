package models

import "time"

// Sender identifies the author of a chat message.
type Sender struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single chat message. Messages are append-only on the client:
// never mutated or deleted locally, ordered by arrival.
type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	Sender    Sender     `json:"sender"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Participant is a member of a chat conversation.
type Participant struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	ImageURL string     `json:"image_url,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Chat is a conversation summary.
type Chat struct {
	ID              string        `json:"id"`
	Name            string        `json:"name,omitempty"`
	IsGroup         bool          `json:"is_group"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Participants    []Participant `json:"participants"`
	LastMessage     string        `json:"last_message,omitempty"`
	LastMessageTime *time.Time    `json:"last_message_time,omitempty"`
	UnreadCount     int           `json:"unread_count"`
}
