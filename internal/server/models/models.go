package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Level        int       `json:"level"`
	CreatedAt    time.Time `json:"created_at"`
}

type Participant struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Level     int    `json:"level"`
}

type Conversation struct {
	ID           int64         `json:"id"`
	Name         *string       `json:"name,omitempty"`
	IsGroup      bool          `json:"is_group"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *string       `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Size        string `json:"size"`
	IsImage     bool   `json:"is_image"`
}

type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	SenderID       int64        `json:"sender_id"`
	SenderUsername string       `json:"sender_username,omitempty"`
	Content        string       `json:"content"`
	MessageType    string       `json:"message_type,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// WS frame payloads. Inbound client frames are flat JSON: a type tag next to
// the payload fields.

type ClientFrame struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Files   []string `json:"files,omitempty"`
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StartConversationRequest struct {
	Participants []string `json:"participants"`
	IsGroup      bool     `json:"is_group"`
	Name         string   `json:"name,omitempty"`
}
