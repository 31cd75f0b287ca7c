package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire frame type tags. Inbound frames are flat JSON objects carrying a
// "type" field next to their payload fields.
const (
	TypeConnectionStatus = "connection_status"
	TypeInitialMessages  = "initial_messages"
	TypeNewMessage       = "new_message"
	TypeMessageSent      = "message_sent"
	TypeTyping           = "typing"
	TypeUserOnlineStatus = "user_online_status"
	TypeError            = "error"

	TypeSendMessage = "send_message"
)

// DeliveryStatus tracks a message through its round trip.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// PresenceStatus is a user's live availability state.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceOffline PresenceStatus = "offline"
)

// Attachment is a file reference attached to a message. Uploads happen over
// HTTP before the message frame is sent; the server resolves IDs back into
// these records.
type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
	Size        string `json:"size"`
	IsImage     bool   `json:"is_image"`
}

// Message is one chat message as the client sees it. ID is assigned by the
// server; LocalID identifies an optimistic message before confirmation.
type Message struct {
	ID             int64          `json:"id,omitempty"`
	LocalID        string         `json:"-"`
	ConversationID int64          `json:"conversation_id,omitempty"`
	SenderID       int64          `json:"sender_id"`
	SenderUsername string         `json:"sender_username,omitempty"`
	Content        string         `json:"content"`
	MessageType    string         `json:"message_type,omitempty"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	Status         DeliveryStatus `json:"status,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Inbound frames, one struct per known type. Decoding is exhaustive with a
// default: unrecognized tags become UnknownFrame and are never an error.

type ConnectionStatusFrame struct {
	Status string `json:"status"`
}

type InitialMessagesFrame struct {
	Messages []Message `json:"messages"`
}

type NewMessageFrame struct {
	Message Message `json:"message"`
}

type MessageSentFrame struct {
	ID        int64          `json:"id"`
	Status    DeliveryStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

type TypingFrame struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

type PresenceFrame struct {
	UserID int64          `json:"user_id"`
	Status PresenceStatus `json:"status"`
}

type ErrorFrame struct {
	Error string `json:"error"`
}

type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

// Outbound frames.

type sendMessageFrame struct {
	Type    string   `json:"type"`
	Content string   `json:"content"`
	Files   []string `json:"files,omitempty"`
}

type typingOutFrame struct {
	Type string `json:"type"`
}

// DecodeFrame parses one inbound wire frame into its typed form. A frame with
// an unrecognized type decodes into UnknownFrame; only malformed JSON or a
// missing type tag is an error.
func DecodeFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type tag")
	}

	switch envelope.Type {
	case TypeConnectionStatus:
		var f ConnectionStatusFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	case TypeInitialMessages:
		var f InitialMessagesFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	case TypeNewMessage:
		var f NewMessageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	case TypeMessageSent:
		var f MessageSentFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	case TypeTyping:
		var f TypingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	case TypeUserOnlineStatus:
		var f PresenceFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	case TypeError:
		var f ErrorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return f, nil
	default:
		return UnknownFrame{Type: envelope.Type, Raw: data}, nil
	}
}
