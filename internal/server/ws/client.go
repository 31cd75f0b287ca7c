package ws

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tavernhq/tavernmsg/internal/server/models"
)

// MessageStore is what the read pump needs from storage.
type MessageStore interface {
	SaveMessage(convID, senderID int64, content string, fileIDs []string) (*models.Message, error)
	UpdateReadReceipt(userID, conversationID int64) error
}

// Client is one authenticated socket attached to a conversation room.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Store    MessageStore
	Log      *slog.Logger
	Send     chan []byte
	UserID   int64
	Username string
	ConvID   int64
	IP       string

	lastActive atomic.Int64
	idle       atomic.Bool
}

func NewClient(hub *Hub, conn *websocket.Conn, store MessageStore, log *slog.Logger, userID int64, username string, convID int64, ip string) *Client {
	c := &Client{
		Hub:      hub,
		Conn:     conn,
		Store:    store,
		Log:      log,
		Send:     make(chan []byte, 256),
		UserID:   userID,
		Username: username,
		ConvID:   convID,
		IP:       ip,
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, msgBytes, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		c.touch()

		var frame models.ClientFrame
		if err := json.Unmarshal(msgBytes, &frame); err != nil {
			c.Log.Warn("dropping malformed frame", "error", err, "user_id", c.UserID)
			continue
		}
		c.processFrame(frame)
	}
}

func (c *Client) WritePump() {
	defer c.Conn.Close()
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	// Hub closed the channel; finish with a proper close handshake.
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.Conn.WriteControl(websocket.CloseMessage, msg, deadline)
}

func (c *Client) processFrame(frame models.ClientFrame) {
	switch frame.Type {
	case "send_message":
		if frame.Content == "" && len(frame.Files) == 0 {
			c.sendError("empty message")
			return
		}
		msg, err := c.Store.SaveMessage(c.ConvID, c.UserID, frame.Content, frame.Files)
		if err != nil {
			c.Log.Error("save message", "error", err, "conversation_id", c.ConvID)
			c.sendError("could not save message")
			return
		}
		c.Store.UpdateReadReceipt(c.UserID, c.ConvID)

		// Confirm to the sender, fan the full record out to everyone else.
		c.SendJSON(map[string]any{
			"type":       "message_sent",
			"id":         msg.ID,
			"status":     "sent",
			"created_at": msg.CreatedAt,
		})
		c.Hub.broadcast <- broadcastMsg{
			convID:  c.ConvID,
			data:    mustMarshal(map[string]any{"type": "new_message", "message": msg}),
			exclude: c,
		}

	case "typing":
		c.Hub.broadcast <- broadcastMsg{
			convID: c.ConvID,
			data: mustMarshal(map[string]any{
				"type":     "typing",
				"user_id":  c.UserID,
				"username": c.Username,
			}),
			exclude: c,
		}

	default:
		c.Log.Warn("ignoring unknown frame type", "type", frame.Type, "user_id", c.UserID)
	}
}

// touch records activity and restores online presence after an idle period.
func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
	if c.idle.CompareAndSwap(true, false) {
		select {
		case c.Hub.presence <- PresenceUpdate{
			ConvID: c.ConvID, UserID: c.UserID,
			Username: c.Username, Status: "online",
		}:
		default:
		}
	}
}

// enqueue hands a frame to the write pump, dropping it if the client is
// backed up so one slow reader cannot stall the room.
func (c *Client) enqueue(data []byte) {
	select {
	case c.Send <- data:
	default:
		c.Log.Warn("dropping frame for slow client", "user_id", c.UserID)
	}
}

func (c *Client) SendJSON(v any) {
	c.enqueue(mustMarshal(v))
}

func (c *Client) sendError(errStr string) {
	c.SendJSON(map[string]string{"type": "error", "error": errStr})
}

func mustMarshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
