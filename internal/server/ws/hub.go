package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// PresenceUpdate is broadcast to a conversation's room when a participant's
// availability changes.
type PresenceUpdate struct {
	ConvID   int64
	UserID   int64
	Username string
	Status   string
}

type broadcastMsg struct {
	convID  int64
	data    []byte
	exclude *Client
}

// Hub routes frames between the sockets attached to each conversation and
// owns the room membership. Presence is derived here: online on first
// socket, idle after a quiet period, offline when the last socket leaves.
type Hub struct {
	Log       *slog.Logger
	IdleAfter time.Duration

	Register   chan *Client
	Unregister chan *Client

	rooms     map[int64]map[*Client]bool
	broadcast chan broadcastMsg
	presence  chan PresenceUpdate
}

func NewHub(idleAfter time.Duration, log *slog.Logger) *Hub {
	if idleAfter <= 0 {
		idleAfter = 60 * time.Second
	}
	return &Hub{
		Log:        log,
		IdleAfter:  idleAfter,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		rooms:      make(map[int64]map[*Client]bool),
		broadcast:  make(chan broadcastMsg, 64),
		presence:   make(chan PresenceUpdate, 64),
	}
}

// Run owns all room state; everything else talks to it over channels.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		case upd := <-h.presence:
			h.sendPresence(upd)
		case <-ticker.C:
			h.sweepIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) add(client *Client) {
	room, ok := h.rooms[client.ConvID]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[client.ConvID] = room
	}
	first := !h.userInRoom(client.ConvID, client.UserID)
	room[client] = true

	// Tell the joiner who is already here.
	seen := make(map[int64]bool)
	for peer := range room {
		if peer == client || peer.UserID == client.UserID || seen[peer.UserID] {
			continue
		}
		seen[peer.UserID] = true
		status := "online"
		if peer.idle.Load() {
			status = "idle"
		}
		client.enqueue(marshalPresence(peer.UserID, peer.Username, status))
	}

	if first {
		h.sendPresence(PresenceUpdate{
			ConvID: client.ConvID, UserID: client.UserID,
			Username: client.Username, Status: "online",
		})
	}
}

func (h *Hub) remove(client *Client) {
	room, ok := h.rooms[client.ConvID]
	if !ok {
		return
	}
	if _, exists := room[client]; !exists {
		return
	}
	delete(room, client)
	close(client.Send)

	if !h.userInRoom(client.ConvID, client.UserID) {
		h.sendPresence(PresenceUpdate{
			ConvID: client.ConvID, UserID: client.UserID,
			Username: client.Username, Status: "offline",
		})
	}
	if len(room) == 0 {
		delete(h.rooms, client.ConvID)
	}
}

func (h *Hub) userInRoom(convID, userID int64) bool {
	for peer := range h.rooms[convID] {
		if peer.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) fanOut(msg broadcastMsg) {
	for client := range h.rooms[msg.convID] {
		if client == msg.exclude {
			continue
		}
		client.enqueue(msg.data)
	}
}

func (h *Hub) sendPresence(upd PresenceUpdate) {
	h.fanOut(broadcastMsg{
		convID: upd.ConvID,
		data:   marshalPresence(upd.UserID, upd.Username, upd.Status),
	})
}

// sweepIdle downgrades quiet connections to idle. Activity on the socket
// flips them back to online via the client's read pump.
func (h *Hub) sweepIdle() {
	cutoff := time.Now().Add(-h.IdleAfter).UnixNano()
	for convID, room := range h.rooms {
		for client := range room {
			if client.lastActive.Load() < cutoff && client.idle.CompareAndSwap(false, true) {
				h.sendPresence(PresenceUpdate{
					ConvID: convID, UserID: client.UserID,
					Username: client.Username, Status: "idle",
				})
			}
		}
	}
}

func marshalPresence(userID int64, username, status string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":     "user_online_status",
		"user_id":  userID,
		"username": username,
		"status":   status,
	})
	return data
}
