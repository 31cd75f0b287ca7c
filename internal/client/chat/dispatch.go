package chat

import "log/slog"

// Handlers receives typed inbound frames. Nil fields are skipped.
type Handlers struct {
	ConnectionStatus func(ConnectionStatusFrame)
	InitialMessages  func(InitialMessagesFrame)
	NewMessage       func(NewMessageFrame)
	MessageSent      func(MessageSentFrame)
	Typing           func(TypingFrame)
	Presence         func(PresenceFrame)
	Error            func(ErrorFrame)
}

// Router maps inbound frames to handlers by their type tag. Malformed frames
// are logged and dropped; unrecognized types are logged at warn and ignored
// so new server frame kinds never break old clients. Dispatch never panics
// on input.
type Router struct {
	handlers Handlers
	log      *slog.Logger
}

func NewRouter(handlers Handlers, log *slog.Logger) *Router {
	return &Router{handlers: handlers, log: log}
}

func (r *Router) Dispatch(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		r.log.Warn("dropping malformed frame", "error", err)
		return
	}

	switch f := frame.(type) {
	case ConnectionStatusFrame:
		r.log.Info("connection status", "status", f.Status)
		if r.handlers.ConnectionStatus != nil {
			r.handlers.ConnectionStatus(f)
		}
	case InitialMessagesFrame:
		if r.handlers.InitialMessages != nil {
			r.handlers.InitialMessages(f)
		}
	case NewMessageFrame:
		if r.handlers.NewMessage != nil {
			r.handlers.NewMessage(f)
		}
	case MessageSentFrame:
		if r.handlers.MessageSent != nil {
			r.handlers.MessageSent(f)
		}
	case TypingFrame:
		if r.handlers.Typing != nil {
			r.handlers.Typing(f)
		}
	case PresenceFrame:
		if r.handlers.Presence != nil {
			r.handlers.Presence(f)
		}
	case ErrorFrame:
		if r.handlers.Error != nil {
			r.handlers.Error(f)
		}
	case UnknownFrame:
		r.log.Warn("ignoring unknown frame type", "type", f.Type)
	}
}
