package ws

import (
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"time"

	"github.com/samber/lo"
)

// Frames sent by the client.
const (
	FrameSend    = "send"
	FrameHistory = "history"
	FrameResync  = "resync"
	FrameLeave   = "leave"
)

// Frames sent by the server. History answers reuse FrameHistory.
const (
	FrameWelcome = "welcome"
	FrameMessage = "message"
	FrameAck     = "ack"
	FrameError   = "error"
	FrameDropped = "dropped"
)

type ClientFrame struct {
	Type  string `json:"type"`
	Body  string `json:"body,omitempty"`
	Since uint64 `json:"since,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type MessagePayload struct {
	Seq       uint64    `json:"seq"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type ServerFrame struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	LiveFrom  *uint64          `json:"live_from,omitempty"`
	Seq       uint64           `json:"seq,omitempty"`
	Message   *MessagePayload  `json:"message,omitempty"`
	Messages  []MessagePayload `json:"messages,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	Floor     *uint64          `json:"floor,omitempty"`
}

func toPayload(message domain.Message) MessagePayload {
	return MessagePayload{
		Seq:       message.Seq,
		Author:    message.Author,
		Body:      message.Body,
		CreatedAt: message.CreatedAt,
	}
}

func welcomeFrame(sessionID string, liveFrom domain.Seq) ServerFrame {
	return ServerFrame{Type: FrameWelcome, SessionID: sessionID, LiveFrom: lo.ToPtr(liveFrom)}
}

func messageFrame(message domain.Message) ServerFrame {
	return ServerFrame{Type: FrameMessage, Message: lo.ToPtr(toPayload(message))}
}

func historyFrame(messages []domain.Message) ServerFrame {
	return ServerFrame{
		Type:     FrameHistory,
		Messages: lo.Map(messages, func(m domain.Message, _ int) MessagePayload { return toPayload(m) }),
	}
}

func ackFrame(seq domain.Seq) ServerFrame {
	return ServerFrame{Type: FrameAck, Seq: seq}
}

// errorFrame classifies err for the client. Replay gaps carry the floor to
// re-read from.
func errorFrame(err error) ServerFrame {
	frame := ServerFrame{Type: FrameError, Kind: errors.Kind(err), Error: err.Error()}
	if floor, ok := errors.Floor(err); ok {
		frame.Floor = lo.ToPtr(floor)
	}
	return frame
}

func droppedFrame(reason error, liveFrom domain.Seq) ServerFrame {
	return ServerFrame{
		Type:     FrameDropped,
		Kind:     errors.Kind(reason),
		Error:    reason.Error(),
		LiveFrom: lo.ToPtr(liveFrom),
	}
}
