package main

import (
	"chat-broadcast/infrastructure/ws"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r := renderer{colours: false}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

	t.Run("should print history in order", func(t *testing.T) {
		req := require.New(t)
		lines := r.render(ws.ServerFrame{Type: ws.FrameHistory, Messages: []ws.MessagePayload{
			{Seq: 1, Author: "alice", Body: "hi", CreatedAt: at},
			{Seq: 2, Author: "bob", Body: "yo", CreatedAt: at},
		}})
		req.Equal([]string{"#1 12:00:00 alice: hi", "#2 12:00:00 bob: yo"}, lines)
	})

	t.Run("should point at the floor on a replay gap", func(t *testing.T) {
		req := require.New(t)
		lines := r.render(ws.ServerFrame{Type: ws.FrameError, Kind: "replay_gap", Error: "gap", Floor: lo.ToPtr(uint64(9))})
		req.Equal([]string{"error [replay_gap]: gap (history starts at #9)"}, lines)
	})

	t.Run("should print nothing for acks", func(t *testing.T) {
		require.Empty(t, r.render(ws.ServerFrame{Type: ws.FrameAck, Seq: 3}))
	})
}

func TestParseInput(t *testing.T) {
	tests := []struct {
		line  string
		frame ws.ClientFrame
		ok    bool
	}{
		{"  ", ws.ClientFrame{}, false},
		{"hello", ws.ClientFrame{Type: ws.FrameSend, Body: "hello"}, true},
		{"/history 12", ws.ClientFrame{Type: ws.FrameHistory, Since: 12}, true},
		{"/history", ws.ClientFrame{Type: ws.FrameHistory}, true},
		{"/quit", ws.ClientFrame{Type: ws.FrameLeave}, true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			frame, ok := parseInput(tt.line)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.frame, frame)
		})
	}
}
