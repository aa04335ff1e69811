package main

import (
	"chat-broadcast/infrastructure/ws"
	"fmt"
	"strings"

	"github.com/gookit/color"
)

type renderer struct {
	colours bool
}

func (r renderer) paint(style color.Style, text string) string {
	if !r.colours {
		return text
	}
	return style.Render(text)
}

func (r renderer) message(m ws.MessagePayload) string {
	return fmt.Sprintf("%s %s %s",
		r.paint(color.New(color.FgGray), fmt.Sprintf("#%d %s", m.Seq, m.CreatedAt.Local().Format("15:04:05"))),
		r.paint(color.New(color.FgCyan, color.OpBold), m.Author+":"),
		m.Body)
}

// render turns a server frame into printable lines. Acks print nothing.
func (r renderer) render(frame ws.ServerFrame) []string {
	switch frame.Type {
	case ws.FrameWelcome:
		return []string{r.paint(color.New(color.BgBlack, color.FgGreen),
			fmt.Sprintf("  ====== joined, live from #%d ======", deref(frame.LiveFrom)))}
	case ws.FrameMessage:
		if frame.Message == nil {
			return nil
		}
		return []string{r.message(*frame.Message)}
	case ws.FrameHistory:
		lines := make([]string, 0, len(frame.Messages))
		for _, m := range frame.Messages {
			lines = append(lines, r.message(m))
		}
		return lines
	case ws.FrameError:
		text := fmt.Sprintf("error [%s]: %s", frame.Kind, frame.Error)
		if frame.Floor != nil {
			text += fmt.Sprintf(" (history starts at #%d)", *frame.Floor)
		}
		return []string{r.paint(color.New(color.FgRed), text)}
	case ws.FrameDropped:
		return []string{r.paint(color.New(color.FgYellow),
			fmt.Sprintf("fell behind (%s), live again from #%d", frame.Kind, deref(frame.LiveFrom)))}
	default:
		return nil
	}
}

// parseInput maps a line typed by the user to a client frame.
// "/history N" asks for messages after N, "/quit" leaves, anything else is sent.
func parseInput(line string) (ws.ClientFrame, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return ws.ClientFrame{}, false
	case line == "/quit":
		return ws.ClientFrame{Type: ws.FrameLeave}, true
	case strings.HasPrefix(line, "/history"):
		var since uint64
		_, _ = fmt.Sscanf(strings.TrimPrefix(line, "/history"), "%d", &since)
		return ws.ClientFrame{Type: ws.FrameHistory, Since: since}, true
	default:
		return ws.ClientFrame{Type: ws.FrameSend, Body: line}, true
	}
}

func deref(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
