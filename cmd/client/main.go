package main

import (
	"bufio"
	"chat-broadcast/infrastructure/dial"
	"chat-broadcast/infrastructure/ws"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query := url.Values{"name": {config.Name}}
	if config.Since >= 0 {
		query.Set("since", fmt.Sprint(config.Since))
	}
	candidates := dial.Expand(config.Endpoints, []string{"wss", "ws"}, "/ws?"+query.Encode())
	dialer := dial.NewDialer(log, candidates, config.DialTimeout,
		func(ctx context.Context, candidate dial.Candidate) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, candidate.URL, nil)
			return conn, err
		})
	conn, _, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	out := renderer{colours: config.Colours}
	readErr := make(chan error, 1)
	go func() {
		for {
			var frame ws.ServerFrame
			if err := conn.ReadJSON(&frame); err != nil {
				readErr <- err
				return
			}
			for _, line := range out.render(frame) {
				fmt.Println(line)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return conn.WriteJSON(ws.ClientFrame{Type: ws.FrameLeave})
		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return conn.WriteJSON(ws.ClientFrame{Type: ws.FrameLeave})
			}
			frame, ok := parseInput(line)
			if !ok {
				continue
			}
			if err := conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if frame.Type == ws.FrameLeave {
				return nil
			}
		}
	}
}
