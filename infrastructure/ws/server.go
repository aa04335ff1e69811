// Package ws maps WebSocket connections to gateway sessions.
// Each connection owns one session: a reader loop turns client frames into
// gateway calls, a writer goroutine owns every write on the connection.
package ws

import (
	"chat-broadcast/contract"
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"chat-broadcast/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/samber/lo"
)

const (
	maxFrameBytes = 64 * 1024
	repliesBuffer = 16
)

type Config struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

type Server struct {
	log        *slog.Logger
	gateway    services.IGateway
	messageLog contract.IMessageLog
	gatherer   prometheus.Gatherer
	config     Config
	upgrader   websocket.Upgrader
}

func NewServer(log *slog.Logger, gateway services.IGateway, messageLog contract.IMessageLog,
	gatherer prometheus.Gatherer, config Config) *Server {
	s := &Server{
		log:        log,
		gateway:    gateway,
		messageLog: messageLog,
		gatherer:   gatherer,
		config:     config,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Router returns the HTTP surface: the WebSocket endpoint, health and metrics.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(r)
}

// checkOrigin accepts non-browser clients and the configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(s.config.AllowedOrigins, "*") || lo.Contains(s.config.AllowedOrigins, origin)
}

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	LastSeq        uint64 `json:"last_seq"`
	Floor          uint64 `json:"floor"`
	Capacity       int    `json:"capacity"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:         "ok",
		ActiveSessions: s.gateway.ActiveSessions(),
		LastSeq:        s.messageLog.LastSeq(),
		Floor:          s.messageLog.Floor(),
		Capacity:       s.messageLog.Capacity(),
	})
}

// handleWebSocket joins before upgrading, so that a refused display name is
// answered with a plain HTTP status. The session is left on every exit path.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	since, withHistory, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upgraded := false
	err = s.gateway.WithSession(r.Context(), name, func(session *services.Session) error {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader already replied.
			upgraded = true
			return fmt.Errorf("upgrade: %w", err)
		}
		upgraded = true
		defer conn.Close()
		return s.serve(r.Context(), conn, session, since, withHistory)
	})
	switch {
	case err == nil:
	case !upgraded && errors.Kind(err) == errors.KindAuth:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case !upgraded:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.log.Debug("Connection closed by peer", "remote", r.RemoteAddr)
	default:
		s.log.Error("Connection ended", "remote", r.RemoteAddr, "error", err)
	}
}

func parseSince(raw string) (domain.Seq, bool, error) {
	if raw == "" {
		return 0, false, nil
	}
	since, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid since %q", raw)
	}
	return since, true, nil
}

func (s *Server) serve(parent context.Context, conn *websocket.Conn, session *services.Session,
	since domain.Seq, withHistory bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Written before the writer starts, so that no live message can get
	// ahead of the history it follows.
	if err := s.write(conn, welcomeFrame(session.ID(), session.LiveFrom())); err != nil {
		return err
	}
	lastSeen := session.LiveFrom()
	if withHistory {
		history := s.history(ctx, session, since, 0)
		if err := s.write(conn, history); err != nil {
			return err
		}
		// A session dropped before this point got history up to the tail.
		if n := len(history.Messages); n > 0 {
			lastSeen = max(lastSeen, history.Messages[n-1].Seq)
		}
	}

	replies := make(chan ServerFrame, repliesBuffer)
	writerDone := make(chan error, 1)
	go func() {
		writerDone <- s.writeLoop(ctx, conn, session, lastSeen, replies)
		// Unblocks the reader when the writer gave up on the connection.
		_ = conn.Close()
	}()

	readErr := s.readLoop(ctx, conn, session, replies)
	cancel()
	writeErr := <-writerDone
	if readErr != nil {
		return readErr
	}
	return writeErr
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session *services.Session,
	replies chan<- ServerFrame) error {
	pongWait := 2 * s.config.PingInterval
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if !reply(ctx, replies, errorFrame(errors.NewValidationError("frame", "malformed JSON"))) {
				return nil
			}
			continue
		}
		if frame.Type == FrameLeave {
			s.log.Debug("Client asked to leave", "session_id", session.ID())
			return nil
		}
		if !reply(ctx, replies, s.handle(ctx, session, frame)) {
			return nil
		}
	}
}

func (s *Server) handle(ctx context.Context, session *services.Session, frame ClientFrame) ServerFrame {
	switch frame.Type {
	case FrameSend:
		message, err := s.gateway.Send(ctx, session, frame.Body)
		if err != nil {
			return errorFrame(err)
		}
		return ackFrame(message.Seq)
	case FrameHistory:
		return s.history(ctx, session, frame.Since, frame.Limit)
	case FrameResync:
		if err := s.gateway.Resync(ctx, session); err != nil {
			return errorFrame(err)
		}
		return welcomeFrame(session.ID(), session.LiveFrom())
	default:
		return errorFrame(errors.NewValidationError("type", fmt.Sprintf("unknown frame type %q", frame.Type)))
	}
}

func (s *Server) history(ctx context.Context, session *services.Session, since domain.Seq, limit int) ServerFrame {
	messages, err := s.gateway.History(ctx, session, since, limit)
	if err != nil {
		return errorFrame(err)
	}
	return historyFrame(messages)
}

func reply(ctx context.Context, replies chan<- ServerFrame, frame ServerFrame) bool {
	select {
	case replies <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop forwards replies and live messages, and keeps the peer alive
// with pings. After a drop it resyncs the session and replays what the
// client missed before resuming live delivery.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, session *services.Session,
	lastSeen domain.Seq, replies <-chan ServerFrame) error {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	events := session.Events()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.config.WriteTimeout))
			return nil
		case frame := <-replies:
			if err := s.write(conn, frame); err != nil {
				return err
			}
		case message, ok := <-events:
			if ok {
				if message.Seq <= lastSeen {
					continue
				}
				lastSeen = message.Seq
				if err := s.write(conn, messageFrame(message)); err != nil {
					return err
				}
				continue
			}
			if session.State() != domain.Active {
				// Left.
				return nil
			}
			// Dropped. A resync frame handled by the reader may already have
			// replaced the subscription, Resync is then a no-op.
			reason := session.Err()
			if reason == nil {
				reason = errors.ErrSubscriberOverflow
			}
			if err := s.gateway.Resync(ctx, session); err != nil {
				return fmt.Errorf("resync: %w", err)
			}
			events = session.Events()
			s.log.Info("Replaying after drop", "session_id", session.ID(), "last_seen", lastSeen)
			if err := s.write(conn, droppedFrame(reason, session.LiveFrom())); err != nil {
				return err
			}
			missed := s.history(ctx, session, lastSeen, 0)
			if err := s.write(conn, missed); err != nil {
				return err
			}
			if len(missed.Messages) > 0 {
				lastSeen = missed.Messages[len(missed.Messages)-1].Seq
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, frame ServerFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
