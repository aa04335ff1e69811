package services

import (
	"chat-broadcast/contract"
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"chat-broadcast/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type IGateway interface {
	Join(ctx context.Context, displayName string) (*Session, error)
	Send(ctx context.Context, session *Session, body string) (domain.Message, error)
	History(ctx context.Context, session *Session, sinceSeq domain.Seq, limit int) ([]domain.Message, error)
	Resync(ctx context.Context, session *Session) error
	Leave(session *Session)
	WithSession(ctx context.Context, displayName string, fn func(*Session) error) error
	ActiveSessions() int
}

type GatewayConfig struct {
	// SendRate is the number of sends allowed per second and session, 0 disables the limit.
	SendRate  float64
	SendBurst int
	// MaxNameBytes bounds display names, 0 disables the check.
	MaxNameBytes int
}

// Gateway is the entry point of the broadcast core. It translates session
// operations into log appends, registry changes and dispatcher wake-ups.
type Gateway struct {
	log        *slog.Logger
	messageLog contract.IMessageLog
	registry   contract.IRegistry
	notifier   contract.Notifier
	metrics    *observability.Metrics
	config     GatewayConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewGateway(log *slog.Logger, messageLog contract.IMessageLog, registry contract.IRegistry,
	notifier contract.Notifier, metrics *observability.Metrics, config GatewayConfig) *Gateway {
	return &Gateway{
		log:        log,
		messageLog: messageLog,
		registry:   registry,
		notifier:   notifier,
		metrics:    metrics,
		config:     config,
		sessions:   make(map[string]*Session),
	}
}

// Join opens a session and subscribes it to live delivery.
// The subscriber starts at the current tail: every later message is pushed,
// every earlier one is served by History.
func (g *Gateway) Join(_ context.Context, displayName string) (*Session, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, errors.ErrEmptyDisplayName
	}
	if g.config.MaxNameBytes > 0 && len(name) > g.config.MaxNameBytes {
		return nil, errors.NewValidationError("display_name",
			fmt.Sprintf("exceeds %d bytes", g.config.MaxNameBytes))
	}

	session := &Session{
		id:          uuid.NewString(),
		displayName: name,
		state:       domain.Joining,
	}
	if g.config.SendRate > 0 {
		session.limiter = rate.NewLimiter(rate.Limit(g.config.SendRate), max(g.config.SendBurst, 1))
	}

	session.mu.Lock()
	session.liveFrom = g.messageLog.LastSeq()
	session.subscriber = g.registry.Register(session.id, session.liveFrom)
	session.state = domain.Active
	session.mu.Unlock()

	g.mu.Lock()
	g.sessions[session.id] = session
	g.mu.Unlock()
	g.metrics.ActiveSessions.Inc()

	// A round that ran before the registration may have missed messages
	// appended after liveFrom.
	g.notifier.Notify()

	g.log.Info("Session joined",
		"session_id", session.id,
		"display_name", name,
		"live_from", session.liveFrom)
	return session, nil
}

// Send appends body under the session's display name and wakes the
// dispatcher up. Sends of one session are appended in call order.
func (g *Gateway) Send(ctx context.Context, session *Session, body string) (domain.Message, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state != domain.Active {
		return domain.Message{}, g.reject(errors.NewInvalidStateError("send", session.state.String()))
	}
	if session.limiter != nil && !session.limiter.Allow() {
		return domain.Message{}, g.reject(errors.ErrRateLimited)
	}
	message, err := g.messageLog.Append(ctx, session.displayName, body)
	if err != nil {
		return domain.Message{}, g.reject(err)
	}
	g.metrics.MessagesAppended.Inc()
	g.notifier.Notify()
	return message, nil
}

func (g *Gateway) reject(err error) error {
	g.metrics.SendsRejected.WithLabelValues(errors.Kind(err)).Inc()
	return err
}

// History returns the messages after sinceSeq that live delivery will not
// push to the session: up to liveFrom while it is subscribed, up to the
// tail once the dispatcher dropped it. limit <= 0 means no limit.
func (g *Gateway) History(_ context.Context, session *Session, sinceSeq domain.Seq, limit int) ([]domain.Message, error) {
	session.mu.Lock()
	if session.state != domain.Active {
		state := session.state
		session.mu.Unlock()
		return nil, errors.NewInvalidStateError("history", state.String())
	}
	upTo := session.liveFrom
	if session.droppedLocked() {
		upTo = g.messageLog.LastSeq()
	}
	session.mu.Unlock()

	if sinceSeq >= upTo {
		return []domain.Message{}, nil
	}
	if limit <= 0 || uint64(limit) > upTo-sinceSeq {
		limit = int(upTo - sinceSeq)
	}
	messages, err := g.messageLog.Read(sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("history since %d: %w", sinceSeq, err)
	}
	return messages, nil
}

// Resync subscribes a dropped session again, at the current tail.
// It does nothing while the session is still subscribed.
func (g *Gateway) Resync(_ context.Context, session *Session) error {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state != domain.Active {
		return errors.NewInvalidStateError("resync", session.state.String())
	}
	if !session.droppedLocked() {
		return nil
	}
	previous := session.liveFrom
	session.liveFrom = g.messageLog.LastSeq()
	session.subscriber = g.registry.Register(session.id, session.liveFrom)
	g.notifier.Notify()

	g.log.Info("Session resynced",
		"session_id", session.id,
		"previous_live_from", previous,
		"live_from", session.liveFrom)
	return nil
}

// Leave unsubscribes the session and ends its push channel.
// Calling it again, or on a session that never became active, does nothing.
func (g *Gateway) Leave(session *Session) {
	if session == nil {
		return
	}
	session.mu.Lock()
	if session.state != domain.Active {
		session.mu.Unlock()
		return
	}
	session.state = domain.Leaving
	g.registry.Unregister(session.id)
	session.state = domain.Disconnected
	session.mu.Unlock()

	g.mu.Lock()
	delete(g.sessions, session.id)
	g.mu.Unlock()
	g.metrics.ActiveSessions.Dec()

	g.log.Info("Session left", "session_id", session.id, "display_name", session.displayName)
}

// WithSession runs fn inside a joined session and always leaves it,
// whether fn returns, fails or panics.
func (g *Gateway) WithSession(ctx context.Context, displayName string, fn func(*Session) error) error {
	session, err := g.Join(ctx, displayName)
	if err != nil {
		return err
	}
	defer g.Leave(session)
	return fn(session)
}

func (g *Gateway) ActiveSessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Session binds a display name to a subscriber for the duration of a connection.
type Session struct {
	id          string
	displayName string
	limiter     *rate.Limiter

	mu         sync.Mutex
	state      domain.SessionState
	subscriber contract.ISubscriber
	liveFrom   domain.Seq
}

func (s *Session) ID() string          { return s.id }
func (s *Session) DisplayName() string { return s.displayName }

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LiveFrom is the cursor the current subscription started at.
func (s *Session) LiveFrom() domain.Seq {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveFrom
}

// Events is the push channel of the current subscription. It is closed on
// leave and on drop, a Resync replaces it.
func (s *Session) Events() <-chan domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriber.Events()
}

func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriber.Done()
}

// Err reports why the current push channel ended: a SubscriberOverflowError
// after a drop, ErrSessionLeft after Leave, nil while it is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.subscriber.Err(); err != nil {
		return err
	}
	if s.state == domain.Disconnected {
		return errors.ErrSessionLeft
	}
	return nil
}

func (s *Session) droppedLocked() bool {
	select {
	case <-s.subscriber.Done():
		return stderrors.Is(s.subscriber.Err(), errors.ErrSubscriberOverflow)
	default:
		return false
	}
}
