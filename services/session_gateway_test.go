package services

import (
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"chat-broadcast/infrastructure/storage"
	"chat-broadcast/mocks"
	"chat-broadcast/observability"
	"chat-broadcast/runtime"
	"chat-broadcast/runtime/workers"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type gatewayFixture struct {
	messageLog *storage.MessageLog
	registry   *runtime.Registry
	metrics    *observability.Metrics
	dispatcher *workers.Dispatcher
	gateway    *Gateway
}

// newGatewayFixture wires the gateway to a real dispatcher that tests drive
// by hand with Dispatch.
func newGatewayFixture(t *testing.T, logCapacity, queueCapacity int, config GatewayConfig) gatewayFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	messageLog, err := storage.NewMessageLog(log, nil, storage.Limits{
		Capacity:       logCapacity,
		MaxBodyBytes:   64,
		MaxAuthorBytes: 16,
	})
	require.NoError(t, err)
	registry := runtime.NewRegistry(queueCapacity)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	dispatcher := workers.NewDispatcher(log, messageLog, registry, metrics, time.Hour)
	return gatewayFixture{
		messageLog: messageLog,
		registry:   registry,
		metrics:    metrics,
		dispatcher: dispatcher,
		gateway:    NewGateway(log, messageLog, registry, dispatcher, metrics, config),
	}
}

func received(session *Session) []domain.Seq {
	var res []domain.Seq
	events := session.Events()
	for {
		select {
		case m, ok := <-events:
			if !ok {
				return res
			}
			res = append(res, m.Seq)
		default:
			return res
		}
	}
}

func TestGateway_Join(t *testing.T) {
	t.Run("should reject an empty display name", func(t *testing.T) {
		req := require.New(t)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})

		session, err := f.gateway.Join(context.Background(), "  ")

		req.Nil(session)
		req.ErrorIs(err, errors.ErrAuth)
		req.Equal(errors.KindAuth, errors.Kind(err))
		req.Zero(f.registry.Len())
	})

	t.Run("should reject a display name over the limit", func(t *testing.T) {
		req := require.New(t)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{MaxNameBytes: 4})

		_, err := f.gateway.Join(context.Background(), "alice")

		req.ErrorIs(err, errors.ErrValidation)
		req.Zero(f.registry.Len())
	})

	t.Run("should subscribe at the current tail and notify the dispatcher", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		notifier := mocks.NewMockNotifier(ctrl)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		gateway := NewGateway(slog.Default(), f.messageLog, f.registry, notifier, f.metrics, GatewayConfig{})

		_, err := f.messageLog.Append(context.Background(), "alice", "before")
		req.NoError(err)
		notifier.EXPECT().Notify().Times(1)

		session, err := gateway.Join(context.Background(), " bob ")

		req.NoError(err)
		req.NotEmpty(session.ID())
		req.Equal("bob", session.DisplayName())
		req.Equal(domain.Active, session.State())
		req.Equal(domain.Seq(1), session.LiveFrom())
		req.Equal(1, gateway.ActiveSessions())
		req.Equal(float64(1), testutil.ToFloat64(f.metrics.ActiveSessions))
	})
}

func TestGateway_History_Returns_Alice_And_Bob_In_Order(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newGatewayFixture(t, 8, 8, GatewayConfig{})

	// Given alice then bob post a message
	alice, err := f.gateway.Join(ctx, "alice")
	req.NoError(err)
	bob, err := f.gateway.Join(ctx, "bob")
	req.NoError(err)
	_, err = f.gateway.Send(ctx, alice, "hi")
	req.NoError(err)
	_, err = f.gateway.Send(ctx, bob, "yo")
	req.NoError(err)

	// When carol joins and asks for everything since 0
	carol, err := f.gateway.Join(ctx, "carol")
	req.NoError(err)
	history, err := f.gateway.History(ctx, carol, 0, 10)

	// Then both messages come back in log order
	req.NoError(err)
	req.Len(history, 2)
	req.Equal(domain.Message{Seq: 1, Author: "alice", Body: "hi", CreatedAt: history[0].CreatedAt}, history[0])
	req.Equal(domain.Message{Seq: 2, Author: "bob", Body: "yo", CreatedAt: history[1].CreatedAt}, history[1])
}

func TestGateway_History_And_Live_Delivery_Do_Not_Overlap(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newGatewayFixture(t, 16, 16, GatewayConfig{})
	writer, err := f.gateway.Join(ctx, "writer")
	req.NoError(err)

	// Given two messages before the join and three after
	for i := 0; i < 2; i++ {
		_, err := f.gateway.Send(ctx, writer, fmt.Sprintf("early %d", i))
		req.NoError(err)
	}
	reader, err := f.gateway.Join(ctx, "reader")
	req.NoError(err)
	for i := 0; i < 3; i++ {
		_, err := f.gateway.Send(ctx, writer, fmt.Sprintf("late %d", i))
		req.NoError(err)
	}
	f.dispatcher.Dispatch()

	// When the reader fetches history from 0 and drains live delivery
	history, err := f.gateway.History(ctx, reader, 0, 0)
	req.NoError(err)
	live := received(reader)

	// Then history stops at the join cursor and live delivery starts right after
	req.Equal([]domain.Seq{1, 2}, lo.Map(history, func(m domain.Message, _ int) domain.Seq { return m.Seq }))
	req.Equal([]domain.Seq{3, 4, 5}, live)

	// And a cursor at or after liveFrom has no history
	history, err = f.gateway.History(ctx, reader, 2, 10)
	req.NoError(err)
	req.Empty(history)
}

func TestGateway_Join_History_Live_Is_Exactly_Once_Under_Concurrency(t *testing.T) {
	req := require.New(t)
	const total = 300
	f := newGatewayFixture(t, total, total, GatewayConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.dispatcher.Run(ctx) }()

	writer, err := f.gateway.Join(ctx, "writer")
	req.NoError(err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if _, err := f.gateway.Send(ctx, writer, "tick"); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	// The reader joins while the writer is busy
	for f.messageLog.LastSeq() < total/3 {
		time.Sleep(time.Millisecond)
	}
	reader, err := f.gateway.Join(ctx, "reader")
	req.NoError(err)
	wg.Wait()

	history, err := f.gateway.History(ctx, reader, 0, 0)
	req.NoError(err)
	seen := lo.Map(history, func(m domain.Message, _ int) domain.Seq { return m.Seq })

	events := reader.Events()
	deadline := time.After(5 * time.Second)
	for len(seen) < total {
		select {
		case m := <-events:
			seen = append(seen, m.Seq)
		case <-deadline:
			req.FailNow(fmt.Sprintf("only %d of %d messages seen", len(seen), total))
		}
	}

	for i, seq := range seen {
		req.Equal(domain.Seq(i+1), seq)
	}
}

func TestGateway_Dropped_Session_Resyncs(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newGatewayFixture(t, 16, 2, GatewayConfig{})
	lagging, err := f.gateway.Join(ctx, "lagging")
	req.NoError(err)
	appendBodies := func(bodies ...string) {
		for _, body := range bodies {
			_, err := f.messageLog.Append(ctx, "writer", body)
			req.NoError(err)
		}
	}

	// Given the lagging session never drains its queue of two
	appendBodies("m0", "m1", "m2")
	f.dispatcher.Dispatch()

	// Then it is dropped from live delivery with an overflow reason
	<-lagging.Done()
	req.ErrorIs(lagging.Err(), errors.ErrSubscriberOverflow)
	req.Equal(domain.Active, lagging.State())
	req.Equal([]domain.Seq{1, 2}, received(lagging))

	// And the session itself can still send
	_, err = f.gateway.Send(ctx, lagging, "still here")
	req.NoError(err)

	// And history now reaches the tail
	history, err := f.gateway.History(ctx, lagging, 2, 0)
	req.NoError(err)
	req.Len(history, 2)

	// When it resyncs
	req.NoError(f.gateway.Resync(ctx, lagging))

	// Then it is live again from the tail
	req.Equal(domain.Seq(4), lagging.LiveFrom())
	req.NoError(lagging.Err())
	appendBodies("m4")
	f.dispatcher.Dispatch()
	req.Equal([]domain.Seq{5}, received(lagging))

	// And a second resync while live does nothing
	req.NoError(f.gateway.Resync(ctx, lagging))
	req.Equal(domain.Seq(4), lagging.LiveFrom())
}

func TestGateway_Send(t *testing.T) {
	t.Run("should refuse sends after leave", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		session, err := f.gateway.Join(ctx, "alice")
		req.NoError(err)
		f.gateway.Leave(session)

		_, err = f.gateway.Send(ctx, session, "hello")

		req.ErrorIs(err, errors.ErrInvalidState)
		var invalid *errors.InvalidStateError
		req.True(stderrors.As(err, &invalid))
		req.Equal("Disconnected", invalid.State)
		req.Equal(float64(1), testutil.ToFloat64(f.metrics.SendsRejected.WithLabelValues(errors.KindInvalidState)))
		req.Zero(f.messageLog.LastSeq())
	})

	t.Run("should return validation errors to the sender only", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		alice, err := f.gateway.Join(ctx, "alice")
		req.NoError(err)
		bob, err := f.gateway.Join(ctx, "bob")
		req.NoError(err)

		_, err = f.gateway.Send(ctx, alice, strings.Repeat("x", 65))
		req.ErrorIs(err, errors.ErrValidation)
		f.dispatcher.Dispatch()

		req.Empty(received(bob))
		req.NoError(bob.Err())
		req.Zero(f.messageLog.LastSeq())
	})

	t.Run("should rate limit a session", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newGatewayFixture(t, 8, 8, GatewayConfig{SendRate: 0.001, SendBurst: 1})
		alice, err := f.gateway.Join(ctx, "alice")
		req.NoError(err)
		bob, err := f.gateway.Join(ctx, "bob")
		req.NoError(err)

		_, err = f.gateway.Send(ctx, alice, "first")
		req.NoError(err)
		_, err = f.gateway.Send(ctx, alice, "second")
		req.ErrorIs(err, errors.ErrRateLimited)
		req.Equal(errors.KindValidation, errors.Kind(err))

		// Limits are per session
		_, err = f.gateway.Send(ctx, bob, "mine")
		req.NoError(err)
	})

	t.Run("should notify the dispatcher after each append", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		notifier := mocks.NewMockNotifier(ctrl)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		gateway := NewGateway(slog.Default(), f.messageLog, f.registry, notifier, f.metrics, GatewayConfig{})

		// Join and one successful send, the rejected one does not notify
		notifier.EXPECT().Notify().Times(2)
		session, err := gateway.Join(context.Background(), "alice")
		req.NoError(err)
		message, err := gateway.Send(context.Background(), session, "hello")
		req.NoError(err)
		req.Equal("alice", message.Author)
		_, err = gateway.Send(context.Background(), session, "")
		req.Error(err)
		req.Equal(float64(1), testutil.ToFloat64(f.metrics.MessagesAppended))
	})
}

func TestGateway_Leave(t *testing.T) {
	t.Run("should end the push channel and be idempotent", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		session, err := f.gateway.Join(ctx, "alice")
		req.NoError(err)

		f.gateway.Leave(session)
		f.gateway.Leave(session)

		<-session.Done()
		_, open := <-session.Events()
		req.False(open)
		req.ErrorIs(session.Err(), errors.ErrSessionLeft)
		req.Equal(domain.Disconnected, session.State())
		req.Zero(f.registry.Len())
		req.Zero(f.gateway.ActiveSessions())
		req.Zero(testutil.ToFloat64(f.metrics.ActiveSessions))

		_, err = f.gateway.History(ctx, session, 0, 10)
		req.ErrorIs(err, errors.ErrInvalidState)
	})

	t.Run("should leave when the session body panics", func(t *testing.T) {
		req := require.New(t)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		var inside *Session

		req.Panics(func() {
			_ = f.gateway.WithSession(context.Background(), "alice", func(session *Session) error {
				inside = session
				panic("connection reset")
			})
		})

		req.Equal(domain.Disconnected, inside.State())
		req.Zero(f.registry.Len())
	})

	t.Run("should leave when the session body fails", func(t *testing.T) {
		req := require.New(t)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		boom := stderrors.New("read: connection reset")

		err := f.gateway.WithSession(context.Background(), "alice", func(*Session) error { return boom })

		req.ErrorIs(err, boom)
		req.Zero(f.gateway.ActiveSessions())
	})

	t.Run("should not join when the display name is empty", func(t *testing.T) {
		req := require.New(t)
		f := newGatewayFixture(t, 8, 8, GatewayConfig{})
		called := false

		err := f.gateway.WithSession(context.Background(), "", func(*Session) error {
			called = true
			return nil
		})

		req.ErrorIs(err, errors.ErrEmptyDisplayName)
		req.False(called)
	})
}
