package storage

import (
	"chat-broadcast/contract"
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Limits bounds the log. All fields are required.
type Limits struct {
	// Capacity is the number of messages kept in the retention window.
	Capacity int `validate:"gt=0"`
	// MaxBodyBytes rejects larger bodies with a validation error.
	MaxBodyBytes int `validate:"gt=0"`
	// MaxAuthorBytes rejects longer display names with a validation error.
	MaxAuthorBytes int `validate:"gt=0"`
}

// MessageLog is the append-only source of truth for history and replay.
//
// Appends are serialized by appendMu, which covers sequence assignment and
// the write to the backing store. The retention window is guarded by mu and
// is only write-locked for the O(1) publish step, so readers never wait on
// the store.
type MessageLog struct {
	appendMu sync.Mutex
	mu       sync.RWMutex
	log      *slog.Logger
	store    contract.MessageStore
	limits   Limits
	now      func() time.Time

	window  []domain.Message // ring buffer, oldest at head
	head    int
	size    int
	lastSeq domain.Seq
}

func NewMessageLog(log *slog.Logger, store contract.MessageStore, limits Limits) (*MessageLog, error) {
	if err := validate.Struct(limits); err != nil {
		return nil, fmt.Errorf("invalid log limits: %w", err)
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &MessageLog{
		log:    log,
		store:  store,
		limits: limits,
		now:    time.Now,
		window: make([]domain.Message, limits.Capacity),
	}, nil
}

// Restore initializes the backing store and reloads its tail into the
// retention window. The sequence resumes after the highest stored message.
func (l *MessageLog) Restore(ctx context.Context) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	if err := l.store.Init(ctx); err != nil {
		return fmt.Errorf("init message store: %w", err)
	}
	messages, err := l.store.LoadTail(ctx, l.limits.Capacity)
	if err != nil {
		return fmt.Errorf("load message tail: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range messages {
		if m.Seq <= l.lastSeq {
			continue
		}
		// The window must stay contiguous, a hole in the store restarts it.
		if l.size > 0 && m.Seq != l.lastSeq+1 {
			l.head, l.size = 0, 0
		}
		l.publishLocked(m)
	}
	if len(messages) > 0 {
		l.log.Info("Message log restored",
			"count", l.size,
			"floor", l.floorLocked(),
			"last_seq", l.lastSeq)
	}
	return nil
}

// Append validates and stores a new message, assigning it the next
// sequence number.
func (l *MessageLog) Append(ctx context.Context, author, body string) (domain.Message, error) {
	if err := l.validate(author, body); err != nil {
		return domain.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	// lastSeq is only written while appendMu is held.
	message := domain.Message{
		Seq:       l.lastSeq + 1,
		Author:    author,
		Body:      body,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.Save(ctx, message); err != nil {
		return domain.Message{}, fmt.Errorf("append message %d: %w", message.Seq, err)
	}

	l.mu.Lock()
	evicted := l.publishLocked(message)
	floor := l.floorLocked()
	l.mu.Unlock()

	if evicted {
		// The message is already visible, a failed trim only leaves extra rows behind.
		if err := l.store.Trim(ctx, floor); err != nil {
			l.log.Warn("Failed to trim message store",
				"floor", floor,
				"kind", errors.Kind(err),
				"error", err)
		}
	}
	return message, nil
}

// Read returns the messages after sinceSeq, oldest first, capped at limit.
// A limit <= 0 means the whole retention window. Asking for messages below
// the retention floor returns a *errors.ReplayGapError.
func (l *MessageLog) Read(sinceSeq domain.Seq, limit int) ([]domain.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	floor := l.floorLocked()
	if sinceSeq+1 < floor {
		return nil, &errors.ReplayGapError{Floor: floor, Requested: sinceSeq}
	}
	if sinceSeq >= l.lastSeq {
		return nil, nil
	}

	count := int(l.lastSeq - sinceSeq)
	if limit > 0 && count > limit {
		count = limit
	}
	offset := int(sinceSeq + 1 - floor)
	res := make([]domain.Message, count)
	for i := 0; i < count; i++ {
		res[i] = l.window[(l.head+offset+i)%len(l.window)]
	}
	return res, nil
}

// Floor is the lowest retained sequence number, or the next one when the
// window is empty.
func (l *MessageLog) Floor() domain.Seq {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.floorLocked()
}

func (l *MessageLog) LastSeq() domain.Seq {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

func (l *MessageLog) Capacity() int { return l.limits.Capacity }

func (l *MessageLog) Close() error {
	return l.store.Close()
}

func (l *MessageLog) floorLocked() domain.Seq {
	if l.size == 0 {
		return l.lastSeq + 1
	}
	return l.window[l.head].Seq
}

// publishLocked pushes message at the tail of the window and reports
// whether the oldest message had to be evicted.
func (l *MessageLog) publishLocked(message domain.Message) bool {
	evicted := false
	if l.size == len(l.window) {
		l.window[l.head] = domain.Message{}
		l.head = (l.head + 1) % len(l.window)
		l.size--
		evicted = true
	}
	l.window[(l.head+l.size)%len(l.window)] = message
	l.size++
	l.lastSeq = message.Seq
	return evicted
}

func (l *MessageLog) validate(author, body string) error {
	switch {
	case strings.TrimSpace(author) == "":
		return errors.NewValidationError("author", "must not be empty")
	case len(author) > l.limits.MaxAuthorBytes:
		return errors.NewValidationError("author",
			fmt.Sprintf("exceeds %d bytes", l.limits.MaxAuthorBytes))
	case strings.TrimSpace(body) == "":
		return errors.NewValidationError("body", "must not be empty")
	case len(body) > l.limits.MaxBodyBytes:
		return errors.NewValidationError("body",
			fmt.Sprintf("exceeds %d bytes", l.limits.MaxBodyBytes))
	case !utf8.ValidString(body):
		return errors.NewValidationError("body", "is not valid UTF-8")
	}
	return nil
}
