//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-broadcast/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision when a worker starts, stops or crashes.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// MessageStore is the backing storage behind the in-memory retention window
// of the message log. Init must be idempotent: it creates the schema when
// absent and does nothing otherwise.
type MessageStore interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, message domain.Message) error
	LoadTail(ctx context.Context, limit int) ([]domain.Message, error)
	Trim(ctx context.Context, floor domain.Seq) error
	Close() error
}

type IMessageLog interface {
	Append(ctx context.Context, author, body string) (domain.Message, error)
	Read(sinceSeq domain.Seq, limit int) ([]domain.Message, error)
	Floor() domain.Seq
	LastSeq() domain.Seq
	Capacity() int
}

// Notifier wakes the dispatcher up after the log grew or a subscriber joined.
// Notify never blocks.
type Notifier interface {
	Notify()
}

type ISubscriber interface {
	ID() string
	Cursor() domain.Seq
	Offer(message domain.Message) error
	Close(reason error)
	Events() <-chan domain.Message
	Done() <-chan struct{}
	Err() error
	Len() int
	Cap() int
}

type IRegistry interface {
	Register(subscriberID string, startSeq domain.Seq) ISubscriber
	Unregister(subscriberID string)
	Evict(subscriber ISubscriber, reason error) bool
	ListActive() []ISubscriber
}
