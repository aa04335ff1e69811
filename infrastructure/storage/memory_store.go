package storage

import (
	"chat-broadcast/domain"
	"context"
)

// MemoryStore keeps nothing: the retention window of the log is the only
// copy of the messages and a restart starts from an empty log.
type MemoryStore struct{}

func NewMemoryStore() MemoryStore { return MemoryStore{} }

func (MemoryStore) Init(context.Context) error { return nil }

func (MemoryStore) Save(context.Context, domain.Message) error { return nil }

func (MemoryStore) LoadTail(context.Context, int) ([]domain.Message, error) { return nil, nil }

func (MemoryStore) Trim(context.Context, domain.Seq) error { return nil }

func (MemoryStore) Close() error { return nil }
