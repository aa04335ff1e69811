package storage

import (
	"chat-broadcast/domain"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

const (
	schemaKey     = "meta:schema"
	schemaVersion = "1"
	messagePrefix = "msg:"
)

// BadgerStore persists the message log in BadgerDB.
// The key is formatted as "msg:{seq_padded}" with 20-digit zero padding so
// that lexicographical order is sequence order.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenBadgerStore opens (or creates) a database at path. The store owns
// the database and closes it in Close.
func OpenBadgerStore(path string, log *slog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return NewBadgerStore(db, log), nil
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func messageKey(seq domain.Seq) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, seq))
}

// Init writes the schema marker when the database is new.
// Opening an already initialized database is a no-op.
func (s *BadgerStore) Init(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(schemaKey))
		switch {
		case err == nil:
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			s.log.Info("Initializing message store schema", "version", schemaVersion)
			return txn.Set([]byte(schemaKey), []byte(schemaVersion))
		default:
			return err
		}
	})
}

func (s *BadgerStore) Save(_ context.Context, message domain.Message) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message.Seq), EncodeMessage(message))
	})
}

// LoadTail returns the last limit messages, oldest first.
// It seeks past the highest possible key and walks backwards.
func (s *BadgerStore) LoadTail(_ context.Context, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := append([]byte(messagePrefix), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				message, err := DecodeMessage(value)
				if err != nil {
					return fmt.Errorf("key %s: %w", it.Item().Key(), err)
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lo.Reverse(messages), nil
}

// Trim deletes every message below floor.
func (s *BadgerStore) Trim(_ context.Context, floor domain.Seq) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		limit := messageKey(floor)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(limit) {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return err
	}

	batch := s.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			return err
		}
	}
	return batch.Flush()
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
