package storage

import (
	"chat-broadcast/contract"
	"chat-broadcast/errors"
	"fmt"
	"log/slog"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// OpenStore returns the backing store selected by backend. path is the
// badger directory or the sqlite file, it is ignored for memory.
func OpenStore(backend, path string, log *slog.Logger) (contract.MessageStore, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendBadger:
		return OpenBadgerStore(path, log)
	case BackendSQLite:
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownBackend, backend)
	}
}
