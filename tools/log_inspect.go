package main

import (
	"chat-broadcast/contract"
	"chat-broadcast/infrastructure/storage"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

func main() {
	backend := flag.String("backend", storage.BackendBadger, "Storage backend: badger or sqlite")
	path := flag.String("db", "./data/badger", "Path to the badger directory or the sqlite file")
	limit := flag.Int("limit", 50, "Number of most recent messages to show, 0 for all")
	flag.Parse()

	store, err := openReadOnly(*backend, *path)
	if err != nil {
		log.Fatal("Error while opening the message store: ", err)
	}
	defer store.Close()

	messages, err := store.LoadTail(context.Background(), *limit)
	if err != nil {
		log.Fatal("Error while loading messages: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Seq", "Created At", "Author", "Body"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, m := range messages {
		body := m.Body
		if runes := []rune(body); len(runes) > 60 {
			body = string(runes[:57]) + "..."
		}
		table.Append([]string{
			strconv.FormatUint(m.Seq, 10),
			m.CreatedAt.Local().Format(time.DateTime),
			m.Author,
			body,
		})
	}
	table.Render()

	if len(messages) > 0 {
		fmt.Printf("\n%d messages, seq %d to %d\n", len(messages), messages[0].Seq, messages[len(messages)-1].Seq)
	}
}

// openReadOnly opens the store without taking it over from a running server.
func openReadOnly(backend, path string) (contract.MessageStore, error) {
	switch backend {
	case storage.BackendBadger:
		// BypassLockGuard allows opening while the server holds the lock
		db, err := badger.Open(badger.DefaultOptions(path).
			WithReadOnly(true).
			WithBypassLockGuard(true).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, err
		}
		return storage.NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelWarn)), nil
	case storage.BackendSQLite:
		return storage.OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("cannot inspect backend %q", backend)
	}
}
