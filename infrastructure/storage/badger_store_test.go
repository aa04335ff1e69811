package storage

import (
	"chat-broadcast/domain"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T, dir string) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	return NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestBadgerStore_Save_And_LoadTail(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := openTestBadger(t, t.TempDir())
	defer store.Close()
	req.NoError(store.Init(ctx))

	at := time.Now().UTC()
	for i := 1; i <= 12; i++ {
		req.NoError(store.Save(ctx, domain.Message{
			Seq:       domain.Seq(i),
			Author:    "alice",
			Body:      fmt.Sprintf("message %d", i),
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		}))
	}

	// Seq 10 sorts after seq 9 thanks to the zero padding
	messages, err := store.LoadTail(ctx, 4)
	req.NoError(err)
	req.Equal([]domain.Seq{9, 10, 11, 12}, seqs(messages))
	req.Equal("message 9", messages[0].Body)
	req.True(at.Add(9 * time.Second).Equal(messages[0].CreatedAt))

	all, err := store.LoadTail(ctx, 0)
	req.NoError(err)
	req.Len(all, 12)
}

func TestBadgerStore_Init_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := openTestBadger(t, t.TempDir())
	defer store.Close()

	req.NoError(store.Init(ctx))
	req.NoError(store.Save(ctx, domain.Message{Seq: 1, Author: "alice", Body: "hi"}))
	req.NoError(store.Init(ctx))

	// The schema marker is not mistaken for a message
	messages, err := store.LoadTail(ctx, 10)
	req.NoError(err)
	req.Equal([]domain.Seq{1}, seqs(messages))
}

func TestBadgerStore_Trim(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := openTestBadger(t, t.TempDir())
	defer store.Close()

	for i := 1; i <= 5; i++ {
		req.NoError(store.Save(ctx, domain.Message{Seq: domain.Seq(i), Author: "bob", Body: "yo"}))
	}

	req.NoError(store.Trim(ctx, 4))

	messages, err := store.LoadTail(ctx, 0)
	req.NoError(err)
	req.Equal([]domain.Seq{4, 5}, seqs(messages))

	// Nothing left below the floor
	req.NoError(store.Trim(ctx, 4))
}

func TestBadgerStore_Log_Survives_Restart(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()
	limits := Limits{Capacity: 3, MaxBodyBytes: 64, MaxAuthorBytes: 16}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given a log backed by badger holding five appends with a capacity of three
	messageLog, err := NewMessageLog(log, openTestBadger(t, dir), limits)
	req.NoError(err)
	req.NoError(messageLog.Restore(ctx))
	for i := 0; i < 5; i++ {
		_, err := messageLog.Append(ctx, "alice", fmt.Sprintf("m%d", i+1))
		req.NoError(err)
	}
	req.NoError(messageLog.Close())

	// When the process restarts on the same directory
	restarted, err := NewMessageLog(log, openTestBadger(t, dir), limits)
	req.NoError(err)
	defer restarted.Close()
	req.NoError(restarted.Restore(ctx))

	// Then the retained window and the sequence are back
	req.Equal(domain.Seq(3), restarted.Floor())
	req.Equal(domain.Seq(5), restarted.LastSeq())
	messages, err := restarted.Read(2, 10)
	req.NoError(err)
	req.Equal([]string{"m3", "m4", "m5"}, []string{messages[0].Body, messages[1].Body, messages[2].Body})

	message, err := restarted.Append(ctx, "bob", "m6")
	req.NoError(err)
	req.Equal(domain.Seq(6), message.Seq)
}
