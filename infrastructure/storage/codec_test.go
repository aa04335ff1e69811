package storage

import (
	"chat-broadcast/domain"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestDecodeMessage_Skips_Unknown_Fields(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	record := EncodeMessage(domain.Message{Seq: 12, Author: "alice", Body: "hi", CreatedAt: at})

	// Given a record written by a newer version with an extra field
	record = protowire.AppendTag(record, 99, protowire.BytesType)
	record = protowire.AppendString(record, "reaction")

	// When decoding it
	message, err := DecodeMessage(record)

	// Then the known fields are intact
	req.NoError(err)
	req.Equal(domain.Message{Seq: 12, Author: "alice", Body: "hi", CreatedAt: at}, message)
}

func TestDecodeMessage_Rejects_Corrupted_Records(t *testing.T) {
	req := require.New(t)
	record := EncodeMessage(domain.Message{Seq: 3, Author: "bob", Body: "truncated", CreatedAt: time.Now()})

	_, err := DecodeMessage(record[:len(record)-3])
	req.Error(err)

	_, err = DecodeMessage(nil)
	req.Error(err)
}
