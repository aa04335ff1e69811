package storage

import (
	"chat-broadcast/domain"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the stored message record. They follow the protobuf wire
// format so records stay readable by any protobuf decoder:
//
//	message StoredMessage {
//	  uint64 seq = 1;
//	  string author = 2;
//	  string body = 3;
//	  int64 created_at_unix_nano = 4;
//	}
const (
	fieldSeq       protowire.Number = 1
	fieldAuthor    protowire.Number = 2
	fieldBody      protowire.Number = 3
	fieldCreatedAt protowire.Number = 4
)

// EncodeMessage serializes a message into its stored record.
func EncodeMessage(message domain.Message) []byte {
	b := make([]byte, 0, 32+len(message.Author)+len(message.Body))
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, message.Seq)
	b = protowire.AppendTag(b, fieldAuthor, protowire.BytesType)
	b = protowire.AppendString(b, message.Author)
	b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
	b = protowire.AppendString(b, message.Body)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(message.CreatedAt.UnixNano()))
	return b
}

// DecodeMessage parses a stored record. Unknown fields are skipped.
func DecodeMessage(b []byte) (domain.Message, error) {
	var message domain.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Message{}, fmt.Errorf("decode message tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("decode message seq: %w", protowire.ParseError(n))
			}
			message.Seq = v
			b = b[n:]
		case num == fieldAuthor && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("decode message author: %w", protowire.ParseError(n))
			}
			message.Author = v
			b = b[n:]
		case num == fieldBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("decode message body: %w", protowire.ParseError(n))
			}
			message.Body = v
			b = b[n:]
		case num == fieldCreatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("decode message created_at: %w", protowire.ParseError(n))
			}
			message.CreatedAt = time.Unix(0, int64(v)).UTC()
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if message.Seq == 0 {
		return domain.Message{}, fmt.Errorf("decode message: missing seq")
	}
	return message, nil
}
