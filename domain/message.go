// Package domain contains core concepts of the broadcast service.
// This file defines Message records and their ordering key.
// Messages are immutable once appended to the log.
package domain

import (
	"time"
)

// Seq is the position of a message in the log. The first message is 1,
// zero means "before anything".
type Seq = uint64

// Message represents an immutable chat record.
type Message struct {
	Seq       Seq // assigned by the log at append time
	Author    string
	Body      string
	CreatedAt time.Time
}
