package runtime

import (
	"chat-broadcast/domain"
	"chat-broadcast/errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscriber_Offer_Advances_Cursor_In_Order(t *testing.T) {
	req := require.New(t)
	subscriber := NewSubscriber("alice", 2, 3)

	req.NoError(subscriber.Offer(domain.Message{Seq: 3}))
	req.NoError(subscriber.Offer(domain.Message{Seq: 4}))

	// Already queued messages are not queued twice
	req.NoError(subscriber.Offer(domain.Message{Seq: 4}))
	req.NoError(subscriber.Offer(domain.Message{Seq: 1}))

	req.Equal(domain.Seq(4), subscriber.Cursor())
	req.Equal(2, subscriber.Len())
	req.Equal(domain.Seq(3), (<-subscriber.Events()).Seq)
	req.Equal(domain.Seq(4), (<-subscriber.Events()).Seq)
}

func TestSubscriber_Offer_Refuses_Holes(t *testing.T) {
	req := require.New(t)
	subscriber := NewSubscriber("alice", 2, 3)

	err := subscriber.Offer(domain.Message{Seq: 5})

	req.ErrorIs(err, errors.ErrReplayGap)
	req.Equal(domain.Seq(2), subscriber.Cursor())
}

func TestSubscriber_Offer_Overflows_When_Queue_Is_Full(t *testing.T) {
	req := require.New(t)
	subscriber := NewSubscriber("alice", 0, 2)

	req.NoError(subscriber.Offer(domain.Message{Seq: 1}))
	req.NoError(subscriber.Offer(domain.Message{Seq: 2}))
	err := subscriber.Offer(domain.Message{Seq: 3})

	req.ErrorIs(err, errors.ErrSubscriberOverflow)
	// The cursor never passes what was really queued
	req.Equal(domain.Seq(2), subscriber.Cursor())
}

func TestSubscriber_Close_Drains_Then_Ends(t *testing.T) {
	req := require.New(t)
	subscriber := NewSubscriber("alice", 0, 2)
	req.NoError(subscriber.Offer(domain.Message{Seq: 1}))

	subscriber.Close(errors.ErrSubscriberOverflow)
	subscriber.Close(nil)

	// Then the queued message is still readable before end-of-stream
	message, ok := <-subscriber.Events()
	req.True(ok)
	req.Equal(domain.Seq(1), message.Seq)
	_, ok = <-subscriber.Events()
	req.False(ok)

	// And the first reason wins
	req.ErrorIs(subscriber.Err(), errors.ErrSubscriberOverflow)
	req.ErrorIs(subscriber.Offer(domain.Message{Seq: 2}), errors.ErrSubscriberClosed)
}
