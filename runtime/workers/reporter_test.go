package workers

import (
	"bytes"
	"chat-broadcast/contract"
	"chat-broadcast/mocks"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestReporterWorker_Reports_On_Tick_And_On_Stop(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	messageLog := mocks.NewMockIMessageLog(ctrl)
	registry := mocks.NewMockIRegistry(ctrl)
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&out, nil))

	messageLog.EXPECT().LastSeq().Return(uint64(12)).MinTimes(1)
	messageLog.EXPECT().Floor().Return(uint64(3)).MinTimes(1)
	messageLog.EXPECT().Capacity().Return(16).MinTimes(1)
	registry.EXPECT().ListActive().Return([]contract.ISubscriber{nil, nil}).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	worker := NewReporterWorker(log, messageLog, registry, 10*time.Millisecond)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	req.NoError(<-done)
	req.Contains(out.String(), "last_seq=12")
	req.Contains(out.String(), "retained=10")
	req.Contains(out.String(), "capacity=16")
	req.Contains(out.String(), "subscribers=2")
}
