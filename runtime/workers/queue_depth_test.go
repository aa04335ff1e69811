package workers

import (
	"chat-broadcast/contract"
	"chat-broadcast/mocks"
	"chat-broadcast/observability"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestQueueDepthWorker_Sample(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	registry := mocks.NewMockIRegistry(ctrl)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	idle := mocks.NewMockISubscriber(ctrl)
	idle.EXPECT().Len().Return(0)
	idle.EXPECT().Cap().Return(8)
	busy := mocks.NewMockISubscriber(ctrl)
	busy.EXPECT().Len().Return(6)
	busy.EXPECT().Cap().Return(8)

	// Given two subscribers, one of them with a backlog
	registry.EXPECT().ListActive().Return([]contract.ISubscriber{idle, busy}).Times(1)
	worker := NewQueueDepthWorker(slog.Default(), registry, metrics, time.Second)

	// When a sample is taken
	deepest := worker.Sample()

	// Then the gauges reflect the deepest queue and the subscriber count
	req.Equal(6, deepest)
	req.Equal(float64(6), testutil.ToFloat64(metrics.MaxQueueDepth))
	req.Equal(float64(2), testutil.ToFloat64(metrics.ActiveSubscribers))
}
