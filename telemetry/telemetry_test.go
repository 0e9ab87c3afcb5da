package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetCollectors() {
	framesReceivedCounterLock.Lock()
	framesReceivedCounter = nil
	framesReceivedCounterLock.Unlock()
	framesDroppedCounterLock.Lock()
	framesDroppedCounter = nil
	framesDroppedCounterLock.Unlock()
	fifoOccupancyGaugeLock.Lock()
	fifoOccupancyGauge = nil
	fifoOccupancyGaugeLock.Unlock()
	sendFailureCounterLock.Lock()
	sendFailureCounter = nil
	sendFailureCounterLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncFrameReceived("virtual", "vcan0")
	collector.IncFrameDropped("virtual", "vcan0", 0x101)
	collector.SetFIFOOccupancy("virtual", "vcan0", 0x101, 3)
	collector.IncSendFailure("virtual", "vcan0")
}

func TestPrometheusCollectorRecordsMetrics(t *testing.T) {
	resetCollectors()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncFrameReceived("virtual", "vcan0")
	collector.IncFrameReceived("virtual", "vcan0")
	collector.IncFrameDropped("virtual", "vcan0", 0x101)
	collector.SetFIFOOccupancy("virtual", "vcan0", 0x101, 7)
	collector.IncSendFailure("virtual", "vcan0")

	metrics, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(metrics))
	for _, mf := range metrics {
		byName[mf.GetName()] = mf
	}

	received := byName["zdt_can_frames_received_total"]
	require.NotNil(t, received)
	require.Equal(t, float64(2), received.Metric[0].Counter.GetValue())

	dropped := byName["zdt_can_frames_dropped_total"]
	require.NotNil(t, dropped)
	require.Equal(t, float64(1), dropped.Metric[0].Counter.GetValue())
	requireLabel(t, dropped.Metric[0], "id", "0x101")

	occupancy := byName["zdt_can_fifo_occupancy"]
	require.NotNil(t, occupancy)
	require.Equal(t, float64(7), occupancy.Metric[0].Gauge.GetValue())

	failures := byName["zdt_can_send_failures_total"]
	require.NotNil(t, failures)
	require.Equal(t, float64(1), failures.Metric[0].Counter.GetValue())
}

func TestPrometheusCollectorReusesRegistered(t *testing.T) {
	resetCollectors()

	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.framesReceived, second.framesReceived)
	require.Same(t, first.fifoOccupancy, second.fifoOccupancy)

	first.IncSendFailure("virtual", "vcan0")
	second.IncSendFailure("virtual", "vcan0")

	metrics, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		if mf.GetName() == "zdt_can_send_failures_total" {
			require.Equal(t, float64(2), mf.Metric[0].Counter.GetValue())
			return
		}
	}
	t.Fatalf("send failure counter not gathered")
}

func requireLabel(t *testing.T, metric *dto.Metric, name, value string) {
	t.Helper()
	for _, label := range metric.Label {
		if label.GetName() == name {
			require.Equal(t, value, label.GetValue())
			return
		}
	}
	t.Fatalf("label %s missing", name)
}
