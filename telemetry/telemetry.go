package telemetry

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the driver runtime.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with the receiver loop and send path.
type Collector interface {
	IncFrameReceived(transport, channel string)
	IncFrameDropped(transport, channel string, id uint32)
	SetFIFOOccupancy(transport, channel string, id uint32, occupancy int)
	IncSendFailure(transport, channel string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncFrameReceived(string, string)              {}
func (noopCollector) IncFrameDropped(string, string, uint32)       {}
func (noopCollector) SetFIFOOccupancy(string, string, uint32, int) {}
func (noopCollector) IncSendFailure(string, string)                {}

// PrometheusCollector exposes driver counters via Prometheus.
type PrometheusCollector struct {
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	fifoOccupancy  *prometheus.GaugeVec
	sendFailures   *prometheus.CounterVec
}

var (
	framesReceivedCounter     *prometheus.CounterVec
	framesReceivedCounterLock sync.Mutex
	framesDroppedCounter      *prometheus.CounterVec
	framesDroppedCounterLock  sync.Mutex
	fifoOccupancyGauge        *prometheus.GaugeVec
	fifoOccupancyGaugeLock    sync.Mutex
	sendFailureCounter        *prometheus.CounterVec
	sendFailureCounterLock    sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	received, err := registerCounter(reg, &framesReceivedCounter, &framesReceivedCounterLock, prometheus.CounterOpts{
		Name: "zdt_can_frames_received_total",
		Help: "Number of CAN frames pulled off the bus by the receiver loop.",
	}, []string{"transport", "channel"})
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounter(reg, &framesDroppedCounter, &framesDroppedCounterLock, prometheus.CounterOpts{
		Name: "zdt_can_frames_dropped_total",
		Help: "Number of frames evicted from per-identifier FIFOs due to capacity limits.",
	}, []string{"transport", "channel", "id"})
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, &sendFailureCounter, &sendFailureCounterLock, prometheus.CounterOpts{
		Name: "zdt_can_send_failures_total",
		Help: "Number of transport-level send failures absorbed by the driver.",
	}, []string{"transport", "channel"})
	if err != nil {
		return nil, err
	}

	fifoOccupancyGaugeLock.Lock()
	if fifoOccupancyGauge == nil {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zdt_can_fifo_occupancy",
			Help: "Number of frames currently buffered per identifier FIFO.",
		}, []string{"transport", "channel", "id"})
		if err := reg.Register(gauge); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
					fifoOccupancyGauge = existing
				} else {
					fifoOccupancyGaugeLock.Unlock()
					return nil, err
				}
			} else {
				fifoOccupancyGaugeLock.Unlock()
				return nil, err
			}
		} else {
			fifoOccupancyGauge = gauge
		}
	}
	occupancy := fifoOccupancyGauge
	fifoOccupancyGaugeLock.Unlock()

	return &PrometheusCollector{
		framesReceived: received,
		framesDropped:  dropped,
		fifoOccupancy:  occupancy,
		sendFailures:   failures,
	}, nil
}

func registerCounter(reg prometheus.Registerer, cached **prometheus.CounterVec, lock *sync.Mutex, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	lock.Lock()
	defer lock.Unlock()
	if *cached != nil {
		return *cached, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				*cached = existing
				return existing, nil
			}
		}
		return nil, err
	}
	*cached = counter
	return counter, nil
}

// IncFrameReceived counts a frame filed by the receiver loop.
func (p *PrometheusCollector) IncFrameReceived(transport, channel string) {
	if p == nil || p.framesReceived == nil {
		return
	}
	p.framesReceived.WithLabelValues(transport, channel).Inc()
}

// IncFrameDropped records a FIFO eviction for an identifier.
func (p *PrometheusCollector) IncFrameDropped(transport, channel string, id uint32) {
	if p == nil || p.framesDropped == nil {
		return
	}
	p.framesDropped.WithLabelValues(transport, channel, formatID(id)).Inc()
}

// SetFIFOOccupancy updates the gauge tracking buffered frames per identifier.
func (p *PrometheusCollector) SetFIFOOccupancy(transport, channel string, id uint32, occupancy int) {
	if p == nil || p.fifoOccupancy == nil {
		return
	}
	p.fifoOccupancy.WithLabelValues(transport, channel, formatID(id)).Set(float64(occupancy))
}

// IncSendFailure counts a transport-level send failure.
func (p *PrometheusCollector) IncSendFailure(transport, channel string) {
	if p == nil || p.sendFailures == nil {
		return
	}
	p.sendFailures.WithLabelValues(transport, channel).Inc()
}

func formatID(id uint32) string {
	return fmt.Sprintf("0x%X", id)
}
