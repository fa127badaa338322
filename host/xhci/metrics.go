package xhci

import metrics "github.com/rcrowley/go-metrics"

// Metrics holds the counters a controller maintains. They are registered
// under the controller's metrics registry.
type Metrics struct {
	CommandsSubmitted  metrics.Counter
	TransfersSubmitted metrics.Counter
	EventsDrained      metrics.Counter
	DecodeErrors       metrics.Counter
	UnknownEvents      metrics.Counter
	PortChanges        metrics.Counter
	PortChangesDropped metrics.Counter
	EndpointStops      metrics.Counter
	DrainPasses        metrics.Counter
	PendingRequests    metrics.Gauge
	OpenEndpoints      metrics.Gauge
}

func newMetrics(r metrics.Registry) *Metrics {
	return &Metrics{
		CommandsSubmitted:  metrics.GetOrRegisterCounter("command.submitted", r),
		TransfersSubmitted: metrics.GetOrRegisterCounter("transfer.submitted", r),
		EventsDrained:      metrics.GetOrRegisterCounter("event.drained", r),
		DecodeErrors:       metrics.GetOrRegisterCounter("event.decode_errors", r),
		UnknownEvents:      metrics.GetOrRegisterCounter("event.unknown", r),
		PortChanges:        metrics.GetOrRegisterCounter("event.port_changes", r),
		PortChangesDropped: metrics.GetOrRegisterCounter("event.port_changes.dropped", r),
		EndpointStops:      metrics.GetOrRegisterCounter("event.endpoint_stops", r),
		DrainPasses:        metrics.GetOrRegisterCounter("event.drain_passes", r),
		PendingRequests:    metrics.GetOrRegisterGauge("registry.pending", r),
		OpenEndpoints:      metrics.GetOrRegisterGauge("transfer.endpoints", r),
	}
}
