package metrics

import (
	"fmt"

	"isazap/internal/domain"
)

var sendLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics is the set of bot metrics. It observes sends and session events.
type Metrics struct {
	*Collector
	inbound *Counter
	ready   *Gauge
	latency *Histogram
}

func New() *Metrics {
	c := NewCollector("isazap")
	return &Metrics{
		Collector: c,
		inbound:   c.Counter("isazap_inbound_messages_total", "Inbound messages received from the session", ""),
		ready:     c.Gauge("isazap_session_ready", "1 while the WhatsApp session is ready", ""),
		latency: c.Histogram("isazap_send_latency_seconds", "Send latency in seconds", "",
			sendLatencyBuckets),
	}
}

// ObserveSend counts a send by source and outcome.
func (m *Metrics) ObserveSend(rec domain.SendRecord) {
	result := "ok"
	if rec.Err != nil {
		result = "error"
	}
	source := rec.Source
	if source == "" {
		source = "unknown"
	}
	labels := fmt.Sprintf("source=%q,kind=%q,result=%q", source, rec.Kind, result)
	m.Counter("isazap_sends_total", "Outbound sends by source, kind and result", labels).Inc()
	m.latency.Observe(rec.Latency.Seconds())
}

// HandleEvent is an event bus handler counting inbound messages and lifecycle events.
func (m *Metrics) HandleEvent(ev domain.SessionEvent) {
	if ev.Type == domain.EventMessage {
		m.inbound.Inc()
		return
	}
	switch ev.Type {
	case domain.EventReady:
		m.ready.Set(1)
	case domain.EventDisconnected, domain.EventAuthFailure:
		m.ready.Set(0)
	}
	labels := fmt.Sprintf("event=%q", string(ev.Type))
	m.Counter("isazap_session_events_total", "Session lifecycle events by type", labels).Inc()
}
