package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	// Reset default registry for test isolation
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := New()

	if m.ConnectionsTotal == nil {
		t.Error("ConnectionsTotal is nil")
	}
	if m.ActiveConnections == nil {
		t.Error("ActiveConnections is nil")
	}
	if m.OnlineIdentities == nil {
		t.Error("OnlineIdentities is nil")
	}
	if m.MessagesTotal == nil {
		t.Error("MessagesTotal is nil")
	}
	if m.RejectionsTotal == nil {
		t.Error("RejectionsTotal is nil")
	}
	if m.SignalsForwarded == nil {
		t.Error("SignalsForwarded is nil")
	}
	if m.SignalsDropped == nil {
		t.Error("SignalsDropped is nil")
	}
	if m.MessagesPurged == nil {
		t.Error("MessagesPurged is nil")
	}

	// Verify metrics can be used without panic
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Set(3)
	m.OnlineIdentities.Set(2)
	m.MessagesTotal.WithLabelValues("group").Inc()
	m.MessagesTotal.WithLabelValues("private").Inc()
	m.RejectionsTotal.WithLabelValues("TARGET_OFFLINE").Inc()
	m.SignalsForwarded.Inc()
	m.SignalsDropped.Inc()
	m.MessagesPurged.Inc()
}
