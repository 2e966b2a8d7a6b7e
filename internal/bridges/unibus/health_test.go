package unibus

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
)

func TestHealthReporter_ObservePublishesChanges(t *testing.T) {
	pub := newMockMQTT()
	tel := &mockTelemetry{}
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Telemetry: tel})

	lines := []line.Status{
		{Name: "a", Role: line.RolePermanent, Online: true},
		{Name: "b", Role: line.RoleRegistration, Phase: "unregistered"},
	}
	h.Observe(lines)
	if got := len(pub.topics()); got != 2 {
		t.Fatalf("first observe published %d, want 2", got)
	}

	// Failure counts change but health does not.
	lines[0].Failures = 2
	h.Observe(lines)
	if got := len(pub.topics()); got != 2 {
		t.Errorf("unchanged health republished: %d publishes", got)
	}

	lines[1].Phase = "identified"
	h.Observe(lines)
	topics := pub.topics()
	if len(topics) != 3 || topics[2] != "unibus/line/b/status" {
		t.Errorf("topics = %v", topics)
	}
	if got := h.Lines(); len(got) != 2 || got[0].Failures != 2 {
		t.Errorf("Lines() = %+v", got)
	}
	if len(tel.lines) != 3 {
		t.Errorf("telemetry samples = %d, want 3", len(tel.lines))
	}
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := newMockMQTT()
	h := NewHealthReporter(HealthReporterConfig{Publisher: pub})
	h.Observe([]line.Status{{Name: "a"}, {Name: "b"}})

	h.PublishNow()
	if got := len(pub.topics()); got != 4 {
		t.Errorf("publishes = %d, want 4", got)
	}

	pub.connected = false
	h.PublishNow()
	if got := len(pub.topics()); got != 4 {
		t.Errorf("published while disconnected: %d", got)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want default", h.interval)
	}

	h.Start(context.Background())
	h.Stop()
	h.Stop()

	// Without a publisher, reporting is a no-op.
	h.Observe([]line.Status{{Name: "a"}})
	h.PublishNow()
}
