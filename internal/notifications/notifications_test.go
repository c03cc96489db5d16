package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/automind/internal/patterns"
	"github.com/ziadkadry99/automind/internal/synergy"
)

type webhookSink struct {
	mu       sync.Mutex
	received []Notification
	status   int
}

func (s *webhookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.received = append(s.received, n)
	s.mu.Unlock()
	if s.status != 0 {
		w.WriteHeader(s.status)
	}
}

func (s *webhookSink) snapshot() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.received...)
}

func testOpportunities() []synergy.Opportunity {
	return []synergy.Opportunity{
		{
			ID:         "op-1",
			Entities:   []string{"binary_sensor.hallway_motion", "light.hallway"},
			Trigger:    &patterns.Shape{EntityID: "binary_sensor.hallway_motion", Kind: patterns.ShapeTo, State: "on"},
			Actions:    []synergy.Action{{EntityID: "light.hallway", Service: "light.turn_on"}},
			Confidence: 0.8,
		},
		{
			ID:         "op-2",
			Entities:   []string{"switch.heater", "switch.fan"},
			Actions:    []synergy.Action{{EntityID: "switch.fan", Service: "switch.turn_off"}},
			Confidence: 0.3,
		},
	}
}

func TestNewOpportunitiesDelivers(t *testing.T) {
	sink := &webhookSink{}
	ts := httptest.NewServer(sink)
	defer ts.Close()

	d := NewDispatcher([]string{ts.URL}, 0.5, nil)
	d.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }

	if err := d.NewOpportunities(context.Background(), "run-1", testOpportunities()); err != nil {
		t.Fatalf("NewOpportunities: %v", err)
	}

	got := sink.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	n := got[0]
	if n.Type != TypeNewSuggestions || n.RunID != "run-1" {
		t.Errorf("unexpected notification: %+v", n)
	}
	if len(n.Opportunities) != 1 || n.Opportunities[0].ID != "op-1" {
		t.Errorf("expected only op-1 above the confidence filter, got %+v", n.Opportunities)
	}
	if n.Title != "1 new automation suggestion" {
		t.Errorf("title = %q", n.Title)
	}
	want := "When binary_sensor.hallway_motion turns on: light.turn_on light.hallway (confidence 0.80)"
	if n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}
}

func TestNewOpportunitiesNothingToSay(t *testing.T) {
	sink := &webhookSink{}
	ts := httptest.NewServer(sink)
	defer ts.Close()

	d := NewDispatcher([]string{ts.URL}, 0.9, nil)
	if err := d.NewOpportunities(context.Background(), "run-1", testOpportunities()); err != nil {
		t.Fatalf("NewOpportunities: %v", err)
	}
	if got := sink.snapshot(); len(got) != 0 {
		t.Errorf("expected no delivery, got %d", len(got))
	}
}

func TestDispatchAttemptsEverySubscriber(t *testing.T) {
	failing := &webhookSink{status: http.StatusInternalServerError}
	ok := &webhookSink{}
	tsFail := httptest.NewServer(failing)
	defer tsFail.Close()
	tsOK := httptest.NewServer(ok)
	defer tsOK.Close()

	d := NewDispatcher([]string{tsFail.URL, tsOK.URL}, 0, nil)
	err := d.Dispatch(context.Background(), Notification{ID: "n-1", Type: TypeNewSuggestions})
	if err == nil {
		t.Fatal("expected error from failing subscriber")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("unexpected error: %v", err)
	}
	if got := ok.snapshot(); len(got) != 1 {
		t.Errorf("healthy subscriber got %d deliveries, want 1", len(got))
	}
}

func TestSendWebhookCancelled(t *testing.T) {
	ts := httptest.NewServer(&webhookSink{})
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := NewDispatcher(nil, 0, nil)
	if err := d.SendWebhook(ctx, ts.URL, []byte(`{}`)); err == nil {
		t.Error("expected error for cancelled context")
	}
}
