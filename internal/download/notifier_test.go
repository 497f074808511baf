package download

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNotifierDropsForSlowSubscriber(t *testing.T) {
	n := NewNotifier()
	slow := n.Subscribe(1)
	fast := n.Subscribe(8)

	for i := 0; i < 3; i++ {
		n.Publish(EventJobUpdated, Job{ID: "j1", Status: StatusDownloading})
	}

	if got := slow.Dropped(); got != 2 {
		t.Errorf("expected 2 dropped events, got %d", got)
	}
	if got := fast.Dropped(); got != 0 {
		t.Errorf("expected no drops for fast subscriber, got %d", got)
	}
	if len(fast.Events()) != 3 {
		t.Errorf("expected 3 buffered events, got %d", len(fast.Events()))
	}
}

func TestNotifierUnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier()
	sub := n.Subscribe(4)
	n.Unsubscribe(sub)
	n.Unsubscribe(sub)

	if _, open := <-sub.Events(); open {
		t.Error("expected closed channel")
	}
	if n.SubscriberCount() != 0 {
		t.Errorf("expected no subscribers, got %d", n.SubscriberCount())
	}
	// publishing after unsubscribe must not panic
	n.Publish(EventJobReady, Job{ID: "j1", Status: StatusCompleted})
}

func TestNotifierStats(t *testing.T) {
	n := NewNotifier()
	n.Publish(EventJobReady, Job{Status: StatusCompleted})
	n.Publish(EventJobReady, Job{Status: StatusFailed})
	n.Publish(EventJobReady, Job{Status: StatusCompleted})
	n.Publish(EventJobRemoved, Job{Status: StatusCompleted})
	n.Publish(EventJobUpdated, Job{Status: StatusCompleted})

	s := n.Stats()
	if s.Completed != 2 || s.Failed != 1 || s.Removed != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestEventEncode(t *testing.T) {
	e := Event{Type: EventJobUpdated, Job: Job{ID: "j1", OwnerID: "alice", Status: StatusPaused}}
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["type"] != "job_updated" {
		t.Errorf("unexpected type %v", decoded["type"])
	}
	job := decoded["job"].(map[string]any)
	if job["status"] != "paused" || job["owner_id"] != "alice" {
		t.Errorf("unexpected job payload %v", job)
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(0); got != "-" {
		t.Errorf("FormatSpeed(0) = %q", got)
	}
	if got := FormatSpeed(1500000); got != "1.5 MB/s" {
		t.Errorf("FormatSpeed(1500000) = %q", got)
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "-"},
		{5 * time.Second, "0:05"},
		{125 * time.Second, "2:05"},
		{3725 * time.Second, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.in); got != tt.want {
			t.Errorf("FormatETA(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
