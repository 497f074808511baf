package download

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// EventType identifies a queue notification
type EventType string

const (
	// EventJobUpdated is sent on every visible job change, progress included
	EventJobUpdated EventType = "job_updated"
	// EventJobReady is sent when a job reaches a terminal state
	EventJobReady EventType = "job_ready"
	// EventJobRemoved is sent when a job leaves the in-memory table
	EventJobRemoved EventType = "job_removed"
)

// Event is a single notification
type Event struct {
	Type      EventType `json:"type"`
	Job       Job       `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// Encode serializes the event for line-oriented observers
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Subscription is a registered observer
type Subscription struct {
	ID      uint64
	events  chan Event
	dropped atomic.Uint64
	closed  bool
}

// Events returns the receive side of the subscription
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded because the
// subscriber was not keeping up
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) send(e Event) bool {
	select {
	case s.events <- e:
		return true
	default:
		// Channel full, drop message
		s.dropped.Add(1)
		return false
	}
}

// Notifier fans queue events out to subscribers without ever blocking
// the queue
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	stats  NotifierStats
}

// NotifierStats counts terminal outcomes seen by the notifier
type NotifierStats struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Removed   int `json:"removed"`
}

// NewNotifier creates a notifier with no subscribers
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers an observer with the given channel buffer
func (n *Notifier) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	sub := &Subscription{ID: n.nextID, events: make(chan Event, buffer)}
	n.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes an observer and closes its channel
func (n *Notifier) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, sub.ID)
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}
}

// Publish delivers an event to every subscriber
func (n *Notifier) Publish(t EventType, job Job) {
	e := Event{Type: t, Job: job, Timestamp: time.Now()}

	n.mu.Lock()
	switch {
	case t == EventJobReady && job.Status == StatusCompleted:
		n.stats.Completed++
	case t == EventJobReady && job.Status == StatusFailed:
		n.stats.Failed++
	case t == EventJobRemoved:
		n.stats.Removed++
	}
	n.mu.Unlock()

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.subs {
		s.send(e)
	}
}

// Stats returns a copy of the outcome counters
func (n *Notifier) Stats() NotifierStats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

// SubscriberCount returns the number of registered observers
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// FormatSpeed formats bytes per second
func FormatSpeed(bytesPerSecond uint64) string {
	if bytesPerSecond == 0 {
		return "-"
	}
	return humanize.Bytes(bytesPerSecond) + "/s"
}

// FormatETA formats a remaining duration as a clock
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	s := int(d.Round(time.Second).Seconds())
	if s < 3600 {
		return fmt.Sprintf("%d:%02d", s/60, s%60)
	}
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
