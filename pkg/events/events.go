package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventClusterCreated  EventType = "cluster.created"
	EventClusterDeleted  EventType = "cluster.deleted"
	EventClusterUpdated  EventType = "cluster.updated"
	EventClusterResized  EventType = "cluster.resized"
	EventActionStarted   EventType = "action.started"
	EventActionSucceeded EventType = "action.succeeded"
	EventActionFailed    EventType = "action.failed"
	EventActionCancelled EventType = "action.cancelled"
	EventNodeCreated     EventType = "node.created"
	EventNodeDeleted     EventType = "node.deleted"
	EventNodeJoined      EventType = "node.joined"
	EventNodeLeft        EventType = "node.left"
	EventPolicyAttached  EventType = "policy.attached"
	EventPolicyDetached  EventType = "policy.detached"
)

// Event represents an engine event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	ClusterID string
	ActionID  string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishActionStarted emits the start-of-execution event for an action.
func (b *Broker) PublishActionStarted(action *types.Action, clusterID string) {
	b.Publish(&Event{
		Type:      EventActionStarted,
		ClusterID: clusterID,
		ActionID:  action.ID,
		Message:   fmt.Sprintf("%s started", action.Action),
		Metadata: map[string]string{
			"action": string(action.Action),
			"target": action.Target,
			"phase":  "start",
		},
	})
}

// PublishActionOutcome emits the event matching an action's terminal status.
func (b *Broker) PublishActionOutcome(action *types.Action, clusterID string) {
	var et EventType
	switch action.Status {
	case types.ActionStatusSucceeded:
		et = EventActionSucceeded
	case types.ActionStatusCancelled:
		et = EventActionCancelled
	default:
		et = EventActionFailed
	}

	b.Publish(&Event{
		Type:      et,
		ClusterID: clusterID,
		ActionID:  action.ID,
		Message:   action.StatusReason,
		Metadata: map[string]string{
			"action": string(action.Action),
			"target": action.Target,
			"phase":  "end",
		},
	})
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}
