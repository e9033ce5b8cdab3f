package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/matterverse/matterverse-core/internal/device"
)

// DefaultQueueSize is the per-subscriber outbound buffer. Overflow
// drops the oldest unsent event for that subscriber only.
const DefaultQueueSize = 32

// Event is one normalised notification as delivered to sessions.
type Event struct {
	// Type is status_report, register_report or delete_report.
	Type   string      `json:"type"`
	Device EventDevice `json:"device"`
	Data   any         `json:"data"`
}

// EventDevice addresses the endpoint the event concerns.
type EventDevice struct {
	Node     uint64 `json:"node"`
	Endpoint uint16 `json:"endpoint"`
}

// StatusData carries a value change.
type StatusData struct {
	Cluster   string    `json:"cluster"`
	Attribute string    `json:"attribute"`
	Type      string    `json:"type"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RegistrationData carries a register/delete report.
type RegistrationData struct {
	TopicID    string `json:"topic_id"`
	DeviceType string `json:"device_type,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	Product    string `json:"product,omitempty"`
}

// BusSink is the MQTT side of the fan-out. bus.Publisher satisfies it.
type BusSink interface {
	PublishValue(update *device.AttributeUpdate) error
	AdvertiseDevice(dev *device.Device) error
	PublishState(topicID, state string) error
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subscription is one session's view of the event stream. Events arrive
// on C until Unsubscribe; the channel is closed afterwards.
type Subscription struct {
	ID string
	C  <-chan Event

	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Dropped reports how many events this subscriber lost to overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// push enqueues without ever blocking the producer: when the buffer is
// full the oldest unsent event is discarded to make room.
func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Notifier fans registry events out to the bus and to live session
// subscribers. Delivery is best-effort: the bus publish is attempted
// once and logged on failure, and each subscriber has its own bounded
// queue so a slow session never blocks the producer or its peers.
type Notifier struct {
	bus    BusSink
	logger Logger

	mu        sync.RWMutex
	subs      map[string]*Subscription
	queueSize int

	published atomic.Uint64
}

// New creates a notifier. The bus sink may be nil when running without
// a broker; session fan-out still works.
func New(bus BusSink) *Notifier {
	return &Notifier{
		bus:       bus,
		logger:    noopLogger{},
		subs:      make(map[string]*Subscription),
		queueSize: DefaultQueueSize,
	}
}

// SetLogger sets the logger for fan-out operations.
func (n *Notifier) SetLogger(logger Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// Subscribe registers a new session subscriber with its own queue.
func (n *Notifier) Subscribe() *Subscription {
	ch := make(chan Event, n.queueSize)
	sub := &Subscription{
		ID: uuid.New().String(),
		C:  ch,
		ch: ch,
	}
	n.mu.Lock()
	n.subs[sub.ID] = sub
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "id", sub.ID)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	sub, ok := n.subs[id]
	delete(n.subs, id)
	n.mu.Unlock()
	if ok {
		sub.close()
		n.logger.Debug("subscriber removed", "id", id, "dropped", sub.Dropped())
	}
}

// SubscriberCount returns the number of live subscribers.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// AttributeChanged publishes a value change to the bus and pushes a
// status_report to every subscriber.
func (n *Notifier) AttributeChanged(update *device.AttributeUpdate) {
	if n.bus != nil {
		if err := n.bus.PublishValue(update); err != nil {
			n.logger.Warn("bus value publish failed",
				"topic_id", update.TopicID, "cluster", update.Cluster,
				"attribute", update.Name, "error", err)
		}
	}

	n.fanOut(Event{
		Type:   "status_report",
		Device: EventDevice{Node: update.NodeID, Endpoint: update.Endpoint},
		Data: StatusData{
			Cluster:   update.Cluster,
			Attribute: update.Name,
			Type:      update.Type,
			Value:     update.Value,
			Timestamp: update.ObservedAt,
		},
	})
}

// DeviceRegistered advertises the device on the bus and pushes a
// register_report per endpoint.
func (n *Notifier) DeviceRegistered(dev *device.Device) {
	if n.bus != nil {
		if err := n.bus.AdvertiseDevice(dev); err != nil {
			n.logger.Warn("bus advertisement failed", "node_id", dev.NodeID, "error", err)
		}
	}

	for _, ep := range dev.Endpoints {
		n.fanOut(Event{
			Type:   "register_report",
			Device: EventDevice{Node: dev.NodeID, Endpoint: ep.ID},
			Data: RegistrationData{
				TopicID:    ep.TopicID,
				DeviceType: ep.DeviceType,
				Vendor:     dev.VendorName,
				Product:    dev.ProductName,
			},
		})
	}
}

// DeviceDeleted marks the device lost on the bus and pushes a
// delete_report per endpoint.
func (n *Notifier) DeviceDeleted(dev *device.Device) {
	for _, ep := range dev.Endpoints {
		if n.bus != nil {
			if err := n.bus.PublishState(ep.TopicID, "lost"); err != nil {
				n.logger.Warn("bus state publish failed",
					"topic_id", ep.TopicID, "error", err)
			}
		}
		n.fanOut(Event{
			Type:   "delete_report",
			Device: EventDevice{Node: dev.NodeID, Endpoint: ep.ID},
			Data:   RegistrationData{TopicID: ep.TopicID},
		})
	}
}

func (n *Notifier) fanOut(ev Event) {
	n.published.Add(1)

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		sub.push(ev)
	}
}

// Stats reports notifier counters for monitoring.
type Stats struct {
	Subscribers uint64
	Published   uint64
	Dropped     uint64
}

// GetStats returns current notifier statistics, including total events
// dropped across all live subscribers.
func (n *Notifier) GetStats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var dropped uint64
	for _, sub := range n.subs {
		dropped += sub.Dropped()
	}
	return Stats{
		Subscribers: uint64(len(n.subs)),
		Published:   n.published.Load(),
		Dropped:     dropped,
	}
}
