package bus

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/matterverse/matterverse-core/internal/device"
)

// CommandSink receives inbound /set commands. The dispatcher satisfies
// it, so every bus command passes dictionary validation and per-endpoint
// serialisation before reaching the gateway.
type CommandSink interface {
	InvokeCommand(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, command string, args ...string) error
	WriteAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute, value string) error
}

// Notifier fans out value changes produced by inbound bus messages.
type Notifier interface {
	AttributeChanged(update *device.AttributeUpdate)
}

// Normalizer consumes the full homie/# hierarchy and turns each message
// into a registry mutation or a device command.
//
// Topic shapes, tokenised by slash:
//
//	homie/<id>/$marker                      device metadata
//	homie/<id>/<cluster>/$marker            cluster metadata
//	homie/<id>/<cluster>/<attr>/$marker     attribute metadata
//	homie/<id>/<cluster>/<attr>             live value
//	homie/<id>/<cluster>/<attr>/set         inbound command
//
// A metadata or value message for a topic ID the registry has never
// seen adopts the device: bus-resident devices assemble themselves from
// their own advertisements. Commands still require a known device,
// since there is nothing to drive without one.
//
// Anything else is dropped with a warning and counted; one bad message
// never affects the rest of the stream. Redelivery is safe because
// every mutation is a full-value overwrite.
type Normalizer struct {
	client   Client
	registry Registry
	commands CommandSink
	notifier Notifier
	logger   Logger

	ctx     context.Context
	started atomic.Bool

	valuesApplied atomic.Uint64
	metaApplied   atomic.Uint64
	commandsSent  atomic.Uint64
	adopted       atomic.Uint64
	dropped       atomic.Uint64
}

// NewNormalizer creates a bus normaliser.
func NewNormalizer(client Client, registry Registry, commands CommandSink) *Normalizer {
	return &Normalizer{
		client:   client,
		registry: registry,
		commands: commands,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for inbound message handling.
func (n *Normalizer) SetLogger(logger Logger) {
	if logger != nil {
		n.logger = logger
	}
}

// SetNotifier attaches the change notifier. Without one, inbound values
// still land in the registry but do not fan out.
func (n *Normalizer) SetNotifier(notifier Notifier) {
	n.notifier = notifier
}

// Start subscribes to the Homie hierarchy. ctx bounds the lifetime of
// commands triggered by inbound messages.
func (n *Normalizer) Start(ctx context.Context) error {
	n.ctx = ctx
	if err := n.client.Subscribe("homie/#", 1, n.HandleMessage); err != nil {
		return err
	}
	n.started.Store(true)
	n.logger.Info("bus normaliser subscribed", "pattern", "homie/#")
	return nil
}

// HandleMessage routes one inbound message. It never returns an error:
// malformed or unroutable messages are dropped and counted so a bad
// publisher cannot wedge the subscription.
func (n *Normalizer) HandleMessage(topic string, payload []byte) error {
	segments := strings.Split(topic, "/")
	if len(segments) < 3 || segments[0] != "homie" {
		n.drop(topic, "unexpected segment count")
		return nil
	}
	for _, s := range segments {
		if s == "" {
			n.drop(topic, "empty segment")
			return nil
		}
	}

	topicID := segments[1]
	last := segments[len(segments)-1]

	switch {
	case last == "set":
		n.handleSet(topic, segments, string(payload))
	case strings.HasPrefix(last, "$"):
		n.handleMetadata(topic, segments, string(payload))
	case len(segments) == 4:
		n.handleValue(topic, topicID, segments[2], segments[3], string(payload))
	default:
		n.drop(topic, "no metadata marker and no cluster/attribute pair")
	}
	return nil
}

// handleSet converts homie/<id>/<cluster>/<attr>/set into a device
// command. OnOff maps to the On/Off commands; any other property becomes
// an attribute write.
func (n *Normalizer) handleSet(topic string, segments []string, payload string) {
	if len(segments) != 5 {
		n.drop(topic, "set command needs cluster and attribute")
		return
	}
	topicID, cluster, attribute := segments[1], segments[2], segments[3]

	dev, ep, err := n.registry.DeviceByTopicID(topicID)
	if err != nil {
		n.drop(topic, "unknown device")
		return
	}

	if cluster == "onoff" {
		command := "off"
		if payload == "true" {
			command = "on"
		}
		err = n.commands.InvokeCommand(n.ctx, dev.NodeID, ep.ID, cluster, command)
	} else {
		err = n.commands.WriteAttribute(n.ctx, dev.NodeID, ep.ID, cluster, attribute, payload)
	}
	if err != nil {
		n.logger.Warn("inbound command failed",
			"topic", topic, "node_id", dev.NodeID, "error", err)
		return
	}

	n.commandsSent.Add(1)
	n.logger.Debug("inbound command forwarded",
		"topic_id", topicID, "cluster", cluster, "attribute", attribute)
}

func (n *Normalizer) handleMetadata(topic string, segments []string, payload string) {
	topicID := segments[1]
	marker := segments[len(segments)-1]

	var cluster, attribute string
	switch len(segments) {
	case 3:
	case 4:
		cluster = segments[2]
	case 5:
		cluster, attribute = segments[2], segments[3]
	default:
		n.drop(topic, "metadata marker too deep")
		return
	}

	err := n.registry.ApplyMetadata(n.ctx, topicID, cluster, attribute, marker, payload)
	if errors.Is(err, device.ErrDeviceNotFound) {
		if _, _, adoptErr := n.adopt(topic, topicID); adoptErr != nil {
			return
		}
		err = n.registry.ApplyMetadata(n.ctx, topicID, cluster, attribute, marker, payload)
	}
	switch {
	case err == nil:
		n.metaApplied.Add(1)
	case errors.Is(err, device.ErrUnknownMetadata):
		n.drop(topic, "unknown metadata marker")
	default:
		n.logger.Warn("metadata apply failed", "topic", topic, "error", err)
	}
}

// handleValue applies a live value with the arrival time as timestamp.
// Retained echoes of the hub's own publishes land here too; they apply
// idempotently since equal values only advance the timestamp.
//
// Values for a cluster or attribute the device has not announced yet
// create the attribute on the fly, untyped until a $datatype arrives.
func (n *Normalizer) handleValue(topic, topicID, cluster, attribute, payload string) {
	dev, ep, err := n.registry.DeviceByTopicID(topicID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		dev, ep, err = n.adopt(topic, topicID)
	}
	if err != nil {
		return
	}

	update, err := n.registry.SetAttributeValue(n.ctx, dev.NodeID, ep.ID, cluster, attribute, payload, time.Now())
	if errors.Is(err, device.ErrClusterNotFound) || errors.Is(err, device.ErrAttributeNotFound) {
		if putErr := n.registry.PutAttribute(n.ctx, dev.NodeID, ep.ID, cluster, &device.Attribute{Name: attribute}); putErr != nil {
			n.drop(topic, putErr.Error())
			return
		}
		update, err = n.registry.SetAttributeValue(n.ctx, dev.NodeID, ep.ID, cluster, attribute, payload, time.Now())
	}
	switch {
	case err == nil:
		n.valuesApplied.Add(1)
		if update.Changed && n.notifier != nil {
			n.notifier.AttributeChanged(update)
		}
	case errors.Is(err, device.ErrStaleWrite):
		n.logger.Debug("stale bus value rejected", "topic", topic)
	case errors.Is(err, device.ErrTypeMismatch):
		n.drop(topic, "type mismatch")
	default:
		n.drop(topic, err.Error())
	}
}

// adopt registers a bus-resident device for a topic ID seen for the
// first time. Failures drop the triggering message.
func (n *Normalizer) adopt(topic, topicID string) (*device.Device, *device.Endpoint, error) {
	dev, ep, err := n.registry.AdoptBusDevice(n.ctx, topicID)
	if err != nil {
		n.drop(topic, "adoption failed: "+err.Error())
		return nil, nil, err
	}
	n.adopted.Add(1)
	n.logger.Info("bus device adopted from advertisement", "topic_id", topicID, "node_id", dev.NodeID)
	return dev, ep, nil
}

func (n *Normalizer) drop(topic, reason string) {
	n.dropped.Add(1)
	n.logger.Warn("bus message dropped", "topic", topic, "reason", reason)
}

// Stats reports normaliser counters for monitoring.
type Stats struct {
	ValuesApplied   uint64
	MetadataApplied uint64
	CommandsSent    uint64
	DevicesAdopted  uint64
	Dropped         uint64
}

// GetStats returns current normaliser statistics.
func (n *Normalizer) GetStats() Stats {
	return Stats{
		ValuesApplied:   n.valuesApplied.Load(),
		MetadataApplied: n.metaApplied.Load(),
		CommandsSent:    n.commandsSent.Load(),
		DevicesAdopted:  n.adopted.Load(),
		Dropped:         n.dropped.Load(),
	}
}
