package bus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matterverse/matterverse-core/internal/datamodel"
	"github.com/matterverse/matterverse-core/internal/device"
	"github.com/matterverse/matterverse-core/internal/infrastructure/mqtt"
)

// Client is the MQTT surface the bus layer uses.
type Client interface {
	PublishString(topic, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Registry is the subset of the device registry the bus layer uses.
type Registry interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	DeviceByTopicID(topicID string) (*device.Device, *device.Endpoint, error)
	AdoptBusDevice(ctx context.Context, topicID string) (*device.Device, *device.Endpoint, error)
	PutAttribute(ctx context.Context, nodeID uint64, endpoint uint16, cluster string, attr *device.Attribute) error
	SetAttributeValue(ctx context.Context, nodeID uint64, endpoint uint16, cluster, attribute, raw string, observedAt time.Time) (*device.AttributeUpdate, error)
	ApplyMetadata(ctx context.Context, topicID, cluster, attribute, marker, payload string) error
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

// Publisher advertises devices on the bus following the Homie 3.0.1
// convention and publishes retained live values. Each endpoint is one
// Homie device; clusters map to nodes and attributes to properties.
type Publisher struct {
	client   Client
	registry Registry
	dict     *datamodel.Dictionary
	topics   mqtt.Topics
	logger   Logger
}

// NewPublisher creates a Homie publisher.
func NewPublisher(client Client, registry Registry, dict *datamodel.Dictionary) *Publisher {
	return &Publisher{
		client:   client,
		registry: registry,
		dict:     dict,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for publish operations.
func (p *Publisher) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// AdvertiseAll publishes the full advertisement for every registered
// device. Called once after connect and again whenever the broker
// connection is re-established.
func (p *Publisher) AdvertiseAll(ctx context.Context) error {
	devices, err := p.registry.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices for advertisement: %w", err)
	}
	for i := range devices {
		if err := p.AdvertiseDevice(&devices[i]); err != nil {
			p.logger.Error("device advertisement failed",
				"node_id", devices[i].NodeID, "error", err)
		}
	}
	return nil
}

// AdvertiseDevice publishes the Homie advertisement for every endpoint
// of one device: lifecycle attributes, node and property metadata, and
// the retained current values. The device transitions init -> ready.
func (p *Publisher) AdvertiseDevice(dev *device.Device) error {
	for _, ep := range dev.Endpoints {
		if err := p.advertiseEndpoint(dev, ep); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) advertiseEndpoint(dev *device.Device, ep *device.Endpoint) error {
	topicID := ep.TopicID

	name := ep.Name
	if name == "" {
		name = dev.VendorName + " " + dev.ProductName
	}

	steps := []struct {
		topic   string
		payload string
	}{
		{p.topics.DeviceAttribute(topicID, "homie"), mqtt.HomieVersion},
		{p.topics.DeviceAttribute(topicID, "name"), name},
		{p.topics.DeviceAttribute(topicID, "state"), "init"},
		{p.topics.DeviceAttribute(topicID, "nodes"), strings.Join(sortedClusterTokens(ep), ",")},
	}
	for _, s := range steps {
		if err := p.client.PublishString(s.topic, s.payload, 1, true); err != nil {
			return err
		}
	}

	for _, token := range sortedClusterTokens(ep) {
		if err := p.advertiseCluster(topicID, ep.Clusters[token]); err != nil {
			return err
		}
	}

	if err := p.client.PublishString(p.topics.DeviceAttribute(topicID, "state"), "ready", 1, true); err != nil {
		return err
	}

	p.logger.Info("homie device advertised", "topic_id", topicID, "clusters", len(ep.Clusters))
	return nil
}

func (p *Publisher) advertiseCluster(topicID string, cluster *device.Cluster) error {
	clusterName := cluster.Token
	if def, err := p.dict.ClusterByToken(cluster.Token); err == nil {
		clusterName = def.Name
	}

	if err := p.client.PublishString(p.topics.NodeAttribute(topicID, cluster.Token, "name"), clusterName, 1, true); err != nil {
		return err
	}

	names := sortedAttributeNames(cluster)
	if err := p.client.PublishString(p.topics.NodeAttribute(topicID, cluster.Token, "properties"), strings.Join(names, ","), 1, true); err != nil {
		return err
	}

	for _, name := range names {
		if err := p.advertiseAttribute(topicID, cluster.Token, cluster.Attributes[name]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) advertiseAttribute(topicID, clusterToken string, attr *device.Attribute) error {
	publish := func(marker, payload string) error {
		return p.client.PublishString(
			p.topics.PropertyAttribute(topicID, clusterToken, attr.Name, marker),
			payload, 1, true)
	}

	if err := publish("name", attr.Name); err != nil {
		return err
	}

	kind := datamodel.KindOf(attr.Type)
	if err := publish("datatype", string(kind)); err != nil {
		return err
	}

	switch kind {
	case datamodel.KindBool:
		if err := publish("format", "true,false"); err != nil {
			return err
		}
	case datamodel.KindEnum:
		if format := p.enumFormat(clusterToken, attr); format != "" {
			if err := publish("format", format); err != nil {
				return err
			}
		}
	}

	// OnOff is always commandable through its On/Off commands even
	// though the attribute itself is read-only.
	settable := attr.Writable || attr.Name == "on-off"
	if err := publish("settable", fmt.Sprintf("%t", settable)); err != nil {
		return err
	}

	if attr.Value != nil {
		valueTopic := p.topics.Property(topicID, clusterToken, attr.Name)
		if err := p.client.PublishString(valueTopic, device.FormatValue(attr.Value), 1, true); err != nil {
			return err
		}
	}
	return nil
}

// enumFormat builds the Homie $format payload for an enum attribute:
// comma-separated value:name pairs, with literal commas doubled.
func (p *Publisher) enumFormat(clusterToken string, attr *device.Attribute) string {
	def, err := p.dict.AttributeByWireName(clusterToken, attr.Name)
	if err != nil {
		return attr.Format
	}
	enum := p.dict.EnumForAttribute(clusterToken, def)
	if enum == nil {
		return attr.Format
	}

	pairs := make([]string, 0, len(enum.Items))
	for _, item := range enum.Items {
		name := strings.ReplaceAll(item.Name, ",", ",,")
		pairs = append(pairs, fmt.Sprintf("%d:%s", item.Value, name))
	}
	return strings.Join(pairs, ",")
}

// PublishValue publishes a live attribute value, retained so late
// subscribers see current state.
func (p *Publisher) PublishValue(update *device.AttributeUpdate) error {
	if update.TopicID == "" {
		return fmt.Errorf("%w: update carries no topic id", ErrMalformedTopic)
	}
	topic := p.topics.Property(update.TopicID, update.Cluster, update.Name)
	return p.client.PublishString(topic, device.FormatValue(update.Value), 1, true)
}

// PublishState publishes a device lifecycle state ($state).
func (p *Publisher) PublishState(topicID, state string) error {
	return p.client.PublishString(p.topics.DeviceAttribute(topicID, "state"), state, 1, true)
}

// Shutdown marks every registered device disconnected. Called during
// orderly hub shutdown; an unorderly exit leaves the broker's LWT to
// flip the bridge status instead.
func (p *Publisher) Shutdown(ctx context.Context) {
	devices, err := p.registry.ListDevices(ctx)
	if err != nil {
		p.logger.Error("listing devices for shutdown", "error", err)
		return
	}
	for i := range devices {
		for _, ep := range devices[i].Endpoints {
			if err := p.PublishState(ep.TopicID, "disconnected"); err != nil {
				p.logger.Warn("disconnect state publish failed",
					"topic_id", ep.TopicID, "error", err)
			}
		}
	}
}

func sortedClusterTokens(ep *device.Endpoint) []string {
	tokens := make([]string, 0, len(ep.Clusters))
	for token := range ep.Clusters {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

func sortedAttributeNames(cluster *device.Cluster) []string {
	names := make([]string, 0, len(cluster.Attributes))
	for name := range cluster.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
