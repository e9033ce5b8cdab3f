package commissioning

import (
	"context"
	"fmt"
	"time"

	"github.com/matterverse/matterverse-core/internal/chiptool"
	"github.com/matterverse/matterverse-core/internal/datamodel"
	"github.com/matterverse/matterverse-core/internal/device"
)

// Gateway is the control-channel surface the registrar needs: basic
// information and descriptor reads against a freshly commissioned node.
type Gateway interface {
	BasicInformation(ctx context.Context, nodeID uint64, attribute string) (string, error)
	EndpointList(ctx context.Context, nodeID uint64) ([]uint16, error)
	DeviceTypes(ctx context.Context, nodeID uint64, endpoint uint16) ([]uint64, error)
	ServerList(ctx context.Context, nodeID uint64, endpoint uint16) ([]uint64, error)
}

// Registry is the subset of the device registry the registrar uses.
type Registry interface {
	NextNodeID(ctx context.Context) (uint64, error)
	RegisterDevice(ctx context.Context, dev *device.Device) error
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

// Registrar interrogates a newly commissioned Matter node and records it
// in the device registry.
//
// The flow mirrors the device's own self-description: allocate the next
// node ID, read unique-id/vendor-name/product-name from the basic
// information cluster, walk the root descriptor parts-list, and for each
// endpoint resolve its device type and seed the mandatory server clusters
// from the data model dictionary. Attribute values stay unset until the
// first poll fills them in.
type Registrar struct {
	gateway  Gateway
	registry Registry
	dict     *datamodel.Dictionary
	logger   Logger
}

// NewRegistrar creates a registrar with the given collaborators.
func NewRegistrar(gateway Gateway, registry Registry, dict *datamodel.Dictionary) *Registrar {
	return &Registrar{
		gateway:  gateway,
		registry: registry,
		dict:     dict,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for registrar operations.
func (r *Registrar) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register runs the full registration flow and returns the registered
// device. The unique-id read is mandatory; vendor and product names fall
// back to placeholders when the device does not report them.
func (r *Registrar) Register(ctx context.Context) (*device.Device, error) {
	nodeID, err := r.registry.NextNodeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating node id: %w", err)
	}

	r.logger.Info("starting device registration", "node_id", nodeID)

	uniqueID, err := r.gateway.BasicInformation(ctx, nodeID, "unique-id")
	if err != nil {
		return nil, fmt.Errorf("reading unique-id for node %d: %w", nodeID, err)
	}
	if uniqueID == "" {
		return nil, ErrNoUniqueID
	}

	vendorName := r.basicInfoOrDefault(ctx, nodeID, "vendor-name", "Unknown")
	productName := r.basicInfoOrDefault(ctx, nodeID, "product-name", "Device")

	endpoints, err := r.gateway.EndpointList(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("reading parts-list for node %d: %w", nodeID, err)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	now := time.Now().UTC()
	dev := &device.Device{
		NodeID:      nodeID,
		VendorName:  vendorName,
		ProductName: productName,
		UniqueID:    uniqueID,
		Endpoints:   make(map[uint16]*device.Endpoint, len(endpoints)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, ep := range endpoints {
		endpoint, err := r.describeEndpoint(ctx, nodeID, ep, vendorName, productName, uniqueID)
		if err != nil {
			r.logger.Warn("skipping endpoint",
				"node_id", nodeID, "endpoint", ep, "error", err)
			continue
		}
		dev.Endpoints[ep] = endpoint
	}

	if len(dev.Endpoints) == 0 {
		return nil, ErrNoDeviceTypes
	}

	if err := r.registry.RegisterDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("registering node %d: %w", nodeID, err)
	}

	r.logger.Info("device registered",
		"node_id", nodeID,
		"vendor", vendorName,
		"product", productName,
		"endpoints", len(dev.Endpoints),
	)

	return dev, nil
}

// basicInfoOrDefault reads a basic information attribute, substituting a
// placeholder when the device cannot answer.
func (r *Registrar) basicInfoOrDefault(ctx context.Context, nodeID uint64, attribute, fallback string) string {
	value, err := r.gateway.BasicInformation(ctx, nodeID, attribute)
	if err != nil || value == "" {
		r.logger.Warn("basic information read failed, using fallback",
			"node_id", nodeID, "attribute", attribute, "fallback", fallback)
		return fallback
	}
	return value
}

// describeEndpoint resolves an endpoint's device type and seeds its
// cluster set. An endpoint without a device type is an error so the
// caller can skip it.
func (r *Registrar) describeEndpoint(ctx context.Context, nodeID uint64, ep uint16, vendorName, productName, uniqueID string) (*device.Endpoint, error) {
	types, err := r.gateway.DeviceTypes(ctx, nodeID, ep)
	if err != nil {
		return nil, fmt.Errorf("reading device-type-list: %w", err)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("no device types reported")
	}

	typeID := chiptool.FormatDeviceType(types[0])
	endpoint := &device.Endpoint{
		ID:         ep,
		DeviceType: typeID,
		TopicID:    device.TopicID(vendorName, productName, nodeID, ep, uniqueID),
		Clusters:   make(map[string]*device.Cluster),
	}

	for _, cluster := range r.serverClusters(ctx, nodeID, ep, typeID) {
		endpoint.Clusters[cluster.Token()] = seedCluster(cluster)
	}

	return endpoint, nil
}

// serverClusters resolves the endpoint's server cluster definitions,
// preferring the live descriptor server-list and falling back to the
// dictionary's locked cluster set for the device type.
func (r *Registrar) serverClusters(ctx context.Context, nodeID uint64, ep uint16, typeID string) []*datamodel.Cluster {
	var clusters []*datamodel.Cluster

	serverIDs, err := r.gateway.ServerList(ctx, nodeID, ep)
	if err == nil && len(serverIDs) > 0 {
		for _, id := range serverIDs {
			c, err := r.dict.ClusterByID(fmt.Sprintf("0x%04x", id))
			if err != nil {
				r.logger.Debug("unknown server cluster",
					"node_id", nodeID, "endpoint", ep, "cluster_id", id)
				continue
			}
			clusters = append(clusters, c)
		}
		return clusters
	}

	if err != nil {
		r.logger.Warn("server-list read failed, using device type cluster set",
			"node_id", nodeID, "endpoint", ep, "error", err)
	}

	for _, name := range r.dict.ClustersForDeviceType(typeID) {
		c, err := r.dict.ClusterByName(name)
		if err != nil {
			continue
		}
		clusters = append(clusters, c)
	}
	return clusters
}

// seedCluster builds a registry cluster from a dictionary definition,
// carrying the mandatory server attributes with unset values. Optional
// attributes join the registry lazily when the device first reports them.
func seedCluster(def *datamodel.Cluster) *device.Cluster {
	cluster := &device.Cluster{
		Token:      def.Token(),
		Attributes: make(map[string]*device.Attribute),
	}
	for i := range def.Attributes {
		attr := &def.Attributes[i]
		if attr.Optional {
			continue
		}
		cluster.Attributes[attr.WireName()] = &device.Attribute{
			Name:     attr.WireName(),
			Type:     attr.Type,
			Writable: attr.Writable,
		}
	}
	return cluster
}
