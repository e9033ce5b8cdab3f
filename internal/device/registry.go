package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matterverse/matterverse-core/internal/datamodel"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating CRUD operations. A secondary index maps bus topic
// IDs back to their node, since inbound bus traffic addresses endpoints
// by topic ID only.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[uint64]*Device // Cached devices by node ID
	byTopic map[string]uint64  // Topic ID -> node ID
	cacheMu sync.RWMutex       // Protects cache and byTopic
	adoptMu sync.Mutex         // Serialises bus device adoption
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		cache:   make(map[uint64]*Device),
		byTopic: make(map[string]uint64),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[uint64]*Device, len(devices))
	r.byTopic = make(map[string]uint64)
	for i := range devices {
		d := devices[i]
		r.cache[d.NodeID] = d.DeepCopy()
		for _, ep := range d.Endpoints {
			r.byTopic[ep.TopicID] = d.NodeID
		}
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by node ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, nodeID uint64) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[nodeID]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByNodeID(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[nodeID] = device.DeepCopy()
	for _, ep := range device.Endpoints {
		r.byTopic[ep.TopicID] = device.NodeID
	}
	r.cacheMu.Unlock()

	return device, nil
}

// GetEndpoint retrieves one endpoint of a device.
// The returned endpoint is a deep copy; callers can safely modify it.
func (r *Registry) GetEndpoint(ctx context.Context, nodeID uint64, endpoint uint16) (*Endpoint, error) {
	device, err := r.GetDevice(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	ep, ok := device.Endpoints[endpoint]
	if !ok {
		return nil, ErrEndpointNotFound
	}
	return ep, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			// Deep copy to prevent external mutation of cache
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// DeviceByTopicID resolves a bus topic ID to its device and endpoint.
// Returns ErrDeviceNotFound if no endpoint carries the topic ID.
func (r *Registry) DeviceByTopicID(topicID string) (*Device, *Endpoint, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	nodeID, ok := r.byTopic[topicID]
	if !ok {
		return nil, nil, ErrDeviceNotFound
	}
	cached, ok := r.cache[nodeID]
	if !ok {
		return nil, nil, ErrDeviceNotFound
	}
	for _, ep := range cached.Endpoints {
		if ep.TopicID == topicID {
			dev := cached.DeepCopy()
			return dev, dev.Endpoints[ep.ID], nil
		}
	}
	return nil, nil, ErrDeviceNotFound
}

// RegisterDevice persists a newly commissioned device and caches it.
// Returns ErrDeviceExists if the node ID is already registered.
func (r *Registry) RegisterDevice(ctx context.Context, device *Device) error {
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	// Update cache (store a deep copy to prevent external modification)
	r.cacheMu.Lock()
	r.cache[device.NodeID] = device.DeepCopy()
	for _, ep := range device.Endpoints {
		r.byTopic[ep.TopicID] = device.NodeID
	}
	r.cacheMu.Unlock()

	r.logger.Info("device registered",
		"node_id", device.NodeID,
		"vendor", device.VendorName,
		"product", device.ProductName,
		"endpoints", len(device.Endpoints))
	return nil
}

// DeleteDevice removes a device and all its endpoints and attributes.
func (r *Registry) DeleteDevice(ctx context.Context, nodeID uint64) error {
	if err := r.repo.Delete(ctx, nodeID); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	if cached, ok := r.cache[nodeID]; ok {
		for _, ep := range cached.Endpoints {
			delete(r.byTopic, ep.TopicID)
		}
	}
	delete(r.cache, nodeID)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "node_id", nodeID)
	return nil
}

// DeleteEndpoint removes one endpoint of a device. The device entry
// itself disappears once its last endpoint is deleted.
func (r *Registry) DeleteEndpoint(ctx context.Context, nodeID uint64, endpoint uint16) error {
	if err := r.repo.DeleteEndpoint(ctx, nodeID, endpoint); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[nodeID]; ok {
		if ep, ok := cached.Endpoints[endpoint]; ok {
			delete(r.byTopic, ep.TopicID)
			delete(cached.Endpoints, endpoint)
		}
		if len(cached.Endpoints) == 0 {
			delete(r.cache, nodeID)
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("endpoint deleted", "node_id", nodeID, "endpoint", endpoint)
	return nil
}

// AdoptBusDevice registers a device first seen through its own bus
// advertisements. The topic ID is its identity; a fresh node ID is
// assigned so it lives in the same registry as commissioned nodes, with
// one endpoint whose cluster set assembles from subsequent metadata and
// value messages. Adoption is idempotent: a topic ID that already
// resolves returns the existing device.
func (r *Registry) AdoptBusDevice(ctx context.Context, topicID string) (*Device, *Endpoint, error) {
	if dev, ep, err := r.DeviceByTopicID(topicID); err == nil {
		return dev, ep, nil
	}

	// One adoption at a time, so two concurrent messages for the same
	// topic cannot allocate two node IDs.
	r.adoptMu.Lock()
	defer r.adoptMu.Unlock()
	if dev, ep, err := r.DeviceByTopicID(topicID); err == nil {
		return dev, ep, nil
	}

	nodeID, err := r.repo.NextNodeID(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("allocating node id: %w", err)
	}
	now := time.Now()
	dev := &Device{
		NodeID:   nodeID,
		UniqueID: topicID,
		Endpoints: map[uint16]*Endpoint{1: {
			ID:       1,
			TopicID:  topicID,
			Clusters: make(map[string]*Cluster),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.RegisterDevice(ctx, dev); err != nil {
		return nil, nil, err
	}

	r.logger.Info("bus device adopted", "topic_id", topicID, "node_id", nodeID)
	return r.DeviceByTopicID(topicID)
}

// NextNodeID returns the node ID to assign to the next commissioned device.
func (r *Registry) NextNodeID(ctx context.Context) (uint64, error) {
	return r.repo.NextNodeID(ctx)
}

// PutAttribute stores or replaces an attribute definition on an endpoint,
// creating the cluster entry if needed. Discovery uses this to seed the
// attribute set; subsequent value updates flow through SetAttributeValue.
func (r *Registry) PutAttribute(ctx context.Context, nodeID uint64, endpoint uint16, cluster string, attr *Attribute) error {
	r.cacheMu.Lock()
	cached, ok := r.cache[nodeID]
	if !ok {
		r.cacheMu.Unlock()
		return ErrDeviceNotFound
	}
	ep, ok := cached.Endpoints[endpoint]
	if !ok {
		r.cacheMu.Unlock()
		return ErrEndpointNotFound
	}

	// Copy-on-write so concurrent readers never see a half-applied update
	updated := cached.DeepCopy()
	ep = updated.Endpoints[endpoint]
	cl, ok := ep.Clusters[cluster]
	if !ok {
		cl = &Cluster{Token: cluster, Attributes: make(map[string]*Attribute)}
		ep.Clusters[cluster] = cl
	}
	attrCopy := *attr
	cl.Attributes[attr.Name] = &attrCopy
	r.cache[nodeID] = updated
	r.cacheMu.Unlock()

	if err := r.repo.UpsertAttribute(ctx, nodeID, endpoint, cluster, attr); err != nil {
		return err
	}

	r.logger.Debug("attribute stored",
		"node_id", nodeID, "endpoint", endpoint, "cluster", cluster, "attribute", attr.Name)
	return nil
}

// SetAttributeValue applies an observed value to a known attribute.
//
// The raw value is coerced to the attribute's declared type; an
// inconvertible value returns ErrTypeMismatch. An observation older than
// the stored value returns ErrStaleWrite. An observation equal to the
// stored value advances the timestamp only and reports Changed=false, so
// repeated polls do not fan out as notifications.
func (r *Registry) SetAttributeValue(ctx context.Context, nodeID uint64, endpoint uint16, cluster, attribute, raw string, observedAt time.Time) (*AttributeUpdate, error) {
	r.cacheMu.Lock()
	cached, ok := r.cache[nodeID]
	if !ok {
		r.cacheMu.Unlock()
		return nil, ErrDeviceNotFound
	}
	ep, ok := cached.Endpoints[endpoint]
	if !ok {
		r.cacheMu.Unlock()
		return nil, ErrEndpointNotFound
	}
	cl, ok := ep.Clusters[cluster]
	if !ok {
		r.cacheMu.Unlock()
		return nil, ErrClusterNotFound
	}
	attr, ok := cl.Attributes[attribute]
	if !ok {
		r.cacheMu.Unlock()
		return nil, ErrAttributeNotFound
	}

	value, err := CoerceValue(datamodel.KindOf(attr.Type), raw)
	if err != nil {
		r.cacheMu.Unlock()
		return nil, err
	}

	if observedAt.Before(attr.ObservedAt) {
		r.cacheMu.Unlock()
		return nil, fmt.Errorf("%w: observed %s, stored %s",
			ErrStaleWrite,
			observedAt.UTC().Format(time.RFC3339Nano),
			attr.ObservedAt.UTC().Format(time.RFC3339Nano))
	}

	changed := attr.Value != value

	// Copy-on-write so concurrent readers never see a half-applied update
	updated := cached.DeepCopy()
	stored := updated.Endpoints[endpoint].Clusters[cluster].Attributes[attribute]
	stored.Value = value
	stored.ObservedAt = observedAt
	r.cache[nodeID] = updated
	r.cacheMu.Unlock()

	if err := r.repo.UpsertAttribute(ctx, nodeID, endpoint, cluster, stored); err != nil {
		return nil, err
	}

	if changed {
		// History is best-effort: a journal failure must not fail the
		// observation that already landed in the attributes table.
		if err := r.repo.AppendHistory(ctx, nodeID, endpoint, cluster, attribute,
			FormatValue(value), observedAt); err != nil {
			r.logger.Warn("appending attribute history failed",
				"node_id", nodeID, "cluster", cluster, "attribute", attribute, "error", err)
		}
	}

	r.logger.Debug("attribute value updated",
		"node_id", nodeID, "endpoint", endpoint,
		"cluster", cluster, "attribute", attribute, "changed", changed)

	return &AttributeUpdate{
		NodeID:     nodeID,
		Endpoint:   endpoint,
		Cluster:    cluster,
		Name:       attribute,
		Type:       stored.Type,
		Value:      value,
		TopicID:    updated.Endpoints[endpoint].TopicID,
		ObservedAt: observedAt,
		Changed:    changed,
	}, nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices    int
	TotalEndpoints  int
	TotalAttributes int
	ByDeviceType    map[string]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByDeviceType: make(map[string]int),
	}

	for _, d := range r.cache {
		for _, ep := range d.Endpoints {
			stats.TotalEndpoints++
			stats.ByDeviceType[ep.DeviceType]++
			for _, cl := range ep.Clusters {
				stats.TotalAttributes += len(cl.Attributes)
			}
		}
	}

	return stats
}
