package device

import (
	"context"
	"strings"
)

// ApplyMetadata routes a Homie metadata message onto the addressed
// device. The marker is the `$`-prefixed trailing topic segment; cluster
// and attribute are empty for device-level markers, and attribute is
// empty for cluster-level markers.
//
// Structural markers ($nodes, $properties) create missing clusters and
// attributes additively, so bus-origin devices assemble from their own
// advertisements. Attribute-level changes are persisted to the journal;
// name and state stay cache-only.
func (r *Registry) ApplyMetadata(ctx context.Context, topicID, cluster, attribute, marker, payload string) error {
	r.cacheMu.Lock()

	nodeID, ok := r.byTopic[topicID]
	if !ok {
		r.cacheMu.Unlock()
		return ErrDeviceNotFound
	}
	cached, ok := r.cache[nodeID]
	if !ok {
		r.cacheMu.Unlock()
		return ErrDeviceNotFound
	}

	// Copy-on-write, as with value updates.
	updated := cached.DeepCopy()
	var ep *Endpoint
	for _, candidate := range updated.Endpoints {
		if candidate.TopicID == topicID {
			ep = candidate
			break
		}
	}
	if ep == nil {
		r.cacheMu.Unlock()
		return ErrEndpointNotFound
	}

	var persist *Attribute

	switch {
	case cluster == "":
		if err := applyDeviceMetadata(ep, marker, payload); err != nil {
			r.cacheMu.Unlock()
			return err
		}
	case attribute == "":
		if err := applyClusterMetadata(ep, cluster, marker, payload); err != nil {
			r.cacheMu.Unlock()
			return err
		}
	default:
		attr, err := applyAttributeMetadata(ep, cluster, attribute, marker, payload)
		if err != nil {
			r.cacheMu.Unlock()
			return err
		}
		persist = attr
	}

	r.cache[nodeID] = updated
	endpointID := ep.ID
	r.cacheMu.Unlock()

	r.logger.Debug("metadata applied",
		"topic_id", topicID, "cluster", cluster,
		"attribute", attribute, "marker", marker)

	if persist != nil {
		return r.repo.UpsertAttribute(ctx, nodeID, endpointID, cluster, persist)
	}
	return nil
}

func applyDeviceMetadata(ep *Endpoint, marker, payload string) error {
	switch marker {
	case "$name":
		ep.Name = payload
	case "$state":
		ep.State = payload
	case "$nodes":
		for _, token := range splitList(payload) {
			if _, ok := ep.Clusters[token]; !ok {
				ep.Clusters[token] = &Cluster{
					Token:      token,
					Attributes: make(map[string]*Attribute),
				}
			}
		}
	case "$homie":
		// Convention version announcement, nothing to record.
	default:
		return ErrUnknownMetadata
	}
	return nil
}

func applyClusterMetadata(ep *Endpoint, cluster, marker, payload string) error {
	cl := ensureCluster(ep, cluster)
	switch marker {
	case "$name":
		// The token is already the cluster identity.
	case "$properties":
		for _, name := range splitList(payload) {
			if _, ok := cl.Attributes[name]; !ok {
				cl.Attributes[name] = &Attribute{Name: name}
			}
		}
	default:
		return ErrUnknownMetadata
	}
	return nil
}

func applyAttributeMetadata(ep *Endpoint, cluster, attribute, marker, payload string) (*Attribute, error) {
	cl := ensureCluster(ep, cluster)
	attr, ok := cl.Attributes[attribute]
	if !ok {
		attr = &Attribute{Name: attribute}
		cl.Attributes[attribute] = attr
	}

	switch marker {
	case "$name":
		// The wire name is already the attribute identity.
		return nil, nil
	case "$datatype":
		attr.Type = payload
	case "$settable":
		attr.Writable = payload == "true"
	case "$format":
		attr.Format = payload
	default:
		return nil, ErrUnknownMetadata
	}
	return attr, nil
}

func ensureCluster(ep *Endpoint, token string) *Cluster {
	cl, ok := ep.Clusters[token]
	if !ok {
		cl = &Cluster{Token: token, Attributes: make(map[string]*Attribute)}
		ep.Clusters[token] = cl
	}
	return cl
}

func splitList(payload string) []string {
	var items []string
	for _, item := range strings.Split(payload, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
