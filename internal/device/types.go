package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/matterverse/matterverse-core/internal/datamodel"
)

// Device represents one commissioned Matter node and everything known
// about it: identity from the Basic Information cluster plus the endpoint
// tree discovered through the Descriptor cluster.
type Device struct {
	// NodeID is the fabric-local node identifier assigned at commissioning.
	NodeID uint64 `json:"node_id"`

	// VendorName and ProductName come from Basic Information on endpoint 0.
	VendorName  string `json:"vendor_name"`
	ProductName string `json:"product_name"`

	// UniqueID is the hardware unique identifier from Basic Information.
	UniqueID string `json:"unique_id"`

	// Endpoints holds the discovered endpoint tree, keyed by endpoint ID.
	Endpoints map[uint16]*Endpoint `json:"endpoints"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Endpoint is one addressable endpoint on a node. Each endpoint carries
// its own device type, bus topic identity and cluster set.
type Endpoint struct {
	// ID is the endpoint number on the node.
	ID uint16 `json:"id"`

	// DeviceType is the primary device type code in lowercase hex form
	// (e.g., "0x0100" for an On/Off Light).
	DeviceType string `json:"device_type"`

	// TopicID is the stable bus identity for this endpoint, derived from
	// vendor, product and a hash of node, endpoint and unique ID.
	TopicID string `json:"topic_id"`

	// Name and State are Homie metadata ($name, $state), settable from
	// bus metadata messages. Cache-only; not part of the journal.
	Name  string `json:"name,omitempty"`
	State string `json:"state,omitempty"`

	// Clusters holds the discovered server clusters, keyed by cluster token.
	Clusters map[string]*Cluster `json:"clusters"`
}

// Cluster is one server cluster instance on an endpoint.
type Cluster struct {
	// Token is the chip-tool cluster token (e.g., "onoff").
	Token string `json:"token"`

	// Attributes holds last known values, keyed by wire name.
	Attributes map[string]*Attribute `json:"attributes"`
}

// Attribute is the last known value of one attribute instance.
type Attribute struct {
	// Name is the kebab-case wire name (e.g., "on-off").
	Name string `json:"name"`

	// Type is the raw data model type (e.g., "boolean", "int8u").
	Type string `json:"type"`

	Writable bool `json:"writable"`

	// Format is Homie $format metadata (e.g., "0:Off,1:On" for enums).
	// Cache-only; not part of the journal.
	Format string `json:"format,omitempty"`

	// Value is the coerced typed value: bool, int64 or string.
	Value any `json:"value"`

	// ObservedAt is when this value was read from the device. Updates
	// carrying an older timestamp are rejected as stale.
	ObservedAt time.Time `json:"observed_at"`
}

// AttributeUpdate is the outcome of applying an observation to the registry.
type AttributeUpdate struct {
	NodeID   uint64 `json:"node_id"`
	Endpoint uint16 `json:"endpoint"`
	Cluster  string `json:"cluster"`
	Name     string `json:"attribute"`
	Type     string `json:"type"`
	Value    any    `json:"value"`

	// TopicID is the endpoint's bus identity, carried so downstream
	// consumers can publish without a registry lookup.
	TopicID string `json:"topic_id"`

	ObservedAt time.Time `json:"observed_at"`

	// Changed is false when the observation matched the stored value, in
	// which case only the timestamp advanced and no notification is due.
	Changed bool `json:"changed"`
}

// topicNameClean strips spaces and hyphens from vendor/product names so
// they are safe as topic segments.
var topicNameClean = regexp.MustCompile(`[ -]`)

// TopicID derives the stable bus identity for an endpoint:
// {vendor}_{product}_{sha256(nodeID-endpoint-uniqueID)}.
func TopicID(vendorName, productName string, nodeID uint64, endpoint uint16, uniqueID string) string {
	vendor := topicNameClean.ReplaceAllString(vendorName, "")
	product := topicNameClean.ReplaceAllString(productName, "")
	sum := sha256.Sum256(fmt.Appendf(nil, "%d-%d-%s", nodeID, endpoint, uniqueID))
	return fmt.Sprintf("%s_%s_%s", vendor, product, hex.EncodeToString(sum[:]))
}

// CoerceValue converts a raw value string into the typed form stored in
// the registry, based on the attribute's data model kind.
//
// Booleans accept true/false and 1/0 (case-insensitive). Integers and
// enums accept decimal and 0x-prefixed hex. Strings pass through trimmed.
// A value that cannot be converted returns ErrTypeMismatch.
func CoerceValue(kind datamodel.Kind, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	switch kind {
	case datamodel.KindBool:
		switch strings.ToLower(trimmed) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, raw)
	case datamodel.KindInteger, datamodel.KindEnum:
		var (
			v   int64
			err error
		)
		if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
			v, err = strconv.ParseInt(trimmed[2:], 16, 64)
		} else {
			v, err = strconv.ParseInt(trimmed, 10, 64)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrTypeMismatch, raw)
		}
		return v, nil
	default:
		return trimmed, nil
	}
}

// FormatValue renders a typed attribute value back into its canonical
// string form for persistence and bus publication.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// DeepCopy creates a complete independent copy of the Device.
// All nested maps are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	if d.Endpoints != nil {
		cpy.Endpoints = make(map[uint16]*Endpoint, len(d.Endpoints))
		for id, ep := range d.Endpoints {
			cpy.Endpoints[id] = ep.DeepCopy()
		}
	}
	return &cpy
}

// DeepCopy creates a complete independent copy of the Endpoint.
func (e *Endpoint) DeepCopy() *Endpoint {
	if e == nil {
		return nil
	}

	cpy := *e
	if e.Clusters != nil {
		cpy.Clusters = make(map[string]*Cluster, len(e.Clusters))
		for token, cl := range e.Clusters {
			cpy.Clusters[token] = cl.DeepCopy()
		}
	}
	return &cpy
}

// DeepCopy creates a complete independent copy of the Cluster.
func (c *Cluster) DeepCopy() *Cluster {
	if c == nil {
		return nil
	}

	cpy := *c
	if c.Attributes != nil {
		cpy.Attributes = make(map[string]*Attribute, len(c.Attributes))
		for name, attr := range c.Attributes {
			attrCopy := *attr
			cpy.Attributes[name] = &attrCopy
		}
	}
	return &cpy
}
