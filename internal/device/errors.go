package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a node ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a node ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrEndpointNotFound is returned when an endpoint does not exist on a node.
	ErrEndpointNotFound = errors.New("device: endpoint not found")

	// ErrClusterNotFound is returned when a cluster does not exist on an endpoint.
	ErrClusterNotFound = errors.New("device: cluster not found")

	// ErrAttributeNotFound is returned when an attribute does not exist on a cluster.
	ErrAttributeNotFound = errors.New("device: attribute not found")

	// ErrTypeMismatch is returned when a value cannot be coerced to the
	// attribute's declared data model type.
	ErrTypeMismatch = errors.New("device: type mismatch")

	// ErrStaleWrite is returned when an observation carries a timestamp
	// older than the stored value's. The stored value wins.
	ErrStaleWrite = errors.New("device: stale write")

	// ErrUnknownMetadata is returned for an unrecognised metadata marker.
	ErrUnknownMetadata = errors.New("device: unknown metadata marker")
)
