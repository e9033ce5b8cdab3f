package commissioning

import "errors"

var (
	// ErrNoUniqueID indicates the device did not report a unique-id from
	// its basic information cluster. Registration aborts without it since
	// the topic identity cannot be derived.
	ErrNoUniqueID = errors.New("commissioning: device reported no unique id")

	// ErrNoEndpoints indicates the root descriptor parts-list read
	// returned no endpoints.
	ErrNoEndpoints = errors.New("commissioning: device reported no endpoints")

	// ErrNoDeviceTypes indicates no endpoint carried a resolvable device
	// type, so nothing could be registered.
	ErrNoDeviceTypes = errors.New("commissioning: no endpoint reported a device type")
)
