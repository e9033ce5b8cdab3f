// Package commissioning records newly paired Matter nodes in the device
// registry.
//
// # Flow
//
// Registration interrogates the node over the control channel:
//
//	NextNodeID ──► basic information (unique-id, vendor-name, product-name)
//	           ──► descriptor parts-list (endpoints)
//	           ──► per endpoint: device-type-list, server-list
//	           ──► RegisterDevice
//
// The unique-id read is mandatory: without it there is no stable topic
// identity and registration aborts with ErrNoUniqueID. Vendor and product
// names degrade to "Unknown"/"Device" placeholders. Each endpoint's
// cluster set is seeded from the data model dictionary so the poller and
// bus publisher have schemas to work with before the first report
// arrives.
//
// Endpoints that report no device type are skipped with a warning; a
// device where every endpoint was skipped is not registered.
package commissioning
