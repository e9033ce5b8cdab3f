// Package device provides the Device Registry for Matterverse Core.
//
// The Device Registry is the central catalogue of every commissioned Matter
// node. Each device is a tree: a node carries identity from the Basic
// Information cluster and one or more endpoints, each endpoint carries its
// server clusters, and each cluster carries last known attribute values.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                       Device Registry                        │
//	│                                                              │
//	│  ┌──────────────────┐          ┌──────────────────┐          │
//	│  │     Registry     │          │    Repository    │          │
//	│  │   (registry.go)  │─────────▶│  (repository.go) │          │
//	│  │                  │          │                  │          │
//	│  │ • Device cache   │          │ • SQLite queries │          │
//	│  │ • Topic index    │          │ • Transactions   │          │
//	│  │ • Value gating   │          │ • Tree assembly  │          │
//	│  └──────────────────┘          └──────────────────┘          │
//	│           │                             │                    │
//	└───────────│─────────────────────────────│────────────────────┘
//	            │                             │
//	            ▼                             ▼
//	┌──────────────────────┐     ┌───────────────────────────────┐
//	│ Poller / Bus / API   │     │        SQLite Database        │
//	│ • attribute updates  │     │ devices / device_identity /   │
//	│ • topic resolution   │     │ attributes tables             │
//	└──────────────────────┘     └───────────────────────────────┘
//
// # Value Gating
//
// Attribute observations flow in from several sources at once: the polling
// scheduler, command read-backs and bus writes. SetAttributeValue arbitrates
// between them with three rules:
//
//   - values are coerced to the attribute's declared data model type, and
//     an inconvertible value is rejected with ErrTypeMismatch
//   - an observation older than the stored value is rejected with
//     ErrStaleWrite, so slow poll results never overwrite fresh reads
//   - an observation equal to the stored value advances the timestamp only
//     and reports Changed=false, so repeated polls do not fan out as
//     notifications
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	// Load devices into cache on startup
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Apply an observed value
//	update, err := registry.SetAttributeValue(ctx, nodeID, endpoint,
//	    "onoff", "on-off", "true", time.Now().UTC())
//	if err == nil && update.Changed {
//	    // notify subscribers
//	}
//
//	// Resolve inbound bus traffic
//	dev, ep, err := registry.DeviceByTopicID(topicID)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected by
// a read-write mutex, devices are handed out as deep copies, and updates
// replace cache entries atomically. The Repository implementation must also
// be thread-safe.
package device
