// Package poller keeps the device registry current by reading every
// known attribute over the control channel at a fixed interval.
//
// # Sweeps
//
// Each tick starts one sweep over the polling set. Sweeps never overlap:
// a tick that fires while a sweep is still running is dropped and
// counted. Within a sweep, devices are polled concurrently up to a
// budget; eligible devices beyond the budget rotate into later sweeps so
// none is starved. Per-device reads stay sequential since the gateway
// serialises per node.
//
// # Failure handling
//
// A device whose poll fails is held out for one interval. After a run of
// consecutive failures it demotes to exponential backoff, doubling the
// hold per extra failure up to a cap. Devices are never removed for
// failing; a single successful poll restores the normal cadence.
//
// # Discovery
//
// A slower rescan cycle re-lists the registry and adds devices that were
// registered since the polling set was seeded.
package poller
