// Package dispatch validates and executes device operations.
//
// A Request names a cluster and an operation. The name resolves against
// the data model dictionary as a cluster command first, then as an
// attribute: one argument means a write, none means a read. Validation
// is complete before the request touches the control channel, so an
// unknown cluster, unknown name, missing required argument or
// type-mismatched value is rejected without consuming a subprocess slot
// and without creating pending state.
//
// # Flow
//
//	Request ──► validate (dictionary) ──► PendingInvocation ──► gateway
//	               │ reject                                        │
//	               ▼                                               ▼
//	         CommandResult ◄──────────────────────────────── CommandResult
//
// Per endpoint at most one invocation is pending at a time; later
// requests for the same endpoint queue behind it. Every dispatch ends
// in exactly one terminal CommandResult, and values observed on the way
// (write echoes, read results) are absorbed into the device registry
// and fanned out to subscribers when they changed.
//
// Textual session commands of the form
//
//	onoff toggle 12 1
//	levelcontrol current-level 128 12 1
//
// are parsed by ParseCommandLine and dispatched the same way.
package dispatch
