// Package notify fans registry events out to the bus and to live
// sessions.
//
// Three event kinds flow through: status_report for applied value
// changes, register_report when a device joins, delete_report when one
// is removed. Each session subscriber owns a bounded queue; when it
// fills, the oldest unsent event for that subscriber is dropped and
// counted. The producer never blocks and a dead subscriber never
// affects its peers or the bus publish.
//
// Decision: metadata-only bus mutations do not fan out. Sessions see
// live-value changes and registration lifecycle only.
package notify
