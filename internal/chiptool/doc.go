// Package chiptool is the control channel to Matter devices.
//
// All device interaction goes through the chip-tool CLI: each operation
// is one short-lived invocation whose logged output carries the
// interaction-model payload. The package has two halves.
//
// # Gateway
//
// Gateway schedules invocations. Matter nodes tolerate one interaction at
// a time, so commands addressed to the same node run strictly in
// submission order; commands for different nodes run in parallel up to a
// configured bound. Hung invocations are killed by the underlying
// process.Runner, so a wedged device stalls only its own queue.
//
// # Output parsing
//
// chip-tool logs the report payload interleaved with connection noise.
// Sanitise keeps only [DMG] data-management lines, splices the node ID
// from the exchange header into each attribute path, and flattens the
// result; ExtractBlocks finds balanced "Key = { ... }" blocks; ParseBlock
// turns one block into a value tree; ParseReports combines the three and
// returns typed AttributeReports.
//
//	reports, err := chiptool.ParseReports(result.Stdout)
//	if err != nil {
//	    // ErrDecode or ErrNoReport
//	}
//	raw := reports[0].DataString()
//
// Values stay as raw strings at this layer. The device registry coerces
// them against the attribute's declared data model type, so a garbled
// report is rejected there rather than silently stored.
package chiptool
