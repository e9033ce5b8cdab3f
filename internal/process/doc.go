// Package process provides one-shot subprocess execution with bounded
// lifetimes.
//
// Matterverse drives every Matter interaction through short-lived
// chip-tool invocations rather than a resident daemon, so the runner is
// built around single commands that must always terminate: each
// invocation runs in its own process group, is killed as a group when its
// deadline passes, and is reaped before Run returns.
//
// Features:
//   - Captured stdout/stderr and exit code per invocation
//   - Per-invocation timeout on top of the caller's context
//   - Process-group SIGKILL for hung invocations, no zombies left behind
//   - Run counters (failures, timeouts) for status reporting
//
// Example usage:
//
//	runner := process.NewRunner(process.Config{
//	    Name:     "chip-tool",
//	    Binary:   "/usr/local/bin/chip-tool",
//	    BaseArgs: []string{"--storage-directory", "/var/lib/matterverse"},
//	    Timeout:  30 * time.Second,
//	})
//
//	result, err := runner.Run(ctx, "onoff", "on", "5", "1")
//	if err != nil {
//	    // start failure or timeout
//	}
//	parse(result.Stdout)
package process
