package chiptool

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/matterverse/matterverse-core/internal/process"
)

// Runner executes one chip-tool invocation. Satisfied by *process.Runner.
type Runner interface {
	Run(ctx context.Context, args ...string) (*process.Result, error)
}

// Logger defines the logging interface used by the Gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds gateway scheduling parameters.
type Config struct {
	// MaxConcurrent bounds how many chip-tool invocations run at once
	// across all devices.
	MaxConcurrent int
}

// Gateway serialises chip-tool access per device and bounds concurrency
// across devices.
//
// Matter nodes tolerate one interaction at a time, so commands addressed
// to the same node execute strictly in submission order. Commands for
// different nodes run in parallel up to MaxConcurrent; beyond that they
// queue. A caller whose context expires while queued gets the context
// error without its command ever starting.
type Gateway struct {
	runner Runner
	logger Logger
	sem    chan struct{}

	mu     sync.Mutex
	queues map[uint64][]*request
	closed bool
	wg     sync.WaitGroup
}

type request struct {
	ctx    context.Context
	args   []string
	result chan outcome
}

type outcome struct {
	result *process.Result
	err    error
}

// NewGateway creates a gateway over the given runner.
func NewGateway(runner Runner, cfg Config) *Gateway {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Gateway{
		runner: runner,
		logger: noopLogger{},
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		queues: make(map[uint64][]*request),
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
}

// Execute queues one chip-tool invocation for the given node and waits
// for it to finish. Commands for the same node run in FIFO order.
func (g *Gateway) Execute(ctx context.Context, nodeID uint64, args ...string) (*process.Result, error) {
	req := &request{
		ctx:    ctx,
		args:   args,
		result: make(chan outcome, 1),
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	pending, active := g.queues[nodeID]
	g.queues[nodeID] = append(pending, req)
	if !active {
		g.wg.Add(1)
		go g.drain(nodeID)
	}
	g.mu.Unlock()

	select {
	case out := <-req.result:
		return out.result, out.err
	case <-ctx.Done():
		// The worker skips requests whose context is already done
		return nil, ctx.Err()
	}
}

// drain runs one node's queue to completion and exits when it empties.
func (g *Gateway) drain(nodeID uint64) {
	defer g.wg.Done()

	for {
		g.mu.Lock()
		pending := g.queues[nodeID]
		if len(pending) == 0 {
			delete(g.queues, nodeID)
			g.mu.Unlock()
			return
		}
		req := pending[0]
		g.queues[nodeID] = pending[1:]
		g.mu.Unlock()

		if req.ctx.Err() != nil {
			req.result <- outcome{err: req.ctx.Err()}
			continue
		}

		g.sem <- struct{}{}
		result, err := g.runner.Run(req.ctx, req.args...)
		<-g.sem

		if err != nil {
			g.logger.Warn("chip-tool invocation failed",
				"node_id", nodeID, "args", req.args, "error", err)
		}
		req.result <- outcome{result: result, err: err}
	}
}

// Close rejects new commands and waits for queued ones to finish.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.wg.Wait()
}

// QueueDepth reports how many commands are queued or running per node.
func (g *Gateway) QueueDepth() map[uint64]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	depths := make(map[uint64]int, len(g.queues))
	for nodeID, pending := range g.queues {
		depths[nodeID] = len(pending)
	}
	return depths
}

// ReadAttribute reads one attribute and returns its report.
func (g *Gateway) ReadAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute string) (*AttributeReport, error) {
	result, err := g.Execute(ctx, nodeID,
		clusterToken, "read", attribute, formatNode(nodeID), formatEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	reports, err := ParseReports(result.Stdout)
	if err != nil {
		return nil, err
	}
	return &reports[0], nil
}

// WriteAttribute writes one attribute value.
func (g *Gateway) WriteAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute, value string) error {
	result, err := g.Execute(ctx, nodeID,
		clusterToken, "write", attribute, value, formatNode(nodeID), formatEndpoint(endpoint))
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: write %s/%s exited %d",
			ErrCommandFailed, clusterToken, attribute, result.ExitCode)
	}
	return nil
}

// InvokeCommand invokes a cluster command with positional arguments.
func (g *Gateway) InvokeCommand(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, command string, args ...string) error {
	full := make([]string, 0, len(args)+4)
	full = append(full, clusterToken, command)
	full = append(full, args...)
	full = append(full, formatNode(nodeID), formatEndpoint(endpoint))

	result, err := g.Execute(ctx, nodeID, full...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("%w: %s %s exited %d",
			ErrCommandFailed, clusterToken, command, result.ExitCode)
	}
	return nil
}

func formatNode(nodeID uint64) string {
	return strconv.FormatUint(nodeID, 10)
}

func formatEndpoint(endpoint uint16) string {
	return strconv.FormatUint(uint64(endpoint), 10)
}
