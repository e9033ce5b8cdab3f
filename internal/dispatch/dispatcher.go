package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/matterverse/matterverse-core/internal/chiptool"
	"github.com/matterverse/matterverse-core/internal/datamodel"
	"github.com/matterverse/matterverse-core/internal/device"
)

// Gateway is the control-channel surface the dispatcher drives. The
// chiptool gateway satisfies it directly.
type Gateway interface {
	InvokeCommand(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, command string, args ...string) error
	WriteAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute, value string) error
	ReadAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute string) (*chiptool.AttributeReport, error)
}

// Registry absorbs attribute values observed as command side effects.
type Registry interface {
	SetAttributeValue(ctx context.Context, nodeID uint64, endpoint uint16, cluster, attribute, raw string, observedAt time.Time) (*device.AttributeUpdate, error)
}

// Notifier fans out attribute changes produced by dispatched operations.
type Notifier interface {
	AttributeChanged(update *device.AttributeUpdate)
}

// Recorder receives a sample per dispatched command for long-term
// analysis. The influxdb client satisfies it.
type Recorder interface {
	WriteCommandResult(nodeID, endpoint uint64, cluster, command string, success bool, durationMs float64)
}

// Logger is implemented by anything the dispatcher can log through.
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

// Status classifies the outcome of a dispatched request.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request names a single operation against one device endpoint. Name
// resolves against the data model as a cluster command first, then as
// a writable or readable attribute.
type Request struct {
	NodeID   uint64   `json:"node_id"`
	Endpoint uint16   `json:"endpoint"`
	Cluster  string   `json:"cluster"`
	Name     string   `json:"name"`
	Args     []string `json:"args,omitempty"`
}

// CommandResult is the terminal outcome of a dispatched request. Every
// dispatch produces exactly one, whether the operation succeeded,
// failed, timed out or never passed validation.
type CommandResult struct {
	Status       Status        `json:"status"`
	InvocationID string        `json:"invocation_id,omitempty"`
	DecodedValue any           `json:"decoded_value,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"-"`
}

// PendingInvocation tracks an operation that has passed validation and
// is in flight on the control channel.
type PendingInvocation struct {
	ID          string
	NodeID      uint64
	Endpoint    uint16
	Cluster     string
	Name        string
	Args        []string
	SubmittedAt time.Time
}

type opKind int

const (
	opInvoke opKind = iota
	opWrite
	opRead
)

// plan is a validated request bound to its data model entry.
type plan struct {
	kind    opKind
	cluster *datamodel.Cluster
	command *datamodel.Command
	attr    *datamodel.Attribute
	value   any
}

type pendingKey struct {
	node     uint64
	endpoint uint16
}

// Dispatcher validates operations against the data model dictionary and
// executes them through the control-channel gateway. Validation runs
// before anything touches the gateway, so a malformed request costs no
// subprocess slot and leaves no pending state behind.
type Dispatcher struct {
	gateway  Gateway
	registry Registry
	dict     *datamodel.Dictionary
	notifier Notifier
	recorder Recorder
	logger   Logger

	mu      sync.Mutex
	pending map[pendingKey]*PendingInvocation
	gates   map[pendingKey]chan struct{}

	dispatched atomic.Uint64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	rejected   atomic.Uint64
}

// New returns a dispatcher bound to the given collaborators. The
// notifier and recorder are optional and attached via their setters.
func New(gateway Gateway, registry Registry, dict *datamodel.Dictionary) *Dispatcher {
	return &Dispatcher{
		gateway:  gateway,
		registry: registry,
		dict:     dict,
		logger:   noopLogger{},
		pending:  make(map[pendingKey]*PendingInvocation),
		gates:    make(map[pendingKey]chan struct{}),
	}
}

// SetNotifier attaches the change notifier.
func (d *Dispatcher) SetNotifier(n Notifier) { d.notifier = n }

// SetRecorder attaches the command-result recorder.
func (d *Dispatcher) SetRecorder(r Recorder) { d.recorder = r }

// SetLogger replaces the default no-op logger.
func (d *Dispatcher) SetLogger(l Logger) {
	if l != nil {
		d.logger = l
	}
}

// Dispatch validates and executes one request. It always returns a
// terminal result; errors are folded into the result rather than
// returned, so callers have a single path to report back on.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *CommandResult {
	start := time.Now()
	d.dispatched.Add(1)

	p, err := d.validate(req)
	if err != nil {
		d.rejected.Add(1)
		d.logger.Warn("request rejected",
			"node", req.NodeID, "endpoint", req.Endpoint,
			"cluster", req.Cluster, "name", req.Name, "err", err)
		return &CommandResult{
			Status:       StatusError,
			ErrorMessage: err.Error(),
			Duration:     time.Since(start),
		}
	}

	key := pendingKey{node: req.NodeID, endpoint: req.Endpoint}
	if err := d.acquire(ctx, key); err != nil {
		d.failed.Add(1)
		return &CommandResult{
			Status:       StatusError,
			ErrorMessage: err.Error(),
			Duration:     time.Since(start),
		}
	}
	defer d.release(key)

	inv := &PendingInvocation{
		ID:          uuid.NewString(),
		NodeID:      req.NodeID,
		Endpoint:    req.Endpoint,
		Cluster:     p.cluster.Token(),
		Name:        req.Name,
		Args:        req.Args,
		SubmittedAt: start,
	}
	d.track(key, inv)
	defer d.untrack(key)

	result := d.execute(ctx, req, p)
	result.InvocationID = inv.ID
	result.Duration = time.Since(start)

	success := result.Status == StatusSuccess
	if success {
		d.succeeded.Add(1)
	} else {
		d.failed.Add(1)
	}
	if d.recorder != nil {
		d.recorder.WriteCommandResult(req.NodeID, uint64(req.Endpoint),
			p.cluster.Token(), req.Name, success,
			float64(result.Duration)/float64(time.Millisecond))
	}
	return result
}

// DispatchText parses and dispatches a textual command of the form
//
//	<cluster> <name> [args...] <node> <endpoint>
//
// as typed into an interactive session.
func (d *Dispatcher) DispatchText(ctx context.Context, line string) (*CommandResult, error) {
	req, err := ParseCommandLine(line)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, req), nil
}

// InvokeCommand dispatches a cluster command and reduces the result to
// an error. It gives bus consumers the gateway's invoke signature with
// full validation, pending tracking and side-effect absorption in front.
func (d *Dispatcher) InvokeCommand(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, command string, args ...string) error {
	result := d.Dispatch(ctx, Request{
		NodeID:   nodeID,
		Endpoint: endpoint,
		Cluster:  clusterToken,
		Name:     command,
		Args:     args,
	})
	if result.Status != StatusSuccess {
		return errors.New(result.ErrorMessage)
	}
	return nil
}

// WriteAttribute dispatches an attribute write and reduces the result
// to an error, mirroring InvokeCommand.
func (d *Dispatcher) WriteAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute, value string) error {
	result := d.Dispatch(ctx, Request{
		NodeID:   nodeID,
		Endpoint: endpoint,
		Cluster:  clusterToken,
		Name:     attribute,
		Args:     []string{value},
	})
	if result.Status != StatusSuccess {
		return errors.New(result.ErrorMessage)
	}
	return nil
}

// ParseCommandLine splits a textual session command into a Request. The
// last two fields are the node ID and endpoint; anything between the
// name and those is an argument.
func ParseCommandLine(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Request{}, fmt.Errorf("%w: want <cluster> <name> [args...] <node> <endpoint>", ErrBadCommandLine)
	}
	node, err := strconv.ParseUint(fields[len(fields)-2], 10, 64)
	if err != nil {
		return Request{}, fmt.Errorf("%w: node id %q", ErrBadCommandLine, fields[len(fields)-2])
	}
	endpoint, err := strconv.ParseUint(fields[len(fields)-1], 10, 16)
	if err != nil {
		return Request{}, fmt.Errorf("%w: endpoint %q", ErrBadCommandLine, fields[len(fields)-1])
	}
	return Request{
		NodeID:   node,
		Endpoint: uint16(endpoint),
		Cluster:  fields[0],
		Name:     fields[1],
		Args:     fields[2 : len(fields)-2],
	}, nil
}

// validate resolves the request against the dictionary and checks its
// arguments. It never touches the gateway.
func (d *Dispatcher) validate(req Request) (*plan, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: empty command name", ErrValidation)
	}
	cluster, err := d.dict.ClusterByToken(req.Cluster)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown cluster %q", ErrValidation, req.Cluster)
	}

	if cmd, err := d.dict.Command(cluster.Token(), req.Name); err == nil {
		if err := validateArgs(cmd, req.Args); err != nil {
			return nil, err
		}
		return &plan{kind: opInvoke, cluster: cluster, command: cmd}, nil
	}

	attr, err := d.dict.AttributeByWireName(cluster.Token(), datamodel.KebabCase(req.Name))
	if err != nil {
		return nil, fmt.Errorf("%w: %q is neither a command nor an attribute of cluster %q",
			ErrValidation, req.Name, cluster.Token())
	}
	if len(req.Args) == 0 {
		return &plan{kind: opRead, cluster: cluster, attr: attr}, nil
	}
	if len(req.Args) > 1 {
		return nil, fmt.Errorf("%w: attribute write takes one value, got %d", ErrValidation, len(req.Args))
	}
	if !attr.Writable {
		return nil, fmt.Errorf("%w: attribute %q is not writable", ErrValidation, attr.WireName())
	}
	coerced, err := device.CoerceValue(attr.Kind(), req.Args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: value %q does not fit type %s", ErrValidation, req.Args[0], attr.Type)
	}
	return &plan{kind: opWrite, cluster: cluster, attr: attr, value: coerced}, nil
}

func validateArgs(cmd *datamodel.Command, args []string) error {
	required := 0
	for _, a := range cmd.Args {
		if !a.Optional {
			required++
		}
	}
	if len(args) < required {
		return fmt.Errorf("%w: command %q wants %d argument(s), got %d",
			ErrValidation, cmd.Name, required, len(args))
	}
	if len(args) > len(cmd.Args) {
		return fmt.Errorf("%w: command %q takes at most %d argument(s), got %d",
			ErrValidation, cmd.Name, len(cmd.Args), len(args))
	}
	for i, raw := range args {
		kind := datamodel.KindOf(cmd.Args[i].Type)
		if _, err := device.CoerceValue(kind, raw); err != nil {
			return fmt.Errorf("%w: argument %q value %q does not fit type %s",
				ErrValidation, cmd.Args[i].Name, raw, cmd.Args[i].Type)
		}
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, req Request, p *plan) *CommandResult {
	switch p.kind {
	case opInvoke:
		if err := d.gateway.InvokeCommand(ctx, req.NodeID, req.Endpoint, p.cluster.Token(), datamodel.KebabCase(p.command.Name), req.Args...); err != nil {
			return &CommandResult{Status: StatusError, ErrorMessage: err.Error()}
		}
		return &CommandResult{Status: StatusSuccess}
	case opWrite:
		raw := device.FormatValue(p.value)
		if err := d.gateway.WriteAttribute(ctx, req.NodeID, req.Endpoint, p.cluster.Token(), p.attr.WireName(), raw); err != nil {
			return &CommandResult{Status: StatusError, ErrorMessage: err.Error()}
		}
		d.absorb(ctx, req, p.cluster.Token(), p.attr.WireName(), raw)
		return &CommandResult{Status: StatusSuccess, DecodedValue: p.value}
	case opRead:
		report, err := d.gateway.ReadAttribute(ctx, req.NodeID, req.Endpoint, p.cluster.Token(), p.attr.WireName())
		if err != nil {
			return &CommandResult{Status: StatusError, ErrorMessage: err.Error()}
		}
		raw := report.DataString()
		decoded, err := device.CoerceValue(p.attr.Kind(), raw)
		if err != nil {
			return &CommandResult{Status: StatusError,
				ErrorMessage: fmt.Sprintf("read %q: %v", p.attr.WireName(), err)}
		}
		d.absorb(ctx, req, p.cluster.Token(), p.attr.WireName(), raw)
		return &CommandResult{Status: StatusSuccess, DecodedValue: decoded}
	}
	return &CommandResult{Status: StatusError, ErrorMessage: "unknown operation"}
}

// absorb feeds a value observed on the control channel back into the
// registry and, if it actually changed, out to subscribers. Stale and
// unregistered devices are logged and dropped; the command itself has
// already succeeded.
func (d *Dispatcher) absorb(ctx context.Context, req Request, cluster, attribute, raw string) {
	update, err := d.registry.SetAttributeValue(ctx, req.NodeID, req.Endpoint, cluster, attribute, raw, time.Now())
	if err != nil {
		d.logger.Debug("value not absorbed",
			"node", req.NodeID, "endpoint", req.Endpoint,
			"cluster", cluster, "attribute", attribute, "err", err)
		return
	}
	if update.Changed && d.notifier != nil {
		d.notifier.AttributeChanged(update)
	}
}

// acquire serialises invocations per endpoint so at most one is pending
// at a time. Later callers block until the earlier one settles or their
// context expires; ordering across callers is then the gateway's strict
// per-node FIFO.
func (d *Dispatcher) acquire(ctx context.Context, key pendingKey) error {
	d.mu.Lock()
	gate, ok := d.gates[key]
	if !ok {
		gate = make(chan struct{}, 1)
		d.gates[key] = gate
	}
	d.mu.Unlock()

	select {
	case gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) release(key pendingKey) {
	d.mu.Lock()
	gate := d.gates[key]
	d.mu.Unlock()
	<-gate
}

func (d *Dispatcher) track(key pendingKey, inv *PendingInvocation) {
	d.mu.Lock()
	d.pending[key] = inv
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(key pendingKey) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// Pending reports the invocation currently in flight for an endpoint,
// or nil if there is none.
func (d *Dispatcher) Pending(nodeID uint64, endpoint uint16) *PendingInvocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	inv, ok := d.pending[pendingKey{node: nodeID, endpoint: endpoint}]
	if !ok {
		return nil
	}
	cp := *inv
	return &cp
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Dispatched uint64
	Succeeded  uint64
	Failed     uint64
	Rejected   uint64
	Pending    int
}

// GetStats returns current counters.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	return Stats{
		Dispatched: d.dispatched.Load(),
		Succeeded:  d.succeeded.Load(),
		Failed:     d.failed.Load(),
		Rejected:   d.rejected.Load(),
		Pending:    pending,
	}
}
