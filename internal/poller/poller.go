package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matterverse/matterverse-core/internal/chiptool"
	"github.com/matterverse/matterverse-core/internal/device"
)

// Gateway is the control-channel surface the poller reads through.
type Gateway interface {
	ReadAttribute(ctx context.Context, nodeID uint64, endpoint uint16, clusterToken, attribute string) (*chiptool.AttributeReport, error)
}

// Registry is the subset of the device registry the poller uses.
type Registry interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	SetAttributeValue(ctx context.Context, nodeID uint64, endpoint uint16, cluster, attribute, raw string, observedAt time.Time) (*device.AttributeUpdate, error)
}

// Notifier receives applied value changes. Observations that only
// advance the timestamp are not delivered.
type Notifier interface {
	AttributeChanged(update *device.AttributeUpdate)
}

// Recorder receives every applied observation as a time-series sample.
type Recorder interface {
	WriteAttributeSample(nodeID, endpoint uint64, cluster, attribute string, value any, observedAt time.Time)
}

// Logger interface for optional logging support.
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

// Config holds poller tuning. Zero values fall back to the defaults.
type Config struct {
	// Interval between polling sweeps. Default 30s.
	Interval time.Duration

	// Budget caps devices polled concurrently within a sweep; eligible
	// devices beyond the budget wait for the next tick. Default 5.
	Budget int

	// FailureThreshold is the consecutive failure count that demotes a
	// device to exponential backoff. Default 3.
	FailureThreshold int

	// BackoffMax caps the exponential backoff. Default 960s.
	BackoffMax time.Duration

	// DiscoveryInterval between rescans that pick up devices registered
	// since the last sweep. Default 300s.
	DiscoveryInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Budget <= 0 {
		c.Budget = 5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 960 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = 300 * time.Second
	}
}

// deviceState tracks one node's position in the polling lifecycle.
type deviceState struct {
	failures  int
	holdUntil time.Time
	inFlight  bool
}

// Poller sweeps the registry's devices at a fixed interval, reading every
// known attribute through the gateway and applying the observations to
// the registry. Sweeps never overlap: a tick that fires mid-sweep is
// dropped and counted.
//
// A device whose poll fails is held out for one interval; after
// FailureThreshold consecutive failures it demotes to exponential backoff
// capped at BackoffMax. Failing devices are never removed from the set.
type Poller struct {
	gateway  Gateway
	registry Registry
	notifier Notifier
	recorder Recorder
	cfg      Config
	logger   Logger

	mu       sync.Mutex
	states   map[uint64]*deviceState
	rotation uint64

	sweeping atomic.Bool
	running  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup

	sweeps        atomic.Uint64
	skippedTicks  atomic.Uint64
	staleRejected atomic.Uint64
	pollFailures  atomic.Uint64
}

// New creates a poller. Notifier and recorder may be nil.
func New(gateway Gateway, registry Registry, cfg Config) *Poller {
	cfg.applyDefaults()
	return &Poller{
		gateway:  gateway,
		registry: registry,
		cfg:      cfg,
		logger:   noopLogger{},
		states:   make(map[uint64]*deviceState),
		done:     make(chan struct{}),
	}
}

// SetNotifier sets the value-change sink.
func (p *Poller) SetNotifier(n Notifier) {
	p.notifier = n
}

// SetRecorder sets the time-series sink.
func (p *Poller) SetRecorder(r Recorder) {
	p.recorder = r
}

// SetLogger sets the logger for poller operations.
func (p *Poller) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Start seeds the polling set from the registry and begins sweeping in
// the background until Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	if err := p.rescan(ctx); err != nil {
		p.running.Store(false)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.run(runCtx)

	p.logger.Info("poller started",
		"interval", p.cfg.Interval,
		"budget", p.cfg.Budget,
		"devices", p.deviceCount(),
	)
	return nil
}

// Stop cancels the sweep loop and waits for it to exit. In-flight reads
// finish or time out through the gateway's own deadline.
func (p *Poller) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	p.cancel()
	<-p.done
	p.wg.Wait()
	p.logger.Info("poller stopped")
	return nil
}

// AddDevice adds a node to the polling set, typically right after
// registration. Adding a known node resets its failure state.
func (p *Poller) AddDevice(nodeID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[nodeID] = &deviceState{}
}

// RemoveDevice drops a node from the polling set.
func (p *Poller) RemoveDevice(nodeID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, nodeID)
}

func (p *Poller) deviceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	discovery := time.NewTicker(p.cfg.DiscoveryInterval)
	defer discovery.Stop()

	// First sweep immediately rather than waiting a full interval.
	p.trySweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.trySweep(ctx)
		case <-discovery.C:
			if err := p.rescan(ctx); err != nil {
				p.logger.Error("discovery rescan failed", "error", err)
			}
		}
	}
}

// trySweep runs a sweep unless one is already in progress, in which case
// the tick is dropped.
func (p *Poller) trySweep(ctx context.Context) {
	if !p.sweeping.CompareAndSwap(false, true) {
		p.skippedTicks.Add(1)
		p.logger.Warn("sweep still running, tick skipped")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sweeping.Store(false)
		p.sweep(ctx)
	}()
}

// sweep polls up to Budget eligible devices concurrently and waits for
// them all. The eligible list rotates between sweeps so devices beyond
// the budget are not starved.
func (p *Poller) sweep(ctx context.Context) {
	devices, err := p.registry.ListDevices(ctx)
	if err != nil {
		p.logger.Error("listing devices for sweep", "error", err)
		return
	}
	byNode := make(map[uint64]*device.Device, len(devices))
	for i := range devices {
		byNode[devices[i].NodeID] = &devices[i]
	}

	now := time.Now()
	p.mu.Lock()
	var eligible []uint64
	for nodeID, st := range p.states {
		if st.inFlight || now.Before(st.holdUntil) {
			continue
		}
		if _, ok := byNode[nodeID]; !ok {
			continue
		}
		eligible = append(eligible, nodeID)
	}
	if len(eligible) == 0 {
		p.mu.Unlock()
		return
	}

	offset := int(p.rotation % uint64(len(eligible)))
	p.rotation++
	picked := make([]uint64, 0, min(p.cfg.Budget, len(eligible)))
	for i := 0; i < len(eligible) && len(picked) < p.cfg.Budget; i++ {
		nodeID := eligible[(offset+i)%len(eligible)]
		p.states[nodeID].inFlight = true
		picked = append(picked, nodeID)
	}
	p.mu.Unlock()

	p.sweeps.Add(1)
	p.logger.Debug("sweep started", "eligible", len(eligible), "polling", len(picked))

	var wg sync.WaitGroup
	for _, nodeID := range picked {
		wg.Add(1)
		go func(nodeID uint64) {
			defer wg.Done()
			ok := p.pollDevice(ctx, byNode[nodeID])
			p.settle(nodeID, ok)
		}(nodeID)
	}
	wg.Wait()
}

// pollDevice reads every known attribute of one device sequentially (the
// gateway serialises per-node anyway) and applies each observation.
// It reports success if at least one attribute was applied, or if the
// device has nothing to poll.
func (p *Poller) pollDevice(ctx context.Context, dev *device.Device) bool {
	attempted, applied := 0, 0

	for epID, ep := range dev.Endpoints {
		for _, cluster := range ep.Clusters {
			for _, attr := range cluster.Attributes {
				if ctx.Err() != nil {
					return applied > 0
				}
				attempted++

				report, err := p.gateway.ReadAttribute(ctx, dev.NodeID, epID, cluster.Token, attr.Name)
				if err != nil {
					p.logger.Debug("attribute read failed",
						"node_id", dev.NodeID, "endpoint", epID,
						"cluster", cluster.Token, "attribute", attr.Name,
						"error", err)
					continue
				}

				update, err := p.registry.SetAttributeValue(
					ctx, dev.NodeID, epID, cluster.Token, attr.Name,
					report.DataString(), time.Now())
				if err != nil {
					if errors.Is(err, device.ErrStaleWrite) {
						p.staleRejected.Add(1)
						p.logger.Debug("stale observation rejected",
							"node_id", dev.NodeID, "endpoint", epID,
							"cluster", cluster.Token, "attribute", attr.Name)
					} else {
						p.logger.Warn("applying observation failed",
							"node_id", dev.NodeID, "endpoint", epID,
							"cluster", cluster.Token, "attribute", attr.Name,
							"error", err)
					}
					continue
				}

				applied++
				if p.recorder != nil {
					p.recorder.WriteAttributeSample(
						update.NodeID, uint64(update.Endpoint),
						update.Cluster, update.Name, update.Value, update.ObservedAt)
				}
				if update.Changed && p.notifier != nil {
					p.notifier.AttributeChanged(update)
				}
			}
		}
	}

	return attempted == 0 || applied > 0
}

// settle records a poll outcome and computes the device's next hold
// window. A failure below the threshold holds the device for one
// interval; at or past the threshold the hold doubles per extra failure,
// capped at BackoffMax.
func (p *Poller) settle(nodeID uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, present := p.states[nodeID]
	if !present {
		return
	}
	st.inFlight = false

	if ok {
		st.failures = 0
		st.holdUntil = time.Time{}
		return
	}

	st.failures++
	p.pollFailures.Add(1)

	hold := p.cfg.Interval
	if st.failures >= p.cfg.FailureThreshold {
		shift := st.failures - p.cfg.FailureThreshold + 1
		if shift > 30 {
			shift = 30
		}
		hold = p.cfg.Interval * (1 << shift)
		if hold > p.cfg.BackoffMax {
			hold = p.cfg.BackoffMax
		}
		p.logger.Warn("device demoted to backoff",
			"node_id", nodeID, "failures", st.failures, "hold", hold)
	} else {
		p.logger.Debug("device poll failed, holding one interval",
			"node_id", nodeID, "failures", st.failures)
	}
	st.holdUntil = time.Now().Add(hold)
}

// rescan adds registry devices missing from the polling set. Known
// devices keep their failure state.
func (p *Poller) rescan(ctx context.Context) error {
	devices, err := p.registry.ListDevices(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for i := range devices {
		if _, ok := p.states[devices[i].NodeID]; !ok {
			p.states[devices[i].NodeID] = &deviceState{}
			added++
		}
	}
	if added > 0 {
		p.logger.Info("discovery added devices to polling set", "added", added)
	}
	return nil
}

// Stats reports poller counters for monitoring.
type Stats struct {
	Devices       int
	Sweeps        uint64
	SkippedTicks  uint64
	StaleRejected uint64
	PollFailures  uint64
}

// GetStats returns current poller statistics.
func (p *Poller) GetStats() Stats {
	return Stats{
		Devices:       p.deviceCount(),
		Sweeps:        p.sweeps.Load(),
		SkippedTicks:  p.skippedTicks.Load(),
		StaleRejected: p.staleRejected.Load(),
		PollFailures:  p.pollFailures.Load(),
	}
}
