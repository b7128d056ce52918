// Package watch implements the long-running task that observes the
// kernel for display connect/disconnect and DPMS transitions and
// reconciles a display.Registry against them.
package watch

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ddcutil-go/ddcutil/display"
)

// EventKind distinguishes the four transitions the watch engine emits.
type EventKind int

const (
	DisplayConnected EventKind = iota
	DisplayDisconnected
	DPMSAsleep
	DPMSAwake
)

func (k EventKind) String() string {
	switch k {
	case DisplayConnected:
		return "DISPLAY_CONNECTED"
	case DisplayDisconnected:
		return "DISPLAY_DISCONNECTED"
	case DPMSAsleep:
		return "DPMS_ASLEEP"
	case DPMSAwake:
		return "DPMS_AWAKE"
	default:
		return "UNKNOWN"
	}
}

// Event is one reconciliation outcome, bound to the DisplayRef it
// concerns.
type Event struct {
	Kind EventKind
	Ref  *display.DisplayRef
}

// BusScanner returns the current set of buses that have a readable EDID,
// i.e. the kernel's current candidate display set. ddcctl's implementation
// scans the /dev/i2c-* buses registered with i2creg. DPMS checks skip any
// bus whose Connector is empty.
type BusScanner func(ctx context.Context) ([]*display.BusInfo, error)

// DPMSReader reads a connector's current dpms sysfs attribute.
type DPMSReader func(connector string) (string, error)

// WakeupSource blocks until a device-event arrives, or ctx is canceled.
// The netlink listener satisfies this; tests substitute a fake.
type WakeupSource interface {
	Recv(ctx context.Context) error
}

// Config tunes the watch engine's timings. DefaultConfig matches the
// mandated defaults.
type Config struct {
	PollInterval             time.Duration
	StabilizeInterval        time.Duration
	DisconnectStabilizeDelay time.Duration
	SlowWatchMultiplier      float64
	EnableDPMS               bool
	DeferEvents              bool
	DeferWindow              time.Duration
}

// DefaultConfig returns the spec-mandated defaults: ~2s poll, 1s
// stabilization interval, 6s extra delay on apparent disconnect, DPMS
// watching on, event deferral off.
func DefaultConfig() Config {
	return Config{
		PollInterval:             2 * time.Second,
		StabilizeInterval:        1 * time.Second,
		DisconnectStabilizeDelay: 6 * time.Second,
		SlowWatchMultiplier:      1,
		EnableDPMS:               true,
		DeferEvents:              false,
		DeferWindow:              2 * time.Second,
	}
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(float64(c.PollInterval) * c.SlowWatchMultiplier)
}

func (c Config) stabilizeInterval() time.Duration {
	return time.Duration(float64(c.StabilizeInterval) * c.SlowWatchMultiplier)
}

func (c Config) disconnectDelay() time.Duration {
	return time.Duration(float64(c.DisconnectStabilizeDelay) * c.SlowWatchMultiplier)
}

// Engine is the watch engine: one instance drives one Registry.
type Engine struct {
	reg      *display.Registry
	scan     BusScanner
	dpms     DPMSReader
	wakeups  WakeupSource
	cfg      Config
	log      *slog.Logger
	sleepFn  func(context.Context, time.Duration) error

	lastStable  []*display.BusInfo
	lastDPMS    map[string]string
	pendingDPMS map[int]pendingEvent
}

type pendingEvent struct {
	kind     EventKind
	ref      *display.DisplayRef
	deadline time.Time
}

// NewEngine builds a watch Engine. wakeups may be nil, in which case the
// engine relies solely on its poll timer.
func NewEngine(reg *display.Registry, scan BusScanner, dpms DPMSReader, wakeups WakeupSource, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		reg:         reg,
		scan:        scan,
		dpms:        dpms,
		wakeups:     wakeups,
		cfg:         cfg,
		log:         log,
		sleepFn:     ctxSleep,
		lastDPMS:    make(map[string]string),
		pendingDPMS: make(map[int]pendingEvent),
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes reconciliation iterations until ctx is canceled, sending
// every emitted Event to events. It returns ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context, events chan<- Event) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.waitForTrigger(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.reconcile(ctx, events); err != nil {
			e.log.Warn("watch: reconcile failed", "err", err)
		}
	}
}

// waitForTrigger blocks until either a kernel event arrives or the poll
// timer elapses.
func (e *Engine) waitForTrigger(ctx context.Context) {
	timeout, cancel := context.WithTimeout(ctx, e.cfg.pollInterval())
	defer cancel()
	if e.wakeups == nil {
		<-timeout.Done()
		return
	}
	_ = e.wakeups.Recv(timeout)
}

// reconcile runs one iteration of the algorithm: stabilize the current
// bus set if it moved, diff against the last stable set, and emit the
// resulting connect/disconnect/DPMS events.
func (e *Engine) reconcile(ctx context.Context, events chan<- Event) error {
	current, err := e.scan(ctx)
	if err != nil {
		return err
	}

	if !sameBusSet(e.lastStable, current) {
		if len(current) < len(e.lastStable) {
			if err := e.sleepFn(ctx, e.cfg.disconnectDelay()); err != nil {
				return err
			}
		}
		current, err = e.stabilize(ctx, current)
		if err != nil {
			return err
		}
	}

	added, removed := diffBuses(e.lastStable, current)
	for _, bus := range removed {
		if ref, ok := e.reg.ByBus(bus.Number); ok {
			e.reg.MarkRemoved(ref)
			e.emit(events, Event{Kind: DisplayDisconnected, Ref: ref})
		}
	}
	for _, bus := range added {
		ref, err := e.reg.AddFromBus(ctx, bus)
		if err != nil {
			e.log.Warn("watch: probe failed for newly connected bus", "bus", bus.Number, "err", err)
			continue
		}
		e.emit(events, Event{Kind: DisplayConnected, Ref: ref})
	}
	e.lastStable = current

	if e.cfg.EnableDPMS && e.dpms != nil {
		e.checkDPMS(current, events)
	}
	e.flushExpiredDeferred(events)
	return nil
}

// stabilize re-scans at the configured interval until two consecutive
// scans agree on the bus set.
func (e *Engine) stabilize(ctx context.Context, first []*display.BusInfo) ([]*display.BusInfo, error) {
	prev := first
	for {
		if err := e.sleepFn(ctx, e.cfg.stabilizeInterval()); err != nil {
			return nil, err
		}
		next, err := e.scan(ctx)
		if err != nil {
			return nil, err
		}
		if sameBusSet(prev, next) {
			return next, nil
		}
		prev = next
	}
}

func (e *Engine) checkDPMS(current []*display.BusInfo, events chan<- Event) {
	for _, bus := range current {
		ref, ok := e.reg.ByBus(bus.Number)
		if !ok || ref.State() != display.StateLive || bus.Connector == "" {
			continue
		}
		val, err := e.dpms(bus.Connector)
		if err != nil {
			continue
		}
		prev, seen := e.lastDPMS[bus.Connector]
		e.lastDPMS[bus.Connector] = val
		if !seen || prev == val {
			continue
		}
		kind := DPMSAwake
		if !strings.EqualFold(val, "on") {
			kind = DPMSAsleep
		}
		e.queueDPMS(bus.Number, Event{Kind: kind, Ref: ref}, events)
	}
}

// queueDPMS applies the deferral filter: when enabled, a flip is held for
// DeferWindow; an opposite flip for the same bus arriving first cancels
// both instead of emitting either.
func (e *Engine) queueDPMS(busNumber int, ev Event, events chan<- Event) {
	if !e.cfg.DeferEvents {
		e.emit(events, ev)
		return
	}
	if pending, ok := e.pendingDPMS[busNumber]; ok && pending.kind != ev.Kind {
		delete(e.pendingDPMS, busNumber)
		return
	}
	e.pendingDPMS[busNumber] = pendingEvent{kind: ev.Kind, ref: ev.Ref, deadline: time.Now().Add(e.cfg.DeferWindow)}
}

func (e *Engine) flushExpiredDeferred(events chan<- Event) {
	now := time.Now()
	for bus, pending := range e.pendingDPMS {
		if now.After(pending.deadline) {
			e.emit(events, Event{Kind: pending.kind, Ref: pending.ref})
			delete(e.pendingDPMS, bus)
		}
	}
}

func (e *Engine) emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	events <- ev
}

func busNumbers(buses []*display.BusInfo) []int {
	nums := make([]int, len(buses))
	for i, b := range buses {
		nums[i] = b.Number
	}
	sort.Ints(nums)
	return nums
}

func sameBusSet(a, b []*display.BusInfo) bool {
	na, nb := busNumbers(a), busNumbers(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// diffBuses returns the buses present in current but not prev (added)
// and vice versa (removed).
func diffBuses(prev, current []*display.BusInfo) (added, removed []*display.BusInfo) {
	prevSet := make(map[int]*display.BusInfo, len(prev))
	for _, b := range prev {
		prevSet[b.Number] = b
	}
	curSet := make(map[int]*display.BusInfo, len(current))
	for _, b := range current {
		curSet[b.Number] = b
	}
	for n, b := range curSet {
		if _, ok := prevSet[n]; !ok {
			added = append(added, b)
		}
	}
	for n, b := range prevSet {
		if _, ok := curSet[n]; !ok {
			removed = append(removed, b)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Number < added[j].Number })
	sort.Slice(removed, func(i, j int) bool { return removed[i].Number < removed[j].Number })
	return added, removed
}
