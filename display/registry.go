package display

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ddcutil-go/ddcutil/ddcci"
	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

// Opener opens a DDC/CI transport bound to one bus number (slave address
// 0x37 already selected on every Write/Read), plus a closer releasing the
// underlying file descriptor. Supplied by the caller wiring the Registry
// to real hardware; tests supply a fake.
type Opener func(busNumber int) (ddcci.Transport, func() error, error)

// ParallelProbeThreshold is the candidate count above which DetectAll
// fans bootstrap probing out across a worker pool instead of running it
// serially.
const ParallelProbeThreshold = 4

// DetectAllWorkers bounds the worker pool DetectAll uses once the
// candidate count exceeds ParallelProbeThreshold.
const DetectAllWorkers = 4

// Registry is the stable, process-wide inventory of DisplayRefs. It is
// the only component permitted to allocate display indices or transition
// a DisplayRef's state; every write is serialized on its own mutex.
type Registry struct {
	open Opener

	mu        sync.Mutex
	byBus     map[int]*DisplayRef
	byIndex   map[int]*DisplayRef
	order     []*DisplayRef
	nextIndex int
	handles   map[*DisplayRef]*DisplayHandle
}

// NewRegistry builds an empty Registry bound to the given bus opener.
func NewRegistry(open Opener) *Registry {
	return &Registry{
		open:    open,
		byBus:   make(map[int]*DisplayRef),
		byIndex: make(map[int]*DisplayRef),
		handles: make(map[*DisplayRef]*DisplayHandle),
	}
}

// DetectAll probes every bus in buses (assumed already enumeration-
// stabilized) and constructs or adopts a DisplayRef for each one carrying
// a valid EDID. Once the candidate count exceeds ParallelProbeThreshold,
// probing runs on a bounded worker pool; DetectAll always waits for every
// worker before returning. The returned slice is in bus-number order.
func (reg *Registry) DetectAll(ctx context.Context, buses []*BusInfo) ([]*DisplayRef, error) {
	candidates := make([]*BusInfo, 0, len(buses))
	for _, b := range buses {
		if b.Flags.Has(BusHasEDID) {
			candidates = append(candidates, b)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Number < candidates[j].Number })

	results := make([]*DisplayRef, len(candidates))
	probeOne := func(ctx context.Context, i int) error {
		ref, err := reg.probeAndAdopt(ctx, candidates[i])
		if err != nil {
			return err
		}
		results[i] = ref
		return nil
	}

	if len(candidates) > ParallelProbeThreshold {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(DetectAllWorkers)
		for i := range candidates {
			i := i
			g.Go(func() error { return probeOne(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range candidates {
			if err := probeOne(ctx, i); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// AddFromBus is called by the watch engine when a bus newly reports an
// EDID. It probes the bus and either revives a DEAD ref sharing that
// EDID or creates a fresh one.
func (reg *Registry) AddFromBus(ctx context.Context, bus *BusInfo) (*DisplayRef, error) {
	return reg.probeAndAdopt(ctx, bus)
}

// probeAndAdopt runs the bootstrap probe for bus (outside any lock, since
// it performs I/O) then adopts the result into the registry under lock.
func (reg *Registry) probeAndAdopt(ctx context.Context, bus *BusInfo) (*DisplayRef, error) {
	version, probeErr := reg.bootstrapProbe(ctx, bus)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.byBus[bus.Number]; ok {
		existing.EDID = bus.EDID
		existing.Connector = bus.Connector
		applyProbeResult(existing, version, probeErr)
		return existing, nil
	}

	if revived := reg.findDeadByEDIDLocked(bus.EDID); revived != nil {
		revived.Bus = bus
		revived.EDID = bus.EDID
		revived.Connector = bus.Connector
		reg.byBus[bus.Number] = revived
		applyProbeResult(revived, version, probeErr)
		return revived, nil
	}

	ref := &DisplayRef{
		Index:     reg.nextIndex + 1,
		Bus:       bus,
		EDID:      bus.EDID,
		Connector: bus.Connector,
		state:     StateNew,
	}
	reg.nextIndex++
	reg.byBus[bus.Number] = ref
	reg.byIndex[ref.Index] = ref
	reg.order = append(reg.order, ref)
	applyProbeResult(ref, version, probeErr)
	return ref, nil
}

func applyProbeResult(ref *DisplayRef, version ddcci.Version, probeErr error) {
	ref.Flags |= FlagDDCCommunicationChecked
	if probeErr != nil {
		ref.Flags &^= FlagDDCCommunicationWorking
		ref.transition(StateDead)
		return
	}
	ref.Flags |= FlagDDCCommunicationWorking | FlagAlive
	ref.Version = version
	ref.transition(StateLive)
}

// bootstrapProbe opens a transient transport for bus, queries the VCP
// version (non-fatal on failure), and performs the one required-feature
// probe read that confirms the monitor actually speaks DDC/CI. The
// transport is always closed before returning, mirroring the bus
// abstraction's "always closes the fd it opened" contract.
func (reg *Registry) bootstrapProbe(ctx context.Context, bus *BusInfo) (ddcci.Version, error) {
	transport, closer, err := reg.open(bus.Number)
	if err != nil {
		return ddcci.Version{}, errcode.Wrap(errcode.DeviceNotFound, "display.bootstrapProbe", err)
	}
	defer closer()

	engine := ddcci.NewEngine(transport, ddcci.NewPacer(ddcci.DelayPostRead, 1.0))
	version, verr := engine.GetVCPVersion(ctx)
	if verr != nil {
		version = ddcci.Version{}
	}
	if err := engine.ProbeBrightness(ctx); err != nil {
		return version, err
	}
	return version, nil
}

// MarkRemoved transitions ref to REMOVED. The record is kept so stale
// client handles keep returning a clean "removed" error instead of
// dangling.
func (reg *Registry) MarkRemoved(ref *DisplayRef) {
	ref.transition(StateRemoved)
	reg.mu.Lock()
	delete(reg.byBus, busNumberOf(ref))
	reg.mu.Unlock()
}

func busNumberOf(ref *DisplayRef) int {
	if ref.Bus == nil {
		return -1
	}
	return ref.Bus.Number
}

// ByBus looks up the DisplayRef currently bound to the given bus number.
func (reg *Registry) ByBus(busNumber int) (*DisplayRef, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ref, ok := reg.byBus[busNumber]
	return ref, ok
}

// ByIndex looks up a DisplayRef by its immutable display index.
func (reg *Registry) ByIndex(index int) (*DisplayRef, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	ref, ok := reg.byIndex[index]
	return ref, ok
}

// ByEDID looks up a DisplayRef by an exact EDID byte match.
func (reg *Registry) ByEDID(e EDID) (*DisplayRef, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, ref := range reg.order {
		if string(ref.EDID.Raw) == string(e.Raw) {
			return ref, true
		}
	}
	return nil, false
}

// ByIdentifier returns the first DisplayRef whose EDID matches every
// non-zero field of id.
func (reg *Registry) ByIdentifier(id Identifier) (*DisplayRef, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, ref := range reg.order {
		if id.matches(ref.EDID) {
			return ref, true
		}
	}
	return nil, false
}

// findDeadByEDIDLocked returns a DEAD ref sharing the given EDID, if any.
// Caller must hold reg.mu.
func (reg *Registry) findDeadByEDIDLocked(e EDID) *DisplayRef {
	for _, ref := range reg.order {
		if ref.State() == StateDead && string(ref.EDID.Raw) == string(e.Raw) {
			return ref
		}
	}
	return nil
}

// Snapshot returns a defensive copy of the current DisplayRefs, sorted by
// bus number.
func (reg *Registry) Snapshot() []*DisplayRef {
	reg.mu.Lock()
	out := append([]*DisplayRef(nil), reg.order...)
	reg.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return busNumberOf(out[i]) < busNumberOf(out[j]) })
	return out
}

// Open returns a DisplayHandle bound to ref, enforcing at most one live
// handle per ref.
func (reg *Registry) Open(ref *DisplayRef) (*DisplayHandle, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.handles[ref]; ok {
		return nil, errcode.New(errcode.InvalidOperation, "display.Open", "display already has a live handle")
	}
	if ref.State() == StateRemoved {
		return nil, errcode.New(errcode.InvalidOperation, "display.Open", "display has been removed")
	}
	if ref.Flags&FlagDDCCommunicationChecked != 0 && ref.Flags&FlagDDCCommunicationWorking == 0 {
		return nil, errcode.New(errcode.DDCDisabled, "display.Open", "bootstrap probe found this display does not speak DDC/CI")
	}
	transport, closer, err := reg.open(busNumberOf(ref))
	if err != nil {
		return nil, errcode.Wrap(errcode.DeviceNotFound, "display.Open", err)
	}
	engine := ddcci.NewEngine(transport, ddcci.NewPacer(ddcci.DelayPostRead, 1.0))
	handle := &DisplayHandle{Ref: ref, Engine: engine, closeTransport: closer}
	reg.handles[ref] = handle
	return handle, nil
}

func (reg *Registry) releaseHandle(ref *DisplayRef) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.handles, ref)
}
