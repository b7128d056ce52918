package display

import (
	"sync"

	"github.com/ddcutil-go/ddcutil/ddcci"
)

// BusFlags tracks what the I2C Bus Abstraction has established about a
// /dev/i2c-N device so far.
type BusFlags uint16

const (
	BusExists BusFlags = 1 << iota
	BusAccessible
	BusHasEDID
	BusProbed
	BusIsLaptopPanel
	BusDRMConnectorResolved
)

func (f BusFlags) Has(flag BusFlags) bool { return f&flag != 0 }

// BusInfo is the passive record the I2C Bus Abstraction maintains for one
// /dev/i2c-N device. It holds no file descriptor; DisplayHandle does.
type BusInfo struct {
	Number        int
	Flags         BusFlags
	EDID          EDID
	Connector     string
	ConnectorHint ConnectorHint
	DriverName    string
	DPMSAsleep    bool
	LastOpenErr   error
}

// ConnectorHint records how a BusInfo's DRM connector name was resolved,
// so callers and logs can tell a confident match from a guess.
type ConnectorHint int

const (
	ConnectorUnresolved ConnectorHint = iota
	ConnectorByBusNumber
	ConnectorByEDID
)

// State is a DisplayRef's position in the connect/disconnect lifecycle.
type State int

const (
	StateNew State = iota
	StateLive
	StateDead
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateLive:
		return "LIVE"
	case StateDead:
		return "DEAD"
	case StateRemoved:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// RefFlags records what bootstrap has established about a DisplayRef's
// ability to speak DDC/CI.
type RefFlags uint8

const (
	FlagDDCCommunicationChecked RefFlags = 1 << iota
	FlagDDCCommunicationWorking
	FlagAlive
)

// DisplayRef is the stable handle clients hold across the lifetime of a
// physical display. Its Index is assigned once, at first discovery, and
// is never reused even after the ref transitions to REMOVED.
type DisplayRef struct {
	mu sync.Mutex

	Index     int
	Bus       *BusInfo
	EDID      EDID
	Connector string
	Version   ddcci.Version
	Flags     RefFlags
	state     State
}

// State returns the ref's current lifecycle state.
func (r *DisplayRef) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// transition moves the ref to a new state. Only the Registry calls this;
// it is unexported to preserve "the Registry is the only component
// permitted to transition state."
func (r *DisplayRef) transition(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// Identifier is the {manufacturer, model, serial} triple used for
// find-by-identifier lookups. A zero field in a query matches any value.
type Identifier struct {
	Manufacturer string
	ProductCode  uint16
	Serial       uint32
}

func (id Identifier) matches(e EDID) bool {
	if id.Manufacturer != "" && id.Manufacturer != e.Manufacturer {
		return false
	}
	if id.ProductCode != 0 && id.ProductCode != e.ProductCode {
		return false
	}
	if id.Serial != 0 && id.Serial != e.Serial {
		return false
	}
	return true
}

// DisplayHandle is an opened DisplayRef: it owns the DDC/CI engine bound
// to the ref's bus and any per-open state. The Registry enforces at most
// one live handle per DisplayRef.
type DisplayHandle struct {
	Ref    *DisplayRef
	Engine *ddcci.Engine

	closeTransport func() error
	mu             sync.Mutex
	lastVersion    ddcci.Version
}

// Close releases the handle's file descriptor and lets the Registry hand
// out a new handle for the same ref.
func (h *DisplayHandle) Close(reg *Registry) error {
	reg.releaseHandle(h.Ref)
	if h.closeTransport == nil {
		return nil
	}
	return h.closeTransport()
}

// CachedVersion returns the last VCP version read through this handle, if
// any, avoiding a redundant 0xF1 query.
func (h *DisplayHandle) CachedVersion() (ddcci.Version, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastVersion, h.lastVersion.Known()
}

func (h *DisplayHandle) setCachedVersion(v ddcci.Version) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastVersion = v
}
