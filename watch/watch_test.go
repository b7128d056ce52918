package watch

import (
	"context"
	"testing"
	"time"

	"github.com/ddcutil-go/ddcutil/ddcci"
	"github.com/ddcutil-go/ddcutil/display"
)

func rawReply(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, 0x6e, 0x80|byte(len(payload)))
	frame = append(frame, payload...)
	var c byte
	for _, v := range frame {
		c ^= v
	}
	frame = append(frame, 0x50^c)
	return frame
}

type fakeTransport struct{ lastWrite []byte }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.lastWrite = append([]byte(nil), p...)
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	if len(f.lastWrite) < 3 {
		return 0, nil
	}
	switch f.lastWrite[2] {
	case ddcci.OpGetVCPVersion:
		return copy(p, rawReply([]byte{0x02, 0x00})), nil
	case ddcci.OpGetVCPFeature:
		return copy(p, rawReply([]byte{ddcci.OpGetVCPFeatureReply, 0x00, f.lastWrite[3], 0, 0, 0x64, 0, 0x32})), nil
	default:
		return copy(p, rawReply(nil)), nil
	}
}

func fakeOpener(busNumber int) (ddcci.Transport, func() error, error) {
	return &fakeTransport{}, func() error { return nil }, nil
}

func busInfo(n int, connector string) *display.BusInfo {
	return &display.BusInfo{Number: n, Flags: display.BusExists, Connector: connector}
}

// busWithEDID builds a BusInfo that will pass the HasEDID filter and
// bootstrap probe, using a throwaway (unchecked) EDID.
func busWithEDID(n int, connector string) *display.BusInfo {
	b := busInfo(n, connector)
	b.Flags |= display.BusHasEDID
	return b
}

// scriptedScanner returns each slice in sequence, repeating the last one
// once exhausted (so a test can under-specify trailing iterations).
type scriptedScanner struct {
	results [][]*display.BusInfo
	idx     int
	calls   int
}

func (s *scriptedScanner) scan(ctx context.Context) ([]*display.BusInfo, error) {
	s.calls++
	i := s.idx
	if i >= len(s.results) {
		i = len(s.results) - 1
	} else {
		s.idx++
	}
	return s.results[i], nil
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestEngine_HotplugEmitsConnectedOnce(t *testing.T) {
	reg := display.NewRegistry(fakeOpener)
	scanner := &scriptedScanner{results: [][]*display.BusInfo{
		{},
		{busWithEDID(1, "card0-DP-1")},
	}}
	e := NewEngine(reg, scanner.scan, nil, nil, DefaultConfig(), nil)
	e.sleepFn = noSleep

	events := make(chan Event, 10)
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	close(events)

	var connected int
	for ev := range events {
		if ev.Kind == DisplayConnected {
			connected++
		}
	}
	if connected != 1 {
		t.Fatalf("expected exactly one DISPLAY_CONNECTED event, got %d", connected)
	}
}

func TestEngine_DisconnectMarksRemoved(t *testing.T) {
	reg := display.NewRegistry(fakeOpener)
	settled := []*display.BusInfo{busWithEDID(1, "card0-DP-1")}
	scanner := &scriptedScanner{results: [][]*display.BusInfo{
		settled, settled,
		{}, {},
	}}
	e := NewEngine(reg, scanner.scan, nil, nil, DefaultConfig(), nil)
	e.sleepFn = noSleep

	events := make(chan Event, 10)
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	ref, ok := reg.ByBus(1)
	if !ok {
		t.Fatal("expected bus 1 to produce a display ref")
	}
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	close(events)

	if ref.State() != display.StateRemoved {
		t.Fatalf("state = %v, want REMOVED", ref.State())
	}
	var disconnected int
	for ev := range events {
		if ev.Kind == DisplayDisconnected {
			disconnected++
		}
	}
	if disconnected != 1 {
		t.Fatalf("expected one DISPLAY_DISCONNECTED event, got %d", disconnected)
	}
}

func TestEngine_StabilizeOscillatesThenSettles(t *testing.T) {
	reg := display.NewRegistry(fakeOpener)
	settled := []*display.BusInfo{busWithEDID(1, "card0-DP-1")}
	scanner := &scriptedScanner{results: [][]*display.BusInfo{
		settled, // top-of-reconcile scan: differs from the empty starting state
		{},      // oscillation during stabilize
		settled,
		settled, // two consecutive scans agree: stabilized
	}}
	e := NewEngine(reg, scanner.scan, nil, nil, DefaultConfig(), nil)
	e.sleepFn = noSleep

	events := make(chan Event, 10)
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	close(events)

	var connected int
	for ev := range events {
		if ev.Kind == DisplayConnected {
			connected++
		}
	}
	if connected != 1 {
		t.Fatalf("expected exactly one reconciliation event after oscillation, got %d", connected)
	}
	if len(e.lastStable) != 1 || e.lastStable[0].Number != 1 {
		t.Fatalf("final stable set should reflect the settled bus set, got %+v", e.lastStable)
	}
}

func TestEngine_DPMSFlipEmitsAsleep(t *testing.T) {
	reg := display.NewRegistry(fakeOpener)
	bus := busWithEDID(1, "card0-DP-1")
	scanner := &scriptedScanner{results: [][]*display.BusInfo{{bus}}}
	dpmsValues := []string{"on", "off"}
	call := 0
	dpms := func(connector string) (string, error) {
		v := dpmsValues[call]
		if call < len(dpmsValues)-1 {
			call++
		}
		return v, nil
	}
	e := NewEngine(reg, scanner.scan, dpms, nil, DefaultConfig(), nil)
	e.sleepFn = noSleep

	events := make(chan Event, 10)
	// First iteration establishes the baseline DPMS value (no flip yet).
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	// Second iteration observes the flip to "off".
	if err := e.reconcile(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	close(events)

	var asleep int
	for ev := range events {
		if ev.Kind == DPMSAsleep {
			asleep++
		}
	}
	if asleep != 1 {
		t.Fatalf("expected one DPMS_ASLEEP event, got %d", asleep)
	}
}
