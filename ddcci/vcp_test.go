package ddcci

import (
	"context"
	"errors"
	"testing"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

func TestGetVCPFeature_brightness(t *testing.T) {
	// Scenario: spec §8.1's literal Get Brightness reply, 6E 88 02 00 10
	// 00 00 64 00 32 ??  (reply opcode 02, result 00, feature 10, type
	// 00, max 0x0064=100, current 0x0032=50).
	reply := validReply([]byte{OpGetVCPFeatureReply, resultOK, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32})
	bus := &scriptedBus{reads: [][]byte{reply}}
	e := NewEngine(bus, fastPacer())

	v, err := e.GetVCPFeature(context.Background(), 0x10)
	if err != nil {
		t.Fatal(err)
	}
	if v.Max != 100 || v.Current != 50 || v.Type != 0 {
		t.Fatalf("got %+v", v)
	}
}

func TestGetVCPFeature_unsupportedIsPermanent(t *testing.T) {
	reply := validReply([]byte{OpGetVCPFeatureReply, resultUnsupportedFeature, 0x10, 0, 0, 0, 0, 0})
	bus := &scriptedBus{reads: [][]byte{reply}}
	e := NewEngine(bus, fastPacer()).WithMaxTries(5, 0, 0)

	_, err := e.GetVCPFeature(context.Background(), 0x10)
	var info *errcode.Info
	if !errors.As(err, &info) {
		t.Fatalf("expected *errcode.Info, got %v", err)
	}
	if info.Code != errcode.UnsupportedFeature {
		t.Fatalf("code = %v, want UNSUPPORTED_FEATURE", info.Code)
	}
	if len(bus.writes) != 1 {
		t.Fatalf("expected no retry after UNSUPPORTED_FEATURE, got %d writes", len(bus.writes))
	}
}

func TestGetVCPFeature_mismatchedFeatureCodeIsCorrupt(t *testing.T) {
	reply := validReply([]byte{OpGetVCPFeatureReply, resultOK, 0x12, 0, 0, 100, 0, 50})
	bus := &scriptedBus{reads: [][]byte{reply, reply, reply, reply, reply, reply, reply, reply, reply, reply}}
	e := NewEngine(bus, fastPacer())

	_, err := e.GetVCPFeature(context.Background(), 0x10)
	if errcode.Of(err) != errcode.Retries {
		t.Fatalf("expected retries exhausted on persistent mismatch, got %v", err)
	}
}

func TestSetVCPFeature_setBrightness(t *testing.T) {
	bus := &scriptedBus{}
	e := NewEngine(bus, fastPacer())

	if err := e.SetVCPFeature(context.Background(), 0x10, 75); err != nil {
		t.Fatal(err)
	}
	if len(bus.writes) != 1 {
		t.Fatalf("expected one write, got %d", len(bus.writes))
	}
	want := []byte{0x6e, 0x84, OpSetVCPFeature, 0x10, 0x00, 0x4b}
	want = append(want, checksum(want))
	if string(bus.writes[0]) != string(want) {
		t.Fatalf("got % x, want % x", bus.writes[0], want)
	}
}

func TestGetVCPVersion(t *testing.T) {
	reply := validReply([]byte{0x02, 0x01})
	bus := &scriptedBus{reads: [][]byte{reply}}
	e := NewEngine(bus, fastPacer())

	v, err := e.GetVCPVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v.Major != 2 || v.Minor != 1 || !v.Known() {
		t.Fatalf("got %+v", v)
	}
	if (Version{}).Known() {
		t.Fatal("zero Version should report unknown")
	}
}

func TestSaveCurrentSettings(t *testing.T) {
	bus := &scriptedBus{}
	e := NewEngine(bus, fastPacer())
	if err := e.SaveCurrentSettings(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(bus.writes) != 1 || bus.writes[0][2] != OpSaveCurrentSettings {
		t.Fatalf("unexpected writes: % x", bus.writes)
	}
}
