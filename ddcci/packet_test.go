package ddcci

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

func TestEncodeRequest_getBrightness(t *testing.T) {
	// Scenario: Get Brightness, feature 0x10.
	frame, err := EncodeRequest([]byte{OpGetVCPFeature, 0x10})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x6e, 0x82, 0x01, 0x10, 0xfd}
	if !bytes.Equal(frame, want) {
		t.Fatalf("got % x, want % x", frame, want)
	}
}

func TestEncodeRequest_rejectsEmptyAndOversizedPayloads(t *testing.T) {
	if _, err := EncodeRequest(nil); errcode.Of(err) != errcode.Arg {
		t.Fatalf("expected ARG for empty payload, got %v", err)
	}
	if _, err := EncodeRequest(make([]byte, 0x80)); errcode.Of(err) != errcode.Arg {
		t.Fatalf("expected ARG for oversized payload, got %v", err)
	}
}

func TestDecodeResponse_roundTrip(t *testing.T) {
	for _, payload := range [][]byte{
		{0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32},
		{},
		{0x01, 0x02, 0x03},
	} {
		frame := make([]byte, 0, len(payload)+3)
		frame = append(frame, hostToMonitorAddr, 0x80|byte(len(payload)))
		frame = append(frame, payload...)
		frame = append(frame, monitorToHostSeed^checksum(frame))

		got, err := DecodeResponse(frame)
		if err != nil {
			t.Fatalf("payload %v: %v", payload, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("got % x, want % x", got, payload)
		}
	}
}

func TestDecodeResponse_lengthByteBoundary(t *testing.T) {
	// High bit clear: rejected even if otherwise well formed.
	frame := []byte{hostToMonitorAddr, 0x00, 0}
	frame[2] = monitorToHostSeed ^ checksum(frame[:2])
	if _, err := DecodeResponse(frame); errcode.Of(err) != errcode.ResponseCorrupt {
		t.Fatalf("expected RESPONSE_CORRUPT, got %v", err)
	}

	// High bit set, zero length payload: a valid empty reply.
	frame = []byte{hostToMonitorAddr, 0x80, 0}
	frame[2] = monitorToHostSeed ^ checksum(frame[:2])
	payload, err := DecodeResponse(frame)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload) != 0 {
		t.Fatalf("expected empty payload, got % x", payload)
	}
}

func TestDecodeResponse_checksumMismatch(t *testing.T) {
	frame := []byte{hostToMonitorAddr, 0x82, 0x00, 0x10, 0x00}
	frame[len(frame)-1] = monitorToHostSeed ^ checksum(frame[:len(frame)-1])
	// Mutate a byte in the middle of the frame.
	frame[3] ^= 0xff
	if _, err := DecodeResponse(frame); errcode.Of(err) != errcode.ResponseCorrupt {
		t.Fatalf("expected RESPONSE_CORRUPT for a mutated frame, got %v", err)
	}
}

func TestDecodeResponse_shortFrame(t *testing.T) {
	if _, err := DecodeResponse([]byte{hostToMonitorAddr, 0x80}); !errors.Is(err, errcode.ResponseMissing) {
		t.Fatalf("expected RESPONSE_MISSING, got %v", err)
	}
}
