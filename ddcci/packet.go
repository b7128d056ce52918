// Package ddcci implements the DDC/CI protocol engine: packet framing and
// checksums, the per-request pacing and retry loop, and the VCP/
// capabilities operations built on top of it.
package ddcci

import "github.com/ddcutil-go/ddcutil/ddcci/errcode"

// I2C slave addresses used by every DDC/CI transaction.
const (
	SlaveAddrDDC  uint16 = 0x37
	SlaveAddrEDID uint16 = 0x50
)

// Addresses embedded in the on-wire frame itself, distinct from the I2C
// slave address used to reach the device.
const (
	hostToMonitorAddr byte = 0x6e
	monitorToHostSeed byte = 0x50
)

// Opcodes for the request types the engine speaks.
const (
	OpGetVCPFeature       byte = 0x01
	OpSetVCPFeature       byte = 0x03
	OpSaveCurrentSettings byte = 0x07
	OpCapabilitiesReply   byte = 0xe3
	OpGetCapabilities     byte = 0xf3
	OpGetVCPVersion       byte = 0xf1
)

// OpGetVCPFeatureReply is the reply opcode a Get VCP Feature reply leads
// with, distinct from the 0x01 request opcode above.
const OpGetVCPFeatureReply byte = 0x02

// EncodeRequest frames a host-to-monitor payload. payload's first byte is
// always the opcode; what follows are the opcode's arguments.
//
// frame = dest_addr, (0x80|len), payload..., checksum, where checksum is
// the running XOR of every preceding byte in the frame.
func EncodeRequest(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > 0x7f {
		return nil, errcode.New(errcode.Arg, "ddcci.EncodeRequest", "payload length out of range")
	}
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, hostToMonitorAddr, 0x80|byte(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, checksum(frame))
	return frame, nil
}

// DecodeResponse validates and strips the framing of a monitor reply,
// returning the payload bytes. Opcode/feature-code matching against the
// original request is the caller's responsibility (see Transact in
// retry.go and vcp.go) since this layer knows nothing about which request
// produced the frame.
func DecodeResponse(frame []byte) (payload []byte, err error) {
	if len(frame) < 3 {
		return nil, errcode.New(errcode.ResponseMissing, "ddcci.DecodeResponse", "short frame")
	}
	if frame[0] != hostToMonitorAddr {
		return nil, errcode.New(errcode.ResponseCorrupt, "ddcci.DecodeResponse", "unexpected source address")
	}
	lenByte := frame[1]
	if lenByte&0x80 == 0 {
		return nil, errcode.New(errcode.ResponseCorrupt, "ddcci.DecodeResponse", "length byte missing high bit")
	}
	n := int(lenByte & 0x7f)
	if len(frame) != n+3 {
		return nil, errcode.New(errcode.ResponseCorrupt, "ddcci.DecodeResponse", "frame length doesn't match length byte")
	}
	body := frame[:len(frame)-1]
	want := monitorToHostSeed ^ checksum(body)
	got := frame[len(frame)-1]
	if want != got {
		return nil, errcode.New(errcode.ResponseCorrupt, "ddcci.DecodeResponse", "checksum mismatch")
	}
	return frame[2 : 2+n], nil
}

func checksum(b []byte) byte {
	var c byte
	for _, v := range b {
		c ^= v
	}
	return c
}
