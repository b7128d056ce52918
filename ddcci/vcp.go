package ddcci

import (
	"context"
	"encoding/binary"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

// Reply result-byte values for Get VCP Feature, per the MCCS wire format.
const (
	resultOK                 byte = 0x00
	resultUnsupportedFeature byte = 0x01
)

// VCPValue is the decoded reply to a Get VCP Feature request. Values are
// returned raw: interpreting them against a feature's metadata (continuous
// vs non-continuous, named values) is a caller concern.
type VCPValue struct {
	FeatureCode byte
	Type        byte
	Max         uint16
	Current     uint16
}

// Version is a monitor's negotiated MCCS/VCP spec version, as reported by
// Get VCP Version. The zero Version means "unknown": bootstrap treats a
// failure to query it as non-fatal.
type Version struct {
	Major byte
	Minor byte
}

func (v Version) Known() bool { return v.Major != 0 || v.Minor != 0 }

// GetVCPFeature issues opcode 0x01 for featureCode and decodes the 8-byte
// reply (reply opcode, result, feature, type, max-hi, max-lo, cur-hi,
// cur-lo). A result byte reporting UNSUPPORTED_FEATURE is a permanent
// failure and is not retried past the attempt that observed it.
func (e *Engine) GetVCPFeature(ctx context.Context, featureCode byte) (VCPValue, error) {
	payload, err := e.Transact(ctx, "ddcci.GetVCPFeature", []byte{OpGetVCPFeature, featureCode}, true, false)
	if err != nil {
		return VCPValue{}, err
	}
	if len(payload) != 8 {
		return VCPValue{}, errcode.New(errcode.ResponseCorrupt, "ddcci.GetVCPFeature", "unexpected reply length")
	}
	if payload[0] != OpGetVCPFeatureReply {
		return VCPValue{}, errcode.New(errcode.ResponseCorrupt, "ddcci.GetVCPFeature", "unexpected opcode in reply")
	}
	result := payload[1]
	if result == resultUnsupportedFeature {
		return VCPValue{}, errcode.New(errcode.UnsupportedFeature, "ddcci.GetVCPFeature", "monitor reports feature unsupported")
	}
	if result != resultOK {
		return VCPValue{}, errcode.New(errcode.ResponseCorrupt, "ddcci.GetVCPFeature", "unrecognized result byte")
	}
	replyFeature := payload[2]
	if replyFeature != featureCode {
		return VCPValue{}, errcode.New(errcode.ResponseCorrupt, "ddcci.GetVCPFeature", "reply feature code does not match request")
	}
	return VCPValue{
		FeatureCode: replyFeature,
		Type:        payload[3],
		Max:         binary.BigEndian.Uint16(payload[4:6]),
		Current:     binary.BigEndian.Uint16(payload[6:8]),
	}, nil
}

// SetVCPFeature issues opcode 0x03 for featureCode with the given value.
// The request is write-only: a successful Transact means the monitor
// accepted the write, not that it applied cleanly.
func (e *Engine) SetVCPFeature(ctx context.Context, featureCode byte, value uint16) error {
	payload := []byte{OpSetVCPFeature, featureCode, byte(value >> 8), byte(value)}
	_, err := e.Transact(ctx, "ddcci.SetVCPFeature", payload, false, false)
	return err
}

// SaveCurrentSettings issues opcode 0x07, asking the monitor to persist
// its current VCP values to non-volatile memory.
func (e *Engine) SaveCurrentSettings(ctx context.Context) error {
	_, err := e.Transact(ctx, "ddcci.SaveCurrentSettings", []byte{OpSaveCurrentSettings}, false, false)
	if err != nil {
		return err
	}
	return e.pacer.Sleep(ctx, DelayPostSaveCurrentSettings)
}

// GetVCPVersion issues opcode 0xF1. Per the bootstrap contract, a failure
// here is not itself fatal to a display; callers should record Version{}
// (unknown) rather than treat the error as DDC_DISABLED.
func (e *Engine) GetVCPVersion(ctx context.Context) (Version, error) {
	payload, err := e.Transact(ctx, "ddcci.GetVCPVersion", []byte{OpGetVCPVersion}, true, false)
	if err != nil {
		return Version{}, err
	}
	if len(payload) < 2 {
		return Version{}, errcode.New(errcode.ResponseCorrupt, "ddcci.GetVCPVersion", "unexpected reply length")
	}
	return Version{Major: payload[0], Minor: payload[1]}, nil
}

// ProbeBrightness performs the one required-feature probe (0x10,
// brightness) bootstrap uses to confirm a monitor actually speaks
// DDC/CI. A permanent failure here means the display should be marked
// DDC_COMMUNICATION_CHECKED with DDC_COMMUNICATION_WORKING cleared.
func (e *Engine) ProbeBrightness(ctx context.Context) error {
	_, err := e.GetVCPFeature(ctx, 0x10)
	return err
}
