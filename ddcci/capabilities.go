package ddcci

import (
	"context"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

// capabilitiesFragmentMax is the largest text payload a single
// Capabilities Reply fragment carries.
const capabilitiesFragmentMax = 32

// GetCapabilities assembles the monitor's capabilities string by issuing
// Get Capabilities (0xF3) requests at monotonically increasing offsets
// until a fragment comes back with zero payload bytes, concatenating the
// fragments in offset order. A fragment whose offset does not match the
// next expected offset is RESPONSE_MISSING; that single offset is
// re-requested (up to the capabilities MAX_TRIES ceiling) rather than
// restarting the whole assembly.
func (e *Engine) GetCapabilities(ctx context.Context) (string, error) {
	var out []byte
	offset := uint16(0)
	for {
		fragment, err := e.fetchCapabilitiesFragment(ctx, offset)
		if err != nil {
			return "", err
		}
		if len(fragment) == 0 {
			break
		}
		out = append(out, fragment...)
		offset += uint16(len(fragment))
		if err := e.pacer.Sleep(ctx, DelayBetweenCapsFragments); err != nil {
			return "", errcode.Wrap(errcode.Timeout, "ddcci.GetCapabilities", err)
		}
	}
	return string(out), nil
}

// fetchCapabilitiesFragment retrieves the fragment at offset, retrying
// from this same offset if the monitor replies with a different one.
func (e *Engine) fetchCapabilitiesFragment(ctx context.Context, offset uint16) ([]byte, error) {
	var causes []*errcode.Info
	for attempt := 1; attempt <= e.maxTriesCaps; attempt++ {
		payload := []byte{OpGetCapabilities, byte(offset >> 8), byte(offset)}
		reply, err := e.Transact(ctx, "ddcci.GetCapabilities", payload, true, true)
		if err != nil {
			return nil, err
		}
		fragment, fragOffset, ferr := decodeCapabilitiesFragment(reply)
		if ferr != nil {
			return nil, ferr
		}
		if fragOffset == offset {
			return fragment, nil
		}
		info := errcode.New(errcode.ResponseMissing, "ddcci.GetCapabilities", "fragment offset mismatch")
		causes = append(causes, info)
		e.pacer.OnFailure()
		if attempt < e.maxTriesCaps {
			if serr := e.pacer.Sleep(ctx, e.pacer.RetryDelay(attempt)); serr != nil {
				return nil, errcode.Wrap(errcode.Timeout, "ddcci.GetCapabilities", serr)
			}
		}
	}
	return nil, errcode.NewRetries("ddcci.GetCapabilities", causes)
}

// decodeCapabilitiesFragment parses a Capabilities Reply (0xE3) payload:
// opcode byte, offset-hi, offset-lo, then up to capabilitiesFragmentMax
// text bytes.
func decodeCapabilitiesFragment(reply []byte) (fragment []byte, offset uint16, err error) {
	if len(reply) < 3 {
		return nil, 0, errcode.New(errcode.ResponseCorrupt, "ddcci.GetCapabilities", "short capabilities fragment")
	}
	if reply[0] != OpCapabilitiesReply {
		return nil, 0, errcode.New(errcode.ResponseCorrupt, "ddcci.GetCapabilities", "unexpected opcode in capabilities reply")
	}
	offset = uint16(reply[1])<<8 | uint16(reply[2])
	text := reply[3:]
	if len(text) > capabilitiesFragmentMax {
		return nil, 0, errcode.New(errcode.ResponseCorrupt, "ddcci.GetCapabilities", "fragment exceeds maximum size")
	}
	return text, offset, nil
}
