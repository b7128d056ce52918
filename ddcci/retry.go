package ddcci

import (
	"context"
	"errors"
	"syscall"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

// DefaultMaxTries holds the MAX_TRIES ceilings for the three request
// shapes the engine speaks; reads stutter more than writes, and
// capabilities fragments get the most slack since a long string means
// more chances for a monitor to drop a fragment.
const (
	DefaultMaxTriesRead         = 10
	DefaultMaxTriesWrite        = 4
	DefaultMaxTriesCapabilities = 15
)

// Transport is the minimal bus contract the protocol engine needs: a slave
// address already selected by the caller (conn/i2c.Dev satisfies this).
type Transport interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
}

// Engine runs the DDC/CI per-request protocol and retry loop against a
// Transport, pacing every operation through a Pacer bound to the same bus.
type Engine struct {
	bus           Transport
	pacer         *Pacer
	maxTriesRead  int
	maxTriesWrite int
	maxTriesCaps  int
}

// NewEngine builds an Engine with the default MAX_TRIES ceilings.
func NewEngine(bus Transport, pacer *Pacer) *Engine {
	return &Engine{
		bus:           bus,
		pacer:         pacer,
		maxTriesRead:  DefaultMaxTriesRead,
		maxTriesWrite: DefaultMaxTriesWrite,
		maxTriesCaps:  DefaultMaxTriesCapabilities,
	}
}

// WithMaxTries overrides the MAX_TRIES ceilings; a zero value leaves the
// corresponding ceiling unchanged.
func (e *Engine) WithMaxTries(reads, writes, caps int) *Engine {
	if reads > 0 {
		e.maxTriesRead = reads
	}
	if writes > 0 {
		e.maxTriesWrite = writes
	}
	if caps > 0 {
		e.maxTriesCaps = caps
	}
	return e
}

// Transact runs payload through the per-request protocol, retrying
// transient failures up to the relevant MAX_TRIES ceiling. expectReply
// selects whether this is a read-producing request (Get*) or a
// write-only one (Set VCP Feature, Save Current Settings); useCapsLimit
// selects the Capabilities-specific ceiling over the ordinary read one.
//
// On success it returns the decoded reply payload (nil for write-only
// requests). On exhaustion it returns an errcode.Retries root whose
// Causes() are the per-attempt failures, in order.
func (e *Engine) Transact(ctx context.Context, op string, payload []byte, expectReply, useCapsLimit bool) ([]byte, error) {
	frame, err := EncodeRequest(payload)
	if err != nil {
		return nil, err
	}

	maxTries := e.maxTriesWrite
	switch {
	case useCapsLimit:
		maxTries = e.maxTriesCaps
	case expectReply:
		maxTries = e.maxTriesRead
	}

	var causes []*errcode.Info
	for attempt := 1; attempt <= maxTries; attempt++ {
		reply, aerr := e.attempt(ctx, op, frame, expectReply)
		if aerr == nil && payload[0] == OpGetVCPFeature && len(reply) >= 3 && reply[2] != payload[1] {
			aerr = errcode.New(errcode.ResponseCorrupt, op, "reply feature code does not match request")
		}
		if aerr == nil {
			e.pacer.OnSuccess()
			return reply, nil
		}
		info := asInfo(op, aerr)
		if !isTransient(info.Code) {
			return nil, info
		}
		causes = append(causes, info)
		e.pacer.OnFailure()
		if attempt < maxTries {
			if serr := e.pacer.Sleep(ctx, e.pacer.RetryDelay(attempt)); serr != nil {
				return nil, errcode.Wrap(errcode.Timeout, op, serr)
			}
		}
	}
	return nil, errcode.NewRetries(op, causes)
}

// attempt performs exactly one write (and, for read-producing requests,
// one read-with-one-stutter-retry) of the per-request protocol.
func (e *Engine) attempt(ctx context.Context, op string, frame []byte, expectReply bool) ([]byte, error) {
	if err := e.pacer.Wait(ctx); err != nil {
		return nil, errcode.Wrap(errcode.Timeout, op, err)
	}
	if _, err := e.bus.Write(frame); err != nil {
		return nil, classifyIOErr(op, err)
	}

	if !expectReply {
		if err := e.pacer.Sleep(ctx, DelayPostSet); err != nil {
			return nil, errcode.Wrap(errcode.Timeout, op, err)
		}
		return nil, nil
	}

	if err := e.pacer.Sleep(ctx, DelayWriteBeforeRead); err != nil {
		return nil, errcode.Wrap(errcode.Timeout, op, err)
	}
	raw, err := e.readReplyOnce(ctx, op)
	if err != nil {
		return nil, err
	}
	if err := e.pacer.Sleep(ctx, DelayPostRead); err != nil {
		return nil, errcode.Wrap(errcode.Timeout, op, err)
	}
	return DecodeResponse(raw)
}

// readReplyOnce reads one reply packet. A null (empty or all-zero) read
// followed by a valid read on an immediate retry is a known monitor idiom
// for "no response ready yet" and counts as a single attempt, not two.
func (e *Engine) readReplyOnce(ctx context.Context, op string) ([]byte, error) {
	buf := make([]byte, 64)
	n, err := e.bus.Read(buf)
	if err != nil {
		return nil, classifyIOErr(op, err)
	}
	if isNullReply(buf[:n]) {
		if err := e.pacer.Sleep(ctx, DelayWriteBeforeRead); err != nil {
			return nil, errcode.Wrap(errcode.Timeout, op, err)
		}
		n, err = e.bus.Read(buf)
		if err != nil {
			return nil, classifyIOErr(op, err)
		}
		if isNullReply(buf[:n]) {
			return nil, errcode.New(errcode.NullResponse, op, "no reply")
		}
	}
	if n < 3 {
		return nil, errcode.New(errcode.ResponseMissing, op, "short reply")
	}
	return buf[:n], nil
}

func isNullReply(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// classifyIOErr maps a transport-level error to the status code the retry
// loop uses to decide whether to try again.
func classifyIOErr(op string, err error) *errcode.Info {
	switch {
	case errors.Is(err, syscall.EIO):
		return errcode.Wrap(errcode.IOError, op, err)
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return errcode.Wrap(errcode.PermissionDenied, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errcode.Wrap(errcode.Timeout, op, err)
	default:
		return errcode.Wrap(errcode.IOError, op, err)
	}
}

// asInfo normalizes any error returned along the attempt path to an
// *errcode.Info, tagging foreign errors as INTERNAL.
func asInfo(op string, err error) *errcode.Info {
	if info, ok := err.(*errcode.Info); ok {
		return info
	}
	return errcode.Wrap(errcode.Internal, op, err)
}

// isTransient reports whether code should be retried rather than
// surfaced immediately.
func isTransient(code errcode.Code) bool {
	switch code {
	case errcode.Timeout, errcode.NullResponse, errcode.ResponseMissing, errcode.ResponseCorrupt, errcode.BusBusy:
		return true
	default:
		return false
	}
}
