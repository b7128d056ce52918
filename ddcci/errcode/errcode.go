// Package errcode implements the closed error taxonomy shared by every
// layer of the DDC/CI core: a stable status Code plus a tree-shaped error
// type so a retry loop's exhausted attempts can be reported without losing
// each attempt's individual cause.
package errcode

import "strings"

// Code is a stable, caller-facing status identifier. It is a string
// newtype, comparable, and allocation-free to construct.
type Code string

func (c Code) Error() string { return string(c) }

// The closed set of status codes. Every operation either succeeds or
// returns an *Info whose root Code is one of these.
const (
	OK                 Code = "OK"
	Arg                Code = "ARG"
	InvalidOperation   Code = "INVALID_OPERATION"
	DeviceNotFound     Code = "DEVICE_NOT_FOUND"
	PermissionDenied   Code = "PERMISSION_DENIED"
	BusBusy            Code = "BUS_BUSY"
	DDCDisabled        Code = "DDC_DISABLED"
	NullResponse       Code = "NULL_RESPONSE"
	ResponseCorrupt    Code = "RESPONSE_CORRUPT"
	ResponseMissing    Code = "RESPONSE_MISSING"
	IOError            Code = "IO_ERROR"
	Timeout            Code = "TIMEOUT"
	UnsupportedFeature Code = "UNSUPPORTED_FEATURE"
	Retries            Code = "RETRIES"
	Internal           Code = "INTERNAL"
)

// Info is the tree-shaped error every fallible operation returns. It
// implements error (so it composes with errors.Is/errors.As and
// fmt.Errorf("%w", ...)) while still exposing the explicit Causes() a
// RETRIES root needs to enumerate each exhausted attempt.
type Info struct {
	Code    Code
	Op      string
	Msg     string
	wrapped error
	causes  []*Info
}

// New builds a leaf Info: no wrapped error, no causes.
func New(code Code, op, msg string) *Info {
	return &Info{Code: code, Op: op, Msg: msg}
}

// Wrap builds an Info that carries an underlying non-taxonomy error (e.g. a
// syscall failure) as its cause, reachable via errors.Unwrap/errors.As.
func Wrap(code Code, op string, err error) *Info {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Info{Code: code, Op: op, Msg: msg, wrapped: err}
}

// NewRetries builds a RETRIES root from the ordered list of per-attempt
// failures that exhausted a retry loop.
func NewRetries(op string, attempts []*Info) *Info {
	return &Info{Code: Retries, Op: op, Msg: "retries exhausted", causes: attempts}
}

func (e *Info) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteByte(')')
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Unwrap exposes the wrapped non-taxonomy cause, if any, to errors.Is/As.
func (e *Info) Unwrap() error { return e.wrapped }

// Causes returns the ordered per-attempt failures under a RETRIES root. It
// is nil for every other code.
func (e *Info) Causes() []*Info { return e.causes }

// Is reports whether target is the same status Code, so errors.Is(err,
// errcode.Timeout) works without callers reaching into the tree by hand.
func (e *Info) Is(target error) bool {
	c, ok := target.(Code)
	return ok && e.Code == c
}

// Of extracts the root Code from an error, defaulting to Internal for
// errors outside the taxonomy (a programming error: every boundary should
// translate foreign errors to an *Info before returning).
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if e, ok := err.(*Info); ok {
		return e.Code
	}
	if c, ok := err.(Code); ok {
		return c
	}
	return Internal
}

// exitCodes assigns every non-OK Code a 1-255 process exit status. The
// ordering has no semantic meaning beyond being stable across a process
// lifetime; callers asking "why did it exit 5" go through this table, not
// the other way around.
var exitCodes = map[Code]int{
	Arg:                1,
	InvalidOperation:   2,
	DeviceNotFound:     3,
	PermissionDenied:   4,
	BusBusy:            5,
	DDCDisabled:        6,
	NullResponse:       7,
	ResponseCorrupt:    8,
	ResponseMissing:    9,
	IOError:            10,
	Timeout:            11,
	UnsupportedFeature: 12,
	Retries:            13,
	Internal:           14,
}

// ExitCode maps err to the process exit status the CLI contract requires:
// 0 on success, otherwise the root Code's assigned status when it has one,
// falling back to 1 for a Code missing from the table. An error outside
// the taxonomy counts as Internal (see Of) and so exits with Internal's
// status.
func ExitCode(err error) int {
	code := Of(err)
	if code == OK {
		return 0
	}
	if n, ok := exitCodes[code]; ok {
		return n
	}
	return 1
}
