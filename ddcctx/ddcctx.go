// Package ddcctx holds the cross-cutting, per-call and per-worker state
// that flows through every layer of the core without belonging to any
// one of them: call options, worker-local settings, and the root logger.
package ddcctx

import (
	"log/slog"
	"sync"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

// CallOptions is a bit-set passed through the stack controlling behavior
// the caller wants for one specific operation. It carries no state of its
// own and is copied by value.
type CallOptions uint32

const (
	// ErrMsg requests a human-readable message alongside the status code.
	ErrMsg CallOptions = 1 << iota
	// RDOnly opens the underlying bus read-only.
	RDOnly
	// WarnFIndex emits a warning if a display index argument is missing.
	WarnFIndex
	// Force proceeds even if the driver looks uncooperative.
	Force
	// Wait retries open on EBUSY instead of failing immediately.
	Wait
	// ForceSlaveAddr is a documented no-op: the ioctl-based bus
	// abstraction always sets the slave address explicitly, so there is
	// no "current address" state to force past. Kept for call-site
	// compatibility; using it logs a one-time warning (see WarnForceSlaveAddrOnce).
	ForceSlaveAddr
)

func (o CallOptions) Has(flag CallOptions) bool { return o&flag != 0 }

// SystemContext is the process-wide handle every worker derives its
// logger from. There is normally exactly one per process.
type SystemContext struct {
	Logger *slog.Logger

	forceSlaveAddrWarnOnce sync.Once
}

// NewSystemContext builds a SystemContext around logger. A nil logger
// falls back to slog.Default().
func NewSystemContext(logger *slog.Logger) *SystemContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemContext{Logger: logger}
}

// WarnForceSlaveAddrOnce logs, at most once per process, that
// FORCE_SLAVE_ADDR has no effect in this implementation.
func (s *SystemContext) WarnForceSlaveAddrOnce() {
	s.forceSlaveAddrWarnOnce.Do(func() {
		s.Logger.Warn("ddcctx: FORCE_SLAVE_ADDR has no effect; the bus abstraction always sets the slave address explicitly")
	})
}

// ThreadSettings is per-worker state: the most recent error tree produced
// for that worker. It stores no per-worker output sink; every worker gets
// the SystemContext's logger from WorkerLogger. Go has no stable
// goroutine-local storage, so callers that want per-worker settings pass
// an explicit token (e.g. a worker ID) identifying themselves; settings
// are released by an explicit Release call when the worker exits.
type ThreadSettings struct {
	values sync.Map // token -> *workerState
	sysCtx *SystemContext
}

type workerState struct {
	mu        sync.Mutex
	lastError *errcode.Info
}

// NewThreadSettings builds an empty ThreadSettings bound to sys.
func NewThreadSettings(sys *SystemContext) *ThreadSettings {
	return &ThreadSettings{sysCtx: sys}
}

// stateFor returns (creating if needed) the workerState for token.
func (t *ThreadSettings) stateFor(token any) *workerState {
	v, _ := t.values.LoadOrStore(token, &workerState{})
	return v.(*workerState)
}

// SetLastError records the most recent error tree produced by token's
// worker.
func (t *ThreadSettings) SetLastError(token any, err *errcode.Info) {
	ws := t.stateFor(token)
	ws.mu.Lock()
	ws.lastError = err
	ws.mu.Unlock()
}

// LastError returns the most recent error tree recorded for token, if
// any.
func (t *ThreadSettings) LastError(token any) (*errcode.Info, bool) {
	ws := t.stateFor(token)
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.lastError, ws.lastError != nil
}

// Release discards token's worker state. Workers must call this on exit
// so ThreadSettings does not grow unbounded over a long process
// lifetime.
func (t *ThreadSettings) Release(token any) {
	t.values.Delete(token)
}

// With derives a child logger for a specific call site, attaching the
// given key/value attributes rather than relying on package-level
// globals.
func (s *SystemContext) With(args ...any) *slog.Logger {
	return s.Logger.With(args...)
}

// WorkerLogger returns sys's logger for token's worker to use as its
// output sink. Every worker currently shares the same root logger;
// per-worker output-level preferences are layered on by the caller
// wrapping the returned logger's handler if needed.
func (t *ThreadSettings) WorkerLogger() *slog.Logger {
	return t.sysCtx.Logger
}
