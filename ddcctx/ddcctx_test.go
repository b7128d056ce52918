package ddcctx

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
)

func TestCallOptions_Has(t *testing.T) {
	opts := RDOnly | Wait
	if !opts.Has(RDOnly) || !opts.Has(Wait) {
		t.Fatal("expected both flags set")
	}
	if opts.Has(Force) {
		t.Fatal("did not expect Force set")
	}
}

func TestThreadSettings_SetAndReleaseIsolatesTokens(t *testing.T) {
	sys := NewSystemContext(nil)
	ts := NewThreadSettings(sys)

	ts.SetLastError("worker-a", errcode.New(errcode.Arg, "op", "bad"))
	if _, ok := ts.LastError("worker-b"); ok {
		t.Fatal("worker-b should have no recorded error")
	}
	got, ok := ts.LastError("worker-a")
	if !ok || got.Code != errcode.Arg {
		t.Fatalf("got %v, ok=%v", got, ok)
	}

	ts.Release("worker-a")
	if _, ok := ts.LastError("worker-a"); ok {
		t.Fatal("expected state to be gone after Release")
	}
}

func TestSystemContext_WarnForceSlaveAddrOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sys := NewSystemContext(logger)

	sys.WarnForceSlaveAddrOnce()
	sys.WarnForceSlaveAddrOnce()
	sys.WarnForceSlaveAddrOnce()

	n := bytes.Count(buf.Bytes(), []byte("FORCE_SLAVE_ADDR"))
	if n != 1 {
		t.Fatalf("expected exactly one warning line, got %d", n)
	}
}
