package dispatch

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/loader"
	"github.com/iamhyc/serde-ipc/internal/manifest"
	"github.com/iamhyc/serde-ipc/internal/registry"
	"github.com/iamhyc/serde-ipc/internal/worker"
)

func findPython(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available in test environment")
	}
	return path
}

type harness struct {
	reg    *registry.Registry
	ld     *loader.Loader
	pool   *worker.Pool
	disp   *Dispatcher
	source string
}

func newHarness(t *testing.T, body string, funcs []manifest.MetaFunc) (*harness, registry.Handle) {
	t.Helper()
	bin := findPython(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "svc.py")
	if err := os.WriteFile(src, []byte(body), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	reg := registry.New()
	ld := &loader.Loader{PythonBin: bin}
	pool := worker.NewPool(2)
	disp := New(reg, ld, pool)

	meta := manifest.Metadata{Name: "math", Class: manifest.ClassPython, Func: funcs}
	handle, err := reg.Register("math", func() (*loader.LoadedService, error) {
		return ld.Load(src, meta)
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	return &harness{reg: reg, ld: ld, pool: pool, disp: disp, source: src}, handle
}

func handleString(h registry.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func waitResponse(t *testing.T, disp *Dispatcher, req Request) Response {
	t.Helper()
	respCh := make(chan Response, 1)
	disp.Dispatch(req, func(r Response) { respCh <- r })
	select {
	case r := <-respCh:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch response")
		return Response{}
	}
}

func TestDispatchSingleCall(t *testing.T) {
	h, handle := newHarness(t, "def add(a, b):\n    return int(a) + int(b)\n", []manifest.MetaFunc{
		{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
	})
	defer h.pool.Stop()

	req := Request{
		ID:   "1",
		Sig:  handleString(handle),
		Func: "add",
		Args: []json.RawMessage{json.RawMessage(`{"a":"2"}`), json.RawMessage(`{"b":"3"}`)},
	}
	resp := waitResponse(t, h.disp, req)
	if !resp.OK {
		t.Fatalf("expected success, got error %+v", resp.Error)
	}
	if string(resp.Result) != "5" {
		t.Fatalf("expected result 5, got %s", resp.Result)
	}
}

func TestDispatchStaleHandle(t *testing.T) {
	h, handle := newHarness(t, "def add(a, b):\n    return int(a) + int(b)\n", []manifest.MetaFunc{
		{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
	})
	defer h.pool.Stop()

	if err := h.reg.Unregister(handle); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	req := Request{ID: "2", Sig: handleString(handle), Func: "add", Args: []json.RawMessage{json.RawMessage(`{"a":"1"}`), json.RawMessage(`{"b":"1"}`)}}
	resp := waitResponse(t, h.disp, req)
	if resp.OK {
		t.Fatal("expected a stale handle error")
	}
	if resp.Error.Kind != string(ffierr.KindStaleHandle) {
		t.Fatalf("expected stale_handle, got %s", resp.Error.Kind)
	}
}

func TestDispatchArityMismatchServiceSurvives(t *testing.T) {
	h, handle := newHarness(t, "def add(a, b):\n    return int(a) + int(b)\n", []manifest.MetaFunc{
		{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
	})
	defer h.pool.Stop()

	bad := Request{
		ID:   "3",
		Sig:  handleString(handle),
		Func: "add",
		Args: []json.RawMessage{json.RawMessage(`{"a":"1"}`), json.RawMessage(`{"b":"1"}`), json.RawMessage(`{"c":"1"}`)},
	}
	resp := waitResponse(t, h.disp, bad)
	if resp.OK || resp.Error.Kind != string(ffierr.KindArityMismatch) {
		t.Fatalf("expected arity_mismatch, got %+v", resp)
	}

	good := Request{ID: "4", Sig: handleString(handle), Func: "add", Args: []json.RawMessage{json.RawMessage(`{"a":"4"}`), json.RawMessage(`{"b":"5"}`)}}
	resp2 := waitResponse(t, h.disp, good)
	if !resp2.OK || string(resp2.Result) != "9" {
		t.Fatalf("expected the service to remain usable after an arity mismatch, got %+v", resp2)
	}
}

func TestDispatchChain(t *testing.T) {
	body := "def double(x):\n    return int(x) * 2\n\ndef inc(y):\n    return int(y) + 1\n"
	h, handle := newHarness(t, body, []manifest.MetaFunc{
		{Name: "double", Args: []manifest.Param{{"x": "int"}}},
		{Name: "inc", Args: []manifest.Param{{"y": "int"}}},
	})
	defer h.pool.Stop()

	req := Request{
		ID: "5",
		Chain: []Descriptor{
			{Sig: handleString(handle), Func: "double", Args: []json.RawMessage{json.RawMessage(`{"x":"7"}`)}},
			{Sig: handleString(handle), Func: "inc", Args: []json.RawMessage{json.RawMessage(`{"y":{"$ref":0}}`)}},
		},
	}
	resp := waitResponse(t, h.disp, req)
	if !resp.OK {
		t.Fatalf("expected success, got error %+v", resp.Error)
	}
	if string(resp.Result) != "15" {
		t.Fatalf("expected chained result 15, got %s", resp.Result)
	}
}
