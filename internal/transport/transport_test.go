package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/iamhyc/serde-ipc/internal/dispatch"
	"github.com/iamhyc/serde-ipc/internal/loader"
	"github.com/iamhyc/serde-ipc/internal/manifest"
	"github.com/iamhyc/serde-ipc/internal/registry"
	"github.com/iamhyc/serde-ipc/internal/worker"
)

func TestHandshakeAndRoundTrip(t *testing.T) {
	bin, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available in test environment")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "svc.py")
	if err := os.WriteFile(src, []byte("def add(a, b):\n    return int(a) + int(b)\n"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	reg := registry.New()
	ld := &loader.Loader{PythonBin: bin}
	pool := worker.NewPool(2)
	defer pool.Stop()
	disp := dispatch.New(reg, ld, pool)

	meta := manifest.Metadata{
		Name:  "math",
		Class: manifest.ClassPython,
		Func:  []manifest.MetaFunc{{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}}},
	}
	handle, err := reg.Register("math", func() (*loader.LoadedService, error) { return ld.Load(src, meta) })
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &Server{addr: ln.Addr().String(), disp: disp, listener: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn)
		}
	}()
	defer srv.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	clientID := make([]byte, clientIDLen)
	copy(clientID, []byte("0123456789abcdef"))
	if _, err := conn.Write(clientID); err != nil {
		t.Fatalf("writing client id: %v", err)
	}

	echoed := make([]byte, clientIDLen)
	if _, err := io.ReadFull(conn, echoed); err != nil {
		t.Fatalf("reading echoed client id: %v", err)
	}
	if string(echoed) != string(clientID) {
		t.Fatalf("expected echoed client id to match, got %q", echoed)
	}

	if _, err := conn.Write([]byte{0x01}); err != nil {
		t.Fatalf("writing sentinel: %v", err)
	}

	req := dispatch.Request{
		ID:   "1",
		Sig:  strconv.FormatUint(uint64(handle), 10),
		Func: "add",
		Args: []json.RawMessage{json.RawMessage(`{"a":"2"}`), json.RawMessage(`{"b":"3"}`)},
	}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := writeFrame(conn, reqBytes); err != nil {
		t.Fatalf("writing request frame: %v", err)
	}

	respBytes, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		t.Fatalf("reading response frame: %v", err)
	}
	var resp dispatch.Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.OK || string(resp.Result) != "5" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
