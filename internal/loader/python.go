package loader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
)

// bootstrap is the program the interpreter runs (passed with -c, with the
// service's source path as its argument). It loads the service's source once under a stable module name, then
// services one call request per line of stdin as a JSON object
// {"func": <name>, "args": [<json value>...]}, writing one JSON response
// line {"ok": true, "result": <value>} or {"ok": false, "error": <string>}.
const bootstrap = `
import sys, json, importlib.util

spec = importlib.util.spec_from_loader("__ffi_service__", loader=None)
module = importlib.util.module_from_spec(spec)
with open(sys.argv[1], "r") as f:
    exec(compile(f.read(), sys.argv[1], "exec"), module.__dict__)

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    try:
        req = json.loads(line)
        fn = getattr(module, req["func"])
        result = fn(*req["args"])
        sys.stdout.write(json.dumps({"ok": True, "result": result}) + "\n")
    except Exception as e:
        sys.stdout.write(json.dumps({"ok": False, "error": str(e)}) + "\n")
    sys.stdout.flush()
`

// pythonProcess is a single long-lived interpreter hosting one scripted
// service's module, serving calls line by line over stdin/stdout.
type pythonProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	mu sync.Mutex
}

func startPythonProcess(bin, sourcePath string) (*pythonProcess, error) {
	cmd := exec.Command(bin, "-c", bootstrap, sourcePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &pythonProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

type scriptRequest struct {
	Func string            `json:"func"`
	Args []json.RawMessage `json:"args"`
}

type scriptResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// call invokes funcName with the given JSON-encoded argument values. It
// holds p.mu for the whole write/read round trip, so concurrent calls
// against the same process are serialized (the interpreter's single-thread
// rule, spec §9).
func (p *pythonProcess) call(funcName string, args []json.RawMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := scriptRequest{Func: funcName, Args: args}
	line, err := json.Marshal(req)
	if err != nil {
		return "", ffierr.Wrap(ffierr.KindMarshalFailure, err, "encoding call to %s", funcName)
	}

	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		return "", ffierr.Wrap(ffierr.KindABIFailure, err, "writing call to interpreter")
	}

	respLine, err := p.stdout.ReadString('\n')
	if err != nil {
		return "", ffierr.Wrap(ffierr.KindABIFailure, err, "reading interpreter response")
	}

	var resp scriptResponse
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		return "", ffierr.Wrap(ffierr.KindMarshalFailure, err, "decoding interpreter response")
	}
	if !resp.OK {
		return "", ffierr.New(ffierr.KindCalleeError, "%s", resp.Error)
	}
	return string(resp.Result), nil
}

// stop closes stdin, which ends the interpreter's read loop, then waits for
// a clean exit before falling back to a kill.
func (p *pythonProcess) stop() error {
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing interpreter: %w", err)
		}
		return <-done
	}
}
