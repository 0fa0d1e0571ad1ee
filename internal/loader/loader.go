package loader

import (
	"encoding/json"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/manifest"
	"github.com/iamhyc/serde-ipc/pkg/logging"
)

const subsystem = "Loader"

// maxArity and minArity bound the entry-point arities the loader resolves
// (spec §4.3). A function declared outside this range is a load-time error
// for that one function; sibling functions remain usable.
const (
	minArity = 0
	maxArity = 5
)

// boundFunc is one entry-point resolution outcome, good or bad. Keeping the
// per-function error alongside the symbol means a bad bind does not fail
// the whole service load.
type boundFunc struct {
	meta manifest.MetaFunc
	sym  uintptr
	err  error
}

// LoadedService is the in-memory realisation of an installed service: a
// tagged union of a native dlopen handle or a scripted interpreter process,
// plus its resolved entry points.
type LoadedService struct {
	Name  string
	Class manifest.Class

	handle uintptr // native only; 0 for scripted
	script *pythonProcess

	funcs map[string]*boundFunc

	mu     sync.Mutex // serializes calls into a scripted interpreter (single-thread rule, spec §9)
	closed bool
}

// Loader opens entry files and binds their declared functions.
type Loader struct {
	// PythonBin is the interpreter binary used for scripted services.
	// Defaults to "python3" when empty.
	PythonBin string
}

// New returns a Loader using "python3" for scripted services.
func New() *Loader {
	return &Loader{PythonBin: "python3"}
}

// Load opens entryPath according to metadata.Class and binds every declared
// function, recording per-function bind failures without aborting the load.
func (l *Loader) Load(entryPath string, metadata manifest.Metadata) (*LoadedService, error) {
	switch metadata.Class {
	case manifest.ClassC, manifest.ClassCPP, manifest.ClassRust:
		return l.loadNative(entryPath, metadata)
	case manifest.ClassPython:
		return l.loadScripted(entryPath, metadata)
	default:
		return nil, ffierr.New(ffierr.KindUnsupportedClass, "unsupported service class %q", metadata.Class)
	}
}

func (l *Loader) loadNative(entryPath string, metadata manifest.Metadata) (*LoadedService, error) {
	handle, err := purego.Dlopen(entryPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, ffierr.Wrap(ffierr.KindOpenFailed, err, "opening %s", entryPath)
	}

	ls := &LoadedService{
		Name:   metadata.Name,
		Class:  metadata.Class,
		handle: handle,
		funcs:  make(map[string]*boundFunc, len(metadata.Func)),
	}

	for _, fn := range metadata.Func {
		bf := &boundFunc{meta: fn}
		if fn.Arity() < minArity || fn.Arity() > maxArity {
			bf.err = ffierr.New(ffierr.KindArityMismatch, "function %q declares unsupported arity %d", fn.Name, fn.Arity())
		} else if sym, err := purego.Dlsym(handle, fn.Name); err != nil {
			bf.err = ffierr.Wrap(ffierr.KindUnknownFunction, err, "resolving symbol %q", fn.Name)
		} else {
			bf.sym = sym
		}
		ls.funcs[fn.Name] = bf
	}

	return ls, nil
}

func (l *Loader) loadScripted(entryPath string, metadata manifest.Metadata) (*LoadedService, error) {
	bin := l.PythonBin
	if bin == "" {
		bin = "python3"
	}

	proc, err := startPythonProcess(bin, entryPath)
	if err != nil {
		return nil, ffierr.Wrap(ffierr.KindOpenFailed, err, "starting interpreter for %s", entryPath)
	}

	ls := &LoadedService{
		Name:   metadata.Name,
		Class:  metadata.Class,
		script: proc,
		funcs:  make(map[string]*boundFunc, len(metadata.Func)),
	}
	for _, fn := range metadata.Func {
		bf := &boundFunc{meta: fn}
		if fn.Arity() < minArity || fn.Arity() > maxArity {
			bf.err = ffierr.New(ffierr.KindArityMismatch, "function %q declares unsupported arity %d", fn.Name, fn.Arity())
		}
		ls.funcs[fn.Name] = bf
	}
	return ls, nil
}

// DegradedFuncs returns the count of declared functions whose bind failed at
// load time. Those functions report their bind error on every Call; the
// rest of the service remains usable.
func (ls *LoadedService) DegradedFuncs() int {
	n := 0
	for _, bf := range ls.funcs {
		if bf.err != nil {
			n++
		}
	}
	return n
}

// Close releases the resources a LoadedService holds: the dlopen handle or
// the interpreter subprocess. It is idempotent.
func (ls *LoadedService) Close() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.closed {
		return nil
	}
	ls.closed = true

	if ls.script != nil {
		return ls.script.stop()
	}
	if ls.handle != 0 {
		return purego.Dlclose(ls.handle)
	}
	return nil
}

// Arg is one positional call argument: the declared parameter label paired
// with its JSON-encoded value, extracted from the wire's single-key object
// shape (spec §4.3's "Argument shape").
type Arg struct {
	Label string
	Value json.RawMessage
}

// ExtractArg reads a single-key JSON object {"<label>": <value>} off the
// wire into an Arg.
func ExtractArg(obj json.RawMessage) (Arg, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(obj, &m); err != nil {
		return Arg{}, ffierr.Wrap(ffierr.KindMarshalFailure, err, "argument is not a JSON object")
	}
	if len(m) != 1 {
		return Arg{}, ffierr.New(ffierr.KindMarshalFailure, "argument object must carry exactly one key, got %d", len(m))
	}
	for k, v := range m {
		return Arg{Label: k, Value: v}, nil
	}
	panic("unreachable")
}

// Call invokes funcName on ls with the given positional arguments and
// returns its result as a string (formatted into the response envelope by
// the caller per spec §6's rule).
func (l *Loader) Call(ls *LoadedService, funcName string, args []Arg) (string, error) {
	bf, ok := ls.funcs[funcName]
	if !ok {
		return "", ffierr.New(ffierr.KindUnknownFunction, "no such function %q", funcName)
	}
	if bf.err != nil {
		return "", bf.err
	}
	if len(args) != bf.meta.Arity() {
		return "", ffierr.New(ffierr.KindArityMismatch, "function %q expects %d arguments, got %d", funcName, bf.meta.Arity(), len(args))
	}

	switch ls.Class {
	case manifest.ClassC, manifest.ClassCPP:
		return callCString(ls, bf, args)
	case manifest.ClassRust:
		return callRustString(ls, bf, args)
	case manifest.ClassPython:
		return callScripted(ls, funcName, args)
	default:
		return "", ffierr.New(ffierr.KindUnsupportedClass, "unsupported class %q", ls.Class)
	}
}

// cString converts a Go string into a NUL-terminated byte buffer suitable
// for passing to native code, returning both the pointer and the backing
// slice (the caller must keep the slice alive with runtime.KeepAlive across
// the native call, since nothing else pins it).
func cString(s string) (uintptr, []byte) {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return uintptr(unsafe.Pointer(&b[0])), b
}

// stringValue extracts the bare string representation of a JSON value: the
// unquoted text for a JSON string, or the literal token for any other JSON
// type (number, bool, null, object, array).
func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func callCString(ls *LoadedService, bf *boundFunc, args []Arg) (string, error) {
	argPtrs := make([]uintptr, len(args))
	keepAlive := make([][]byte, len(args))
	for i, a := range args {
		ptr, buf := cString(stringValue(a.Value))
		argPtrs[i] = ptr
		keepAlive[i] = buf
	}

	ret, _, errno := purego.SyscallN(bf.sym, argPtrs...)
	runtime.KeepAlive(keepAlive) // kept alive until after SyscallN returns
	if errno != 0 {
		return "", ffierr.New(ffierr.KindABIFailure, "calling %q: errno %d", bf.meta.Name, errno)
	}
	if ret == 0 {
		return "", ffierr.New(ffierr.KindCalleeError, "%q returned a null result", bf.meta.Name)
	}
	return goStringFromCString(ret), nil
}

func callRustString(ls *LoadedService, bf *boundFunc, args []Arg) (string, error) {
	argPtrs := make([]uintptr, len(args))
	keepAlive := make([][]byte, len(args))
	for i, a := range args {
		ptr, buf := cString(string(a.Value))
		argPtrs[i] = ptr
		keepAlive[i] = buf
	}

	ret, _, errno := purego.SyscallN(bf.sym, argPtrs...)
	runtime.KeepAlive(keepAlive)
	if errno != 0 {
		return "", ffierr.New(ffierr.KindABIFailure, "calling %q: errno %d", bf.meta.Name, errno)
	}
	if ret == 0 {
		return "", ffierr.New(ffierr.KindCalleeError, "%q returned a null result", bf.meta.Name)
	}

	result := goStringFromCString(ret)
	freeRustString(ls, bf.meta.Name, ret)
	return result, nil
}

// freeRustString releases a heap string the callee returned, per the
// companion "<func>_free" convention. If no such symbol is exported the
// string is leaked and a warning logged (spec §9, option i fallback to the
// preferred option ii). The lookup and the warning happen on every call;
// repeated warnings for the same function are not suppressed.
func freeRustString(ls *LoadedService, funcName string, ptr uintptr) {
	freeName := funcName + "_free"
	sym, err := purego.Dlsym(ls.handle, freeName)
	if err != nil {
		logging.Warn(subsystem, "rust service %s: no %s symbol, leaking returned string for %s", ls.Name, freeName, funcName)
		return
	}
	purego.SyscallN(sym, ptr)
}

// goStringFromCString copies a NUL-terminated C string out of native
// memory. The scan is bounded: a callee that never terminates its string is
// a callee bug, not a reason to scan unbounded memory.
func goStringFromCString(ptr uintptr) string {
	const maxLen = 1 << 24
	var buf []byte
	for i := 0; i < maxLen; i++ {
		b := *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf)
}

func callScripted(ls *LoadedService, funcName string, args []Arg) (string, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	values := make([]json.RawMessage, len(args))
	for i, a := range args {
		values[i] = a.Value
	}
	return ls.script.call(funcName, values)
}
