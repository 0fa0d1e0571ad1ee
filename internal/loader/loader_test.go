package loader

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/manifest"
)

func TestExtractArg(t *testing.T) {
	arg, err := ExtractArg(json.RawMessage(`{"a":"2"}`))
	if err != nil {
		t.Fatalf("ExtractArg: %v", err)
	}
	if arg.Label != "a" || string(arg.Value) != `"2"` {
		t.Fatalf("unexpected arg: %+v", arg)
	}
}

func TestExtractArgRejectsMultiKey(t *testing.T) {
	if _, err := ExtractArg(json.RawMessage(`{"a":"1","b":"2"}`)); err == nil {
		t.Fatal("expected an error for a multi-key argument object")
	}
}

func TestLoadUnsupportedClass(t *testing.T) {
	l := New()
	_, err := l.Load("ignored", manifest.Metadata{Name: "x", Class: manifest.Class("java")})
	if ffierr.KindOf(err) != ffierr.KindUnsupportedClass {
		t.Fatalf("expected unsupported_class, got %v", err)
	}
}

func findPython(t *testing.T) string {
	t.Helper()
	if path, err := exec.LookPath("python3"); err == nil {
		return path
	}
	t.Skip("python3 not available in test environment")
	return ""
}

func TestScriptedLoadAndCall(t *testing.T) {
	bin := findPython(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "svc.py")
	if err := os.WriteFile(src, []byte("def add(a, b):\n    return int(a) + int(b)\n"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	meta := manifest.Metadata{
		Name:  "math",
		Class: manifest.ClassPython,
		Func: []manifest.MetaFunc{
			{Name: "add", RetType: "int", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
		},
	}

	l := &Loader{PythonBin: bin}
	ls, err := l.Load(src, meta)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer ls.Close()

	args := []Arg{{Label: "a", Value: json.RawMessage(`2`)}, {Label: "b", Value: json.RawMessage(`3`)}}
	result, err := l.Call(ls, "add", args)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "5" {
		t.Fatalf("expected 5, got %q", result)
	}
}

func TestScriptedArityMismatch(t *testing.T) {
	bin := findPython(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "svc.py")
	if err := os.WriteFile(src, []byte("def add(a, b):\n    return int(a) + int(b)\n"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	meta := manifest.Metadata{
		Name:  "math",
		Class: manifest.ClassPython,
		Func: []manifest.MetaFunc{
			{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
		},
	}

	l := &Loader{PythonBin: bin}
	ls, err := l.Load(src, meta)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer ls.Close()

	_, err = l.Call(ls, "add", []Arg{{Label: "a", Value: json.RawMessage(`2`)}})
	if ffierr.KindOf(err) != ffierr.KindArityMismatch {
		t.Fatalf("expected arity_mismatch, got %v", err)
	}
}

func TestDegradedFuncsCountsBindFailures(t *testing.T) {
	bin := findPython(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "svc.py")
	if err := os.WriteFile(src, []byte("def add(a, b):\n    return int(a) + int(b)\n"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	meta := manifest.Metadata{
		Name:  "math",
		Class: manifest.ClassPython,
		Func: []manifest.MetaFunc{
			{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
			{Name: "overflowed", Args: make([]manifest.Param, maxArity+1)},
		},
	}

	l := &Loader{PythonBin: bin}
	ls, err := l.Load(src, meta)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer ls.Close()

	if got := ls.DegradedFuncs(); got != 1 {
		t.Fatalf("expected 1 degraded function, got %d", got)
	}
}

func TestScriptedUnknownFunction(t *testing.T) {
	bin := findPython(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "svc.py")
	if err := os.WriteFile(src, []byte("def add(a, b):\n    return int(a) + int(b)\n"), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}

	meta := manifest.Metadata{
		Name:  "math",
		Class: manifest.ClassPython,
		Func: []manifest.MetaFunc{
			{Name: "add", Args: []manifest.Param{{"a": "int"}, {"b": "int"}}},
		},
	}

	l := &Loader{PythonBin: bin}
	ls, err := l.Load(src, meta)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer ls.Close()

	_, err = l.Call(ls, "missing", nil)
	if ffierr.KindOf(err) != ffierr.KindUnknownFunction {
		t.Fatalf("expected unknown_function, got %v", err)
	}
}
