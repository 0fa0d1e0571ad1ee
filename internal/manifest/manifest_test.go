package manifest

import "testing"

const validManifest = `{
  "name": "math",
  "type": "c",
  "version": "1.0.0",
  "build":   { "dependency": {}, "script": ["make"], "output": ["libmath.so"] },
  "runtime": { "dependency": {}, "status": "enabled", "enable": [], "disable": [] },
  "func": [ { "name": "add", "restype": "int",
              "args": [ {"a": "int"}, {"b": "int"} ] } ]
}`

func TestParseValid(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "math" || m.Type != ClassC {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if len(m.Func) != 1 || m.Func[0].Arity() != 2 {
		t.Fatalf("expected one function of arity 2, got %+v", m.Func)
	}
}

func TestParseMissingSection(t *testing.T) {
	_, err := Parse([]byte(`{"name":"math","type":"c","version":"1.0.0","build":{},"runtime":{}}`))
	if err == nil {
		t.Fatal("expected an error for a manifest missing the 'func' section")
	}
}

func TestParseRejectsUnsafeName(t *testing.T) {
	_, err := Parse([]byte(`{"name":"../escape","type":"c","version":"1","build":{},"runtime":{},"func":[]}`))
	if err == nil {
		t.Fatal("expected an error for a path-unsafe service name")
	}
}

func TestParseRejectsUnsupportedClass(t *testing.T) {
	_, err := Parse([]byte(`{"name":"x","type":"java","version":"1","build":{},"runtime":{},"func":[]}`))
	if err == nil {
		t.Fatal("expected an error for an unsupported class")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}
