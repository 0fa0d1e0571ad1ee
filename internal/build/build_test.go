package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/manifest"
)

type noopResolver struct{ err error }

func (n noopResolver) Resolve(manifest.DepMap) error { return n.err }

func TestBuildHappyPath(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	a := &Adapter{Deps: noopResolver{}}
	tmpl := manifest.BuildTemplate{
		Script: []string{"sh -c \"echo built > out.txt\""},
		Output: []string{"out.txt"},
	}

	staged, err := a.Build(src, dst, tmpl)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("expected one staged output, got %v", staged)
	}
	data, err := os.ReadFile(staged[0])
	if err != nil {
		t.Fatalf("reading staged output: %v", err)
	}
	if string(data) != "built\n" {
		t.Fatalf("unexpected staged content: %q", data)
	}
	if _, err := os.Stat(filepath.Join(src, "out.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected output to be moved out of source dir")
	}
}

func TestBuildScriptFailureAborts(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	a := &Adapter{Deps: noopResolver{}}
	tmpl := manifest.BuildTemplate{
		Script: []string{"true", "false", "echo unreachable"},
		Output: nil,
	}

	_, err := a.Build(src, dst, tmpl)
	if err == nil {
		t.Fatal("expected a build failure")
	}
	if ffierr.KindOf(err) != ffierr.KindBuildFailure {
		t.Fatalf("expected build_failure kind, got %v", ffierr.KindOf(err))
	}
}

func TestBuildMissingOutputFails(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	a := &Adapter{Deps: noopResolver{}}
	tmpl := manifest.BuildTemplate{Output: []string{"missing.so"}}

	if _, err := a.Build(src, dst, tmpl); err == nil {
		t.Fatal("expected a missing-output failure")
	}
}

func TestDisableBestEffort(t *testing.T) {
	dir := t.TempDir()
	a := &Adapter{Deps: noopResolver{}}

	err := a.Disable(dir, manifest.RuntimeTemplate{Disable: []string{"false", "true"}})
	if err == nil {
		t.Fatal("expected the failing disable command to be reported")
	}
}
