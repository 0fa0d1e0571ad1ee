package build

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/manifest"
)

// DependencyResolver satisfies a manifest.DepMap against the host. The
// default implementation shells out to each named package manager; tests
// and alternative hosts may substitute their own.
type DependencyResolver interface {
	Resolve(deps manifest.DepMap) error
}

// ShellDependencyResolver runs "<manager> install <token> <token> ..." for
// each package-manager key in a DepMap, inheriting the environment.
type ShellDependencyResolver struct{}

// Resolve satisfies DependencyResolver by shelling out to each declared
// package manager. Best-effort across managers: every failure is collected
// and the aggregate is returned so a caller can report every broken
// manager, not just the first.
func (ShellDependencyResolver) Resolve(deps manifest.DepMap) error {
	var result *multierror.Error
	for manager, tokens := range deps {
		if len(tokens) == 0 {
			continue
		}
		args := append([]string{"install"}, tokens...)
		cmd := exec.Command(manager, args...)
		cmd.Env = os.Environ()
		if out, err := cmd.CombinedOutput(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s install: %w: %s", manager, err, out))
		}
	}
	return result.ErrorOrNil()
}

// Adapter drives the build and runtime lifecycle of a single service.
type Adapter struct {
	Deps DependencyResolver
}

// New returns an Adapter using the default shell-based dependency resolver.
func New() *Adapter {
	return &Adapter{Deps: ShellDependencyResolver{}}
}

// Build resolves build-time dependencies, runs the build script in
// sourceDir, and moves the declared outputs into destDir (normally
// <root>/<name>/). It returns the paths of the staged outputs (each joined
// onto destDir), in the order declared by the template.
func (a *Adapter) Build(sourceDir, destDir string, tmpl manifest.BuildTemplate) ([]string, error) {
	if err := a.Deps.Resolve(tmpl.Dependency); err != nil {
		return nil, ffierr.Wrap(ffierr.KindBuildFailure, err, "build dependency failure")
	}

	for i, line := range tmpl.Script {
		if err := runScriptLine(sourceDir, line); err != nil {
			return nil, ffierr.Wrap(ffierr.KindBuildFailure, err, "build script failed at step %d", i)
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, ffierr.Wrap(ffierr.KindBuildFailure, err, "installation failed")
	}

	// staged accumulates every output moved so far, even across an error:
	// the caller needs it to clean up partial outputs on failure (spec §7).
	var staged []string
	for _, pattern := range tmpl.Output {
		matches, err := filepath.Glob(filepath.Join(sourceDir, pattern))
		if err != nil {
			return staged, ffierr.Wrap(ffierr.KindBuildFailure, err, "installation failed")
		}
		if len(matches) == 0 {
			return staged, ffierr.New(ffierr.KindBuildFailure, "installation failed: no output matched %q", pattern)
		}
		for _, src := range matches {
			dst := filepath.Join(destDir, filepath.Base(src))
			if err := moveFile(src, dst); err != nil {
				return staged, ffierr.Wrap(ffierr.KindBuildFailure, err, "installation failed")
			}
			staged = append(staged, dst)
		}
	}
	return staged, nil
}

// Enable resolves a runtime template's dependencies and then runs its
// "enable" commands in destDir. It mirrors Disable's best-effort aggregation
// and is invoked once a service's build has completed, symmetric with
// Disable at uninstall.
func (a *Adapter) Enable(destDir string, tmpl manifest.RuntimeTemplate) error {
	var result *multierror.Error
	if err := a.Deps.Resolve(tmpl.Dependency); err != nil {
		result = multierror.Append(result, fmt.Errorf("runtime dependency failure: %w", err))
	}
	for _, line := range tmpl.Enable {
		if err := runScriptLine(destDir, line); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Disable runs a runtime template's "disable" commands in destDir, best
// effort: every failing command is collected rather than aborting early so
// uninstall can still proceed to remove staged files.
func (a *Adapter) Disable(destDir string, tmpl manifest.RuntimeTemplate) error {
	var result *multierror.Error
	for _, line := range tmpl.Disable {
		if err := runScriptLine(destDir, line); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func runScriptLine(dir, line string) error {
	parser := shellwords.NewParser()
	args, err := parser.Parse(line)
	if err != nil {
		return fmt.Errorf("parsing script line %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%q: %w: %s", line, err, out)
	}
	return nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystem boundaries (e.g. source dir on a
	// different mount than the root); fall back to copy-then-remove.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
