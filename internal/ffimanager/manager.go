package ffimanager

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iamhyc/serde-ipc/internal/build"
	"github.com/iamhyc/serde-ipc/internal/dispatch"
	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/loader"
	"github.com/iamhyc/serde-ipc/internal/manifest"
	"github.com/iamhyc/serde-ipc/internal/registry"
	"github.com/iamhyc/serde-ipc/internal/store"
	"github.com/iamhyc/serde-ipc/internal/worker"
	"github.com/iamhyc/serde-ipc/pkg/logging"
	ffistrings "github.com/iamhyc/serde-ipc/pkg/strings"
)

// functionsColumnMaxLen bounds the single-line function summary rendered by
// the list command, matching the teacher's CLI output width for a
// description column.
const functionsColumnMaxLen = ffistrings.DefaultDescriptionMaxLen

const subsystem = "Manager"

const manifestFileName = "manifest.json"

// Manager wires the six core components together behind the lifecycle
// operations spec §4.6 describes.
type Manager struct {
	store    *store.Store
	builder  *build.Adapter
	loader   *loader.Loader
	registry *registry.Registry
	pool     *worker.Pool
	disp     *dispatch.Dispatcher
}

// New wires a Manager rooted at root with a worker pool of size poolSize.
func New(root string, poolSize int) (*Manager, error) {
	st, err := store.New(root)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	ld := loader.New()
	pool := worker.NewPool(poolSize)
	disp := dispatch.New(reg, ld, pool)

	return &Manager{
		store:    st,
		builder:  build.New(),
		loader:   ld,
		registry: reg,
		pool:     pool,
		disp:     disp,
	}, nil
}

// Dispatcher exposes the wired Dispatcher for a Transport to submit
// requests against.
func (m *Manager) Dispatcher() *dispatch.Dispatcher {
	return m.disp
}

// Close stops the worker pool. Loaded services are left as-is; callers
// should Unregister every outstanding usage first if a clean shutdown is
// required.
func (m *Manager) Close() {
	m.pool.Stop()
}

// Install validates sourceDir/manifest.json, drives the build, persists
// the config, and refuses to overwrite a currently-loaded service (spec
// §4.6).
func (m *Manager) Install(sourceDir string) error {
	data, err := os.ReadFile(filepath.Join(sourceDir, manifestFileName))
	if err != nil {
		return ffierr.Wrap(ffierr.KindManifestMalformed, err, "reading manifest")
	}

	mf, err := manifest.Parse(data)
	if err != nil {
		return ffierr.Wrap(ffierr.KindManifestMalformed, err, "parsing manifest")
	}

	if m.registry.HasService(mf.Name) {
		return ffierr.New(ffierr.KindServiceInUse, "service %s is currently loaded", mf.Name)
	}

	destDir := m.store.ServiceDir(mf.Name)
	staged, err := m.builder.Build(sourceDir, destDir, mf.Build)
	if err != nil {
		if cleanupErr := m.store.RemoveOutputs(mf.Name, staged); cleanupErr != nil {
			logging.Warn(subsystem, "install %s: cleanup after build failure: %v", mf.Name, cleanupErr)
		}
		logging.Audit(logging.AuditEvent{Action: "install", Outcome: "failure", Service: mf.Name, Detail: sourceDir, Error: err.Error()})
		return err
	}

	if err := m.builder.Enable(destDir, mf.Runtime); err != nil {
		logging.Warn(subsystem, "install %s: runtime enable reported: %v", mf.Name, err)
	}

	cfg := store.ServiceConfig{
		Entry:    staged[0],
		Files:    staged,
		Metadata: mf.Metadata(),
		Runtime:  mf.Runtime,
	}
	if err := m.store.WriteConfig(mf.Name, cfg); err != nil {
		logging.Audit(logging.AuditEvent{Action: "install", Outcome: "failure", Service: mf.Name, Detail: sourceDir, Error: err.Error()})
		return err
	}

	logging.Audit(logging.AuditEvent{Action: "install", Outcome: "success", Service: mf.Name, Detail: sourceDir})
	return nil
}

// Uninstall refuses if name is currently loaded, otherwise runs the
// persisted runtime's disable commands and removes staged files. A
// never-installed name is not an error (spec §4.6 step 3).
func (m *Manager) Uninstall(name string) error {
	if m.registry.HasService(name) {
		err := ffierr.New(ffierr.KindServiceInUse, "service %s is currently loaded", name)
		logging.Audit(logging.AuditEvent{Action: "uninstall", Outcome: "failure", Service: name, Error: err.Error()})
		return err
	}

	cfg, ok := m.store.LoadConfig(name)
	if !ok {
		return nil
	}

	if err := m.builder.Disable(m.store.ServiceDir(name), cfg.Runtime); err != nil {
		logging.Warn(subsystem, "uninstall %s: runtime disable reported: %v", name, err)
	}

	if err := m.store.RemoveOutputs(name, cfg.Files); err != nil {
		logging.Audit(logging.AuditEvent{Action: "uninstall", Outcome: "failure", Service: name, Error: err.Error()})
		return err
	}

	logging.Audit(logging.AuditEvent{Action: "uninstall", Outcome: "success", Service: name})
	return nil
}

// ListedService is a summary row for the CLI's list command.
type ListedService struct {
	Name      string
	Class     manifest.Class
	Version   string
	Loaded    bool
	Functions string
	Degraded  int
}

// summarizeFunctions renders a single-line, truncated summary of a
// service's exported functions for table display.
func summarizeFunctions(funcs []manifest.MetaFunc) string {
	names := make([]string, 0, len(funcs))
	for _, f := range funcs {
		names = append(names, fmt.Sprintf("%s/%d", f.Name, f.Arity()))
	}
	return ffistrings.TruncateDescription(strings.Join(names, ", "), functionsColumnMaxLen)
}

// List returns every installed service's summary, loaded or not.
func (m *Manager) List() ([]ListedService, error) {
	names, err := m.store.ListNames()
	if err != nil {
		return nil, err
	}

	rows := make([]ListedService, 0, len(names))
	for _, name := range names {
		cfg, ok := m.store.LoadConfig(name)
		if !ok {
			continue
		}
		rows = append(rows, ListedService{
			Name:      name,
			Class:     cfg.Metadata.Class,
			Version:   cfg.Metadata.Version,
			Loaded:    m.registry.HasService(name),
			Functions: summarizeFunctions(cfg.Metadata.Func),
			Degraded:  m.registry.DegradedFuncs(name),
		})
	}
	return rows, nil
}

// Register loads name on first use and always allocates a fresh usage,
// returning the decimal client-visible handle string.
func (m *Manager) Register(name string) (string, error) {
	handle, err := m.registry.Register(name, func() (*loader.LoadedService, error) {
		cfg, ok := m.store.LoadConfig(name)
		if !ok {
			return nil, ffierr.New(ffierr.KindOpenFailed, "no installed config for %s", name)
		}
		return m.loader.Load(cfg.Entry, cfg.Metadata)
	})
	if err != nil {
		logging.Audit(logging.AuditEvent{Action: "register", Outcome: "failure", Service: name, Error: err.Error()})
		return "", err
	}

	logging.Audit(logging.AuditEvent{Action: "register", Outcome: "success", Service: name})
	return formatHandle(handle), nil
}

// Unregister releases one usage of handleStr, tearing down the loaded
// service once its last usage is gone.
func (m *Manager) Unregister(name, handleStr string) error {
	handle, err := parseClientHandle(handleStr)
	if err != nil {
		return err
	}
	if err := m.registry.Unregister(handle); err != nil {
		logging.Audit(logging.AuditEvent{Action: "unregister", Outcome: "failure", Service: name, Error: err.Error()})
		return err
	}
	logging.Audit(logging.AuditEvent{Action: "unregister", Outcome: "success", Service: name})
	return nil
}

// Dispatch runs a single call descriptor and blocks until its response is
// available.
func (m *Manager) Dispatch(req dispatch.Request) dispatch.Response {
	respCh := make(chan dispatch.Response, 1)
	m.disp.Dispatch(req, func(r dispatch.Response) { respCh <- r })
	return <-respCh
}

func formatHandle(h registry.Handle) string {
	return strconv.FormatUint(uint64(h), 10)
}

func parseClientHandle(s string) (registry.Handle, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ffierr.New(ffierr.KindInvalidHandle, "invalid handle %q", s)
	}
	return registry.Handle(v), nil
}
