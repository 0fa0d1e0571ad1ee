package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/manifest"
)

// configFileName is the single serialized document persisted per service,
// as called for by spec §3 ("Config is stored ... as a single serialized
// document").
const configFileName = "config.yaml"

// ServiceConfig is the persistent record the Artifact Store keeps for one
// installed service: its entry-point path, the full list of staged output
// files, the metadata block, and the runtime template.
type ServiceConfig struct {
	Entry    string                  `yaml:"entry"`
	Files    []string                `yaml:"files"`
	Metadata manifest.Metadata       `yaml:"metadata"`
	Runtime  manifest.RuntimeTemplate `yaml:"runtime"`
}

// Store owns <root> and is the only component permitted to read or write
// beneath it.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if absent.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// ServiceDir returns <root>/<name>. Callers must have validated name via
// manifest.ValidateName; the store trusts it (spec §4.1).
func (s *Store) ServiceDir(name string) string {
	return filepath.Join(s.root, name)
}

// WriteConfig creates <root>/<name>/ and atomically persists cfg as the
// service's config document (write to temp + rename).
func (s *Store) WriteConfig(name string, cfg ServiceConfig) error {
	dir := s.ServiceDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ffierr.Wrap(ffierr.KindBuildFailure, err, "Config store failed for %s", name)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ffierr.Wrap(ffierr.KindBuildFailure, err, "Config store failed for %s", name)
	}

	path := filepath.Join(dir, configFileName)
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return ffierr.Wrap(ffierr.KindBuildFailure, err, "Config store failed for %s", name)
	}
	return nil
}

// LoadConfig parses the on-disk document for name. Any parse/IO failure is
// reported as (zero-value, false) rather than an error, mirroring spec
// §4.1's "cfg | none" contract.
func (s *Store) LoadConfig(name string) (ServiceConfig, bool) {
	path := filepath.Join(s.ServiceDir(name), configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, false
	}

	var cfg ServiceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServiceConfig{}, false
	}
	return cfg, true
}

// ListNames returns the names of every service with a persisted config
// directly under the root, sorted by name.
func (s *Store) ListNames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading root %s: %w", s.root, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), configFileName)); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// RemoveOutputs best-effort deletes each listed file plus the service
// directory. Individual failures are collected but do not abort the sweep.
func (s *Store) RemoveOutputs(name string, files []string) error {
	var result *multierror.Error
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, fmt.Errorf("removing %s: %w", f, err))
		}
	}

	dir := s.ServiceDir(name)
	if err := os.RemoveAll(dir); err != nil {
		result = multierror.Append(result, fmt.Errorf("removing %s: %w", dir, err))
	}
	return result.ErrorOrNil()
}
