// Package manifest parses and validates the install-time manifest.json
// document described in spec §6: service identity, build instructions,
// runtime instructions, and the function catalogue.
package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Class enumerates the supported service implementation languages.
type Class string

const (
	ClassC      Class = "c"
	ClassCPP    Class = "cpp"
	ClassRust   Class = "rust"
	ClassPython Class = "python"
)

// DepMap is an abstract dependency declaration: package-manager name to a
// list of package tokens, e.g. {"apt": ["libfoo-dev"]}.
type DepMap map[string][]string

// BuildTemplate is the manifest's "build" section.
type BuildTemplate struct {
	Dependency DepMap   `json:"dependency"`
	Script     []string `json:"script"`
	Output     []string `json:"output"`
}

// RuntimeTemplate is the manifest's "runtime" section.
type RuntimeTemplate struct {
	Dependency DepMap   `json:"dependency"`
	Status     string   `json:"status"`
	Enable     []string `json:"enable"`
	Disable    []string `json:"disable"`
}

// Param is one entry of a MetaFunc's ordered parameter list: a single-key
// object mapping a parameter label to its declared type string.
type Param map[string]string

// MetaFunc declares one callable function of the service.
type MetaFunc struct {
	Name    string  `json:"name"`
	RetType string  `json:"restype"`
	Args    []Param `json:"args"`
}

// Arity returns the number of declared parameters.
func (f MetaFunc) Arity() int { return len(f.Args) }

// Metadata is the service identity block.
type Metadata struct {
	Name    string     `json:"name"`
	Class   Class      `json:"class"`
	Version string     `json:"version"`
	Func    []MetaFunc `json:"func"`
}

// Manifest is the full manifest.json document.
type Manifest struct {
	Name    string          `json:"name"`
	Type    Class           `json:"type"`
	Version string          `json:"version"`
	Build   BuildTemplate   `json:"build"`
	Runtime RuntimeTemplate `json:"runtime"`
	Func    []MetaFunc      `json:"func"`
}

// Metadata projects the catalogue-relevant fields of a Manifest into the
// Metadata shape persisted by the Artifact Store.
func (m Manifest) Metadata() Metadata {
	return Metadata{Name: m.Name, Class: m.Type, Version: m.Version, Func: m.Func}
}

// namePattern is the conservative path-safe character class spec §4.6
// requires for a service name: it becomes a directory component under
// <root>, so it may not contain path separators or leading dots.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateName rejects any service name that is not safe to join onto the
// artifact root as a single path component.
func ValidateName(name string) error {
	if name == "" || !namePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid service name %q", name)
	}
	return nil
}

// Parse decodes and validates a manifest.json document. Missing top-level
// sections are rejected with the exact error string spec §6 specifies.
func Parse(data []byte) (Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("manifest is not valid JSON: %w", err)
	}

	for _, section := range []string{"name", "type", "version", "build", "runtime", "func"} {
		if _, ok := raw[section]; !ok {
			return Manifest{}, fmt.Errorf("'%s' section missing in manifest file.", section)
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest fields malformed: %w", err)
	}

	if err := ValidateName(m.Name); err != nil {
		return Manifest{}, err
	}

	switch m.Type {
	case ClassC, ClassCPP, ClassRust, ClassPython:
	default:
		return Manifest{}, fmt.Errorf("unsupported service class %q", m.Type)
	}

	// Arity out of the 0-5 range is a per-function load-time error (spec
	// §4.3), not a manifest-parse error: sibling functions of the same
	// service must remain usable, so it is not checked here.

	return m, nil
}
