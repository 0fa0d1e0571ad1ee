package registry

import (
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/loader"
)

// ServiceSig identifies one loaded service instance within the process.
type ServiceSig uint32

// UsageSig identifies one client's registration of a service.
type UsageSig uint32

// Handle is the 64-bit client-visible token: (ServiceSig << 32) | UsageSig.
// The all-zero handle is reserved to mean "invalid".
type Handle uint64

// PackHandle concatenates a ServiceSig and UsageSig into a client handle.
func PackHandle(s ServiceSig, u UsageSig) Handle {
	return Handle(uint64(s)<<32 | uint64(u))
}

// UnpackHandle splits a client handle back into its components.
func UnpackHandle(h Handle) (ServiceSig, UsageSig) {
	return ServiceSig(h >> 32), UsageSig(h & 0xffffffff)
}

// maxSigAttempts bounds the rejection-sampling loop for signature
// generation (spec §9: expected O(1), cap attempts rather than loop
// forever).
const maxSigAttempts = 64

type serviceEntry struct {
	name    string
	loaded  *loader.LoadedService
	usages  map[UsageSig]struct{}
	pins    int
	tearing bool
}

// Registry owns the three indexes (services, service_map, usage_map) and
// coalesces concurrent first-register loads of the same name.
type Registry struct {
	mu       sync.Mutex
	services map[ServiceSig]*serviceEntry
	byName   map[string]ServiceSig
	group    singleflight.Group
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		services: make(map[ServiceSig]*serviceEntry),
		byName:   make(map[string]ServiceSig),
	}
}

// HasService reports whether name is currently loaded, used by install and
// uninstall to enforce the "service in use" rule (spec §4.6).
func (r *Registry) HasService(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[name]
	return ok
}

// DegradedFuncs reports how many of a loaded service's declared functions
// failed to bind at load time, or 0 if name is not currently loaded.
func (r *Registry) DegradedFuncs(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig, ok := r.byName[name]
	if !ok {
		return 0
	}
	return r.services[sig].loaded.DegradedFuncs()
}

// Register finds or loads the service named name via load, then always
// allocates a fresh UsageSig for this call (spec §3's lifecycle rule).
// Concurrent Register calls for the same not-yet-loaded name are coalesced
// into a single load.
func (r *Registry) Register(name string, load func() (*loader.LoadedService, error)) (Handle, error) {
	sigIface, err, _ := r.group.Do(name, func() (interface{}, error) {
		r.mu.Lock()
		if sig, ok := r.byName[name]; ok {
			r.mu.Unlock()
			return sig, nil
		}
		r.mu.Unlock()

		ls, loadErr := load()
		if loadErr != nil {
			return ServiceSig(0), loadErr
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if sig, ok := r.byName[name]; ok {
			// Lost a race with another load path; keep the winner's copy.
			ls.Close()
			return sig, nil
		}

		sig, insertErr := r.insertServiceLocked(name)
		if insertErr != nil {
			ls.Close()
			return ServiceSig(0), insertErr
		}
		r.services[sig].loaded = ls
		return sig, nil
	})
	if err != nil {
		return 0, err
	}
	sig := sigIface.(ServiceSig)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.services[sig]
	if !ok {
		return 0, ffierr.New(ffierr.KindOpenFailed, "service %s vanished during register", name)
	}
	usage, err := r.insertUsageLocked(entry)
	if err != nil {
		return 0, err
	}
	return PackHandle(sig, usage), nil
}

// insertServiceLocked allocates a fresh ServiceSig and installs the
// entry's name/usages bookkeeping. Caller holds r.mu.
func (r *Registry) insertServiceLocked(name string) (ServiceSig, error) {
	for i := 0; i < maxSigAttempts; i++ {
		candidate := ServiceSig(rand.Uint32())
		if candidate == 0 {
			continue
		}
		if _, exists := r.services[candidate]; exists {
			continue
		}
		r.services[candidate] = &serviceEntry{name: name, usages: make(map[UsageSig]struct{})}
		r.byName[name] = candidate
		return candidate, nil
	}
	return 0, ffierr.New(ffierr.KindRegistryExhausted, "exhausted %d attempts allocating a service signature", maxSigAttempts)
}

// insertUsageLocked allocates a fresh UsageSig within entry. Caller holds
// r.mu.
func (r *Registry) insertUsageLocked(entry *serviceEntry) (UsageSig, error) {
	for i := 0; i < maxSigAttempts; i++ {
		candidate := UsageSig(rand.Uint32())
		if _, exists := entry.usages[candidate]; exists {
			continue
		}
		entry.usages[candidate] = struct{}{}
		return candidate, nil
	}
	return 0, ffierr.New(ffierr.KindRegistryExhausted, "exhausted %d attempts allocating a usage signature", maxSigAttempts)
}

// Unregister removes the usage named by handle. If the service's usage set
// becomes empty and nothing currently has it pinned, the loaded service is
// torn down and its indexes removed. A zero handle is a no-op (spec §4.4).
func (r *Registry) Unregister(handle Handle) error {
	if handle == 0 {
		return nil
	}
	sig, usage := UnpackHandle(handle)

	r.mu.Lock()
	entry, ok := r.services[sig]
	if !ok {
		r.mu.Unlock()
		return ffierr.New(ffierr.KindStaleHandle, "handle references no loaded service")
	}
	if _, ok := entry.usages[usage]; !ok {
		r.mu.Unlock()
		return ffierr.New(ffierr.KindStaleHandle, "handle references no live usage")
	}
	delete(entry.usages, usage)

	var toClose *loader.LoadedService
	if len(entry.usages) == 0 {
		if entry.pins == 0 {
			delete(r.services, sig)
			delete(r.byName, entry.name)
			toClose = entry.loaded
		} else {
			entry.tearing = true
		}
	}
	r.mu.Unlock()

	if toClose != nil {
		return toClose.Close()
	}
	return nil
}

// Pinned is a resolved handle whose LoadedService is guarded against
// teardown until Release is called.
type Pinned struct {
	r      *Registry
	sig    ServiceSig
	Loaded *loader.LoadedService
}

// Resolve splits handle, verifies both components are live, and pins the
// loaded service so the caller may release the registry lock and still
// safely invoke the service (spec §4.4/§4.5).
func (r *Registry) Resolve(handle Handle) (*Pinned, error) {
	if handle == 0 {
		return nil, ffierr.New(ffierr.KindInvalidHandle, "handle is zero")
	}
	sig, usage := UnpackHandle(handle)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.services[sig]
	if !ok {
		return nil, ffierr.New(ffierr.KindStaleHandle, "handle references no loaded service")
	}
	if _, ok := entry.usages[usage]; !ok {
		return nil, ffierr.New(ffierr.KindStaleHandle, "handle references no live usage")
	}
	entry.pins++
	return &Pinned{r: r, sig: sig, Loaded: entry.loaded}, nil
}

// Release unpins the service, completing any teardown that was deferred
// while this call was in flight.
func (p *Pinned) Release() error {
	p.r.mu.Lock()
	entry, ok := p.r.services[p.sig]
	if !ok {
		p.r.mu.Unlock()
		return nil
	}
	entry.pins--

	var toClose *loader.LoadedService
	if entry.pins == 0 && entry.tearing && len(entry.usages) == 0 {
		delete(p.r.services, p.sig)
		delete(p.r.byName, entry.name)
		toClose = entry.loaded
	}
	p.r.mu.Unlock()

	if toClose != nil {
		return toClose.Close()
	}
	return nil
}
