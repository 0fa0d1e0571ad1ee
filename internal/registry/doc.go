// Package registry implements the Handle Registry: the three indexes
// (services, service_map, usage_map), their joint invariants, and the
// 64-bit client-visible handle that packs a ServiceSig and a UsageSig.
//
// All mutation happens under a single mutex (spec §4.4's "Atomicity").
// Loaded services are reference-counted via a teardown guard so a caller
// may release the registry lock before invoking a pinned service's
// function, without risking a concurrent unregister tearing it down
// mid-call.
package registry
