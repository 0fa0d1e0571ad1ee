// Package worker implements the Executor Pool: a fixed-size pool that runs
// dispatches off the transport goroutine. Scripted services get no pool of
// their own: Python-class calls run on this pool and serialize against each
// other on their LoadedService's mutex in internal/loader, the way a single
// interpreter's global lock would require (spec §5, §9).
package worker
