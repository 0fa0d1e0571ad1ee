// Package loader implements the Service Loader: it opens a service's entry
// file according to its class and binds named entry points of arities 0
// through 5.
//
// Native classes (c, cpp, rust) are opened via github.com/ebitengine/purego,
// which performs dlopen/dlsym/call-by-address without cgo. The c/cpp
// convention exchanges bare C strings the callee owns; the rust convention
// exchanges JSON-encoded heap strings and expects a companion
// "<func>_free" symbol to reclaim them (spec's preferred answer to the
// open question about return-string ownership). The python class is driven
// as a long-lived subprocess that evaluates the service's source once and
// then accepts one call per line on stdin.
package loader
