// Package ffimanager is the facade that orchestrates the Artifact Store,
// Builder Adapter, Service Loader, Handle Registry, Dispatcher, and
// Executor Pool into the install/register/dispatch/unregister/uninstall
// lifecycle described by spec §4.6.
package ffimanager
