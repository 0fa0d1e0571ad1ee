// Package build implements the Builder Adapter: it resolves a manifest's
// build-time dependencies, runs the install-time build script, and collects
// declared output files into the service's Artifact Store directory. It
// also mirrors the runtime side: resolving runtime dependencies and running
// the uninstall-time disable commands.
package build
