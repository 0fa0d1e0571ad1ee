// Package config loads the daemon's own configuration: the artifact root
// directory, the transport listen address, and logging/worker-pool
// overrides. Configuration is layered defaults in code, overridden by an
// optional YAML file, overridden in turn by environment variables, via
// spf13/viper.
package config
