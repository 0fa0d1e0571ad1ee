package config

import (
	"fmt"
	"os"
	"runtime"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	// DefaultRootDirName is the directory under the user's home that hosts
	// installed services when no root is configured explicitly.
	DefaultRootDirName = ".serde_ipc"
	// DefaultListenAddr is the default TCP address the daemon listens on.
	DefaultListenAddr = "127.0.0.1:7890"
	envPrefix         = "SERDE_IPC"
)

// DaemonConfig holds everything the daemon needs at startup.
type DaemonConfig struct {
	Root       string `mapstructure:"root"`
	ListenAddr string `mapstructure:"addr"`
	PoolSize   int    `mapstructure:"pool_size"`
	LogLevel   string `mapstructure:"log_level"`
}

// DefaultRoot resolves "~/.serde_ipc", mirroring the original Rust source's
// shellexpand::tilde("~/.vdm") root resolution.
func DefaultRoot() (string, error) {
	expanded, err := homedir.Expand("~/" + DefaultRootDirName)
	if err != nil {
		return "", fmt.Errorf("resolving default root: %w", err)
	}
	return expanded, nil
}

func defaults() (DaemonConfig, error) {
	root, err := DefaultRoot()
	if err != nil {
		return DaemonConfig{}, err
	}
	return DaemonConfig{
		Root:       root,
		ListenAddr: DefaultListenAddr,
		PoolSize:   runtime.NumCPU(),
		LogLevel:   "info",
	}, nil
}

// Load builds the daemon config from in-code defaults, overridden by
// configPath (a YAML file; missing is not an error), overridden in turn by
// SERDE_IPC_* environment variables. An empty configPath skips the file
// layer entirely.
func Load(configPath string) (DaemonConfig, error) {
	cfg, err := defaults()
	if err != nil {
		return DaemonConfig{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetDefault("root", cfg.Root)
	v.SetDefault("addr", cfg.ListenAddr)
	v.SetDefault("pool_size", cfg.PoolSize)
	v.SetDefault("log_level", cfg.LogLevel)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return DaemonConfig{}, fmt.Errorf("reading config %s: %w", configPath, err)
			}
		}
	}

	var loaded DaemonConfig
	if err := v.Unmarshal(&loaded); err != nil {
		return DaemonConfig{}, fmt.Errorf("parsing config: %w", err)
	}

	if loaded.Root, err = homedir.Expand(loaded.Root); err != nil {
		return DaemonConfig{}, fmt.Errorf("expanding root %q: %w", loaded.Root, err)
	}
	if loaded.PoolSize <= 0 {
		loaded.PoolSize = runtime.NumCPU()
	}

	return loaded, nil
}
