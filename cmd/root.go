package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/iamhyc/serde-ipc/internal/config"
	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/pkg/logging"
)

// Exit codes for CLI commands (spec §6's "CLI surface").
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeUsageError indicates a command-line usage error.
	ExitCodeUsageError = 1
	// ExitCodeOperationFailure indicates the operation was attempted and failed.
	ExitCodeOperationFailure = 2
)

var (
	cfgFile  string
	rootFlag string
)

// rootCmd is the base command for the serde-ipc daemon CLI.
var rootCmd = &cobra.Command{
	Use:   "serde-ipc",
	Short: "Polyglot FFI service host",
	Long: `serde-ipc installs, loads, and dispatches calls against user-authored
services written in C, C++, Rust, or Python, exposing their functions to
remote clients over a JSON-framed TCP protocol.`,
	SilenceUsage: true,
}

// SetVersion injects the build-time version into the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "override the artifact root directory")

	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUninstallCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// loadConfig loads the daemon config, applying the --root override if set.
func loadConfig() (config.DaemonConfig, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.DaemonConfig{}, err
	}
	if rootFlag != "" {
		cfg.Root = rootFlag
	}
	logging.InitForCLI(logLevelFromString(cfg.LogLevel), os.Stderr)
	return cfg, nil
}

func logLevelFromString(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// Execute runs the root command and maps the resulting error to an exit
// code, called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "serde-ipc version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	var ffiErr *ffierr.Error
	if errors.As(err, &ffiErr) {
		return ExitCodeOperationFailure
	}
	return ExitCodeUsageError
}
