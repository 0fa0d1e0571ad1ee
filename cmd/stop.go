package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			pidPath := filepath.Join(cfg.Root, pidFileName)
			data, err := os.ReadFile(pidPath)
			if err != nil {
				return fmt.Errorf("no running daemon found at %s: %w", pidPath, err)
			}

			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return fmt.Errorf("malformed pid file %s: %w", pidPath, err)
			}

			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("finding process %d: %w", pid, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("signaling process %d: %w", pid, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "stopped daemon (pid %d)\n", pid)
			return nil
		},
	}
}
