package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iamhyc/serde-ipc/internal/ffimanager"
)

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Run a service's disable commands and remove its staged files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mgr, err := ffimanager.New(cfg.Root, cfg.PoolSize)
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Uninstall(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", args[0])
			return nil
		},
	}
}
