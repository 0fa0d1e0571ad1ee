package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iamhyc/serde-ipc/internal/ffimanager"
)

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <src-dir>",
		Short: "Build and stage a service from a source directory's manifest.json",
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

			if err := mgr.Install(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed service from %s\n", args[0])
			return nil
		},
	}
}
