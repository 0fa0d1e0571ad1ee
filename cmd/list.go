package cmd

import (
	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/iamhyc/serde-ipc/internal/ffimanager"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed services",
		Args:  cobra.NoArgs,
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

			rows, err := mgr.List()
			if err != nil {
				return err
			}

			headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
			columnFmt := color.New(color.FgYellow).SprintfFunc()
			tbl := table.New("Name", "Class", "Version", "Loaded", "Functions", "Degraded")
			tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)
			tbl.WithWriter(cmd.OutOrStdout())

			for _, row := range rows {
				tbl.AddRow(row.Name, row.Class, row.Version, row.Loaded, row.Functions, row.Degraded)
			}
			tbl.Print()
			return nil
		},
	}
}
