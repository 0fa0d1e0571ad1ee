package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iamhyc/serde-ipc/internal/ffimanager"
	"github.com/iamhyc/serde-ipc/internal/transport"
	"github.com/iamhyc/serde-ipc/pkg/logging"
)

const pidFileName = ".serde_ipc.pid"

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground",
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

			srv := transport.New(cfg.ListenAddr, mgr.Dispatcher())

			pidPath := filepath.Join(cfg.Root, pidFileName)
			if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
				return fmt.Errorf("writing pid file: %w", err)
			}
			defer os.Remove(pidPath)

			var shuttingDown atomic.Bool
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				logging.Info("Daemon", "shutting down")
				shuttingDown.Store(true)
				srv.Close()
			}()

			logging.Info("Daemon", "serving on %s, root %s", cfg.ListenAddr, cfg.Root)
			if err := srv.ListenAndServe(); err != nil && !shuttingDown.Load() {
				return err
			}
			return nil
		},
	}
}
