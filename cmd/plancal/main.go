package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"plancal/internal/config"
	appLog "plancal/internal/log"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		appLog.Error("plancal failed", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "plancal",
		Short:         "Recurring objective expansion and calendar service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "./plancal.yaml", "Path to config file")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newExpandCommand(opts))
	root.AddCommand(newExportCommand(opts))
	return root
}

// loadConfig reads the config file. serve creates a default file on first
// run; the offline commands fall back to defaults without writing.
func loadConfig(path string, create bool) (*config.Config, error) {
	if !create {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg := config.DefaultConfig()
			applyLogLevel(cfg)
			return cfg, nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyLogLevel(cfg)
	return cfg, nil
}

func applyLogLevel(cfg *config.Config) {
	lvl, ok := appLog.ParseLevel(cfg.LogLevel)
	if !ok {
		appLog.Warn("unknown log level; using info", "log_level", cfg.LogLevel)
	}
	appLog.SetLevel(lvl)
}
