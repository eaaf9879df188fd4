package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobboard.app/atsbridge/common/id"
	"jobboard.app/atsbridge/common/logger"
	"jobboard.app/atsbridge/core/config"
	"jobboard.app/atsbridge/internal/bootstrap"
)

// errItemsFailed makes the process exit 1 after a run that completed but had
// failed items.
var errItemsFailed = errors.New("one or more items failed")

var rootCmd = &cobra.Command{
	Use:           "atsctl",
	Short:         "atsctl operates the ATS webhook pipeline and connection sync.",
	Long:          `Processes stored ATS webhooks, syncs connections against provider APIs and applies database migrations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("store", "", "store backend (postgres or memory), overrides STORE_BACKEND")
	rootCmd.PersistentFlags().String("database-url", "", "postgres DSN, overrides DATABASE_URL")
	bindFlags(rootCmd, true, "", "store", "database-url")

	rootCmd.AddCommand(processWebhooksCmd, syncConnectionsCmd, migrateCmd)
}

// initConfig lets every flag also come from the environment, e.g.
// ATSCTL_PROCESS_LIMIT for process-webhooks --limit.
func initConfig() {
	viper.SetEnvPrefix("ATSCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// bindFlags binds each named flag of cmd to the viper key prefix.name.
// Subcommands use distinct prefixes because several share flag names.
func bindFlags(cmd *cobra.Command, persistent bool, prefix string, names ...string) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for _, name := range names {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
			os.Exit(1)
		}
	}
}

// app is what every subcommand needs after config is loaded.
type app struct {
	cfg     config.Config
	backend *bootstrap.Backend
}

func openApp(ctx context.Context, migrate bool) (*app, error) {
	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if s := viper.GetString("store"); s != "" {
		cfg.Store = config.StoreBackend(s)
	}
	if dsn := viper.GetString("database-url"); dsn != "" {
		cfg.DB.DSN = dsn
	}

	logger.Setup(cfg)

	if err := id.Init(cfg.NodeID); err != nil {
		return nil, fmt.Errorf("initializing id generator: %w", err)
	}

	backend, err := bootstrap.OpenStores(ctx, cfg, migrate)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, backend: backend}, nil
}

func (a *app) Close() {
	a.backend.Close()
}
