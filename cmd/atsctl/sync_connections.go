package main

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jobboard.app/atsbridge/internal/ats"
	"jobboard.app/atsbridge/internal/model"
	"jobboard.app/atsbridge/internal/registry"
	"jobboard.app/atsbridge/internal/store"
	"jobboard.app/atsbridge/internal/syncer"
)

var syncConnectionsCmd = &cobra.Command{
	Use:   "sync-connections",
	Short: "Pull jobs, candidates and applications from ATS providers.",
	Long: `Syncs one connection (--connection), every active connection of a provider
(--provider) or every active connection. Connections still in their cool-down are
reported as rate limited unless --force is given. Exits 1 if any sync failed.`,
	RunE: runSyncConnections,
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	f := syncConnectionsCmd.Flags()
	f.Int64("connection", 0, "sync only this connection id")
	f.String("provider", "", "sync every active connection of this provider")
	f.String("location", "", "location filter passed to the provider")
	f.String("keywords", "", "keyword filter passed to the provider")
	f.String("department", "", "department filter passed to the provider")
	f.Bool("force", false, "ignore the per-provider sync cool-down")
	syncConnectionsCmd.MarkFlagsMutuallyExclusive("connection", "provider")
	bindFlags(syncConnectionsCmd, false, "sync", "connection", "provider", "location", "keywords", "department", "force")
}

func runSyncConnections(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := registry.New(a.backend.Stores.Connections(), a.cfg.Providers)
	client := ats.NewClient(a.cfg.Providers, a.backend.Stores, ats.Config{RequestTimeout: a.cfg.Sync.RequestTimeout})
	scheduler := syncer.NewScheduler(reg, client, a.cfg.Sync.Workers)

	filters := model.SyncFilters{
		Location:   viper.GetString("sync.location"),
		Keywords:   viper.GetString("sync.keywords"),
		Department: viper.GetString("sync.department"),
	}
	force := viper.GetBool("sync.force")

	var results map[string]model.SyncResult
	switch {
	case viper.GetInt64("sync.connection") != 0:
		conn, err := reg.Get(ctx, viper.GetInt64("sync.connection"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("connection %d not found", viper.GetInt64("sync.connection"))
			}
			return err
		}
		result, err := scheduler.RunForConnection(ctx, conn, filters, force)
		if err != nil && !errors.Is(err, syncer.ErrRateLimited) {
			return err
		}
		results = map[string]model.SyncResult{conn.Name: result}

	case viper.GetString("sync.provider") != "":
		provider := strings.ToLower(viper.GetString("sync.provider"))
		if _, ok := a.cfg.Providers.Get(provider); !ok {
			return fmt.Errorf("unknown provider %q", provider)
		}
		results, err = scheduler.RunForProvider(ctx, provider, filters, force)
		if err != nil {
			return err
		}

	default:
		results, err = scheduler.RunForAll(ctx, filters, force)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, name := range syncer.SortedNames(results) {
		fmt.Fprintln(out, formatResult(name, results[name]))
	}

	if syncer.AnyFailed(results) {
		return errItemsFailed
	}
	return nil
}

func formatResult(name string, r model.SyncResult) string {
	if !r.Success {
		return fmt.Sprintf("%s: FAILED (%s)", name, r.Error)
	}

	parts := make([]string, 0, 3)
	for _, kind := range []model.EntityKind{model.EntityJobs, model.EntityCandidates, model.EntityApplications} {
		c, ok := r.Counts[kind]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d created / %d updated / %d failed", kind, c.Created, c.Updated, c.Failed))
	}
	if len(parts) == 0 {
		return name + ": ok"
	}
	return name + ": ok, " + strings.Join(parts, ", ")
}
