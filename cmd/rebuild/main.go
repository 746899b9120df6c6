package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pg "secmap/internal/adapters/postgres"
	"secmap/internal/cache"
	"secmap/internal/config"
	"secmap/internal/services/orgreport"
	rebuildsvc "secmap/internal/services/rebuild"
	"secmap/internal/services/urlreport"
	"secmap/internal/workers/rebuildrunner"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		orgID int64
		url   string
		wait  bool
	)

	cmd := &cobra.Command{
		Use:          "rebuild",
		Short:        "Rebuild rating timelines for an organization or a URL",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if orgID == 0 && url == "" {
				return fmt.Errorf("either --org or --url is required")
			}
			return run(cmd.Context(), orgID, url, wait)
		},
	}
	cmd.Flags().Int64Var(&orgID, "org", 0, "organization id to rebuild")
	cmd.Flags().StringVar(&url, "url", "", "url whose organizations should be rebuilt")
	cmd.Flags().BoolVar(&wait, "wait", false, "run the rebuild inline instead of enqueueing")
	return cmd
}

func run(ctx context.Context, orgID int64, url string, wait bool) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	if url != "" {
		rebuilder := rebuildsvc.New(db, db, db)
		ids, err := rebuilder.EnqueueHostname(ctx, url)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	if !wait {
		rebuilder := rebuildsvc.New(db, db, db)
		id, err := rebuilder.EnqueueOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	}

	clock := clockwork.NewRealClock()
	flags := cache.NewFlags(db, cfg.FlagCacheTTL, clock)
	processor := rebuildrunner.OrgProcessor{
		Orgs:      db,
		URLRollup: urlreport.New(db, db, db, flags, clock, log),
		OrgRollup: orgreport.New(db, db, pg.OrgSnapshotStore{DB: db}, log),
		Clock:     clock,
		Log:       log,
	}
	return rebuildrunner.ProcessInline(ctx, db, processor, orgID)
}
