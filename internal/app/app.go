package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	au "github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"geoipd/internal/app/bootstrap"
	"geoipd/internal/app/server"
	"geoipd/internal/app/version"
	"geoipd/internal/config"
	"geoipd/internal/database"
	"geoipd/internal/geolite"
	"geoipd/internal/jobs/runtime"
	"geoipd/internal/metrics"
	"geoipd/internal/support"
)

const defaultAddr = ":8080"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	bootstrap.Teardown()
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), au.Index(1, fmt.Sprintf("Error: %v", err)).String())
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var settingsPath string

	root := &cobra.Command{
		Use:           "geoipd",
		Short:         "Load MaxMind GeoLite2-City CSV archives into SQL and answer IPv4 lookups",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap.Setup(settingsPath)
		},
	}
	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default data/settings.json)")

	root.AddCommand(newLoadCmd(), newLookupCmd(), newServeCmd())
	return root
}

func newLoadCmd() *cobra.Command {
	var (
		alias      string
		source     string
		batchSize  int
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Download, normalize and load a GeoLite2-City CSV archive, replacing the stored data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := bootstrap.OpenStore(alias, batchSize)
			if err != nil {
				return err
			}
			defer store.Close()

			req := runtime.UpdateRequest{StoreAlias: alias, Store: store, Source: source, Reason: "cli"}
			var progress *progressObserver
			if !noProgress {
				progress = newProgressObserver(cmd.ErrOrStderr())
				req.Observer = progress
			}

			result, err := runtime.RunGeoLiteUpdate(cmd.Context(), req)
			if progress != nil {
				progress.Finish()
			}
			if err != nil {
				return describeLoadFailure(err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), au.Green(fmt.Sprintf(
				"✓ loaded %d blocks, %d locations and %d names (%d languages) in %s",
				result.Blocks, result.Locations, result.Names, len(result.Languages),
				result.Duration.Round(time.Millisecond))).String())
			return nil
		},
	}

	cmd.Flags().StringVar(&alias, "db", "", "store alias from the settings file")
	cmd.Flags().StringVar(&source, "source", "", "archive URL or local path (default geolite.source_url)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "rows per INSERT statement (default geolite.batch_size)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress bars")
	return cmd
}

// describeLoadFailure shortens lock contention; every other pipeline error
// already names its stage.
func describeLoadFailure(err error) error {
	if stage, ok := geolite.StageOf(err); ok && errors.Is(err, runtime.ErrJobRunning) {
		return fmt.Errorf("%s: another ingestion job is running", stage)
	}
	return err
}

func newLookupCmd() *cobra.Command {
	var (
		alias    string
		lang     string
		mmdbPath string
	)

	cmd := &cobra.Command{
		Use:   "lookup <ip>",
		Short: "Print the block and location that contain an IPv4 address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resolver geolite.Resolver
			if mmdbPath != "" {
				mmdb, err := geolite.OpenMMDB(mmdbPath)
				if err != nil {
					return err
				}
				defer mmdb.Close()
				resolver = mmdb
			} else {
				store, err := bootstrap.OpenStore(alias, 0)
				if err != nil {
					return err
				}
				defer store.Close()
				resolver = store
			}

			locator, err := geolite.NewLocator(resolver, 0)
			if err != nil {
				return err
			}

			result, err := locator.Lookup(cmd.Context(), args[0], lang)
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("%s: no block contains this address", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&alias, "db", "", "store alias from the settings file")
	cmd.Flags().StringVar(&lang, "lang", "", "include localized names in this language")
	cmd.Flags().StringVar(&mmdbPath, "mmdb", "", "answer from a GeoLite2-City .mmdb file instead of the store")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newServeCmd() *cobra.Command {
	var (
		alias string
		addr  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve lookups over HTTP and GraphQL and keep the store up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := bootstrap.OpenStore(alias, 0)
			if err != nil {
				return err
			}
			defer store.Close()

			return serve(cmd.Context(), alias, addr, store)
		},
	}

	cmd.Flags().StringVar(&alias, "db", "", "store alias from the settings file")
	cmd.Flags().StringVar(&addr, "addr", support.GetEnv("GEOIPD_ADDR", defaultAddr), "listen address")
	return cmd
}

func serve(ctx context.Context, alias, addr string, store *database.Store) error {
	metrics.Init()
	cfg := config.GetConfig()

	locator, err := geolite.NewLocator(store, cfg.Lookup.CacheSize)
	if err != nil {
		return err
	}

	req := runtime.UpdateRequest{
		StoreAlias: alias,
		Store:      store,
		Observer:   metrics.NewIngestObserver(),
	}

	var instances func(context.Context) (int, error)
	if client, err := support.GetRedisClient(); err == nil {
		go geolite.SubscribeReloads(ctx, client, func(notice geolite.ReloadNotice) {
			log.Info("Reload notice received, purging lookup cache", "store", notice.Store, "blocks", notice.Blocks)
			locator.Purge()
		})

		stopHeartbeat := runtime.LaunchInstanceHeartbeat(ctx, client, version.Get().BuildVersion)
		defer stopHeartbeat()
		instances = func(ctx context.Context) (int, error) {
			return runtime.CountActiveInstances(ctx, client)
		}
	} else {
		log.Debug("Reload notices disabled", "reason", err)
	}

	go runtime.StartGeoLiteUpdateRoutine(ctx, req, locator.Purge)

	if path := cfg.GeoLite.WatchPath; path != "" {
		if err := runtime.WatchGeoLiteArchive(ctx, path, req, locator.Purge); err != nil {
			return err
		}
	}

	router, err := server.NewRouter(server.Options{
		Locator: locator,
		Reload: func(ctx context.Context, reason string) error {
			run := req
			run.Reason = reason
			return runtime.StartGeoLiteUpdate(ctx, run, locator.Purge)
		},
		Instances: instances,
	})
	if err != nil {
		return err
	}

	return server.Serve(ctx, addr, router)
}
